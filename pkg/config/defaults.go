package config

import "github.com/spf13/viper"

// DefaultLogFormat is the LOG_FORMAT default. It is informational; the zap encoder defines
// the actual layout.
const DefaultLogFormat = "%(asctime)s.%(msecs)03d %(levelname)s [%(threadName)s] [%(filename)s:%(lineno)d] - %(message)s"

// setDefaults registers every key so AutomaticEnv can resolve it during Unmarshal.
func setDefaults(v *viper.Viper) {
	defaults := map[string]any{
		// packaging
		"project.version":     Version,
		"project.description": Description,
		"COMMIT_SHA":          "",

		// deployment
		"APPLICATION_NAME":       "MimirFW",
		"DEBUG":                  false,
		"ENABLE_REQUEST_LOGGING": false,
		"EDITION":                "SELF_HOSTED",
		"DEPLOY_ENV":             "PRODUCTION",

		// security
		"SECRET_KEY":               "",
		"JWT_SECRET_KEY":           "",
		"JWT_ACCESS_TOKEN_EXPIRES": 3600,

		// game
		"GAME_MAX_PLAYERS_PER_SESSION":    8,
		"GAME_SESSION_TIMEOUT_MINUTES":    60,
		"GAME_AUTO_SAVE_INTERVAL_SECONDS": 300,

		// logging
		"LOG_LEVEL":      "INFO",
		"LOG_FILE":       "",
		"LOG_FORMAT":     DefaultLogFormat,
		"LOG_DATEFORMAT": "",
		"LOG_TZ":         "UTC",

		// http
		"CONSOLE_CORS_ALLOW_ORIGINS": "",
		"WEB_API_CORS_ALLOW_ORIGINS": "*",
		"API_LISTEN_ADDR":            ":8000",
		"API_TLS_ENABLED":            false,
		"API_TLS_CERT_FILE":          "",
		"API_TLS_KEY_FILE":           "",
		"METRICS_ADDR":               "",

		// app
		"WORKFLOW_MAX_EXECUTION_STEPS": 500,
		"APP_MAX_EXECUTION_TIME":       1200,
		"FILES_URL":                    "",

		// database
		"DB_ENABLED":                     false,
		"DB_HOST":                        "localhost",
		"DB_PORT":                        5432,
		"DB_USERNAME":                    "mimirfw",
		"DB_PASSWORD":                    "password",
		"DB_DATABASE":                    "mimirfw",
		"DB_CHARSET":                     "utf8",
		"DB_EXTRAS":                      "",
		"SQLALCHEMY_DATABASE_URI_SCHEME": "postgresql",
		"SQLALCHEMY_POOL_SIZE":           30,
		"SQLALCHEMY_MAX_OVERFLOW":        10,
		"SQLALCHEMY_POOL_RECYCLE":        3600,
		"SQLALCHEMY_POOL_USE_LIFO":       false,
		"SQLALCHEMY_POOL_PRE_PING":       false,
		"SQLALCHEMY_ECHO":                false,

		// celery / tasks
		"CELERY_ENABLED":                 false,
		"CELERY_BACKEND":                 "redis",
		"CELERY_BROKER_URL":              "",
		"CELERY_USE_SENTINEL":            false,
		"CELERY_SENTINEL_MASTER_NAME":    "",
		"CELERY_SENTINEL_PASSWORD":       "",
		"CELERY_SENTINEL_SOCKET_TIMEOUT": 0.1,
		"CELERY_QUEUE":                   "mimir",

		// redis
		"REDIS_ENABLED":                  true,
		"REDIS_HOST":                     "localhost",
		"REDIS_PORT":                     6379,
		"REDIS_USERNAME":                 "",
		"REDIS_PASSWORD":                 "",
		"REDIS_DB":                       0,
		"REDIS_USE_SSL":                  false,
		"REDIS_SSL_CERT_REQS":            "CERT_NONE",
		"REDIS_SSL_CA_CERTS":             "",
		"REDIS_SSL_CERTFILE":             "",
		"REDIS_SSL_KEYFILE":              "",
		"REDIS_USE_SENTINEL":             false,
		"REDIS_SENTINELS":                "",
		"REDIS_SENTINEL_SERVICE_NAME":    "",
		"REDIS_SENTINEL_USERNAME":        "",
		"REDIS_SENTINEL_PASSWORD":        "",
		"REDIS_SENTINEL_SOCKET_TIMEOUT":  0.1,
		"REDIS_USE_CLUSTERS":             false,
		"REDIS_CLUSTERS":                 "",
		"REDIS_CLUSTERS_PASSWORD":        "",
		"REDIS_SERIALIZATION_PROTOCOL":   3,
		"REDIS_ENABLE_CLIENT_SIDE_CACHE": false,

		// storage
		"STORAGE_TYPE":            "opendal",
		"S3_ENDPOINT":             "",
		"S3_REGION":               "",
		"S3_BUCKET_NAME":          "",
		"S3_ACCESS_KEY":           "",
		"S3_SECRET_KEY":           "",
		"S3_ADDRESS_STYLE":        "auto",
		"S3_USE_AWS_MANAGED_IAM":  false,
		"ALIYUN_OSS_BUCKET_NAME":  "",
		"ALIYUN_OSS_ACCESS_KEY":   "",
		"ALIYUN_OSS_SECRET_KEY":   "",
		"ALIYUN_OSS_ENDPOINT":     "",
		"ALIYUN_OSS_REGION":       "",
		"ALIYUN_OSS_AUTH_VERSION": "",
		"ALIYUN_OSS_PATH":         "",
		"OPENDAL_SCHEME":          "fs",
		"OPENDAL_FS_ROOT":         "storage",

		// vector stores
		"VECTOR_STORE":                  "weaviate",
		"VECTOR_STORE_WHITELIST_ENABLE": false,
		"VECTOR_INDEX_NAME_PREFIX":      "Vector_index",
		"WEAVIATE_ENDPOINT":             "http://localhost:8080",
		"WEAVIATE_API_KEY":              "",
		"WEAVIATE_GRPC_ENABLED":         true,
		"WEAVIATE_BATCH_SIZE":           100,
		"MILVUS_URI":                    "http://127.0.0.1:19530",
		"MILVUS_TOKEN":                  "",
		"MILVUS_USER":                   "",
		"MILVUS_PASSWORD":               "",
		"MILVUS_DATABASE":               "default",
		"MILVUS_ENABLE_HYBRID_SEARCH":   true,
		"MILVUS_ANALYZER_PARAMS":        "",
		"PGVECTOR_TABLE":                "embeddings",
		"PGVECTOR_DIMENSIONS":           1024,
		"RETRIEVAL_TOP_K":               4,
		"RETRIEVAL_SCORE_THRESHOLD":     0.0,

		// broker
		"NATS_URL":    "",
		"NATS_STREAM": "mimir-tasks",

		// llm
		"LLM_FRAMEWORK":               "vllm",
		"LLM_MODEL_TYPE":              "local",
		"LLM_MODEL":                   "/models/Qwen2.5-7B-Instruct-AWQ",
		"LLM_BASE_URL":                "http://vllm-emb:8000/v1",
		"API_KEY":                     "",
		"LLM_MAX_TOKENS":              512,
		"LLM_TEMPERATURE":             0.0,
		"EMBEDDING_URL":               "http://localhost:24101/embeddings/",
		"EMBEDDING_MODEL":             "xiaobu-embedding-v2",
		"EMBEDDING_SERVICE_ADDR":      ":24101",
		"EMBEDDING_MODELS_DIR":        "/embeddings",
		"EMBEDDING_UPSTREAM_URL":      "http://localhost:8000/v1",
		"EMBEDDING_UPSTREAM_API_KEY":  "EMPTY",
		"EMBEDDING_CACHE_TTL_SECONDS": 0,
		"MODELS_DIR":                  "models",
		"EMBEDDINGS_DIR":              "embeddings",
		"MODELS_DOWNLOAD_DIR":         ".",
		"MODELSCOPE_ENDPOINT":         "https://www.modelscope.cn",
		"MODEL_REGISTRY_FILE":         "",
	}

	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}
