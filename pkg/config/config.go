package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/edgeflare/mimir/pkg/util"
	"github.com/spf13/viper"
)

// Version and Description are the compiled-in project metadata. PROJECT_VERSION and
// PROJECT_DESCRIPTION override them at runtime.
var (
	Version     = "0.1.0"
	Description = "MimirFW API"
)

// Config holds application-wide configuration. Every field is addressed by its environment
// variable name; groups are squashed into a single flat namespace.
type Config struct {
	PackagingInfo    `mapstructure:",squash"`
	DeploymentConfig `mapstructure:",squash"`
	FeatureConfig    `mapstructure:",squash"`
	MiddlewareConfig `mapstructure:",squash"`
	LLMConfig        `mapstructure:",squash"`
}

type ProjectConfig struct {
	Version     string `mapstructure:"version"`
	Description string `mapstructure:"description"`
}

type PackagingInfo struct {
	Project   ProjectConfig `mapstructure:"project"`
	CommitSHA string        `mapstructure:"COMMIT_SHA"`
}

type DeploymentConfig struct {
	ApplicationName      string `mapstructure:"APPLICATION_NAME"`
	Edition              string `mapstructure:"EDITION"`
	DeployEnv            string `mapstructure:"DEPLOY_ENV"`
	Debug                bool   `mapstructure:"DEBUG"`
	EnableRequestLogging bool   `mapstructure:"ENABLE_REQUEST_LOGGING"`
}

type FeatureConfig struct {
	SecurityConfig `mapstructure:",squash"`
	GameConfig     `mapstructure:",squash"`
	LoggingConfig  `mapstructure:",squash"`
	HTTPConfig     `mapstructure:",squash"`
	AppConfig      `mapstructure:",squash"`
}

type SecurityConfig struct {
	SecretKey             string `mapstructure:"SECRET_KEY"`
	JWTSecretKey          string `mapstructure:"JWT_SECRET_KEY"`
	JWTAccessTokenExpires int    `mapstructure:"JWT_ACCESS_TOKEN_EXPIRES"`
}

type GameConfig struct {
	MaxPlayersPerSession    int `mapstructure:"GAME_MAX_PLAYERS_PER_SESSION"`
	SessionTimeoutMinutes   int `mapstructure:"GAME_SESSION_TIMEOUT_MINUTES"`
	AutoSaveIntervalSeconds int `mapstructure:"GAME_AUTO_SAVE_INTERVAL_SECONDS"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"LOG_LEVEL"`
	File       string `mapstructure:"LOG_FILE"`
	Format     string `mapstructure:"LOG_FORMAT"`
	DateFormat string `mapstructure:"LOG_DATEFORMAT"`
	TZ         string `mapstructure:"LOG_TZ"`
	Debug      bool   `mapstructure:"-"`
}

type HTTPConfig struct {
	ConsoleCORSAllowOriginsRaw string `mapstructure:"CONSOLE_CORS_ALLOW_ORIGINS"`
	WebAPICORSAllowOriginsRaw  string `mapstructure:"WEB_API_CORS_ALLOW_ORIGINS"`
	ListenAddr                 string `mapstructure:"API_LISTEN_ADDR"`
	TLSCertFile                string `mapstructure:"API_TLS_CERT_FILE"`
	TLSKeyFile                 string `mapstructure:"API_TLS_KEY_FILE"`
	TLSEnabled                 bool   `mapstructure:"API_TLS_ENABLED"`
	MetricsAddr                string `mapstructure:"METRICS_ADDR"`
}

type AppConfig struct {
	WorkflowMaxExecutionSteps int    `mapstructure:"WORKFLOW_MAX_EXECUTION_STEPS"`
	AppMaxExecutionTime       int    `mapstructure:"APP_MAX_EXECUTION_TIME"`
	FilesURL                  string `mapstructure:"FILES_URL"`
}

type MiddlewareConfig struct {
	DatabaseConfig    `mapstructure:",squash"`
	CeleryConfig      `mapstructure:",squash"`
	RedisConfig       `mapstructure:",squash"`
	StorageConfig     `mapstructure:",squash"`
	VectorStoreConfig `mapstructure:",squash"`
	BrokerConfig      `mapstructure:",squash"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"DB_HOST"`
	Port        int    `mapstructure:"DB_PORT"`
	Username    string `mapstructure:"DB_USERNAME"`
	Password    string `mapstructure:"DB_PASSWORD"`
	Database    string `mapstructure:"DB_DATABASE"`
	Charset     string `mapstructure:"DB_CHARSET"`
	Extras      string `mapstructure:"DB_EXTRAS"`
	URIScheme   string `mapstructure:"SQLALCHEMY_DATABASE_URI_SCHEME"`
	PoolSize    int    `mapstructure:"SQLALCHEMY_POOL_SIZE"`
	MaxOverflow int    `mapstructure:"SQLALCHEMY_MAX_OVERFLOW"`
	PoolRecycle int    `mapstructure:"SQLALCHEMY_POOL_RECYCLE"`
	PoolUseLIFO bool   `mapstructure:"SQLALCHEMY_POOL_USE_LIFO"`
	PoolPrePing bool   `mapstructure:"SQLALCHEMY_POOL_PRE_PING"`
	Echo        bool   `mapstructure:"SQLALCHEMY_ECHO"`
	Enabled     bool   `mapstructure:"DB_ENABLED"`
}

type CeleryConfig struct {
	Backend               string  `mapstructure:"CELERY_BACKEND"`
	BrokerURL             string  `mapstructure:"CELERY_BROKER_URL"`
	UseSentinel           bool    `mapstructure:"CELERY_USE_SENTINEL"`
	SentinelMasterName    string  `mapstructure:"CELERY_SENTINEL_MASTER_NAME"`
	SentinelPassword      string  `mapstructure:"CELERY_SENTINEL_PASSWORD"`
	SentinelSocketTimeout float64 `mapstructure:"CELERY_SENTINEL_SOCKET_TIMEOUT"`
	Queue                 string  `mapstructure:"CELERY_QUEUE"`
	Enabled               bool    `mapstructure:"CELERY_ENABLED"`
}

type RedisConfig struct {
	Host                  string  `mapstructure:"REDIS_HOST"`
	Port                  int     `mapstructure:"REDIS_PORT"`
	Username              string  `mapstructure:"REDIS_USERNAME"`
	Password              string  `mapstructure:"REDIS_PASSWORD"`
	DB                    int     `mapstructure:"REDIS_DB"`
	UseSSL                bool    `mapstructure:"REDIS_USE_SSL"`
	SSLCertReqs           string  `mapstructure:"REDIS_SSL_CERT_REQS"`
	SSLCACerts            string  `mapstructure:"REDIS_SSL_CA_CERTS"`
	SSLCertFile           string  `mapstructure:"REDIS_SSL_CERTFILE"`
	SSLKeyFile            string  `mapstructure:"REDIS_SSL_KEYFILE"`
	UseSentinel           bool    `mapstructure:"REDIS_USE_SENTINEL"`
	Sentinels             string  `mapstructure:"REDIS_SENTINELS"`
	SentinelServiceName   string  `mapstructure:"REDIS_SENTINEL_SERVICE_NAME"`
	SentinelUsername      string  `mapstructure:"REDIS_SENTINEL_USERNAME"`
	SentinelPassword      string  `mapstructure:"REDIS_SENTINEL_PASSWORD"`
	SentinelSocketTimeout float64 `mapstructure:"REDIS_SENTINEL_SOCKET_TIMEOUT"`
	UseClusters           bool    `mapstructure:"REDIS_USE_CLUSTERS"`
	Clusters              string  `mapstructure:"REDIS_CLUSTERS"`
	ClustersPassword      string  `mapstructure:"REDIS_CLUSTERS_PASSWORD"`
	SerializationProtocol int     `mapstructure:"REDIS_SERIALIZATION_PROTOCOL"`
	EnableClientSideCache bool    `mapstructure:"REDIS_ENABLE_CLIENT_SIDE_CACHE"`
	Enabled               bool    `mapstructure:"REDIS_ENABLED"`
}

type StorageConfig struct {
	Type string `mapstructure:"STORAGE_TYPE"`

	S3Endpoint         string `mapstructure:"S3_ENDPOINT"`
	S3Region           string `mapstructure:"S3_REGION"`
	S3BucketName       string `mapstructure:"S3_BUCKET_NAME"`
	S3AccessKey        string `mapstructure:"S3_ACCESS_KEY"`
	S3SecretKey        string `mapstructure:"S3_SECRET_KEY"`
	S3AddressStyle     string `mapstructure:"S3_ADDRESS_STYLE"`
	S3UseAWSManagedIAM bool   `mapstructure:"S3_USE_AWS_MANAGED_IAM"`

	AliyunOSSBucketName  string `mapstructure:"ALIYUN_OSS_BUCKET_NAME"`
	AliyunOSSAccessKey   string `mapstructure:"ALIYUN_OSS_ACCESS_KEY"`
	AliyunOSSSecretKey   string `mapstructure:"ALIYUN_OSS_SECRET_KEY"`
	AliyunOSSEndpoint    string `mapstructure:"ALIYUN_OSS_ENDPOINT"`
	AliyunOSSRegion      string `mapstructure:"ALIYUN_OSS_REGION"`
	AliyunOSSAuthVersion string `mapstructure:"ALIYUN_OSS_AUTH_VERSION"`
	AliyunOSSPath        string `mapstructure:"ALIYUN_OSS_PATH"`

	OpenDALScheme string `mapstructure:"OPENDAL_SCHEME"`
	OpenDALFSRoot string `mapstructure:"OPENDAL_FS_ROOT"`
}

type VectorStoreConfig struct {
	VectorStore          string  `mapstructure:"VECTOR_STORE"`
	WhitelistEnable      bool    `mapstructure:"VECTOR_STORE_WHITELIST_ENABLE"`
	IndexNamePrefix      string  `mapstructure:"VECTOR_INDEX_NAME_PREFIX"`
	WeaviateEndpoint     string  `mapstructure:"WEAVIATE_ENDPOINT"`
	WeaviateAPIKey       string  `mapstructure:"WEAVIATE_API_KEY"`
	WeaviateGRPCEnabled  bool    `mapstructure:"WEAVIATE_GRPC_ENABLED"`
	WeaviateBatchSize    int     `mapstructure:"WEAVIATE_BATCH_SIZE"`
	MilvusURI            string  `mapstructure:"MILVUS_URI"`
	MilvusToken          string  `mapstructure:"MILVUS_TOKEN"`
	MilvusUser           string  `mapstructure:"MILVUS_USER"`
	MilvusPassword       string  `mapstructure:"MILVUS_PASSWORD"`
	MilvusDatabase       string  `mapstructure:"MILVUS_DATABASE"`
	MilvusHybridSearch   bool    `mapstructure:"MILVUS_ENABLE_HYBRID_SEARCH"`
	MilvusAnalyzerParams string  `mapstructure:"MILVUS_ANALYZER_PARAMS"`
	PGVectorTable        string  `mapstructure:"PGVECTOR_TABLE"`
	PGVectorDimensions   int     `mapstructure:"PGVECTOR_DIMENSIONS"`
	RetrievalTopK        int     `mapstructure:"RETRIEVAL_TOP_K"`
	RetrievalMinScore    float64 `mapstructure:"RETRIEVAL_SCORE_THRESHOLD"`
}

type BrokerConfig struct {
	NATSURL    string `mapstructure:"NATS_URL"`
	NATSStream string `mapstructure:"NATS_STREAM"`
}

type LLMConfig struct {
	Framework            string  `mapstructure:"LLM_FRAMEWORK"`
	ModelType            string  `mapstructure:"LLM_MODEL_TYPE"`
	Model                string  `mapstructure:"LLM_MODEL"`
	BaseURL              string  `mapstructure:"LLM_BASE_URL"`
	APIKey               string  `mapstructure:"API_KEY"`
	MaxTokens            int     `mapstructure:"LLM_MAX_TOKENS"`
	Temperature          float64 `mapstructure:"LLM_TEMPERATURE"`
	EmbeddingURL         string  `mapstructure:"EMBEDDING_URL"`
	EmbeddingModel       string  `mapstructure:"EMBEDDING_MODEL"`
	EmbeddingAddr        string  `mapstructure:"EMBEDDING_SERVICE_ADDR"`
	EmbeddingModelsDir   string  `mapstructure:"EMBEDDING_MODELS_DIR"`
	EmbeddingUpstream    string  `mapstructure:"EMBEDDING_UPSTREAM_URL"`
	EmbeddingUpstreamKey string  `mapstructure:"EMBEDDING_UPSTREAM_API_KEY"`
	EmbeddingCacheTTL    int     `mapstructure:"EMBEDDING_CACHE_TTL_SECONDS"`
	ModelsDir            string  `mapstructure:"MODELS_DIR"`
	EmbeddingsDir        string  `mapstructure:"EMBEDDINGS_DIR"`
	DownloadDir          string  `mapstructure:"MODELS_DOWNLOAD_DIR"`
	ModelScopeEndpoint   string  `mapstructure:"MODELSCOPE_ENDPOINT"`
	ModelRegistryFile    string  `mapstructure:"MODEL_REGISTRY_FILE"`
}

// Load reads config from file or environment. With an empty cfgFile, a .env file is searched
// for in the working directory and up to three parent directories.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile == "" {
		if cwd, err := os.Getwd(); err == nil {
			if found, ok := util.SearchFileUpwards(cwd, ".env", 3); ok {
				cfgFile = found
			}
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if configType := configTypeOf(cfgFile); configType != "" {
			v.SetConfigType(configType)
		}
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	// DEBUG is shared with the logging group
	cfg.LoggingConfig.Debug = cfg.DeploymentConfig.Debug

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration with only defaults applied.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("config: decoding defaults: %v", err))
	}
	cfg.LoggingConfig.Debug = cfg.DeploymentConfig.Debug
	return &cfg
}

func configTypeOf(path string) string {
	base := filepath.Base(path)
	switch {
	case base == ".env" || strings.HasSuffix(base, ".env"):
		return "env"
	case strings.HasSuffix(base, ".yml"):
		return "yaml"
	default:
		return ""
	}
}
