// Package redisx builds go-redis clients from configuration and provides a lazily
// initialized shared client with fallback helpers.
package redisx

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/edgeflare/mimir/pkg/config"
	"github.com/edgeflare/mimir/pkg/util"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	ErrNotInitialized     = errors.New("redis client is not initialized")
	ErrAlreadyInitialized = errors.New("redis client is already initialized")
	ErrInvalidAddr        = errors.New("invalid redis address")
)

// NewClient creates a sentinel, cluster or standalone client according to cfg.
func NewClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	switch {
	case cfg.UseSentinel:
		return newSentinelClient(cfg)
	case cfg.UseClusters:
		return newClusterClient(cfg)
	default:
		return newStandaloneClient(cfg)
	}
}

func newSentinelClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	if cfg.Sentinels == "" {
		return nil, errors.New("REDIS_SENTINELS must be set when REDIS_USE_SENTINEL is true")
	}
	if cfg.SentinelServiceName == "" {
		return nil, errors.New("REDIS_SENTINEL_SERVICE_NAME must be set when REDIS_USE_SENTINEL is true")
	}
	addrs, err := ParseAddrs(cfg.Sentinels)
	if err != nil {
		return nil, fmt.Errorf("REDIS_SENTINELS: %w", err)
	}

	return redis.NewFailoverClient(&redis.FailoverOptions{
		MasterName:       cfg.SentinelServiceName,
		SentinelAddrs:    addrs,
		SentinelUsername: cfg.SentinelUsername,
		SentinelPassword: cfg.SentinelPassword,
		Username:         cfg.Username,
		Password:         cfg.Password,
		DB:               cfg.DB,
		Protocol:         cfg.SerializationProtocol,
		DialTimeout:      seconds(cfg.SentinelSocketTimeout),
	}), nil
}

func newClusterClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	if cfg.Clusters == "" {
		return nil, errors.New("REDIS_CLUSTERS must be set when REDIS_USE_CLUSTERS is true")
	}
	addrs, err := ParseAddrs(cfg.Clusters)
	if err != nil {
		return nil, fmt.Errorf("REDIS_CLUSTERS: %w", err)
	}

	return redis.NewClusterClient(&redis.ClusterOptions{
		Addrs:    addrs,
		Password: cfg.ClustersPassword,
		Protocol: cfg.SerializationProtocol,
	}), nil
}

func newStandaloneClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	opts := &redis.Options{
		Addr:     cfg.RedisAddr(),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
		Protocol: cfg.SerializationProtocol,
	}

	if cfg.UseSSL {
		tlsCfg, err := util.ClientTLSConfig(cfg.SSLCACerts, cfg.SSLCertFile, cfg.SSLKeyFile, cfg.SSLCertReqs != "CERT_NONE")
		if err != nil {
			return nil, fmt.Errorf("redis tls: %w", err)
		}
		tlsCfg.ServerName = cfg.Host
		opts.TLSConfig = tlsCfg
	}

	return redis.NewClient(opts), nil
}

// ParseAddrs splits "host:port,host:port" and validates every entry.
func ParseAddrs(s string) ([]string, error) {
	parts := util.SplitCSV(s)
	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: empty address list", ErrInvalidAddr)
	}
	for _, p := range parts {
		host, port, err := net.SplitHostPort(p)
		if err != nil {
			return nil, fmt.Errorf("%w %q: %v", ErrInvalidAddr, p, err)
		}
		if strings.TrimSpace(host) == "" {
			return nil, fmt.Errorf("%w %q: missing host", ErrInvalidAddr, p)
		}
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("%w %q: bad port", ErrInvalidAddr, p)
		}
	}
	return parts, nil
}

func seconds(f float64) time.Duration {
	if f <= 0 {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

// Wrapper holds a client that is set once at startup and read everywhere else.
type Wrapper struct {
	mu     sync.RWMutex
	client redis.UniversalClient
}

// Shared is the process-wide client initialized by the redis extension.
var Shared = &Wrapper{}

// Initialize sets the client. When another client is already set, client is closed and
// ErrAlreadyInitialized is returned.
func (w *Wrapper) Initialize(client redis.UniversalClient) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil || w.client == client {
		w.client = client
		return nil
	}
	if err := client.Close(); err != nil {
		return errors.Join(ErrAlreadyInitialized, err)
	}
	return ErrAlreadyInitialized
}

// Client returns the client or ErrNotInitialized.
func (w *Wrapper) Client() (redis.UniversalClient, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.client == nil {
		return nil, ErrNotInitialized
	}
	return w.client, nil
}

// Close closes and forgets the client.
func (w *Wrapper) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.client == nil {
		return nil
	}
	err := w.client.Close()
	w.client = nil
	return err
}

// Fallback runs fn and returns def when it fails, so a Redis outage degrades to the default
// instead of failing the caller. A missing key (redis.Nil) returns def without a warning.
func Fallback[T any](logger *zap.Logger, op string, def T, fn func() (T, error)) T {
	v, err := fn()
	if err == nil {
		return v
	}
	if errors.Is(err, redis.Nil) {
		return def
	}
	if logger != nil {
		logger.Warn("redis operation failed", zap.String("op", op), zap.Error(err))
	}
	return def
}
