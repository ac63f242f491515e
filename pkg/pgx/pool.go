package pgx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/edgeflare/mimir/pkg/config"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DefaultPool is the name the application registers its database under.
const DefaultPool = "default"

var (
	ErrPoolNotFound      = errors.New("connection pool not found")
	ErrPoolAlreadyExists = errors.New("connection pool already exists")
	ErrNoActivePool      = errors.New("no active connection pool")
	ErrMissingConnConfig = errors.New("either Config or ConnString must be provided")
)

// Pool is a named pool definition. Config takes precedence over ConnString.
type Pool struct {
	Name       string
	Config     *pgxpool.Config
	ConnString string
}

// PoolFromConfig builds the pool definition for the DB_* and SQLALCHEMY_* settings.
func PoolFromConfig(name string, cfg config.DatabaseConfig) (Pool, error) {
	poolCfg, err := cfg.PgxPoolConfig()
	if err != nil {
		return Pool{}, err
	}
	return Pool{Name: name, Config: poolCfg}, nil
}

// PoolManager holds named pools, one of which is active.
type PoolManager struct {
	mu     sync.RWMutex
	pools  map[string]*pgxpool.Pool
	active string
	logger *zap.Logger
}

func NewPoolManager(loggers ...*zap.Logger) *PoolManager {
	logger := zap.NewNop()
	if len(loggers) > 0 && loggers[0] != nil {
		logger = loggers[0]
	}
	return &PoolManager{pools: make(map[string]*pgxpool.Pool), logger: logger}
}

// Add connects, pings and registers a pool. The first pool added, or one added with
// setActive, becomes active.
func (m *PoolManager) Add(ctx context.Context, p Pool, setActive ...bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pools[p.Name]; ok {
		return fmt.Errorf("%w: %q", ErrPoolAlreadyExists, p.Name)
	}
	pool, err := connect(ctx, p)
	if err != nil {
		return fmt.Errorf("pgx %s: %w", p.Name, err)
	}
	m.pools[p.Name] = pool

	if (len(setActive) > 0 && setActive[0]) || m.active == "" {
		m.active = p.Name
	}
	cc := pool.Config().ConnConfig
	m.logger.Info("database pool ready",
		zap.String("pool", p.Name),
		zap.String("host", cc.Host),
		zap.String("database", cc.Database),
		zap.Int32("max_conns", pool.Config().MaxConns),
	)
	return nil
}

func (m *PoolManager) Get(name string) (*pgxpool.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pool, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPoolNotFound, name)
	}
	return pool, nil
}

func (m *PoolManager) Active() (*pgxpool.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.active == "" {
		return nil, ErrNoActivePool
	}
	return m.pools[m.active], nil
}

func (m *PoolManager) SetActive(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pools[name]; !ok {
		return fmt.Errorf("%w: %q", ErrPoolNotFound, name)
	}
	m.active = name
	return nil
}

// Remove closes a pool. Removing the active pool activates the first remaining one by name.
func (m *PoolManager) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrPoolNotFound, name)
	}
	pool.Close()
	delete(m.pools, name)

	if m.active == name {
		m.active = ""
		if names := m.sortedNames(); len(names) > 0 {
			m.active = names[0]
		}
	}
	return nil
}

// Close closes every pool. The manager is empty afterwards and can be reused.
func (m *PoolManager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, p := range m.pools {
		p.Close()
		m.logger.Debug("database pool closed", zap.String("pool", name))
	}
	m.pools = make(map[string]*pgxpool.Pool)
	m.active = ""
}

// List returns the pool names, sorted.
func (m *PoolManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sortedNames()
}

func (m *PoolManager) sortedNames() []string {
	names := make([]string, 0, len(m.pools))
	for name := range m.pools {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func connect(ctx context.Context, p Pool) (*pgxpool.Pool, error) {
	var (
		pool *pgxpool.Pool
		err  error
	)
	switch {
	case p.Config != nil:
		pool, err = pgxpool.NewWithConfig(ctx, p.Config)
	case p.ConnString != "":
		pool, err = pgxpool.New(ctx, p.ConnString)
	default:
		return nil, ErrMissingConnConfig
	}
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
