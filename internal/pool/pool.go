// Package pool multiplexes lazily-created session pools, one per
// (connection, database) pair.
package pool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/superhawk610/dbc/internal/config"
	"github.com/superhawk610/dbc/internal/errs"
	"github.com/superhawk610/dbc/internal/logger"
	"github.com/superhawk610/dbc/internal/registry"
)

const (
	defaultPoolSize    = 4
	defaultConnTimeout = 10 * time.Second
)

// Key identifies one pool.
type Key struct {
	Conn string
	DB   string
}

func (k Key) String() string { return k.Conn + "/" + k.DB }

// dbPool wraps one pgxpool plus the bookkeeping the manager needs.
type dbPool struct {
	pool *pgxpool.Pool

	// dialMu serialises the first dial so a burst of requests against a
	// cold pool cannot stampede the server with connection attempts.
	dialMu sync.Mutex
	ready  atomic.Bool

	lastUse time.Time
}

// Manager owns every pool. Pools are created on first acquire and torn
// down on config change, explicit invalidation, or idle timeout.
type Manager struct {
	reg         *registry.Registry
	size        int32
	idleTimeout time.Duration
	log         *logger.Logger

	mu    sync.Mutex
	pools map[Key]*dbPool

	stop chan struct{}
}

// NewManager constructs a Manager. Teardown on config change is driven by
// the caller consuming the registry's event channel and calling Invalidate;
// the manager holds no back-reference to the registry's event source, which
// keeps teardown ordered (credentials erased first, pools drained next).
func NewManager(ctx context.Context, reg *registry.Registry, settings config.Settings, log *logger.Logger) *Manager {
	size := settings.PoolSize
	if size <= 0 {
		size = defaultPoolSize
	}

	m := &Manager{
		reg:         reg,
		size:        size,
		idleTimeout: settings.PoolIdleTimeout(),
		log:         log,
		pools:       make(map[Key]*dbPool),
		stop:        make(chan struct{}),
	}

	go m.reapIdle(ctx)

	return m
}

// reapIdle tears down pools that have seen no checkouts for the idle
// timeout. The next acquire transparently re-opens them.
func (m *Manager) reapIdle(ctx context.Context) {
	if m.idleTimeout <= 0 {
		return
	}

	tick := time.NewTicker(time.Minute)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stop:
			return
		case <-tick.C:
			m.mu.Lock()
			for key, p := range m.pools {
				if time.Since(p.lastUse) > m.idleTimeout {
					m.log.Infof("pool %s idle, going dormant", key)
					p.pool.Close()
					delete(m.pools, key)
				}
			}
			m.mu.Unlock()
		}
	}
}

// Acquire checks a session out of the (conn, db) pool, creating the pool on
// first use. The caller's ctx bounds the wait; exhaustion and dial failures
// surface as Unavailable, handshake failures as AuthFailure.
func (m *Manager) Acquire(ctx context.Context, connName, db string) (*Session, error) {
	key := Key{Conn: connName, DB: db}

	p, err := m.pool(ctx, key)
	if err != nil {
		return nil, err
	}

	if !p.ready.Load() {
		p.dialMu.Lock()
		if !p.ready.Load() {
			sess, err := m.firstAcquire(ctx, key, p)
			p.dialMu.Unlock()
			return sess, err
		}
		p.dialMu.Unlock()
	}

	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, m.acquireFailed(key, err)
	}

	m.touch(key)
	return &Session{conn: conn, key: key, mgr: m}, nil
}

// firstAcquire performs the initial dial for a cold pool, records the
// server version, and flips status to active. Callers hold p.dialMu.
func (m *Manager) firstAcquire(ctx context.Context, key Key, p *dbPool) (*Session, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, m.acquireFailed(key, err)
	}

	var version string
	if err := conn.QueryRow(ctx, "select version()").Scan(&version); err != nil {
		conn.Release()
		return nil, m.acquireFailed(key, err)
	}

	m.reg.NoteVersion(key.Conn, version)
	m.reg.NoteStatus(key.Conn, key.DB, registry.Status{State: registry.StateActive, Version: version})
	m.log.With().Str("pool", key.String()).Logger().Infof("connected: %s", version)

	p.ready.Store(true)
	m.touch(key)
	return &Session{conn: conn, key: key, mgr: m}, nil
}

// acquireFailed normalises a failed acquire and records failed status.
func (m *Manager) acquireFailed(key Key, err error) error {
	e := errs.FromPg(err, fmt.Sprintf("could not acquire session for %s", key))
	if e.Kind == errs.KindInternal {
		// dial and timeout failures that aren't server-reported
		e = errs.Wrap(errs.KindUnavailable, fmt.Sprintf("could not acquire session for %s", key), err)
	}
	if e.Kind != errs.KindCanceled {
		m.reg.NoteStatus(key.Conn, key.DB, registry.Status{State: registry.StateFailed, Message: e.Message})
	}
	return e
}

// pool returns the dbPool for key, creating it (but not dialing) if absent.
func (m *Manager) pool(ctx context.Context, key Key) (*dbPool, error) {
	m.mu.Lock()
	if p, ok := m.pools[key]; ok {
		m.mu.Unlock()
		return p, nil
	}
	m.mu.Unlock()

	// resolve credentials outside the lock; may run a password command
	conn, password, err := m.reg.Resolve(ctx, key.Conn)
	if err != nil {
		return nil, err
	}

	cfg, err := buildConfig(conn, key.DB, password, m.size)
	if err != nil {
		return nil, err
	}

	pgPool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errs.Wrap(errs.KindUnavailable, fmt.Sprintf("could not create pool for %s", key), err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.pools[key]; ok {
		// another request won the race
		pgPool.Close()
		return p, nil
	}

	m.reg.NoteStatus(key.Conn, key.DB, registry.Status{State: registry.StatePending})
	p := &dbPool{pool: pgPool, lastUse: time.Now()}
	m.pools[key] = p
	return p, nil
}

// buildConfig assembles the pgxpool config for one (connection, database).
func buildConfig(conn config.Connection, db, password string, size int32) (*pgxpool.Config, error) {
	sslMode := "disable"
	if conn.SSL {
		sslMode = "require"
	}

	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		conn.Host, conn.Port, conn.Username, password, db, sslMode,
	)

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidConfig, fmt.Sprintf("invalid connection parameters for %q", conn.Name), err)
	}

	cfg.MaxConns = size
	cfg.MinConns = 0
	cfg.ConnConfig.ConnectTimeout = defaultConnTimeout
	return cfg, nil
}

// Invalidate drains and closes every pool belonging to a connection.
func (m *Manager) Invalidate(connName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, p := range m.pools {
		if key.Conn == connName {
			p.pool.Close()
			delete(m.pools, key)
		}
	}
}

// InvalidateDB drains and closes one (connection, database) pool.
func (m *Manager) InvalidateDB(connName, db string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := Key{Conn: connName, DB: db}
	if p, ok := m.pools[key]; ok {
		p.pool.Close()
		delete(m.pools, key)
	}
}

// Close tears down every pool.
func (m *Manager) Close() {
	close(m.stop)
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, p := range m.pools {
		p.pool.Close()
		delete(m.pools, key)
	}
}

func (m *Manager) touch(key Key) {
	m.mu.Lock()
	if p, ok := m.pools[key]; ok {
		p.lastUse = time.Now()
	}
	m.mu.Unlock()
}
