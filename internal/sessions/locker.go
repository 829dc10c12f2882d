package sessions

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/man-su-97/rag-chatbot/internal/agent"
)

var (
	_ agent.SessionLocker = (*LocalLocker)(nil)
	_ agent.SessionLocker = (*DBLocker)(nil)
)

// DefaultLockTimeout bounds how long a turn waits for its session.
const DefaultLockTimeout = 30 * time.Second

type localLock struct {
	held chan struct{}
	refs int
}

// LocalLocker serializes turns of the same session within one process.
//
// Thread Safety:
// LocalLocker is safe for concurrent use.
type LocalLocker struct {
	mu      sync.Mutex
	locks   map[string]*localLock
	timeout time.Duration
}

// NewLocalLocker creates a LocalLocker. A non-positive timeout uses
// DefaultLockTimeout.
func NewLocalLocker(timeout time.Duration) *LocalLocker {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	return &LocalLocker{locks: make(map[string]*localLock), timeout: timeout}
}

// Lock waits for the session lock until the timeout or ctx expires.
func (l *LocalLocker) Lock(ctx context.Context, sessionID string) error {
	if l == nil {
		return errors.New("session locker unavailable")
	}

	l.mu.Lock()
	lock, ok := l.locks[sessionID]
	if !ok {
		lock = &localLock{held: make(chan struct{}, 1)}
		l.locks[sessionID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case lock.held <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.release(sessionID, lock)
		return ctx.Err()
	case <-timer.C:
		l.release(sessionID, lock)
		return ErrLockTimeout
	}
}

// Unlock releases the session lock. Unlocking a session that is not locked
// is a no-op.
func (l *LocalLocker) Unlock(sessionID string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	lock, ok := l.locks[sessionID]
	l.mu.Unlock()
	if !ok {
		return
	}
	select {
	case <-lock.held:
		l.release(sessionID, lock)
	default:
	}
}

func (l *LocalLocker) release(sessionID string, lock *localLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs <= 0 && l.locks[sessionID] == lock {
		delete(l.locks, sessionID)
	}
}

// Held returns the number of sessions with a holder or waiter.
func (l *LocalLocker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// DBLockerConfig configures the DB-backed session lock.
type DBLockerConfig struct {
	OwnerID         string
	TTL             time.Duration
	RefreshInterval time.Duration
	AcquireTimeout  time.Duration
	PollInterval    time.Duration
	Logger          *slog.Logger
}

// DefaultDBLockerConfig returns default settings for DBLocker.
func DefaultDBLockerConfig() DBLockerConfig {
	return DBLockerConfig{
		TTL:             2 * time.Minute,
		RefreshInterval: 30 * time.Second,
		AcquireTimeout:  10 * time.Second,
		PollInterval:    200 * time.Millisecond,
	}
}

// DBLocker implements a lease lock in the session_locks table so that turns
// of one session are serialized across server instances. All turns of one
// process share the same owner id, so a LocalLocker serializes them before
// the lease is taken.
type DBLocker struct {
	db     *sql.DB
	config DBLockerConfig
	logger *slog.Logger
	local  *LocalLocker

	mu     sync.Mutex
	renew  map[string]context.CancelFunc
	closed bool
}

// NewDBLocker creates a new DB-backed session locker.
func NewDBLocker(db *sql.DB, cfg DBLockerConfig) (*DBLocker, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if cfg.OwnerID == "" {
		return nil, errors.New("owner id is required")
	}
	defaults := DefaultDBLockerConfig()
	if cfg.TTL <= 0 {
		cfg.TTL = defaults.TTL
	}
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = defaults.RefreshInterval
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = defaults.AcquireTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &DBLocker{
		db:     db,
		config: cfg,
		logger: logger.With("component", "session_locks"),
		local:  NewLocalLocker(cfg.AcquireTimeout),
		renew:  make(map[string]context.CancelFunc),
	}, nil
}

// Lock polls for the lease until AcquireTimeout, then renews it in the
// background until Unlock.
func (l *DBLocker) Lock(ctx context.Context, sessionID string) error {
	if l == nil {
		return errors.New("session locker unavailable")
	}
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session_id is required")
	}

	deadline := time.Now().Add(l.config.AcquireTimeout)
	if err := l.local.Lock(ctx, sessionID); err != nil {
		return err
	}
	if err := l.acquireLease(ctx, sessionID, deadline); err != nil {
		l.local.Unlock(sessionID)
		return err
	}
	l.startRenew(sessionID)
	return nil
}

func (l *DBLocker) acquireLease(ctx context.Context, sessionID string, deadline time.Time) error {
	for {
		ok, err := l.tryAcquire(ctx, sessionID)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if time.Now().After(deadline) {
			return ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.config.PollInterval):
		}
	}
}

// Unlock releases the lease. A failed delete is logged; the lease then
// expires via its TTL.
func (l *DBLocker) Unlock(sessionID string) {
	if l == nil {
		return
	}
	l.stopRenew(sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := l.db.ExecContext(ctx, `
		DELETE FROM session_locks
		WHERE session_id = $1 AND owner_id = $2
	`, sessionID, l.config.OwnerID); err != nil {
		l.logger.Warn("release session lock failed", "session_id", sessionID, "error", err)
	}
	l.local.Unlock(sessionID)
}

// Close stops all renew loops.
func (l *DBLocker) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	for _, cancel := range l.renew {
		cancel()
	}
	l.renew = make(map[string]context.CancelFunc)
	return nil
}

func (l *DBLocker) tryAcquire(ctx context.Context, sessionID string) (bool, error) {
	now := time.Now()
	expiresAt := now.Add(l.config.TTL)
	var owner string
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO session_locks (session_id, owner_id, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (session_id) DO UPDATE
		SET owner_id = EXCLUDED.owner_id,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at
		WHERE session_locks.expires_at < $3 OR session_locks.owner_id = EXCLUDED.owner_id
		RETURNING owner_id
	`, sessionID, l.config.OwnerID, now, expiresAt).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return owner == l.config.OwnerID, nil
}

func (l *DBLocker) startRenew(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	if _, ok := l.renew[sessionID]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.renew[sessionID] = cancel
	go l.renewLoop(ctx, sessionID)
}

func (l *DBLocker) stopRenew(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cancel, ok := l.renew[sessionID]; ok {
		delete(l.renew, sessionID)
		cancel()
	}
}

// dropRenew removes the renew loop owning ctx. A loop that was already
// stopped must not remove the entry of a later holder.
func (l *DBLocker) dropRenew(ctx context.Context, sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if cancel, ok := l.renew[sessionID]; ok {
		delete(l.renew, sessionID)
		cancel()
	}
}

func (l *DBLocker) renewLoop(ctx context.Context, sessionID string) {
	ticker := time.NewTicker(l.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !l.extendLease(ctx, sessionID) {
				if ctx.Err() == nil {
					l.logger.Warn("session lease lost", "session_id", sessionID)
				}
				l.dropRenew(ctx, sessionID)
				return
			}
		}
	}
}

func (l *DBLocker) extendLease(ctx context.Context, sessionID string) bool {
	expiresAt := time.Now().Add(l.config.TTL)
	result, err := l.db.ExecContext(ctx, `
		UPDATE session_locks
		SET expires_at = $1
		WHERE session_id = $2 AND owner_id = $3
	`, expiresAt, sessionID, l.config.OwnerID)
	if err != nil {
		return false
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false
	}
	return rows > 0
}
