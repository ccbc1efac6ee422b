package pool

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Session is one checked-out database connection. The gateway holds it
// exclusively from the first statement of a script to the last.
type Session struct {
	conn   *pgxpool.Conn
	key    Key
	mgr    *Manager
	broken bool
	done   bool
}

// Conn exposes the underlying pooled connection.
func (s *Session) Conn() *pgxpool.Conn { return s.conn }

// Key identifies the (connection, database) the session belongs to.
func (s *Session) Key() Key { return s.key }

// MarkBroken flags the session so Release destroys it instead of reusing
// it. Called when a query was cancelled mid-stream and the driver cannot
// guarantee clean recovery.
func (s *Session) MarkBroken() { s.broken = true }

// Release returns the session to its pool. A broken session, or one left
// inside a transaction, is discarded rather than reused.
func (s *Session) Release() {
	if s.done {
		return
	}
	s.done = true
	s.mgr.touch(s.key)

	discard := s.broken
	if !discard {
		// TxStatus 'I' means idle outside any transaction block
		if pgc := s.conn.Conn().PgConn(); pgc.TxStatus() != 'I' {
			discard = true
		}
	}

	if discard {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.conn.Conn().Close(ctx)
	}
	s.conn.Release()
}
