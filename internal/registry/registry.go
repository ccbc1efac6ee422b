// Package registry owns per-connection runtime state: resolved credentials,
// the observed server version, and per-database status.
package registry

import (
	"context"
	"sync"

	"github.com/superhawk610/dbc/internal/config"
	"github.com/superhawk610/dbc/internal/errs"
	"github.com/superhawk610/dbc/internal/secret"
)

// State is the lifecycle position of a (connection, database) pair.
type State string

const (
	StatePending State = "pending"
	StateActive  State = "active"
	StateFailed  State = "failed"
)

// Status describes one (connection, database) pair.
type Status struct {
	State   State  `json:"state"`
	Message string `json:"message,omitempty"`

	// Version is the server's reported version string, recorded on the
	// first successful session.
	Version string `json:"version,omitempty"`
}

// entry is the registry's per-connection record. Resolved passwords live
// only here, in memory; they are never persisted and are erased when the
// connection definition changes.
type entry struct {
	password    string
	hasPassword bool
	version     string
	statusByDB  map[string]Status
}

// Registry maps connection names to runtime state. It watches the config
// store for changes, drops affected credentials, and re-emits the event for
// the pool manager to tear down pools.
type Registry struct {
	store    *config.Store
	resolver *secret.Resolver

	mu      sync.Mutex
	entries map[string]*entry

	events chan config.Event
}

// New constructs a Registry and starts watching store changes. The watch
// goroutine exits when ctx is done.
func New(ctx context.Context, store *config.Store, resolver *secret.Resolver) *Registry {
	r := &Registry{
		store:    store,
		resolver: resolver,
		entries:  make(map[string]*entry),
		events:   make(chan config.Event, 16),
	}

	sub := store.Subscribe()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-sub:
				r.invalidate(ev.Name)
				select {
				case r.events <- ev:
				default:
				}
			}
		}
	}()

	return r
}

// Events re-emits config change events after the registry has erased the
// affected credentials, keeping teardown ordered: creds first, pools next.
func (r *Registry) Events() <-chan config.Event {
	return r.events
}

// Resolve returns the connection definition and its password, running the
// password command on first use and caching the result for the lifetime of
// the current definition.
func (r *Registry) Resolve(ctx context.Context, name string) (config.Connection, string, error) {
	conn, ok := r.store.Get(name)
	if !ok {
		return config.Connection{}, "", errs.Newf(errs.KindBadRequest, "unknown connection %q", name)
	}

	if conn.Password != nil && *conn.Password != "" {
		return conn, *conn.Password, nil
	}

	r.mu.Lock()
	e := r.entry(name)
	if e.hasPassword {
		password := e.password
		r.mu.Unlock()
		return conn, password, nil
	}
	r.mu.Unlock()

	// resolve outside the lock: the command may take seconds
	command := ""
	if conn.PasswordFile != nil {
		command = *conn.PasswordFile
	}
	if command == "" {
		return config.Connection{}, "", errs.Newf(errs.KindAuth, "connection %q has no password source", name)
	}

	password, err := r.resolver.Resolve(ctx, command)
	if err != nil {
		return config.Connection{}, "", err
	}

	r.mu.Lock()
	e = r.entry(name)
	e.password = password
	e.hasPassword = true
	r.mu.Unlock()

	return conn, password, nil
}

// NoteStatus records the status of a (connection, database) pair. The pool
// manager calls this on acquire, and the gateway after every executed
// round-trip.
func (r *Registry) NoteStatus(conn, db string, st Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.entry(conn)
	if st.Version == "" {
		st.Version = e.version
	}
	e.statusByDB[db] = st
}

// NoteVersion records the server version observed on a connection.
func (r *Registry) NoteVersion(conn, version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entry(conn).version = version
}

// Version returns the observed server version for a connection, if any.
func (r *Registry) Version(conn string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[conn]; ok {
		return e.version
	}
	return ""
}

// Statuses snapshots status for every known (connection, database) pair.
func (r *Registry) Statuses() map[string]map[string]Status {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]map[string]Status, len(r.entries))
	for name, e := range r.entries {
		dbs := make(map[string]Status, len(e.statusByDB))
		for db, st := range e.statusByDB {
			dbs[db] = st
		}
		out[name] = dbs
	}
	return out
}

// invalidate erases all cached runtime state for a connection.
func (r *Registry) invalidate(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, name)
}

// entry returns the record for name, creating it if needed. Callers hold
// r.mu.
func (r *Registry) entry(name string) *entry {
	e, ok := r.entries[name]
	if !ok {
		e = &entry{statusByDB: make(map[string]Status)}
		r.entries[name] = e
	}
	return e
}
