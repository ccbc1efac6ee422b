// Package config owns the durable connection definitions and the
// server-level settings file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/superhawk610/dbc/internal/errs"
)

// Connection is one configured database connection. The JSON field names
// are the on-disk format and the /config wire format.
type Connection struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`

	// Exactly one of Password / PasswordFile must be set. PasswordFile is
	// a command line executed to produce the password on stdout.
	Password     *string `json:"password"`
	PasswordFile *string `json:"password_file"`

	Database string `json:"database"`
	SSL      bool   `json:"ssl"`
}

// withDefaults fills the optional fields.
func (c Connection) withDefaults() Connection {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.Database == "" {
		c.Database = "postgres"
	}
	return c
}

// validate rejects connections that could never open a session.
func (c Connection) validate() error {
	if c.Name == "" {
		return errs.New(errs.KindInvalidConfig, "connection name must not be empty")
	}
	if c.Username == "" {
		return errs.Newf(errs.KindInvalidConfig, "connection %q: username must not be empty", c.Name)
	}
	hasPassword := c.Password != nil && *c.Password != ""
	hasCommand := c.PasswordFile != nil && *c.PasswordFile != ""
	if !hasPassword && !hasCommand {
		return errs.Newf(errs.KindInvalidConfig, "connection %q: either password or password_file must be set", c.Name)
	}
	if hasPassword && hasCommand {
		return errs.Newf(errs.KindInvalidConfig, "connection %q: password and password_file are mutually exclusive", c.Name)
	}
	return nil
}

// Equal reports whether two definitions describe the same connection.
// Pools keyed on a definition are torn down when it changes.
func (c Connection) Equal(o Connection) bool {
	return c.Name == o.Name &&
		c.Host == o.Host &&
		c.Port == o.Port &&
		c.Username == o.Username &&
		strPtrEq(c.Password, o.Password) &&
		strPtrEq(c.PasswordFile, o.PasswordFile) &&
		c.Database == o.Database &&
		c.SSL == o.SSL
}

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// EventType distinguishes config change events.
type EventType int

const (
	EventUpsert EventType = iota
	EventRemove
)

// Event is emitted on every mutation that affects a connection. The pool
// manager consumes these to tear down affected pools.
type Event struct {
	Type EventType
	Name string
}

// Store loads, validates, and persists connection definitions. All methods
// are safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	path  string
	conns []Connection
	subs  []chan Event
}

// Load reads the config file at path, creating an empty one if it does not
// exist. A malformed file is InvalidConfig, not a silent reset.
func Load(path string) (*Store, error) {
	s := &Store{path: path}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidConfig, "could not read config file", err)
	}

	var conns []Connection
	if err := json.Unmarshal(raw, &conns); err != nil {
		return nil, errs.Wrap(errs.KindInvalidConfig, fmt.Sprintf("malformed config file %s", path), err)
	}

	for i, c := range conns {
		conns[i] = c.withDefaults()
		if err := conns[i].validate(); err != nil {
			return nil, err
		}
	}
	if err := checkUnique(conns); err != nil {
		return nil, err
	}

	s.conns = conns
	return s, nil
}

// List returns a snapshot of all connection definitions.
func (s *Store) List() []Connection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Connection, len(s.conns))
	copy(out, s.conns)
	return out
}

// Get returns the definition for name.
func (s *Store) Get(name string) (Connection, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.conns {
		if c.Name == name {
			return c, true
		}
	}
	return Connection{}, false
}

// Upsert adds or replaces one connection definition and persists.
func (s *Store) Upsert(conn Connection) error {
	conn = conn.withDefaults()
	if err := conn.validate(); err != nil {
		return err
	}

	s.mu.Lock()
	replaced := false
	for i, c := range s.conns {
		if c.Name == conn.Name {
			if c.Equal(conn) {
				s.mu.Unlock()
				return nil
			}
			s.conns[i] = conn
			replaced = true
			break
		}
	}
	if !replaced {
		s.conns = append(s.conns, conn)
	}
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.emit(Event{Type: EventUpsert, Name: conn.Name})
	return nil
}

// Remove deletes a connection definition by name and persists.
func (s *Store) Remove(name string) error {
	s.mu.Lock()
	idx := -1
	for i, c := range s.conns {
		if c.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return errs.Newf(errs.KindInvalidConfig, "no connection named %q", name)
	}
	s.conns = append(s.conns[:idx], s.conns[idx+1:]...)
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.emit(Event{Type: EventRemove, Name: name})
	return nil
}

// ReplaceAll swaps in a full new connection list (the PUT /config
// operation) and emits events for every removed or changed entry.
func (s *Store) ReplaceAll(conns []Connection) error {
	for i, c := range conns {
		conns[i] = c.withDefaults()
		if err := conns[i].validate(); err != nil {
			return err
		}
	}
	if err := checkUnique(conns); err != nil {
		return err
	}

	s.mu.Lock()
	prev := s.conns
	s.conns = conns
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		return err
	}

	next := make(map[string]Connection, len(conns))
	for _, c := range conns {
		next[c.Name] = c
	}
	for _, old := range prev {
		cur, ok := next[old.Name]
		switch {
		case !ok:
			s.emit(Event{Type: EventRemove, Name: old.Name})
		case !cur.Equal(old):
			s.emit(Event{Type: EventUpsert, Name: old.Name})
		}
	}

	return nil
}

// Subscribe returns a channel of config change events. The channel is
// buffered; a subscriber that stops draining loses events rather than
// blocking mutations.
func (s *Store) Subscribe() <-chan Event {
	ch := make(chan Event, 16)
	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()
	return ch
}

func (s *Store) emit(ev Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// persistLocked writes the connection list to disk. Callers hold s.mu.
func (s *Store) persistLocked() error {
	conns := s.conns
	if conns == nil {
		conns = []Connection{}
	}
	raw, err := json.MarshalIndent(conns, "", "  ")
	if err != nil {
		return errs.Wrap(errs.KindInternal, "could not encode config", err)
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errs.Wrap(errs.KindInvalidConfig, "could not create config directory", err)
		}
	}

	// write-then-rename so a crash can't leave a half-written file
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return errs.Wrap(errs.KindInvalidConfig, "could not write config file", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errs.Wrap(errs.KindInvalidConfig, "could not write config file", err)
	}
	return nil
}

func checkUnique(conns []Connection) error {
	seen := make(map[string]bool, len(conns))
	for _, c := range conns {
		if seen[c.Name] {
			return errs.Newf(errs.KindInvalidConfig, "duplicate connection name %q", c.Name)
		}
		seen[c.Name] = true
	}
	return nil
}
