package registry

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superhawk610/dbc/internal/config"
	"github.com/superhawk610/dbc/internal/errs"
	"github.com/superhawk610/dbc/internal/secret"
)

func testStore(t *testing.T) *config.Store {
	t.Helper()
	store, err := config.Load(filepath.Join(t.TempDir(), "connections.json"))
	require.NoError(t, err)
	return store
}

func literalConn(name, password string) config.Connection {
	return config.Connection{Name: name, Username: "postgres", Password: &password}
}

func commandConn(name, command string) config.Connection {
	return config.Connection{Name: name, Username: "postgres", PasswordFile: &command}
}

func TestResolveLiteralPassword(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Upsert(literalConn("dev", "hunter2")))

	reg := New(context.Background(), store, secret.New())

	conn, password, err := reg.Resolve(context.Background(), "dev")
	require.NoError(t, err)
	assert.Equal(t, "dev", conn.Name)
	assert.Equal(t, "hunter2", password)
}

func TestResolveUnknownConnection(t *testing.T) {
	reg := New(context.Background(), testStore(t), secret.New())
	_, _, err := reg.Resolve(context.Background(), "nope")
	assert.True(t, errs.IsBadRequest(err))
}

func TestResolveCommandPasswordIsCached(t *testing.T) {
	store := testStore(t)
	counter := filepath.Join(t.TempDir(), "calls")
	cmd := fmt.Sprintf("echo x >> %s; echo s3cret", counter)
	require.NoError(t, store.Upsert(commandConn("dev", cmd)))

	reg := New(context.Background(), store, secret.New())

	for i := 0; i < 3; i++ {
		_, password, err := reg.Resolve(context.Background(), "dev")
		require.NoError(t, err)
		assert.Equal(t, "s3cret", password)
	}

	raw, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(raw), "the command should run exactly once")
}

func TestConfigChangeErasesCachedPassword(t *testing.T) {
	store := testStore(t)
	counter := filepath.Join(t.TempDir(), "calls")
	cmd := fmt.Sprintf("echo x >> %s; echo s3cret", counter)
	require.NoError(t, store.Upsert(commandConn("dev", cmd)))

	reg := New(context.Background(), store, secret.New())

	_, _, err := reg.Resolve(context.Background(), "dev")
	require.NoError(t, err)

	// change the definition; the watch loop must drop the cached password
	changed := commandConn("dev", cmd)
	changed.Host = "db.internal"
	require.NoError(t, store.Upsert(changed))

	select {
	case <-reg.Events():
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for registry event")
	}

	_, _, err = reg.Resolve(context.Background(), "dev")
	require.NoError(t, err)

	raw, err := os.ReadFile(counter)
	require.NoError(t, err)
	assert.Equal(t, "x\nx\n", string(raw), "the command should re-run after the change")
}

func TestStatuses(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Upsert(literalConn("dev", "pw")))

	reg := New(context.Background(), store, secret.New())

	reg.NoteVersion("dev", "PostgreSQL 16.3")
	reg.NoteStatus("dev", "postgres", Status{State: StateActive})
	reg.NoteStatus("dev", "analytics", Status{State: StateFailed, Message: "no such database"})

	statuses := reg.Statuses()
	require.Contains(t, statuses, "dev")
	assert.Equal(t, StateActive, statuses["dev"]["postgres"].State)
	assert.Equal(t, "PostgreSQL 16.3", statuses["dev"]["postgres"].Version)
	assert.Equal(t, StateFailed, statuses["dev"]["analytics"].State)
	assert.Equal(t, "no such database", statuses["dev"]["analytics"].Message)
}

func TestVersion(t *testing.T) {
	reg := New(context.Background(), testStore(t), secret.New())
	assert.Equal(t, "", reg.Version("dev"))
	reg.NoteVersion("dev", "PostgreSQL 16.3")
	assert.Equal(t, "PostgreSQL 16.3", reg.Version("dev"))
}
