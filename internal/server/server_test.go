package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/superhawk610/dbc/internal/cache"
	"github.com/superhawk610/dbc/internal/config"
	"github.com/superhawk610/dbc/internal/gateway"
	"github.com/superhawk610/dbc/internal/logger"
	"github.com/superhawk610/dbc/internal/pool"
	"github.com/superhawk610/dbc/internal/registry"
	"github.com/superhawk610/dbc/internal/secret"
	"github.com/superhawk610/dbc/internal/stream"
)

// testServer wires a full server against a throwaway config store. Routes
// that would touch a live database aren't exercised here; pool acquisition
// fails fast for unknown hosts.
func testServer(t *testing.T) (*Server, *config.Store) {
	t.Helper()

	store, err := config.Load(filepath.Join(t.TempDir(), "connections.json"))
	require.NoError(t, err)

	settings := config.DefaultSettings()
	log := logger.New(&logger.Config{Level: "error", Format: "json"})
	broker := stream.NewBroker(16)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	reg := registry.New(ctx, store, secret.New())
	pools := pool.NewManager(ctx, reg, settings, log)
	t.Cleanup(pools.Close)

	respCache := cache.New(16, 0, settings.CacheMaxTTL())
	catalogs := gateway.NewCatalogCache(0)
	gw := gateway.New(pools, reg, respCache, catalogs, settings, log)

	return New(store, reg, gw, broker, settings, log), store
}

func doJSON(t *testing.T, srv *Server, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetConfigEmpty(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/config", "", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("content-type"))

	var body struct {
		Connections []config.Connection `json:"connections"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Empty(t, body.Connections)
}

func TestPutConfig(t *testing.T) {
	srv, store := testServer(t)

	body := `{"connections":[{"name":"dev","username":"postgres","password":"pw"}]}`
	rec := doJSON(t, srv, http.MethodPut, "/config", body, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	conns := store.List()
	require.Len(t, conns, 1)
	assert.Equal(t, "dev", conns[0].Name)
	assert.Equal(t, "localhost", conns[0].Host)
}

func TestPutConfigInvalid(t *testing.T) {
	srv, _ := testServer(t)

	t.Run("malformed body", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPut, "/config", `{nope`, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "BadRequest", decodeError(t, rec)["type"])
	})

	t.Run("missing password source", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPut, "/config",
			`{"connections":[{"name":"dev","username":"postgres"}]}`, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "InvalidConfig", decodeError(t, rec)["type"])
	})

	t.Run("duplicate names", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPut, "/config",
			`{"connections":[
				{"name":"dev","username":"postgres","password":"pw"},
				{"name":"dev","username":"postgres","password":"pw"}
			]}`, nil)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "InvalidConfig", decodeError(t, rec)["type"])
	})
}

func TestRoutingHeadersRequired(t *testing.T) {
	srv, _ := testServer(t)

	paths := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/db/schemas", ""},
		{http.MethodGet, "/db/schemas/public/tables", ""},
		{http.MethodGet, "/db/schemas/public/tables/users/columns", ""},
		{http.MethodGet, "/db/ddl/schemas/public/table/users", ""},
		{http.MethodPost, "/prepare", `{"query":"SELECT 1"}`},
		{http.MethodPost, "/query", `{"query":"SELECT 1","page":1,"page_size":10}`},
	}

	for _, tt := range paths {
		t.Run(tt.path, func(t *testing.T) {
			rec := doJSON(t, srv, tt.method, tt.path, tt.body, nil)
			require.Equal(t, http.StatusBadRequest, rec.Code)

			body := decodeError(t, rec)
			assert.Equal(t, "BadRequest", body["type"])
			assert.Contains(t, body["message"], "x-conn-name")
		})
	}

	t.Run("conn header alone is not enough", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodGet, "/db/schemas", "", map[string]string{"x-conn-name": "dev"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeError(t, rec)["message"], "x-database")
	})
}

func TestDatabasesUsesDefaultDatabase(t *testing.T) {
	srv, _ := testServer(t)

	// /db/databases routes by connection only; an unknown connection is a
	// BadRequest before any database work happens
	rec := doJSON(t, srv, http.MethodGet, "/db/databases", "", map[string]string{"x-conn-name": "ghost"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decodeError(t, rec)["message"], `unknown connection "ghost"`)
}

func TestConnectionInfoUnknown(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodGet, "/connections/ghost", "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "BadRequest", decodeError(t, rec)["type"])
}

func TestQueryValidation(t *testing.T) {
	srv, store := testServer(t)
	password := "pw"
	require.NoError(t, store.Upsert(config.Connection{
		Name: "dev", Username: "postgres", Password: &password,
	}))

	headers := map[string]string{"x-conn-name": "dev", "x-database": "postgres"}

	t.Run("empty query", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/query", `{"query":"","page":1,"page_size":10}`, headers)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "BadRequest", decodeError(t, rec)["type"])
	})

	t.Run("comment-only query", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/query", `{"query":"-- nothing","page":1,"page_size":10}`, headers)
		require.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("omitted page_size", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/query", `{"query":"SELECT 1","page":1}`, headers)
		require.Equal(t, http.StatusBadRequest, rec.Code)

		body := decodeError(t, rec)
		assert.Equal(t, "BadRequest", body["type"])
		assert.Equal(t, "page_size", body["field"])
	})

	t.Run("page_size below -1", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/query", `{"query":"SELECT 1","page":1,"page_size":-5}`, headers)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "page_size", decodeError(t, rec)["field"])
	})

	t.Run("unknown connection", func(t *testing.T) {
		rec := doJSON(t, srv, http.MethodPost, "/query",
			`{"query":"SELECT 1","page":1,"page_size":10}`,
			map[string]string{"x-conn-name": "ghost", "x-database": "postgres"})
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, decodeError(t, rec)["message"], "unknown connection")
	})
}

func TestErrorBodyShape(t *testing.T) {
	srv, _ := testServer(t)
	rec := doJSON(t, srv, http.MethodPost, "/query", `{"query":"SELECT 1"}`, nil)

	body := decodeError(t, rec)
	assert.Equal(t, "BadRequest", body["type"])
	assert.NotEmpty(t, body["message"])
	assert.Equal(t, "x-conn-name", body["field"])
}
