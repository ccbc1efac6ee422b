package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/superhawk610/dbc/internal/config"
	"github.com/superhawk610/dbc/internal/errs"
	"github.com/superhawk610/dbc/internal/gateway"
	"github.com/superhawk610/dbc/internal/rewrite"
)

// handleGetConfig lists connection definitions plus per-(connection,
// database) status.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connections": s.store.List(),
		"status":      s.reg.Statuses(),
	})
}

type putConfigBody struct {
	Connections []config.Connection `json:"connections"`
}

// handlePutConfig replaces the connection list. Pool teardown for removed
// or modified entries rides on the store's change events.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var body putConfigBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errs.BadRequest("connections", "malformed request body"))
		return
	}

	if err := s.store.ReplaceAll(body.Connections); err != nil {
		s.writeError(w, err)
		return
	}

	s.broker.Broadcast("settings updated, restarting affected connections...")
	w.WriteHeader(http.StatusNoContent)
}

// handleConnectionInfo probes the server's product/version string lazily.
func (s *Server) handleConnectionInfo(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	def, ok := s.store.Get(name)
	if !ok {
		s.writeError(w, errs.Newf(errs.KindBadRequest, "unknown connection %q", name))
		return
	}

	ctx, cancel := s.probeCtx(r)
	defer cancel()

	info, err := s.gw.VersionInfo(ctx, name, def.Database)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"info": info})
}

// --- /db catalog routes ---

func (s *Server) handleDatabases(w http.ResponseWriter, r *http.Request) {
	conn, db, err := s.connOnly(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := s.probeCtx(r)
	defer cancel()

	rows, err := s.gw.ListDatabases(ctx, conn, db)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleSchemas(w http.ResponseWriter, r *http.Request) {
	conn, db, err := routing(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := s.probeCtx(r)
	defer cancel()

	rows, err := s.gw.ListSchemas(ctx, conn, db)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleTables(w http.ResponseWriter, r *http.Request) {
	conn, db, err := routing(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := s.probeCtx(r)
	defer cancel()

	rows, err := s.gw.ListTables(ctx, conn, db, chi.URLParam(r, "schema"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleColumns(w http.ResponseWriter, r *http.Request) {
	conn, db, err := routing(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := s.probeCtx(r)
	defer cancel()

	rows, err := s.gw.ListColumns(ctx, conn, db, chi.URLParam(r, "schema"), chi.URLParam(r, "table"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleDDL(w http.ResponseWriter, r *http.Request) {
	conn, db, err := routing(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ctx, cancel := s.probeCtx(r)
	defer cancel()

	ddl, err := s.gw.DDL(ctx, conn, db,
		chi.URLParam(r, "schema"), chi.URLParam(r, "kind"), chi.URLParam(r, "name"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ddl": ddl})
}

// --- prepare + query ---

type prepareBody struct {
	Query string `json:"query"`
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	conn, db, err := routing(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body prepareBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errs.BadRequest("query", "malformed request body"))
		return
	}

	ctx, cancel := s.probeCtx(r)
	defer cancel()

	prepared, err := s.gw.Prepare(ctx, conn, db, body.Query)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prepared)
}

type queryBody struct {
	Query    string           `json:"query"`
	Params   []any            `json:"params"`
	Sort     *rewrite.Sort    `json:"sort"`
	Filters  []rewrite.Filter `json:"filters"`
	Page     int              `json:"page"`
	PageSize int              `json:"page_size"`

	UseCache  *bool `json:"use_cache"`
	CacheTTLS int   `json:"cache_ttl_s"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	conn, db, err := routing(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var body queryBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, errs.BadRequest("query", "malformed request body"))
		return
	}

	useCache := body.UseCache == nil || *body.UseCache

	ctx, cancel := context.WithTimeout(r.Context(), s.settings.QueryTimeout())
	defer cancel()

	raw, err := s.gw.Query(ctx, gateway.QueryRequest{
		Conn:     conn,
		DB:       db,
		Query:    body.Query,
		Params:   body.Params,
		Sort:     body.Sort,
		Filters:  body.Filters,
		Page:     body.Page,
		PageSize: body.PageSize,
		UseCache: useCache,
		CacheTTL: time.Duration(body.CacheTTLS) * time.Second,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

// probeCtx bounds catalog and prepare probes.
func (s *Server) probeCtx(r *http.Request) (ctx context.Context, cancel context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.settings.ProbeTimeout())
}
