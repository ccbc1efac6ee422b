// Package server exposes the gateway over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/superhawk610/dbc/internal/config"
	"github.com/superhawk610/dbc/internal/errs"
	"github.com/superhawk610/dbc/internal/gateway"
	"github.com/superhawk610/dbc/internal/logger"
	"github.com/superhawk610/dbc/internal/registry"
	"github.com/superhawk610/dbc/internal/stream"
)

// routing headers
const (
	headerConnName = "x-conn-name"
	headerDatabase = "x-database"
)

// 499 is the de-facto status for a client that went away mid-request.
const statusClientClosedRequest = 499

// Server routes requests to the gateway.
type Server struct {
	store    *config.Store
	reg      *registry.Registry
	gw       *gateway.Gateway
	broker   *stream.Broker
	settings config.Settings
	log      *logger.Logger

	http *http.Server
}

// New constructs a Server.
func New(store *config.Store, reg *registry.Registry, gw *gateway.Gateway, broker *stream.Broker, settings config.Settings, log *logger.Logger) *Server {
	s := &Server{
		store:    store,
		reg:      reg,
		gw:       gw,
		broker:   broker,
		settings: settings,
		log:      log,
	}
	s.http = &http.Server{Handler: s.Router()}
	return s
}

// Router assembles the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/config", s.handleGetConfig)
	r.Put("/config", s.handlePutConfig)
	r.Get("/connections/{name}", s.handleConnectionInfo)

	r.Route("/db", func(r chi.Router) {
		r.Get("/databases", s.handleDatabases)
		r.Get("/schemas", s.handleSchemas)
		r.Get("/schemas/{schema}/tables", s.handleTables)
		r.Get("/schemas/{schema}/tables/{table}/columns", s.handleColumns)
		r.Get("/ddl/schemas/{schema}/{kind}/{name}", s.handleDDL)
	})

	r.Post("/prepare", s.handlePrepare)
	r.Post("/query", s.handleQuery)

	r.Get("/ws/logs", s.handleLogsWS)

	return r
}

// Listen binds the configured address (port 0 picks an ephemeral port) and
// serves until ctx is done. The bound address is reported through addr.
func (s *Server) Listen(ctx context.Context, addr chan<- net.Addr) error {
	ln, err := net.Listen("tcp", s.settings.Addr)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "could not bind listen address", err)
	}
	if addr != nil {
		addr <- ln.Addr()
	}
	s.log.Infof("listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.http.Shutdown(shutdownCtx)
	}()

	if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// logRequests emits one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Str("duration", time.Since(start).String()).
			Logger().
			Debug("request")
	})
}

// routing reads the x-conn-name and x-database headers.
func routing(r *http.Request) (conn, db string, err error) {
	conn = r.Header.Get(headerConnName)
	if conn == "" {
		return "", "", errs.BadRequest(headerConnName, "missing x-conn-name header")
	}
	db = r.Header.Get(headerDatabase)
	if db == "" {
		return "", "", errs.BadRequest(headerDatabase, "missing x-database header")
	}
	return conn, db, nil
}

// connOnly reads just x-conn-name, for routes that use the connection's
// default database.
func (s *Server) connOnly(r *http.Request) (conn, db string, err error) {
	conn = r.Header.Get(headerConnName)
	if conn == "" {
		return "", "", errs.BadRequest(headerConnName, "missing x-conn-name header")
	}
	def, ok := s.store.Get(conn)
	if !ok {
		return "", "", errs.Newf(errs.KindBadRequest, "unknown connection %q", conn)
	}
	return conn, def.Database, nil
}

// writeJSON writes a JSON response body.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeRaw writes an already-encoded JSON body.
func writeRaw(w http.ResponseWriter, status int, raw json.RawMessage) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

// errorBody is the structured wire form of an *errs.Error.
type errorBody struct {
	Type     string `json:"type"`
	Message  string `json:"message"`
	Field    string `json:"field,omitempty"`
	Severity string `json:"severity,omitempty"`
	Code     string `json:"code,omitempty"`
	Position int    `json:"position,omitempty"`
}

// writeError renders err per the error taxonomy.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var e *errs.Error
	if !errors.As(err, &e) {
		e = errs.Wrap(errs.KindInternal, "internal error", err)
	}

	status := http.StatusInternalServerError
	switch e.Kind {
	case errs.KindPg, errs.KindBadRequest, errs.KindInvalidConfig:
		status = http.StatusBadRequest
	case errs.KindUnavailable:
		status = http.StatusServiceUnavailable
	case errs.KindAuth:
		status = http.StatusUnauthorized
	case errs.KindCanceled:
		status = statusClientClosedRequest
	}

	writeJSON(w, status, errorBody{
		Type:     e.Kind.String(),
		Message:  e.Message,
		Field:    e.Field,
		Severity: e.Severity,
		Code:     e.Code,
		Position: e.Position,
	})
}
