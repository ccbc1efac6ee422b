package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/superhawk610/dbc/internal/cache"
	"github.com/superhawk610/dbc/internal/config"
	"github.com/superhawk610/dbc/internal/errs"
	"github.com/superhawk610/dbc/internal/logger"
	"github.com/superhawk610/dbc/internal/pool"
	"github.com/superhawk610/dbc/internal/registry"
	"github.com/superhawk610/dbc/internal/rewrite"
	"github.com/superhawk610/dbc/internal/sqlparse"
)

// Gateway ties the pipeline together: classify, rewrite, probe, execute,
// annotate, cache.
type Gateway struct {
	pools    *pool.Manager
	reg      *registry.Registry
	cache    *cache.Cache
	catalogs *CatalogCache
	log      *logger.Logger
	settings config.Settings
}

// New constructs a Gateway.
func New(pools *pool.Manager, reg *registry.Registry, respCache *cache.Cache, catalogs *CatalogCache, settings config.Settings, log *logger.Logger) *Gateway {
	return &Gateway{
		pools:    pools,
		reg:      reg,
		cache:    respCache,
		catalogs: catalogs,
		log:      log,
		settings: settings,
	}
}

// QueryRequest is one fully-routed query execution request.
type QueryRequest struct {
	Conn string
	DB   string

	Query    string
	Params   []any
	Sort     *rewrite.Sort
	Filters  []rewrite.Filter
	Page     int
	PageSize int

	UseCache bool
	CacheTTL time.Duration
}

// Query executes a submitted script and returns the encoded ResultPage of
// its final statement. Scripts run on a single exclusively-held session,
// statement by statement. Cacheable requests (a single select or explain
// statement) go through the response cache with single-flight, so two
// identical concurrent requests share one database round-trip.
func (g *Gateway) Query(ctx context.Context, req QueryRequest) (json.RawMessage, error) {
	if req.Query == "" {
		return nil, errs.BadRequest("query", "query must not be empty")
	}
	if req.Page == 0 {
		req.Page = 1
	}
	// page_size is mandatory: a positive page bound or -1 for all rows
	if req.PageSize == 0 {
		return nil, errs.BadRequest("page_size", "page_size is required (>= 1 or -1)")
	}
	if req.PageSize < -1 {
		return nil, errs.BadRequest("page_size", "page_size must be >= 1 or -1")
	}

	stmts := sqlparse.Split(req.Query)
	if len(stmts) == 0 {
		return nil, errs.BadRequest("query", "query contains no statements")
	}

	cacheable := req.UseCache && len(stmts) == 1 &&
		(stmts[0].Kind == sqlparse.KindSelect || stmts[0].Kind == sqlparse.KindExplain)

	if !cacheable {
		return g.executeScript(ctx, req, stmts)
	}

	fp, err := cache.Fingerprint(cache.Request{
		Conn:     req.Conn,
		DB:       req.DB,
		Query:    stmts[0].Text,
		Params:   req.Params,
		Sort:     req.Sort,
		Filters:  req.Filters,
		Page:     req.Page,
		PageSize: req.PageSize,
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "could not fingerprint request", err)
	}

	tables := referencedTables(stmts[0])
	return g.cache.GetOrCompute(ctx, cache.EntryKey{Conn: req.Conn, DB: req.DB, Fingerprint: fp},
		req.CacheTTL, tables,
		func(ctx context.Context) (json.RawMessage, error) {
			return g.executeScript(ctx, req, stmts)
		})
}

// executeScript acquires a session and runs every statement in order,
// returning the final statement's encoded page.
func (g *Gateway) executeScript(ctx context.Context, req QueryRequest, stmts []sqlparse.Statement) (json.RawMessage, error) {
	sess, err := g.pools.Acquire(ctx, req.Conn, req.DB)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	var page ResultPage
	for _, stmt := range stmts {
		page, err = g.executeStatement(ctx, sess, stmt, req)
		if err != nil {
			g.noteRoundTrip(req, err)
			return nil, err
		}
	}
	g.noteRoundTrip(req, nil)

	raw, err := json.Marshal(page)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "could not encode result", err)
	}
	return raw, nil
}

// noteRoundTrip updates registry status after every executed round-trip.
func (g *Gateway) noteRoundTrip(req QueryRequest, err error) {
	switch {
	case err == nil:
		g.reg.NoteStatus(req.Conn, req.DB, registry.Status{State: registry.StateActive})
	case errs.IsUnavailable(err) || errs.IsAuth(err):
		g.reg.NoteStatus(req.Conn, req.DB, registry.Status{State: registry.StateFailed, Message: err.Error()})
	}
}

// executeStatement dispatches one classified statement.
func (g *Gateway) executeStatement(ctx context.Context, sess *pool.Session, stmt sqlparse.Statement, req QueryRequest) (ResultPage, error) {
	switch stmt.Kind {
	case sqlparse.KindSelect:
		return g.executeSelect(ctx, sess, stmt, req)
	case sqlparse.KindExplain:
		return g.executeExplain(ctx, sess, stmt, req)
	case sqlparse.KindModifyData:
		return g.executeModifyData(ctx, sess, stmt, req)
	case sqlparse.KindModifyStructure:
		return g.executeModifyStructure(ctx, sess, stmt, req)
	default:
		// utility and unknown statements run as-is; whatever rows they
		// produce come back unpaginated
		return g.executeBare(ctx, sess, stmt, req)
	}
}

// bindParams validates the request's parameter count against the statement
// and converts the JSON values to driver values using probed types.
func (g *Gateway) bindParams(ctx context.Context, sess *pool.Session, stmt sqlparse.Statement, params []any) ([]any, int, error) {
	n := sqlparse.MaxParamOrdinal(stmt.Text)
	if len(params) != n {
		return nil, 0, errs.BadRequest("params", "wrong number of parameters for statement")
	}
	if n == 0 {
		return nil, 0, nil
	}

	probed, err := Probe(ctx, sess, stmt)
	if err != nil {
		return nil, 0, err
	}

	out, err := convertParams(probed, params)
	if err != nil {
		return nil, 0, err
	}
	return out, n, nil
}

// convertParams maps the request's JSON parameter values onto the probed
// parameter types.
func convertParams(probed *Prepared, params []any) ([]any, error) {
	if len(params) != len(probed.paramOIDs) {
		return nil, errs.BadRequest("params", "wrong number of parameters for statement")
	}

	out := make([]any, len(params))
	for i, val := range params {
		conv, err := paramValue(val, probed.paramOIDs[i])
		if err != nil {
			return nil, err
		}
		out[i] = conv
	}
	return out, nil
}

// executeSelect wraps the statement for pagination and runs it. The probe
// runs first regardless of parameters: the wrapper needs the statement's
// output column names to build the index-aliased CTE that keeps filters on
// duplicate column names unambiguous.
func (g *Gateway) executeSelect(ctx context.Context, sess *pool.Session, stmt sqlparse.Statement, req QueryRequest) (ResultPage, error) {
	probed, err := Probe(ctx, sess, stmt)
	if err != nil {
		return nil, err
	}

	args, err := convertParams(probed, req.Params)
	if err != nil {
		return nil, err
	}

	columns := make([]string, len(probed.Columns))
	for i, col := range probed.Columns {
		columns[i] = col.Name
	}

	wrapped, err := rewrite.Wrap(stmt, len(probed.paramOIDs), columns, req.Sort, req.Filters, req.Page, req.PageSize)
	if err != nil {
		return nil, err
	}
	args = append(args, wrapped.FilterArgs...)

	rows, err := sess.Conn().Query(ctx, wrapped.SQL, args...)
	if err != nil {
		return nil, g.queryError(ctx, sess, err, wrapped.PrefixLen)
	}

	total, cols, data, err := g.decodeSelect(sess, rows)
	if err != nil {
		return nil, g.queryError(ctx, sess, err, wrapped.PrefixLen)
	}

	// the wrapper projects through a CTE, which hides the source table
	// from the driver's field metadata; fall back to the inner
	// statement's probe, which aligns with the CTE columns by position
	for i := range cols {
		if cols[i].tableOID == 0 && i < len(probed.Columns) {
			cols[i].tableOID = probed.Columns[i].tableOID
			cols[i].attNum = probed.Columns[i].attNum
		}
	}

	if annotated, err := g.catalogs.Annotate(ctx, sess, cols); err != nil {
		// provenance is best-effort; the page is still valid without it
		g.log.With().Err(err).Logger().Warn("column annotation failed")
	} else {
		cols = annotated
	}

	sort := req.Sort
	return newSelectPage(req.Page, req.PageSize, total, sort, Entries{Columns: cols, Rows: data}), nil
}

// decodeSelect drains a wrapped result set, splitting off the projected
// __total column.
func (g *Gateway) decodeSelect(sess *pool.Session, rows pgx.Rows) (total int, cols []Column, data [][]any, err error) {
	fields := rows.FieldDescriptions()
	conn := sess.Conn().Conn()

	cols = make([]Column, 0, max(0, len(fields)-1))
	for i, f := range fields {
		if i == 0 {
			continue // __total
		}
		cols = append(cols, Column{
			Name:     string(f.Name),
			Index:    i - 1,
			Type:     typeName(conn, f.DataTypeOID),
			tableOID: f.TableOID,
			attNum:   f.TableAttributeNumber,
		})
	}

	raw, err := decodeRows(rows)
	if err != nil {
		return 0, nil, nil, err
	}

	data = make([][]any, len(raw))
	for i, row := range raw {
		if len(row) > 0 {
			if i == 0 {
				total = cellInt(row[0])
			}
			data[i] = row[1:]
		}
	}
	if len(data) == 0 {
		data = [][]any{}
	}
	return total, cols, data, nil
}

// executeBare runs a statement untouched and shapes any returned rows as an
// unpaginated select page.
func (g *Gateway) executeBare(ctx context.Context, sess *pool.Session, stmt sqlparse.Statement, req QueryRequest) (ResultPage, error) {
	args, _, err := g.bindParams(ctx, sess, stmt, req.Params)
	if err != nil {
		return nil, err
	}

	rows, err := sess.Conn().Query(ctx, stmt.Text, args...)
	if err != nil {
		return nil, g.queryError(ctx, sess, err, 0)
	}

	fields := rows.FieldDescriptions()
	conn := sess.Conn().Conn()
	cols := make([]Column, len(fields))
	for i, f := range fields {
		cols[i] = Column{
			Name:     string(f.Name),
			Index:    i,
			Type:     typeName(conn, f.DataTypeOID),
			tableOID: f.TableOID,
			attNum:   f.TableAttributeNumber,
		}
	}

	data, err := decodeRows(rows)
	if err != nil {
		return nil, g.queryError(ctx, sess, err, 0)
	}

	return newSelectPage(1, -1, len(data), nil, Entries{Columns: cols, Rows: data}), nil
}

// executeExplain normalises the explain form and returns the plan.
func (g *Gateway) executeExplain(ctx context.Context, sess *pool.Session, stmt sqlparse.Statement, req QueryRequest) (ResultPage, error) {
	args, _, err := g.bindParams(ctx, sess, stmt, req.Params)
	if err != nil {
		return nil, err
	}

	sql, inner := rewrite.WrapExplain(stmt)

	rows, err := sess.Conn().Query(ctx, sql, args...)
	if err != nil {
		return nil, g.queryError(ctx, sess, err, 0)
	}

	data, err := decodeRows(rows)
	if err != nil {
		return nil, g.queryError(ctx, sess, err, 0)
	}
	if len(data) == 0 || len(data[0]) == 0 {
		return nil, errs.New(errs.KindInternal, "explain returned no plan")
	}

	plan, err := renderPlan(data)
	if err != nil {
		return nil, err
	}

	return ExplainPage{Type: "explain", Query: inner, Plan: plan}, nil
}

// renderPlan turns explain output into one string: FORMAT JSON output is
// re-encoded, FORMAT TEXT output is newline-joined across rows.
func renderPlan(data [][]any) (string, error) {
	if s, ok := data[0][0].(string); ok {
		// FORMAT TEXT: one line per row
		lines := s
		for _, row := range data[1:] {
			if line, ok := row[0].(string); ok {
				lines += "\n" + line
			}
		}
		return lines, nil
	}

	raw, err := json.Marshal(data[0][0])
	if err != nil {
		return "", errs.Wrap(errs.KindInternal, "could not encode plan", err)
	}
	return string(raw), nil
}

// executeModifyData runs the statement and invalidates cache entries that
// reference the affected relations (coarsely, the whole database bucket,
// when the relations cannot be determined).
func (g *Gateway) executeModifyData(ctx context.Context, sess *pool.Session, stmt sqlparse.Statement, req QueryRequest) (ResultPage, error) {
	args, _, err := g.bindParams(ctx, sess, stmt, req.Params)
	if err != nil {
		return nil, err
	}

	tag, err := sess.Conn().Exec(ctx, stmt.Text, args...)
	if err != nil {
		return nil, g.queryError(ctx, sess, err, 0)
	}

	if tables := referencedTables(stmt); len(tables) > 0 {
		g.cache.InvalidateTables(req.Conn, req.DB, tables)
	} else {
		g.cache.InvalidateDB(req.Conn, req.DB)
	}

	return ModifyDataPage{Type: "modify-data", AffectedRows: tag.RowsAffected()}, nil
}

// executeModifyStructure runs the statement and drops every cached response
// and catalog entry for the database.
func (g *Gateway) executeModifyStructure(ctx context.Context, sess *pool.Session, stmt sqlparse.Statement, req QueryRequest) (ResultPage, error) {
	args, _, err := g.bindParams(ctx, sess, stmt, req.Params)
	if err != nil {
		return nil, err
	}

	if _, err := sess.Conn().Exec(ctx, stmt.Text, args...); err != nil {
		return nil, g.queryError(ctx, sess, err, 0)
	}

	g.cache.InvalidateDB(req.Conn, req.DB)
	g.catalogs.Invalidate(req.Conn, req.DB)
	g.log.With().Str("conn", req.Conn).Str("db", req.DB).Logger().
		Info("structure changed, caches invalidated")

	return ModifyStructurePage{Type: "modify-structure"}, nil
}

// queryError normalises a driver error. Cancellation marks the session
// broken: the driver has already fired CancelRequest, but the connection
// may still be mid-stream and cannot be reused safely.
func (g *Gateway) queryError(ctx context.Context, sess *pool.Session, err error, prefixLen int) error {
	if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
		sess.MarkBroken()
		return errs.Wrap(errs.KindCanceled, "request canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		sess.MarkBroken()
	}

	e := errs.FromPg(err, "query failed")
	if e.Kind == errs.KindPg && prefixLen > 0 {
		e.OffsetPosition(-prefixLen)
	}
	return e
}

// referencedTables lists the relations a statement touches, for targeted
// cache invalidation.
func referencedTables(stmt sqlparse.Statement) []string {
	refs := sqlparse.ExtractRefs(stmt.Text)
	tables := make([]string, 0, len(refs.Tables))
	for _, t := range refs.Tables {
		tables = append(tables, t.Name)
	}
	return tables
}

// cellInt reads the integer projected by the count subquery.
func cellInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
