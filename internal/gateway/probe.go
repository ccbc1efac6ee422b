package gateway

import (
	"context"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/superhawk610/dbc/internal/errs"
	"github.com/superhawk610/dbc/internal/pool"
	"github.com/superhawk610/dbc/internal/sqlparse"
)

// Param is one positional parameter slot reported by the prepare probe.
type Param struct {
	Ordinal int    `json:"ordinal"`
	Name    string `json:"name"`
	OID     uint32 `json:"oid"`
	Type    string `json:"type"`
}

// Prepared is the outcome of a prepare probe: parameter and column metadata
// obtained without executing the statement.
type Prepared struct {
	Columns []Column `json:"columns"`
	Params  []Param  `json:"params"`

	paramOIDs []uint32
}

// Probe asks the server to parse and plan stmt as an unnamed prepared
// statement and reads back its parameter and column metadata. Unnamed
// statements are replaced by the next parse message, so nothing long-lived
// is left on the server and nothing is executed.
func Probe(ctx context.Context, sess *pool.Session, stmt sqlparse.Statement) (*Prepared, error) {
	conn := sess.Conn().Conn()

	desc, err := conn.PgConn().Prepare(ctx, "", stmt.Text, nil)
	if err != nil {
		return nil, errs.FromPg(err, "prepare failed")
	}

	return describeStatement(conn, stmt, desc), nil
}

// describeStatement converts a driver statement description to the probe
// result, resolving type names and declared parameter names.
func describeStatement(conn *pgx.Conn, stmt sqlparse.Statement, desc *pgconn.StatementDescription) *Prepared {
	refs := sqlparse.Params(stmt.Text)
	nameFor := func(ordinal int) string {
		if ordinal-1 < len(refs) {
			return refs[ordinal-1].Name
		}
		return "$" + strconv.Itoa(ordinal)
	}

	p := &Prepared{
		Columns:   make([]Column, len(desc.Fields)),
		Params:    make([]Param, len(desc.ParamOIDs)),
		paramOIDs: desc.ParamOIDs,
	}

	for i, f := range desc.Fields {
		p.Columns[i] = Column{
			Name:     string(f.Name),
			Index:    i,
			Type:     typeName(conn, f.DataTypeOID),
			tableOID: f.TableOID,
			attNum:   f.TableAttributeNumber,
		}
	}

	for i, oid := range desc.ParamOIDs {
		p.Params[i] = Param{
			Ordinal: i + 1,
			Name:    nameFor(i + 1),
			OID:     oid,
			Type:    typeName(conn, oid),
		}
	}

	return p
}

// typeName resolves an OID through the connection's type map, falling back
// to the numeric OID for types the driver has not registered.
func typeName(conn *pgx.Conn, oid uint32) string {
	if t, ok := conn.TypeMap().TypeForOID(oid); ok {
		return t.Name
	}
	return strconv.FormatUint(uint64(oid), 10)
}
