package errors

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// PGFields are the driver-independent parts of a Postgres error.
type PGFields struct {
	SQLState   string `json:"sqlstate"`
	Message    string `json:"message,omitempty"`
	Detail     string `json:"detail,omitempty"`
	Table      string `json:"table,omitempty"`
	Column     string `json:"column,omitempty"`
	Constraint string `json:"constraint,omitempty"`
}

// Transient reports serialization failures and deadlocks, which succeed on retry.
func (p *PGFields) Transient() bool {
	return p != nil && (p.SQLState == "40001" || p.SQLState == "40P01")
}

// ErrorDump is the log-facing view of an error chain.
type ErrorDump struct {
	Message string    `json:"message"`
	Code    Code      `json:"code,omitempty"`
	Chain   []string  `json:"chain,omitempty"`
	PG      *PGFields `json:"pg,omitempty"`
}

// Dump walks err's chain and pulls out the typed code and any Postgres fields
// from either pgx or lib/pq.
func Dump(err error) ErrorDump {
	if err == nil {
		return ErrorDump{}
	}
	d := ErrorDump{Message: err.Error(), PG: pgFields(err)}
	if typed := As(err); typed != nil {
		d.Code = typed.Code()
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		d.Chain = append(d.Chain, fmt.Sprintf("%T", e))
	}
	return d
}

// LogFields flattens the dump for logger.WithFields.
func (d ErrorDump) LogFields() map[string]any {
	fields := map[string]any{
		"error":       d.Message,
		"error_code":  d.Code,
		"error_chain": d.Chain,
	}
	if d.PG != nil {
		fields["pg_sqlstate"] = d.PG.SQLState
		fields["pg_message"] = d.PG.Message
		fields["pg_detail"] = d.PG.Detail
		fields["pg_table"] = d.PG.Table
		fields["pg_column"] = d.PG.Column
		fields["pg_constraint"] = d.PG.Constraint
		fields["pg_transient"] = d.PG.Transient()
	}
	return fields
}

func pgFields(err error) *PGFields {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return &PGFields{
			SQLState:   pgxErr.Code,
			Message:    pgxErr.Message,
			Detail:     pgxErr.Detail,
			Table:      pgxErr.TableName,
			Column:     pgxErr.ColumnName,
			Constraint: pgxErr.ConstraintName,
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return &PGFields{
			SQLState:   string(pqErr.Code),
			Message:    pqErr.Message,
			Detail:     pqErr.Detail,
			Table:      pqErr.Table,
			Column:     pqErr.Column,
			Constraint: pqErr.Constraint,
		}
	}
	return nil
}
