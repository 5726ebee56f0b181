package repository

import (
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed schema/*.sql
var schemaFS embed.FS

const (
	mysqlDuplicateEntry     = 1062
	postgresUniqueViolation = "23505"
)

// dialect holds what differs between the supported SQL engines.
type dialect struct {
	name         string
	incrementSQL string
	schemaFile   string
	isDuplicate  func(error) bool
}

const (
	mysqlIncrementSQL = `INSERT INTO concepto_logs (concepto, fecha_log, cantidad_actual, limite)
VALUES (?, ?, 1, ?)
ON DUPLICATE KEY UPDATE cantidad_actual = cantidad_actual + 1`

	postgresIncrementSQL = `INSERT INTO concepto_logs (concepto, fecha_log, cantidad_actual, limite)
VALUES (?, ?, 1, ?)
ON CONFLICT (concepto, fecha_log) DO UPDATE SET cantidad_actual = concepto_logs.cantidad_actual + 1`
)

var dialects = map[string]dialect{
	"mysql": {
		name:         "mysql",
		incrementSQL: mysqlIncrementSQL,
		schemaFile:   "schema/mysql.sql",
		isDuplicate:  isMySQLDuplicate,
	},
	"postgres": {
		name:         "postgres",
		incrementSQL: postgresIncrementSQL,
		schemaFile:   "schema/postgres.sql",
		isDuplicate:  isPostgresDuplicate,
	},
}

func isMySQLDuplicate(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}

func isPostgresDuplicate(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == postgresUniqueViolation
}

func dialectFor(driver string) (dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return dialect{}, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	return d, nil
}

// rebind rewrites ? placeholders for the dialect.
func (d dialect) rebind(query string) string {
	return sqlx.Rebind(sqlx.BindType(d.name), query)
}

// schemaStatements returns the dialect's DDL split into single statements.
func (d dialect) schemaStatements() ([]string, error) {
	raw, err := schemaFS.ReadFile(d.schemaFile)
	if err != nil {
		return nil, err
	}
	var stmts []string
	for _, stmt := range strings.Split(string(raw), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts, nil
}
