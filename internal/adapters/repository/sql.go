package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/okian/encuesta/internal/domain/model"
	"github.com/okian/encuesta/pkg/logger"
	"github.com/okian/encuesta/pkg/metrics"
)

const (
	existsSQL = `SELECT COUNT(*) FROM registros WHERE id = ?`

	countEligibleSQL = `SELECT COUNT(*) FROM registros
WHERE concepto = ? AND fecha_control = ? AND enviar_encuesta = ?`

	countEligibleForContactSQL = `SELECT COUNT(*) FROM registros
WHERE contact_id = ? AND fecha_control = ? AND enviar_encuesta = ?`

	insertRecordSQL = `INSERT INTO registros (id, contact_id, concepto, enviar_encuesta, fecha_creacion, fecha_control)
VALUES (?, ?, ?, ?, ?, ?)`

	dailyCountersSQL = `SELECT concepto, cantidad_actual, limite FROM concepto_logs
WHERE fecha_log = ? ORDER BY concepto`
)

// executor is satisfied by both *sqlx.DB and *sqlx.Tx.
type executor interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// SQLStore implements Store on MySQL or Postgres through sqlx.
type SQLStore struct {
	db      *sqlx.DB
	dialect dialect
	log     logger.Logger

	maxOpenConns    int
	maxIdleConns    int
	connMaxLifetime time.Duration

	// rebound statements
	existsQ, countQ, countContactQ, insertQ, incrementQ, dailyQ string
}

// NewSQLStore opens a pool for driver ("mysql" or "postgres") and dsn.
// The pool is lazy: no connection is made until the first query or Ping.
func NewSQLStore(driver, dsn string, opts ...Option) (*SQLStore, error) {
	if _, err := dialectFor(driver); err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	return NewSQLStoreWithDB(db, opts...)
}

// NewSQLStoreWithDB wraps an existing pool. The dialect follows db.DriverName().
func NewSQLStoreWithDB(db *sqlx.DB, opts ...Option) (*SQLStore, error) {
	d, err := dialectFor(db.DriverName())
	if err != nil {
		return nil, err
	}
	s := &SQLStore{
		db:              db,
		dialect:         d,
		log:             logger.Nop(),
		maxOpenConns:    10,
		maxIdleConns:    5,
		connMaxLifetime: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(s)
	}
	db.SetMaxOpenConns(s.maxOpenConns)
	db.SetMaxIdleConns(s.maxIdleConns)
	db.SetConnMaxLifetime(s.connMaxLifetime)

	s.existsQ = d.rebind(existsSQL)
	s.countQ = d.rebind(countEligibleSQL)
	s.countContactQ = d.rebind(countEligibleForContactSQL)
	s.insertQ = d.rebind(insertRecordSQL)
	s.incrementQ = d.rebind(d.incrementSQL)
	s.dailyQ = d.rebind(dailyCountersSQL)
	return s, nil
}

// EnsureSchema creates the tables when they do not exist yet.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts, err := s.dialect.schemaStatements()
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	s.log.Info(ctx, "schema ensured", logger.String("dialect", s.dialect.name), logger.Int("statements", len(stmts)))
	return nil
}

func (s *SQLStore) ops(ex executor) *sqlOps {
	return &sqlOps{ex: ex, s: s}
}

// Exists reports whether a decision for id is already stored.
func (s *SQLStore) Exists(ctx context.Context, id string) (bool, error) {
	return s.ops(s.db).Exists(ctx, id)
}

// CountEligible counts eligible decisions for concept on date.
func (s *SQLStore) CountEligible(ctx context.Context, concept, date string) (int, error) {
	return s.ops(s.db).CountEligible(ctx, concept, date)
}

// CountEligibleForContact counts eligible decisions for contactID on date.
func (s *SQLStore) CountEligibleForContact(ctx context.Context, contactID, date string) (int, error) {
	return s.ops(s.db).CountEligibleForContact(ctx, contactID, date)
}

// InsertRecord stores rec. A second decision for the same id fails with ErrDuplicate.
func (s *SQLStore) InsertRecord(ctx context.Context, rec model.EligibilityRecord) error {
	return s.ops(s.db).InsertRecord(ctx, rec)
}

// IncrementCounter bumps the daily counter of concept, creating it on first use.
func (s *SQLStore) IncrementCounter(ctx context.Context, concept, date string, limit int) error {
	return s.ops(s.db).IncrementCounter(ctx, concept, date, limit)
}

// Tx runs fn inside a database transaction.
func (s *SQLStore) Tx(ctx context.Context, fn func(Ops) error) (err error) {
	start := time.Now()
	defer func() { observe("tx", start, err) }()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err = fn(s.ops(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn(ctx, "rollback failed", logger.Error(rbErr))
		}
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// DailyCounters lists the counters of date.
func (s *SQLStore) DailyCounters(ctx context.Context, date string) (out []model.ConceptCounter, err error) {
	start := time.Now()
	defer func() { observe("daily_counters", start, err) }()

	var rows []struct {
		Concept      string `db:"concepto"`
		CurrentCount int    `db:"cantidad_actual"`
		Limit        int    `db:"limite"`
	}
	if err = sqlx.SelectContext(ctx, s.db, &rows, s.dailyQ, date); err != nil {
		return nil, fmt.Errorf("daily counters: %w", err)
	}
	out = make([]model.ConceptCounter, 0, len(rows))
	for _, r := range rows {
		out = append(out, model.ConceptCounter{
			Concept:      r.Concept,
			LogDate:      date,
			CurrentCount: r.CurrentCount,
			Limit:        r.Limit,
		})
	}
	return out, nil
}

// Ping checks the database connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

type sqlOps struct {
	ex executor
	s  *SQLStore
}

func (o *sqlOps) count(ctx context.Context, op, query string, args ...any) (n int, err error) {
	start := time.Now()
	defer func() { observe(op, start, err) }()

	if err = sqlx.GetContext(ctx, o.ex, &n, query, args...); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (o *sqlOps) Exists(ctx context.Context, id string) (bool, error) {
	n, err := o.count(ctx, "exists", o.s.existsQ, id)
	return n > 0, err
}

func (o *sqlOps) CountEligible(ctx context.Context, concept, date string) (int, error) {
	return o.count(ctx, "count_eligible", o.s.countQ, concept, date, true)
}

func (o *sqlOps) CountEligibleForContact(ctx context.Context, contactID, date string) (int, error) {
	return o.count(ctx, "count_eligible_contact", o.s.countContactQ, contactID, date, true)
}

func (o *sqlOps) InsertRecord(ctx context.Context, rec model.EligibilityRecord) (err error) {
	start := time.Now()
	defer func() { observe("insert_record", start, err) }()

	contact := sql.NullString{String: rec.ContactID, Valid: rec.ContactID != ""}
	_, err = o.ex.ExecContext(ctx, o.s.insertQ,
		rec.ID, contact, rec.Concept, rec.Eligible, rec.CreatedAt.UTC(), rec.ControlDate)
	if err != nil {
		if o.s.dialect.isDuplicate(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
		}
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

func (o *sqlOps) IncrementCounter(ctx context.Context, concept, date string, limit int) (err error) {
	start := time.Now()
	defer func() { observe("increment_counter", start, err) }()

	if _, err = o.ex.ExecContext(ctx, o.s.incrementQ, concept, date, limit); err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	return nil
}

func observe(op string, start time.Time, err error) {
	metrics.RecordStoreOperation(op, float64(time.Since(start).Milliseconds()), err)
}
