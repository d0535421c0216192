package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"pollwatch/internal/monitor"
	logx "pollwatch/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) AppendDelivery(ctx context.Context, e DeliveryEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	records, err := json.Marshal(e.Records)
	if err != nil {
		return err
	}
	ok := 0
	if e.OK {
		ok = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deliveries(at, source, records, sink, sink_kind, ok, attempts, err, took_ms)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.At.UTC().Format(time.RFC3339Nano), e.Source, string(records), e.Sink, e.SinkKind,
		ok, e.Attempts, nullStr(e.Error), e.TookMS,
	)
	return err
}

func (s *sqliteStore) PutState(ctx context.Context, sourceKey, recordKey string, e monitor.StateEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	var metric any
	if e.LastMetric != nil {
		metric = *e.LastMetric
	}
	notified := 0
	if e.Notified {
		notified = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO record_state(source, record, last_body, last_metric, notified, first_seen_at)
		 VALUES(?,?,?,?,?,?)
		 ON CONFLICT(source, record) DO UPDATE SET
		   last_body=excluded.last_body,
		   last_metric=excluded.last_metric,
		   notified=excluded.notified`,
		sourceKey, recordKey, e.LastBody, metric, notified, e.FirstSeenAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) LoadStates(ctx context.Context, fn func(sourceKey, recordKey string, e monitor.StateEntry)) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT source, record, last_body, last_metric, notified, first_seen_at FROM record_state`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			src, rec, body string
			metric         sql.NullInt64
			notified       int
			firstSeen      int64
		)
		if err := rows.Scan(&src, &rec, &body, &metric, &notified, &firstSeen); err != nil {
			return err
		}
		e := monitor.StateEntry{
			LastBody:    body,
			Notified:    notified != 0,
			FirstSeenAt: time.UnixMilli(firstSeen),
		}
		if metric.Valid {
			e.LastMetric = monitor.Int64(metric.Int64)
		}
		fn(src, rec, e)
	}
	return rows.Err()
}

func (s *sqliteStore) LoadSession(ctx context.Context, sourceKey string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, ErrDisabled
	}
	var token []byte
	err := s.db.QueryRowContext(ctx, `SELECT token FROM sessions WHERE source = ?`, sourceKey).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return token, len(token) > 0, nil
}

// SaveSession replaces the token inside a transaction (write-or-discard).
func (s *sqliteStore) SaveSession(ctx context.Context, sourceKey string, token []byte) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO sessions(source, token, saved_at) VALUES(?,?,?)
		 ON CONFLICT(source) DO UPDATE SET token=excluded.token, saved_at=excluded.saved_at`,
		sourceKey, token, time.Now().UnixMilli(),
	)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) DeleteSession(ctx context.Context, sourceKey string) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE source = ?`, sourceKey)
	return err
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
