package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/intake-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		dsn = "intake.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS submission_records (
	artifact_id           TEXT PRIMARY KEY,
	case_id               TEXT NOT NULL UNIQUE,
	tx_id                 TEXT NOT NULL DEFAULT '',
	submission_data       TEXT NOT NULL DEFAULT '{}',
	agent_response        TEXT,
	submit_status_details TEXT,
	history_sequence_id   INTEGER NOT NULL DEFAULT 0,
	transaction_type      TEXT NOT NULL DEFAULT 'Initial',
	created_at            DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at            DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_submission_records_tx_id ON submission_records(tx_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetRecord(ctx context.Context, caseID string) (*model.SubmissionRecord, error) {
	var (
		rec               model.SubmissionRecord
		sub               string
		insights, details sql.NullString
		txType            string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM submission_records WHERE case_id = ?`, caseID,
	).Scan(&rec.ArtifactID, &rec.CaseID, &rec.TxID, &sub, &insights, &details,
		&rec.HistorySeq, &txType, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get record %s", caseID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", caseID)
	}
	rec.TransactionType = model.TransactionType(txType)

	e := encoded{submission: []byte(sub)}
	if insights.Valid {
		e.insights = []byte(insights.String)
	}
	if details.Valid {
		e.details = []byte(details.String)
	}
	if err := decode(&rec, e); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteStore) CreateRecord(ctx context.Context, rec *model.SubmissionRecord) (bool, error) {
	prepare(rec)
	e, err := encode(rec.Submission, rec.Insights, rec.StatusDetails)
	if err != nil {
		return false, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO submission_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id) DO NOTHING`,
		rec.ArtifactID, rec.CaseID, rec.TxID, string(e.submission), nullText(e.insights), nullText(e.details),
		rec.HistorySeq, string(rec.TransactionType), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: create record %s", rec.CaseID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *model.SubmissionRecord) error {
	prepare(rec)
	e, err := encode(rec.Submission, rec.Insights, rec.StatusDetails)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO submission_records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (case_id) DO UPDATE SET
			tx_id = excluded.tx_id,
			submission_data = excluded.submission_data,
			agent_response = excluded.agent_response,
			submit_status_details = excluded.submit_status_details,
			history_sequence_id = excluded.history_sequence_id,
			transaction_type = excluded.transaction_type,
			updated_at = excluded.updated_at`,
		rec.ArtifactID, rec.CaseID, rec.TxID, string(e.submission), nullText(e.insights), nullText(e.details),
		rec.HistorySeq, string(rec.TransactionType), rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert record %s", rec.CaseID)
}

func (s *SQLiteStore) AppendRevision(ctx context.Context, rev Revision) (int, error) {
	e, err := encode(rev.Submission, rev.Insights, nil)
	if err != nil {
		return 0, err
	}

	var seq int
	err = s.db.QueryRowContext(ctx,
		`UPDATE submission_records
		SET submission_data = ?, agent_response = ?,
			history_sequence_id = history_sequence_id + 1,
			transaction_type = ?, updated_at = ?
		WHERE case_id = ?
		RETURNING history_sequence_id`,
		string(e.submission), nullText(e.insights), string(model.TransactionUpdated), time.Now().UTC(), rev.CaseID,
	).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, eris.Wrapf(ErrNotFound, "sqlite: append revision %s", rev.CaseID)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: append revision %s", rev.CaseID)
	}
	return seq, nil
}

func nullText(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
