package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/db"
	"github.com/sells-group/intake-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool db.Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `mapstructure:"max_conns"`
	MinConns int32 `mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	pgxCfg.MaxConns = 10
	pgxCfg.MinConns = 2
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			pgxCfg.MaxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			pgxCfg.MinConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS submission_records (
	artifact_id           TEXT PRIMARY KEY,
	case_id               TEXT NOT NULL UNIQUE,
	tx_id                 TEXT NOT NULL DEFAULT '',
	submission_data       JSONB NOT NULL DEFAULT '{}',
	agent_response        JSONB,
	submit_status_details JSONB,
	history_sequence_id   INTEGER NOT NULL DEFAULT 0,
	transaction_type      TEXT NOT NULL DEFAULT 'Initial',
	created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_submission_records_tx_id ON submission_records(tx_id);
`

const recordColumns = `artifact_id, case_id, tx_id, submission_data, agent_response, submit_status_details, history_sequence_id, transaction_type, created_at, updated_at`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetRecord(ctx context.Context, caseID string) (*model.SubmissionRecord, error) {
	var (
		rec    model.SubmissionRecord
		e      encoded
		txType string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM submission_records WHERE case_id = $1`, caseID,
	).Scan(&rec.ArtifactID, &rec.CaseID, &rec.TxID, &e.submission, &e.insights, &e.details,
		&rec.HistorySeq, &txType, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get record %s", caseID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", caseID)
	}
	rec.TransactionType = model.TransactionType(txType)
	if err := decode(&rec, e); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) CreateRecord(ctx context.Context, rec *model.SubmissionRecord) (bool, error) {
	prepare(rec)
	e, err := encode(rec.Submission, rec.Insights, rec.StatusDetails)
	if err != nil {
		return false, err
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO submission_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (case_id) DO NOTHING`,
		rec.ArtifactID, rec.CaseID, rec.TxID, e.submission, e.insights, e.details,
		rec.HistorySeq, string(rec.TransactionType), rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: create record %s", rec.CaseID)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec *model.SubmissionRecord) error {
	prepare(rec)
	e, err := encode(rec.Submission, rec.Insights, rec.StatusDetails)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO submission_records (`+recordColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (case_id) DO UPDATE SET
			tx_id = EXCLUDED.tx_id,
			submission_data = EXCLUDED.submission_data,
			agent_response = EXCLUDED.agent_response,
			submit_status_details = EXCLUDED.submit_status_details,
			history_sequence_id = EXCLUDED.history_sequence_id,
			transaction_type = EXCLUDED.transaction_type,
			updated_at = EXCLUDED.updated_at`,
		rec.ArtifactID, rec.CaseID, rec.TxID, e.submission, e.insights, e.details,
		rec.HistorySeq, string(rec.TransactionType), rec.CreatedAt, rec.UpdatedAt,
	)
	return eris.Wrapf(err, "postgres: upsert record %s", rec.CaseID)
}

func (s *PostgresStore) AppendRevision(ctx context.Context, rev Revision) (int, error) {
	e, err := encode(rev.Submission, rev.Insights, nil)
	if err != nil {
		return 0, err
	}

	var seq int
	err = s.pool.QueryRow(ctx,
		`UPDATE submission_records
		SET submission_data = $1, agent_response = $2,
			history_sequence_id = history_sequence_id + 1,
			transaction_type = $3, updated_at = $4
		WHERE case_id = $5
		RETURNING history_sequence_id`,
		e.submission, e.insights, string(model.TransactionUpdated), time.Now().UTC(), rev.CaseID,
	).Scan(&seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, eris.Wrapf(ErrNotFound, "postgres: append revision %s", rev.CaseID)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: append revision %s", rev.CaseID)
	}
	return seq, nil
}
