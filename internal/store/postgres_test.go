package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return &PostgresStore{pool: mock}, mock
}

func recordRow(mock pgxmock.PgxPoolIface, insights []byte) *pgxmock.Rows {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return mock.NewRows([]string{
		"artifact_id", "case_id", "tx_id", "submission_data", "agent_response",
		"submit_status_details", "history_sequence_id", "transaction_type", "created_at", "updated_at",
	}).AddRow(
		"art-1", "CS-1", "tx-1",
		[]byte(`{"Common":{"Legal_Entity_Type":{"value":"LLC","score":"90"}}}`),
		insights, []byte(nil), 2, "Updated", now, now,
	)
}

func TestPostgresStore_GetRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT artifact_id, case_id, .* FROM submission_records WHERE case_id = \$1`).
		WithArgs("CS-1").
		WillReturnRows(recordRow(mock, []byte(`{"PropEval":{"result":"ok"}}`)))

	rec, err := s.GetRecord(context.Background(), "CS-1")
	require.NoError(t, err)
	assert.Equal(t, "art-1", rec.ArtifactID)
	assert.Equal(t, 2, rec.HistorySeq)
	assert.Equal(t, model.TransactionUpdated, rec.TransactionType)
	assert.Equal(t, "ok", rec.Insights["PropEval"]["result"])
	assert.Nil(t, rec.StatusDetails)

	field := rec.Submission["Common"].(model.Tree)["Legal_Entity_Type"].(*model.ScoredField)
	assert.Equal(t, "LLC", field.Value)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`FROM submission_records WHERE case_id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRecord(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateRecord(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{"inserted", 1, true},
		{"already present", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, mock := newMockPostgresStore(t)

			mock.ExpectExec(`INSERT INTO submission_records .* ON CONFLICT \(case_id\) DO NOTHING`).
				WithArgs(pgxmock.AnyArg(), "CS-1", "tx-1", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
					0, "Initial", pgxmock.AnyArg(), pgxmock.AnyArg()).
				WillReturnResult(pgxmock.NewResult("INSERT", tt.affected))

			created, err := s.CreateRecord(context.Background(), &model.SubmissionRecord{CaseID: "CS-1", TxID: "tx-1"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, created)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestPostgresStore_UpsertRecord(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT \(case_id\) DO UPDATE SET`).
		WithArgs(pgxmock.AnyArg(), "CS-1", "tx-1", []byte(`{}`), []byte(`{"A":{"error":"timeout"}}`), pgxmock.AnyArg(),
			1, "Initial", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := s.UpsertRecord(context.Background(), &model.SubmissionRecord{
		CaseID:     "CS-1",
		TxID:       "tx-1",
		HistorySeq: 1,
		Insights:   model.AgentResults{"A": model.ErrorReply("timeout")},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRecord_Error(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`ON CONFLICT`).WillReturnError(errors.New("connection refused"))

	err := s.UpsertRecord(context.Background(), &model.SubmissionRecord{CaseID: "CS-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert record CS-1")
}

func TestPostgresStore_AppendRevision(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE submission_records .*history_sequence_id = history_sequence_id \+ 1.* RETURNING history_sequence_id`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), "Updated", pgxmock.AnyArg(), "CS-1").
		WillReturnRows(mock.NewRows([]string{"history_sequence_id"}).AddRow(4))

	seq, err := s.AppendRevision(context.Background(), Revision{CaseID: "CS-1", Submission: model.Tree{}})
	require.NoError(t, err)
	assert.Equal(t, 4, seq)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AppendRevision_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`UPDATE submission_records`).
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(pgx.ErrNoRows)

	_, err := s.AppendRevision(context.Background(), Revision{CaseID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS submission_records`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}
