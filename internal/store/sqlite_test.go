package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/intake-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func sampleRecord() *model.SubmissionRecord {
	return &model.SubmissionRecord{
		CaseID: "CS-100",
		TxID:   "tx-1",
		Submission: model.Tree{
			"Common": model.Tree{
				"Firmographics": model.Tree{"SicDesc": model.NewScoredField("Bakery", "80")},
			},
		},
		StatusDetails: map[string]any{"tx_status": "DONE"},
	}
}

func TestSQLite_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := sampleRecord()
	created, err := st.CreateRecord(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, rec.ArtifactID)
	assert.Equal(t, model.TransactionInitial, rec.TransactionType)

	got, err := st.GetRecord(ctx, "CS-100")
	require.NoError(t, err)
	assert.Equal(t, rec.ArtifactID, got.ArtifactID)
	assert.Equal(t, "tx-1", got.TxID)
	assert.Equal(t, 0, got.HistorySeq)
	assert.Nil(t, got.Insights)
	assert.Equal(t, "DONE", got.StatusDetails["tx_status"])

	field, ok := got.Submission["Common"].(model.Tree)["Firmographics"].(model.Tree)["SicDesc"].(*model.ScoredField)
	require.True(t, ok, "scored fields survive a round trip")
	assert.Equal(t, "Bakery", field.Value)
	assert.Equal(t, "80", field.Score)
}

func TestSQLite_CreateRecord_InsertIfAbsent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.CreateRecord(ctx, sampleRecord())
	require.NoError(t, err)

	second := sampleRecord()
	second.TxID = "tx-2"
	created, err := st.CreateRecord(ctx, second)
	require.NoError(t, err)
	assert.False(t, created)

	got, err := st.GetRecord(ctx, "CS-100")
	require.NoError(t, err)
	assert.Equal(t, "tx-1", got.TxID)
}

func TestSQLite_UpsertRecord(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := sampleRecord()
	_, err := st.CreateRecord(ctx, rec)
	require.NoError(t, err)
	artifact := rec.ArtifactID

	update := sampleRecord()
	update.HistorySeq = 1
	update.Insights = model.AgentResults{"PropEval": {"result": "<p>ok</p>"}, "LossInsights": model.ErrorReply("timeout")}
	require.NoError(t, st.UpsertRecord(ctx, update))

	got, err := st.GetRecord(ctx, "CS-100")
	require.NoError(t, err)
	assert.Equal(t, artifact, got.ArtifactID, "artifact id is kept")
	assert.Equal(t, 1, got.HistorySeq)
	assert.Equal(t, []string{"LossInsights"}, got.Insights.Failed())

	fresh := sampleRecord()
	fresh.CaseID = "CS-200"
	require.NoError(t, st.UpsertRecord(ctx, fresh))
	_, err = st.GetRecord(ctx, "CS-200")
	require.NoError(t, err)
}

func TestSQLite_AppendRevision(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := sampleRecord()
	rec.HistorySeq = 1
	require.NoError(t, st.UpsertRecord(ctx, rec))

	sub := rec.Submission.Clone()
	sub["Common"].(model.Tree)["Firmographics"].(model.Tree)["SicDesc"].(*model.ScoredField).Edit("Cafe")

	seq, err := st.AppendRevision(ctx, Revision{CaseID: "CS-100", Submission: sub, Insights: model.AgentResults{"A": {"result": "x"}}})
	require.NoError(t, err)
	assert.Equal(t, 2, seq)

	seq, err = st.AppendRevision(ctx, Revision{CaseID: "CS-100", Submission: sub})
	require.NoError(t, err)
	assert.Equal(t, 3, seq)

	got, err := st.GetRecord(ctx, "CS-100")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionUpdated, got.TransactionType)
	assert.Equal(t, 3, got.HistorySeq)
	field := got.Submission["Common"].(model.Tree)["Firmographics"].(model.Tree)["SicDesc"].(*model.ScoredField)
	assert.Equal(t, "Cafe", field.Value)
	assert.Equal(t, model.HighConfidence, field.Score)
	assert.Equal(t, "DONE", got.StatusDetails["tx_status"], "status details untouched")
}

func TestSQLite_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.GetRecord(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.AppendRevision(ctx, Revision{CaseID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "cassandra"})
	assert.Error(t, err)
}

func TestOpen_SQLite(t *testing.T) {
	st, err := Open(context.Background(), Config{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "open.db")})
	require.NoError(t, err)
	assert.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, st.Close())
}
