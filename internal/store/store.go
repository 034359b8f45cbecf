// Package store persists submission records keyed by case id.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/intake-cli/internal/model"
)

// ErrNotFound is returned when no record exists for a case.
var ErrNotFound = eris.New("store: record not found")

// Revision is the state written by a rerun.
type Revision struct {
	CaseID     string
	Submission model.Tree
	Insights   model.AgentResults
}

// Store defines submission record persistence.
type Store interface {
	// GetRecord returns the record for caseID, or ErrNotFound.
	GetRecord(ctx context.Context, caseID string) (*model.SubmissionRecord, error)
	// CreateRecord inserts rec unless a record for its case exists, and
	// reports whether it was inserted.
	CreateRecord(ctx context.Context, rec *model.SubmissionRecord) (bool, error)
	// UpsertRecord inserts rec or replaces the stored record's mutable fields.
	UpsertRecord(ctx context.Context, rec *model.SubmissionRecord) error
	// AppendRevision updates the record in place, increments its history
	// sequence, tags it Updated, and returns the new sequence number.
	AppendRevision(ctx context.Context, rev Revision) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and configures a Store implementation.
type Config struct {
	Driver     string `mapstructure:"driver"`
	DSN        string `mapstructure:"dsn"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
	MaxConns   int32  `mapstructure:"max_conns"`
	MinConns   int32  `mapstructure:"min_conns"`
}

// Open connects to the store named by cfg.Driver: postgres, sqlite or mongo.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DSN, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "sqlite", "":
		return NewSQLite(cfg.DSN)
	case "mongo":
		return NewMongo(ctx, cfg.DSN, cfg.Database, cfg.Collection)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// prepare fills the generated fields of a record about to be inserted.
func prepare(rec *model.SubmissionRecord) {
	now := time.Now().UTC()
	if rec.ArtifactID == "" {
		rec.ArtifactID = uuid.NewString()
	}
	if rec.TransactionType == "" {
		rec.TransactionType = model.TransactionInitial
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
}

type encoded struct {
	submission []byte
	insights   []byte
	details    []byte
}

func encode(sub model.Tree, insights model.AgentResults, details map[string]any) (encoded, error) {
	var (
		e   encoded
		err error
	)
	if sub == nil {
		sub = model.Tree{}
	}
	if e.submission, err = json.Marshal(sub); err != nil {
		return e, eris.Wrap(err, "store: marshal submission")
	}
	if insights != nil {
		if e.insights, err = json.Marshal(insights); err != nil {
			return e, eris.Wrap(err, "store: marshal insights")
		}
	}
	if details != nil {
		if e.details, err = json.Marshal(details); err != nil {
			return e, eris.Wrap(err, "store: marshal status details")
		}
	}
	return e, nil
}

func decode(rec *model.SubmissionRecord, e encoded) error {
	if len(e.submission) > 0 {
		if err := json.Unmarshal(e.submission, &rec.Submission); err != nil {
			return eris.Wrap(err, "store: unmarshal submission")
		}
	}
	if len(e.insights) > 0 && string(e.insights) != "null" {
		if err := json.Unmarshal(e.insights, &rec.Insights); err != nil {
			return eris.Wrap(err, "store: unmarshal insights")
		}
	}
	if len(e.details) > 0 && string(e.details) != "null" {
		if err := json.Unmarshal(e.details, &rec.StatusDetails); err != nil {
			return eris.Wrap(err, "store: unmarshal status details")
		}
	}
	return nil
}
