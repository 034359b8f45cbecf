package store

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sells-group/intake-cli/internal/model"
)

const (
	defaultMongoDatabase   = "intake"
	defaultMongoCollection = "submission_records"
)

// MongoStore implements Store on a MongoDB collection, one document per case.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// recordDoc is the stored document. Tree-valued fields are kept as native
// subdocuments and converted through relaxed extended JSON.
type recordDoc struct {
	ArtifactID      string    `bson:"artifact_id"`
	CaseID          string    `bson:"case_id"`
	TxID            string    `bson:"tx_id"`
	Submission      bson.Raw  `bson:"submission_data,omitempty"`
	Insights        bson.Raw  `bson:"agent_response,omitempty"`
	StatusDetails   bson.Raw  `bson:"submit_status_details,omitempty"`
	HistorySeq      int       `bson:"history_sequence_id"`
	TransactionType string    `bson:"transaction_type"`
	CreatedAt       time.Time `bson:"created_at"`
	UpdatedAt       time.Time `bson:"updated_at"`
}

// NewMongo connects to uri and returns a store over database.collection.
func NewMongo(ctx context.Context, uri, database, collection string) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, eris.Wrap(err, "mongo: connect")
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, eris.Wrap(err, "mongo: ping")
	}
	if database == "" {
		database = defaultMongoDatabase
	}
	if collection == "" {
		collection = defaultMongoCollection
	}
	return &MongoStore{client: client, coll: client.Database(database).Collection(collection)}, nil
}

// NewMongoWithCollection wraps an existing collection.
func NewMongoWithCollection(coll *mongo.Collection) *MongoStore {
	return &MongoStore{coll: coll}
}

// Collection returns another collection on the store's connection.
func (s *MongoStore) Collection(database, name string) *mongo.Collection {
	return s.coll.Database().Client().Database(database).Collection(name)
}

func (s *MongoStore) Migrate(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "case_id", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "tx_id", Value: 1}}},
	})
	return eris.Wrap(err, "mongo: migrate")
}

func (s *MongoStore) Close() error {
	if s.client == nil {
		return nil
	}
	return eris.Wrap(s.client.Disconnect(context.Background()), "mongo: disconnect")
}

func (s *MongoStore) GetRecord(ctx context.Context, caseID string) (*model.SubmissionRecord, error) {
	var doc recordDoc
	err := s.coll.FindOne(ctx, bson.M{"case_id": caseID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, eris.Wrapf(ErrNotFound, "mongo: get record %s", caseID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "mongo: get record %s", caseID)
	}
	return doc.record()
}

func (s *MongoStore) CreateRecord(ctx context.Context, rec *model.SubmissionRecord) (bool, error) {
	prepare(rec)
	doc, err := toDoc(rec)
	if err != nil {
		return false, err
	}

	res, err := s.coll.UpdateOne(ctx,
		bson.M{"case_id": rec.CaseID},
		bson.M{"$setOnInsert": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return false, eris.Wrapf(err, "mongo: create record %s", rec.CaseID)
	}
	return res.UpsertedCount == 1, nil
}

func (s *MongoStore) UpsertRecord(ctx context.Context, rec *model.SubmissionRecord) error {
	prepare(rec)
	doc, err := toDoc(rec)
	if err != nil {
		return err
	}

	set := bson.M{
		"tx_id":               doc.TxID,
		"submission_data":     doc.Submission,
		"history_sequence_id": doc.HistorySeq,
		"transaction_type":    doc.TransactionType,
		"updated_at":          doc.UpdatedAt,
	}
	if doc.Insights != nil {
		set["agent_response"] = doc.Insights
	}
	if doc.StatusDetails != nil {
		set["submit_status_details"] = doc.StatusDetails
	}

	_, err = s.coll.UpdateOne(ctx,
		bson.M{"case_id": rec.CaseID},
		bson.M{
			"$set":         set,
			"$setOnInsert": bson.M{"artifact_id": doc.ArtifactID, "created_at": doc.CreatedAt},
		},
		options.Update().SetUpsert(true),
	)
	return eris.Wrapf(err, "mongo: upsert record %s", rec.CaseID)
}

func (s *MongoStore) AppendRevision(ctx context.Context, rev Revision) (int, error) {
	e, err := encode(rev.Submission, rev.Insights, nil)
	if err != nil {
		return 0, err
	}
	sub, err := rawDoc(e.submission)
	if err != nil {
		return 0, err
	}
	set := bson.M{
		"submission_data":  sub,
		"transaction_type": string(model.TransactionUpdated),
		"updated_at":       time.Now().UTC(),
	}
	if e.insights != nil {
		insights, err := rawDoc(e.insights)
		if err != nil {
			return 0, err
		}
		set["agent_response"] = insights
	}

	var doc recordDoc
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"case_id": rev.CaseID},
		bson.M{"$set": set, "$inc": bson.M{"history_sequence_id": 1}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 0, eris.Wrapf(ErrNotFound, "mongo: append revision %s", rev.CaseID)
	}
	if err != nil {
		return 0, eris.Wrapf(err, "mongo: append revision %s", rev.CaseID)
	}
	return doc.HistorySeq, nil
}

func toDoc(rec *model.SubmissionRecord) (*recordDoc, error) {
	e, err := encode(rec.Submission, rec.Insights, rec.StatusDetails)
	if err != nil {
		return nil, err
	}
	doc := &recordDoc{
		ArtifactID:      rec.ArtifactID,
		CaseID:          rec.CaseID,
		TxID:            rec.TxID,
		HistorySeq:      rec.HistorySeq,
		TransactionType: string(rec.TransactionType),
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
	if doc.Submission, err = rawDoc(e.submission); err != nil {
		return nil, err
	}
	if doc.Insights, err = rawDoc(e.insights); err != nil {
		return nil, err
	}
	if doc.StatusDetails, err = rawDoc(e.details); err != nil {
		return nil, err
	}
	return doc, nil
}

func (d *recordDoc) record() (*model.SubmissionRecord, error) {
	rec := &model.SubmissionRecord{
		ArtifactID:      d.ArtifactID,
		CaseID:          d.CaseID,
		TxID:            d.TxID,
		HistorySeq:      d.HistorySeq,
		TransactionType: model.TransactionType(d.TransactionType),
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
	var (
		e   encoded
		err error
	)
	if e.submission, err = jsonDoc(d.Submission); err != nil {
		return nil, err
	}
	if e.insights, err = jsonDoc(d.Insights); err != nil {
		return nil, err
	}
	if e.details, err = jsonDoc(d.StatusDetails); err != nil {
		return nil, err
	}
	if err := decode(rec, e); err != nil {
		return nil, err
	}
	return rec, nil
}

func rawDoc(data []byte) (bson.Raw, error) {
	if data == nil {
		return nil, nil
	}
	var raw bson.Raw
	if err := bson.UnmarshalExtJSON(data, false, &raw); err != nil {
		return nil, eris.Wrap(err, "mongo: convert document")
	}
	return raw, nil
}

func jsonDoc(raw bson.Raw) ([]byte, error) {
	if raw == nil {
		return nil, nil
	}
	data, err := bson.MarshalExtJSON(raw, false, false)
	return data, eris.Wrap(err, "mongo: convert document")
}
