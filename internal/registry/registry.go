// Package registry looks up agent registry documents by agent id and
// attaches them to a routing table.
package registry

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/intake-cli/internal/dispatch"
)

// DefaultCollection holds one registry document per agent.
const DefaultCollection = "ven_agents"

// Source finds registry documents. The result is keyed by AgentID; ids
// without a document are absent.
type Source interface {
	Lookup(ctx context.Context, ids []string) (map[string]map[string]any, error)
}

// MongoSource reads documents from a collection keyed by "AgentID".
type MongoSource struct {
	coll *mongo.Collection
}

// NewMongoSource creates a source over coll.
func NewMongoSource(coll *mongo.Collection) *MongoSource {
	return &MongoSource{coll: coll}
}

func (s *MongoSource) Lookup(ctx context.Context, ids []string) (map[string]map[string]any, error) {
	cur, err := s.coll.Find(ctx, bson.M{"AgentID": bson.M{"$in": ids}})
	if err != nil {
		return nil, eris.Wrap(err, "registry: find agents")
	}
	defer cur.Close(ctx) //nolint:errcheck

	docs := make(map[string]map[string]any)
	for cur.Next(ctx) {
		data, err := bson.MarshalExtJSON(cur.Current, false, false)
		if err != nil {
			return nil, eris.Wrap(err, "registry: convert agent document")
		}
		var doc map[string]any
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, eris.Wrap(err, "registry: decode agent document")
		}
		if id, _ := doc["AgentID"].(string); id != "" {
			docs[id] = doc
		}
	}
	return docs, eris.Wrap(cur.Err(), "registry: iterate agents")
}

// FileSource reads documents from a YAML file with a top-level "agents"
// list.
type FileSource struct {
	Path string
}

func (s FileSource) Lookup(_ context.Context, ids []string) (map[string]map[string]any, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, eris.Wrapf(err, "registry: read %s", s.Path)
	}
	var file struct {
		Agents []map[string]any `yaml:"agents"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrapf(err, "registry: parse %s", s.Path)
	}

	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	docs := make(map[string]map[string]any)
	for _, doc := range file.Agents {
		if id, _ := doc["AgentID"].(string); want[id] {
			docs[id] = doc
		}
	}
	return docs, nil
}

// Apply looks up the registry document of every route with an agent id and
// returns a table carrying them. Routes whose document is missing keep
// their own and are logged.
func Apply(ctx context.Context, table *dispatch.RoutingTable, src Source) (*dispatch.RoutingTable, error) {
	ids := table.IDs()
	if src == nil || len(ids) == 0 {
		return table, nil
	}
	docs, err := src.Lookup(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := docs[id]; !ok {
			zap.L().Warn("registry: no document for agent", zap.String("agent_id", id))
		}
	}
	zap.L().Info("registry: agent documents loaded", zap.Int("found", len(docs)), zap.Int("agents", table.Len()))
	return table.WithRegistry(docs), nil
}
