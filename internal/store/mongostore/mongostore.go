// Package mongostore implements the store.Store contract on top of
// go.mongodb.org/mongo-driver/v2, grounded on the teacher's
// features/run/mongo and features/runlog/mongo clients: workflows and
// checkpoints are stored as documents keyed by their natural id, written
// with an upsert so SaveWorkflow/SaveCheckpoint are idempotent, behind a
// narrow collection interface that keeps the driver's own types out of the
// store's exported surface and lets tests substitute a fake collection.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/workflowcore/internal/types"
)

const (
	defaultWorkflowsCollection   = "workflows"
	defaultCheckpointsCollection = "checkpoints"
	defaultOpTimeout             = 5 * time.Second
)

// Options configures the Mongo-backed store.
type Options struct {
	Client               *mongodriver.Client
	Database             string
	WorkflowsCollection   string
	CheckpointsCollection string
	Timeout               time.Duration
}

// Store persists workflows and checkpoints in MongoDB collections.
type Store struct {
	workflows   collection
	checkpoints collection
	timeout     time.Duration
}

// New returns a Store backed by MongoDB, ensuring the indexes the query
// patterns below depend on (unique workflow id, workflow-id+timestamp
// compound index for ordered eviction) exist before first use.
func New(opts Options) (*Store, error) {
	if opts.Client == nil {
		return nil, errors.New("mongo client is required")
	}
	if opts.Database == "" {
		return nil, errors.New("database name is required")
	}
	workflowsColl := opts.WorkflowsCollection
	if workflowsColl == "" {
		workflowsColl = defaultWorkflowsCollection
	}
	checkpointsColl := opts.CheckpointsCollection
	if checkpointsColl == "" {
		checkpointsColl = defaultCheckpointsCollection
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}

	db := opts.Client.Database(opts.Database)
	wf := mongoCollection{coll: db.Collection(workflowsColl)}
	ck := mongoCollection{coll: db.Collection(checkpointsColl)}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := ensureIndexes(ctx, wf, ck); err != nil {
		return nil, err
	}
	return newStoreWithCollections(wf, ck, timeout), nil
}

func newStoreWithCollections(workflows, checkpoints collection, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultOpTimeout
	}
	return &Store{workflows: workflows, checkpoints: checkpoints, timeout: timeout}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

type workflowDocument struct {
	ID   string         `bson:"_id"`
	Data map[string]any `bson:"data"`
}

// SaveWorkflow upserts wf by id.
func (s *Store) SaveWorkflow(ctx context.Context, wf types.Workflow) error {
	if wf.ID == "" {
		return errors.New("workflow id is required")
	}
	doc, err := toDocument(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow %s: %w", wf.ID, err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": wf.ID}
	update := bson.M{"$set": bson.M{"_id": wf.ID, "data": doc}}
	_, err = s.workflows.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// LoadWorkflow reads a workflow by id.
func (s *Store) LoadWorkflow(ctx context.Context, workflowID string) (types.Workflow, error) {
	if workflowID == "" {
		return types.Workflow{}, errors.New("workflow id is required")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var raw workflowDocument
	if err := s.workflows.FindOne(ctx, bson.M{"_id": workflowID}).Decode(&raw); err != nil {
		if errors.Is(err, mongodriver.ErrNoDocuments) {
			return types.Workflow{}, fmt.Errorf("workflow %s not found", workflowID)
		}
		return types.Workflow{}, err
	}
	var wf types.Workflow
	if err := fromDocument(raw.Data, &wf); err != nil {
		return types.Workflow{}, fmt.Errorf("unmarshal workflow %s: %w", workflowID, err)
	}
	return wf, nil
}

// ListWorkflowIDs enumerates every workflow id ever saved.
func (s *Store) ListWorkflowIDs(ctx context.Context) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.workflows.Find(ctx, bson.M{}, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	var ids []string
	for cur.Next(ctx) {
		var doc struct {
			ID string `bson:"_id"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, doc.ID)
	}
	return ids, cur.Err()
}

type checkpointDocument struct {
	ID         string         `bson:"_id"`
	WorkflowID string         `bson:"workflow_id"`
	Timestamp  time.Time      `bson:"timestamp"`
	Data       map[string]any `bson:"data"`
}

// SaveCheckpoint upserts ck under workflowID.
func (s *Store) SaveCheckpoint(ctx context.Context, workflowID string, ck types.Checkpoint) error {
	if workflowID == "" || ck.ID == "" {
		return errors.New("workflow id and checkpoint id are required")
	}
	doc, err := toDocument(ck)
	if err != nil {
		return fmt.Errorf("marshal checkpoint %s: %w", ck.ID, err)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	filter := bson.M{"_id": compoundID(workflowID, ck.ID)}
	update := bson.M{"$set": bson.M{
		"_id":         compoundID(workflowID, ck.ID),
		"workflow_id": workflowID,
		"timestamp":   ck.Timestamp.UTC(),
		"data":        doc,
	}}
	_, err = s.checkpoints.UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	return err
}

// LoadCheckpoints returns every checkpoint for workflowID, oldest first.
func (s *Store) LoadCheckpoints(ctx context.Context, workflowID string) ([]types.Checkpoint, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	cur, err := s.checkpoints.Find(ctx, bson.M{"workflow_id": workflowID}, options.Find().SetSort(bson.M{"timestamp": 1}))
	if err != nil {
		return nil, err
	}
	var out []types.Checkpoint
	for cur.Next(ctx) {
		var raw checkpointDocument
		if err := cur.Decode(&raw); err != nil {
			return nil, err
		}
		var ck types.Checkpoint
		if err := fromDocument(raw.Data, &ck); err != nil {
			continue // tolerant of partial/corrupt entries, matching redisstore's skip behavior
		}
		out = append(out, ck)
	}
	return out, cur.Err()
}

// EvictCheckpoints deletes the oldest checkpoints for workflowID beyond
// maxSnapshots.
func (s *Store) EvictCheckpoints(ctx context.Context, workflowID string, maxSnapshots int) error {
	all, err := s.LoadCheckpoints(ctx, workflowID)
	if err != nil {
		return err
	}
	overflow := len(all) - maxSnapshots
	if overflow <= 0 {
		return nil
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ids := make([]string, 0, overflow)
	for _, ck := range all[:overflow] {
		ids = append(ids, compoundID(workflowID, ck.ID))
	}
	_, err = s.checkpoints.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	return err
}

func compoundID(workflowID, checkpointID string) string {
	return workflowID + ":" + checkpointID
}

func toDocument(v any) (map[string]any, error) {
	b, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := bson.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func fromDocument(m map[string]any, out any) error {
	b, err := bson.Marshal(m)
	if err != nil {
		return err
	}
	return bson.Unmarshal(b, out)
}

func ensureIndexes(ctx context.Context, workflows, checkpoints collection) error {
	if _, err := workflows.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys:    bson.D{{Key: "_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return err
	}
	_, err := checkpoints.Indexes().CreateOne(ctx, mongodriver.IndexModel{
		Keys: bson.D{{Key: "workflow_id", Value: 1}, {Key: "timestamp", Value: 1}},
	})
	return err
}

// collection narrows *mongodriver.Collection to what Store needs, so tests
// can substitute a fake without a live Mongo deployment.
type collection interface {
	FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult
	Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error)
	UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error)
	DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongodriver.DeleteResult, error)
	Indexes() indexView
}

type indexView interface {
	CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error)
}

type singleResult interface {
	Decode(val any) error
}

type cursor interface {
	Next(ctx context.Context) bool
	Decode(val any) error
	Err() error
}

type mongoCollection struct {
	coll *mongodriver.Collection
}

func (c mongoCollection) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	return c.coll.FindOne(ctx, filter, opts...)
}

func (c mongoCollection) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	return c.coll.Find(ctx, filter, opts...)
}

func (c mongoCollection) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	return c.coll.UpdateOne(ctx, filter, update, opts...)
}

func (c mongoCollection) DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongodriver.DeleteResult, error) {
	return c.coll.DeleteMany(ctx, filter, opts...)
}

func (c mongoCollection) Indexes() indexView {
	return c.coll.Indexes()
}
