package mongostore

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"
	mongodriver "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"goa.design/workflowcore/internal/types"
)

type fakeColl struct {
	docs map[string]bson.M
}

func newFakeColl() *fakeColl { return &fakeColl{docs: map[string]bson.M{}} }

func (c *fakeColl) FindOne(ctx context.Context, filter any, opts ...options.Lister[options.FindOneOptions]) singleResult {
	id, _ := filter.(bson.M)["_id"].(string)
	doc, ok := c.docs[id]
	if !ok {
		return fakeSingleResult{err: mongodriver.ErrNoDocuments}
	}
	return fakeSingleResult{doc: doc}
}

func (c *fakeColl) Find(ctx context.Context, filter any, opts ...options.Lister[options.FindOptions]) (cursor, error) {
	wfID, filtered := filter.(bson.M)["workflow_id"]
	var docs []bson.M
	for _, d := range c.docs {
		if filtered {
			if d["workflow_id"] != wfID {
				continue
			}
		}
		docs = append(docs, d)
	}
	// mongostore.go only ever sorts checkpoint reads by timestamp ascending;
	// the fake applies that directly rather than threading through opts.
	sort.Slice(docs, func(i, j int) bool {
		ti, _ := docs[i]["timestamp"].(time.Time)
		tj, _ := docs[j]["timestamp"].(time.Time)
		return ti.Before(tj)
	})
	return &fakeCursor{docs: docs}, nil
}

func (c *fakeColl) UpdateOne(ctx context.Context, filter, update any, opts ...options.Lister[options.UpdateOneOptions]) (*mongodriver.UpdateResult, error) {
	id, _ := filter.(bson.M)["_id"].(string)
	set := update.(bson.M)["$set"].(bson.M)
	c.docs[id] = set
	return &mongodriver.UpdateResult{}, nil
}

func (c *fakeColl) DeleteMany(ctx context.Context, filter any, opts ...options.Lister[options.DeleteManyOptions]) (*mongodriver.DeleteResult, error) {
	ids, _ := filter.(bson.M)["_id"].(bson.M)["$in"].([]string)
	for _, id := range ids {
		delete(c.docs, id)
	}
	return &mongodriver.DeleteResult{}, nil
}

func (c *fakeColl) Indexes() indexView { return fakeIndexView{} }

type fakeIndexView struct{}

func (fakeIndexView) CreateOne(ctx context.Context, model mongodriver.IndexModel, opts ...options.Lister[options.CreateIndexesOptions]) (string, error) {
	return "", nil
}

type fakeSingleResult struct {
	doc bson.M
	err error
}

func (r fakeSingleResult) Decode(val any) error {
	if r.err != nil {
		return r.err
	}
	b, err := bson.Marshal(r.doc)
	if err != nil {
		return err
	}
	return bson.Unmarshal(b, val)
}

type fakeCursor struct {
	docs []bson.M
	i    int
}

func (c *fakeCursor) Next(ctx context.Context) bool {
	if c.i >= len(c.docs) {
		return false
	}
	c.i++
	return true
}

func (c *fakeCursor) Decode(val any) error {
	b, err := bson.Marshal(c.docs[c.i-1])
	if err != nil {
		return err
	}
	return bson.Unmarshal(b, val)
}

func (c *fakeCursor) Err() error { return nil }

func newTestStore() *Store {
	return newStoreWithCollections(newFakeColl(), newFakeColl(), time.Second)
}

func TestSaveAndLoadWorkflowRoundTrips(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	wf := types.Workflow{ID: "wf1", Name: "demo", Status: types.StatusPending}

	require.NoError(t, s.SaveWorkflow(context.Background(), wf))
	got, err := s.LoadWorkflow(context.Background(), "wf1")
	require.NoError(t, err)
	assert.Equal(t, "demo", got.Name)
	assert.Equal(t, types.StatusPending, got.Status)
}

func TestLoadWorkflowMissingErrors(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	_, err := s.LoadWorkflow(context.Background(), "missing")
	assert.Error(t, err)
}

func TestListWorkflowIDsReturnsEverySaved(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	require.NoError(t, s.SaveWorkflow(context.Background(), types.Workflow{ID: "a"}))
	require.NoError(t, s.SaveWorkflow(context.Background(), types.Workflow{ID: "b"}))

	ids, err := s.ListWorkflowIDs(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)
}

func TestCheckpointEvictionKeepsNewest(t *testing.T) {
	t.Parallel()
	s := newTestStore()
	base := time.Now()
	for i := 0; i < 3; i++ {
		ck := types.Checkpoint{ID: string(rune('a' + i)), Timestamp: base.Add(time.Duration(i) * time.Second)}
		require.NoError(t, s.SaveCheckpoint(context.Background(), "wf1", ck))
	}
	require.NoError(t, s.EvictCheckpoints(context.Background(), "wf1", 1))

	remaining, err := s.LoadCheckpoints(context.Background(), "wf1")
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "c", remaining[0].ID)
}
