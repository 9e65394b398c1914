// Package mongostore is the reference task.Store implementation,
// backed by a MongoDB collection. It realizes the single atomic
// primitive the core depends on — findOneAndUpdate returning the pre-
// or post-image in one round trip — directly through the Mongo driver,
// which is the most direct match for a spec written against a
// "MongoDB-compatible store" (see DESIGN.md for why this supplants the
// teacher's relational repository layer).
package mongostore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nullcrew/taskforge/task"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Store is a task.Store backed by a single MongoDB collection.
type Store struct {
	coll *mongo.Collection
}

// New wraps an existing collection. Use EnsureIndexes once at startup
// to create the index the claim query and sweeper depend on.
func New(coll *mongo.Collection) *Store {
	return &Store{coll: coll}
}

// EnsureIndexes creates the compound (status, scheduledAt) index
// required by spec.md §3, plus a supporting index for the sweeper's
// (status, timeoutAt) scan.
func EnsureIndexes(ctx context.Context, coll *mongo.Collection) error {
	_, err := coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "scheduledAt", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "timeoutAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("mongostore: ensure indexes: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, t *task.Task) (*task.Task, error) {
	stored := *t
	stored.ID = uuid.NewString()
	now := time.Now()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	if stored.Status == "" {
		stored.Status = task.StatusPending
	}

	if _, err := s.coll.InsertOne(ctx, stored); err != nil {
		return nil, fmt.Errorf("mongostore: insert: %w", err)
	}
	return &stored, nil
}

func (s *Store) FindByID(ctx context.Context, id string) (*task.Task, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

func (s *Store) FindOne(ctx context.Context, f task.Filter) (*task.Task, error) {
	return s.findOne(ctx, filterToBSON(f))
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (*task.Task, error) {
	var t task.Task
	err := s.coll.FindOne(ctx, filter).Decode(&t)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, task.ErrNotFound
		}
		return nil, fmt.Errorf("mongostore: find one: %w", err)
	}
	return &t, nil
}

func filterToBSON(f task.Filter) bson.M {
	m := bson.M{}
	if f.ID != "" {
		m["_id"] = f.ID
	}
	if f.Name != "" {
		m["name"] = f.Name
	}
	if f.OriginalTaskID != "" {
		m["originalTaskId"] = f.OriginalTaskID
	}
	return m
}

// Claim realizes the protocol in spec.md §4.D directly: a single
// findOneAndUpdate with ReturnDocument(Before), so the caller observes
// the task exactly as it stood prior to being claimed.
func (s *Store) Claim(ctx context.Context, now time.Time, names []string, workerName string) (*task.Task, error) {
	leaseMS := task.DefaultLeaseMS

	filter := bson.M{
		"status":      task.StatusPending,
		"scheduledAt": bson.M{"$lte": now},
		"name":        bson.M{"$in": names},
	}

	// timeoutAt depends on the matched document's own timeoutMS, which a
	// plain $set can't read — so this is an aggregation-pipeline update,
	// expressing timeoutAt = now + min(timeoutMS, DefaultLeaseMS)
	// server-side, exactly mirroring the reference claim query.
	pipeline := mongo.Pipeline{
		bson.D{{Key: "$set", Value: bson.M{
			"status":           task.StatusInProgress,
			"startedRunningAt": now,
			"updatedAt":        now,
			"workerName":       workerNameExpr(workerName),
			"timeoutAt": bson.M{"$add": bson.A{
				now,
				bson.M{"$min": bson.A{
					bson.M{"$ifNull": bson.A{"$timeoutMS", leaseMS}},
					leaseMS,
				}},
			}},
		}}},
	}

	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.Before).
		SetSort(bson.D{{Key: "scheduledAt", Value: 1}})

	var pre task.Task
	err := s.coll.FindOneAndUpdate(ctx, filter, pipeline, opts).Decode(&pre)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("mongostore: claim: %w", err)
	}

	// Defense-in-depth: the filter already required pending, but a
	// non-atomic store could in principle return a stale pre-image.
	if pre.Status != task.StatusPending {
		return nil, nil
	}
	return &pre, nil
}

func workerNameExpr(workerName string) any {
	if workerName == "" {
		return "$workerName"
	}
	return workerName
}

// CancelTask atomically cancels a pending task matching filter.
func (s *Store) CancelTask(ctx context.Context, f task.Filter, now time.Time) (*task.Task, error) {
	filter := filterToBSON(f)
	filter["status"] = task.StatusPending

	update := bson.M{"$set": bson.M{
		"status":      task.StatusCancelled,
		"cancelledAt": now,
		"updatedAt":   now,
	}}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var out task.Task
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("mongostore: cancel task: %w", err)
	}
	return &out, nil
}

// ExpireOneTimedOut realizes spec.md §4.F's atomic sweep step.
func (s *Store) ExpireOneTimedOut(ctx context.Context, now time.Time) (*task.Task, error) {
	filter := bson.M{
		"status":    task.StatusInProgress,
		"timeoutAt": bson.M{"$lte": now},
	}
	update := bson.M{"$set": bson.M{
		"status":            task.StatusTimedOut,
		"finishedRunningAt": now,
		"updatedAt":         now,
	}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var out task.Task
	err := s.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("mongostore: expire one timed out: %w", err)
	}
	return &out, nil
}

// Save persists the full document. Its only caller is the engine,
// persisting the terminal transition of a task it is executing, so it
// does not use a conditional filter.
func (s *Store) Save(ctx context.Context, t *task.Task) error {
	t.UpdatedAt = time.Now()
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": t.ID}, t)
	if err != nil {
		return fmt.Errorf("mongostore: save: %w", err)
	}
	return nil
}

// ListPage returns up to limit tasks matching f, newest first by
// (createdAt, id), applying the keyset cursor the same way the
// teacher's ListSchedules query does.
func (s *Store) ListPage(ctx context.Context, f task.Filter, cursorCreatedAt *time.Time, cursorID string, limit int) ([]*task.Task, error) {
	filter := filterToBSON(f)
	if cursorCreatedAt != nil {
		filter["$or"] = bson.A{
			bson.M{"createdAt": bson.M{"$lt": *cursorCreatedAt}},
			bson.M{"createdAt": *cursorCreatedAt, "_id": bson.M{"$lt": cursorID}},
		}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cur, err := s.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("mongostore: list page: %w", err)
	}
	defer cur.Close(ctx)

	var out []*task.Task
	if err := cur.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongostore: list page decode: %w", err)
	}
	return out, nil
}

func (s *Store) DeleteMany(ctx context.Context, f task.Filter) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, filterToBSON(f))
	if err != nil {
		return 0, fmt.Errorf("mongostore: delete many: %w", err)
	}
	return res.DeletedCount, nil
}
