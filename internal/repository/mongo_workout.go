package repository

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mansoorceksport/fitsync/internal/domain"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const ownerField = "owner_id"

// MongoWorkoutAdapter backs workouts with a MongoDB collection. Live updates come from
// a change stream, so the server must run as a replica set.
type MongoWorkoutAdapter struct {
	collection *mongo.Collection
	now        func() time.Time
}

func NewMongoWorkoutAdapter(db *mongo.Database) *MongoWorkoutAdapter {
	return &MongoWorkoutAdapter{
		collection: db.Collection("workouts"),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// EnsureIndexes creates the owner/timestamp index used by snapshot queries
func (a *MongoWorkoutAdapter) EnsureIndexes(ctx context.Context) error {
	_, err := a.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: ownerField, Value: 1}, {Key: domain.FieldTimestamp, Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create workout index: %w", err)
	}
	return nil
}

// Subscribe opens the change stream before the initial query so no write between the
// two is missed. Every event triggers a full re-query of the owner's records.
func (a *MongoWorkoutAdapter) Subscribe(ctx context.Context, ownerID string, onSnapshot func([]domain.RemoteRecord), onError func(error)) (domain.Unsubscribe, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"fullDocument." + ownerField: ownerID},
			bson.M{"operationType": "delete"},
		}}}},
	}
	stream, err := a.collection.Watch(ctx, pipeline, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		return nil, fmt.Errorf("failed to watch workouts: %w", err)
	}

	recs, err := a.query(ctx, ownerID)
	if err != nil {
		_ = stream.Close(context.Background())
		return nil, err
	}
	onSnapshot(recs)

	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer stream.Close(context.Background())

		for stream.Next(listenCtx) {
			recs, err := a.query(listenCtx, ownerID)
			if err != nil {
				if listenCtx.Err() != nil {
					return
				}
				a.fail(ownerID, err, onError)
				return
			}
			onSnapshot(recs)
		}
		if err := stream.Err(); err != nil && listenCtx.Err() == nil {
			a.fail(ownerID, err, onError)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (a *MongoWorkoutAdapter) fail(ownerID string, err error, onError func(error)) {
	log.WithField("owner", ownerID).WithError(err).Error("workout change stream stopped")
	if onError != nil {
		onError(err)
	}
}

func (a *MongoWorkoutAdapter) query(ctx context.Context, ownerID string) ([]domain.RemoteRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: domain.FieldTimestamp, Value: -1}})
	cursor, err := a.collection.Find(ctx, bson.M{ownerField: ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query workouts: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode workouts: %w", err)
	}

	recs := make([]domain.RemoteRecord, 0, len(docs))
	for _, doc := range docs {
		id := ""
		if oid, ok := doc["_id"].(primitive.ObjectID); ok {
			id = oid.Hex()
		}
		delete(doc, "_id")
		delete(doc, ownerField)
		recs = append(recs, domain.RemoteRecord{ID: id, Fields: normalizeDocument(doc)})
	}
	sortRecords(recs)
	return recs, nil
}

// normalizeDocument converts BSON specific values into the plain Go types the
// record decoder understands
func normalizeDocument(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for k, v := range doc {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.Timestamp:
		return time.Unix(int64(t.T), 0).UTC()
	case primitive.Decimal128:
		f, err := decimalToFloat(t)
		if err != nil {
			return nil
		}
		return f
	case primitive.M:
		return normalizeDocument(t)
	case primitive.D:
		m := make(map[string]any, len(t))
		for _, e := range t {
			m[e.Key] = normalizeValue(e.Value)
		}
		return m
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case primitive.ObjectID:
		return t.Hex()
	default:
		return v
	}
}

func decimalToFloat(d primitive.Decimal128) (float64, error) {
	return strconv.ParseFloat(d.String(), 64)
}

// NewID returns the hex form of a new ObjectID
func (a *MongoWorkoutAdapter) NewID(string) string {
	return primitive.NewObjectID().Hex()
}

func (a *MongoWorkoutAdapter) Create(ctx context.Context, ownerID, id string, payload domain.Payload) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return &domain.RemoteWriteError{Op: "create", ID: id, Err: fmt.Errorf("invalid workout id: %w", err)}
	}

	doc := bson.M(payload.Fields())
	doc["_id"] = oid
	doc[ownerField] = ownerID
	doc[domain.FieldCreatedAt] = a.now()

	if _, err := a.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			err = fmt.Errorf("%w: %v", domain.ErrAlreadyExists, err)
		}
		return &domain.RemoteWriteError{Op: "create", ID: id, Err: fmt.Errorf("failed to create workout: %w", err)}
	}
	return nil
}

func (a *MongoWorkoutAdapter) Update(ctx context.Context, ownerID, id string, payload domain.Payload) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return &domain.RemoteWriteError{Op: "update", ID: id, Err: domain.ErrNotFound}
	}

	set := bson.M(payload.Fields())
	delete(set, domain.FieldCreatedAt)
	update := bson.M{"$set": set}
	if _, ok := set[domain.FieldTimestamp]; !ok {
		update["$unset"] = bson.M{domain.FieldTimestamp: ""}
	}

	result, err := a.collection.UpdateOne(ctx, bson.M{"_id": oid, ownerField: ownerID}, update)
	if err != nil {
		return &domain.RemoteWriteError{Op: "update", ID: id, Err: fmt.Errorf("failed to update workout: %w", err)}
	}
	if result.MatchedCount == 0 {
		return &domain.RemoteWriteError{Op: "update", ID: id, Err: domain.ErrNotFound}
	}
	return nil
}

// Remove deletes the record; an id that matches nothing is not an error
func (a *MongoWorkoutAdapter) Remove(ctx context.Context, ownerID, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil
	}
	if _, err := a.collection.DeleteOne(ctx, bson.M{"_id": oid, ownerField: ownerID}); err != nil {
		return &domain.RemoteWriteError{Op: "remove", ID: id, Err: fmt.Errorf("failed to delete workout: %w", err)}
	}
	return nil
}
