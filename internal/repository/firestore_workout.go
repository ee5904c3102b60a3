package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"github.com/mansoorceksport/fitsync/internal/domain"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreWorkoutAdapter keeps workouts under users/{owner}/workouts
type FirestoreWorkoutAdapter struct {
	client *firestore.Client
}

func NewFirestoreWorkoutAdapter(client *firestore.Client) *FirestoreWorkoutAdapter {
	return &FirestoreWorkoutAdapter{client: client}
}

func (a *FirestoreWorkoutAdapter) workouts(ownerID string) *firestore.CollectionRef {
	return a.client.Collection("users").Doc(ownerID).Collection("workouts")
}

// Subscribe listens to the whole owner collection. The query is not ordered server
// side because Firestore drops documents missing the order field; records are sorted
// here instead. Subscribe returns once the first snapshot was delivered.
func (a *FirestoreWorkoutAdapter) Subscribe(ctx context.Context, ownerID string, onSnapshot func([]domain.RemoteRecord), onError func(error)) (domain.Unsubscribe, error) {
	listenCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	it := a.workouts(ownerID).Snapshots(listenCtx)

	first := make(chan error, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		delivered := false
		for {
			snap, err := it.Next()
			if err != nil {
				if !delivered {
					first <- err
					return
				}
				if listenCtx.Err() != nil || errors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
					return
				}
				log.WithField("owner", ownerID).WithError(err).Error("firestore listener stopped")
				if onError != nil {
					onError(err)
				}
				return
			}

			docs, err := snap.Documents.GetAll()
			if err != nil {
				if !delivered {
					first <- err
					return
				}
				if onError != nil {
					onError(err)
				}
				return
			}
			onSnapshot(toRecords(docs))
			if !delivered {
				delivered = true
				first <- nil
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			it.Stop()
			cancel()
			<-done
		})
	}

	select {
	case err := <-first:
		if err != nil {
			unsubscribe()
			return nil, fmt.Errorf("failed to listen to workouts: %w", err)
		}
	case <-ctx.Done():
		unsubscribe()
		return nil, ctx.Err()
	}
	return unsubscribe, nil
}

func toRecords(docs []*firestore.DocumentSnapshot) []domain.RemoteRecord {
	recs := make([]domain.RemoteRecord, 0, len(docs))
	for _, doc := range docs {
		recs = append(recs, domain.RemoteRecord{ID: doc.Ref.ID, Fields: doc.Data()})
	}
	sortRecords(recs)
	return recs
}

// NewID returns a Firestore auto id without a round trip
func (a *FirestoreWorkoutAdapter) NewID(ownerID string) string {
	return a.workouts(ownerID).NewDoc().ID
}

func (a *FirestoreWorkoutAdapter) Create(ctx context.Context, ownerID, id string, payload domain.Payload) error {
	fields := payload.Fields()
	fields[domain.FieldCreatedAt] = firestore.ServerTimestamp

	if _, err := a.workouts(ownerID).Doc(id).Create(ctx, fields); err != nil {
		if status.Code(err) == codes.AlreadyExists {
			err = fmt.Errorf("%w: %v", domain.ErrAlreadyExists, err)
		}
		return &domain.RemoteWriteError{Op: "create", ID: id, Err: err}
	}
	return nil
}

// Update rewrites every payload field except createdAt. Firestore rejects updates of
// missing documents, which surfaces as a RemoteWriteError wrapping ErrNotFound.
func (a *FirestoreWorkoutAdapter) Update(ctx context.Context, ownerID, id string, payload domain.Payload) error {
	fields := payload.Fields()
	delete(fields, domain.FieldCreatedAt)
	if _, ok := fields[domain.FieldTimestamp]; !ok {
		fields[domain.FieldTimestamp] = firestore.Delete
	}

	updates := make([]firestore.Update, 0, len(fields))
	for path, value := range fields {
		updates = append(updates, firestore.Update{Path: path, Value: value})
	}

	if _, err := a.workouts(ownerID).Doc(id).Update(ctx, updates); err != nil {
		if status.Code(err) == codes.NotFound {
			err = fmt.Errorf("%w: %v", domain.ErrNotFound, err)
		}
		return &domain.RemoteWriteError{Op: "update", ID: id, Err: err}
	}
	return nil
}

// Remove deletes the document; Firestore treats deleting a missing document as success
func (a *FirestoreWorkoutAdapter) Remove(ctx context.Context, ownerID, id string) error {
	if _, err := a.workouts(ownerID).Doc(id).Delete(ctx); err != nil {
		return &domain.RemoteWriteError{Op: "remove", ID: id, Err: err}
	}
	return nil
}
