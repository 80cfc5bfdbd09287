/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps sessions as documents of one Firestore collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	logger     *zap.Logger
}

func NewFirestoreStore(client *firestore.Client, collection string, logger *zap.Logger) *FirestoreStore {
	return &FirestoreStore{
		client:     client,
		collection: collection,
		logger:     logger,
	}
}

func (f *FirestoreStore) games() *firestore.CollectionRef {
	return f.client.Collection(f.collection)
}

func decode(snap *firestore.DocumentSnapshot) (*Session, error) {
	s := &Session{}
	if err := snap.DataTo(s); err != nil {
		return nil, fmt.Errorf("while unmarshaling session %s: %w", snap.Ref.ID, err)
	}
	s.ID = snap.Ref.ID
	return s, nil
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (f *FirestoreStore) Create(ctx context.Context, s *Session) (string, error) {
	if s == nil {
		return "", errors.New("cannot create an empty session")
	}
	if !s.State.Valid() {
		return "", fmt.Errorf("cannot create session in state %d", s.State)
	}

	ref := f.games().NewDoc()

	c := s.Clone()
	c.ID = ref.ID
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt

	if _, err := ref.Create(ctx, c); err != nil {
		return "", fmt.Errorf("while creating session: %w", err)
	}

	return ref.ID, nil
}

func (f *FirestoreStore) Get(ctx context.Context, id string) (*Session, error) {
	snap, err := f.games().Doc(id).Get(ctx)
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("while retrieving session %s: %w", id, err)
	}

	return decode(snap)
}

func (f *FirestoreStore) openQuery() firestore.Query {
	return f.games().Where("state", "==", int64(Open))
}

func (f *FirestoreStore) ListOpen(ctx context.Context) ([]*Session, error) {
	iter := f.openQuery().Documents(ctx)
	defer iter.Stop()

	var result []*Session
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while listing open sessions: %w", err)
		}

		s, err := decode(snap)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	return result, nil
}

func (f *FirestoreStore) SubscribeOpen(ctx context.Context, onAdded, onRemoved func(*Session)) error {
	iter := f.openQuery().Snapshots(ctx)

	go func() {
		defer iter.Stop()

		for {
			snap, err := iter.Next()
			if err != nil {
				if ctx.Err() == nil {
					f.logger.Error("open session subscription ended", zap.Error(err))
				}
				return
			}

			for _, change := range snap.Changes {
				s, err := decode(change.Doc)
				if err != nil {
					f.logger.Warn("skipping undecodable session", zap.Error(err))
					continue
				}

				switch change.Kind {
				case firestore.DocumentAdded:
					onAdded(s)
				case firestore.DocumentRemoved:
					onRemoved(s)
				}
			}
		}
	}()

	return nil
}

func (f *FirestoreStore) Watch(ctx context.Context, id string, onChange func(*Session)) error {
	ref := f.games().Doc(id)

	if _, err := ref.Get(ctx); err != nil {
		if notFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("while retrieving session %s: %w", id, err)
	}

	iter := ref.Snapshots(ctx)

	go func() {
		defer iter.Stop()

		for {
			snap, err := iter.Next()
			if err != nil {
				if ctx.Err() == nil {
					f.logger.Error("session watch ended", zap.String("game", id), zap.Error(err))
				}
				return
			}

			if !snap.Exists() {
				onChange(nil)
				continue
			}

			s, err := decode(snap)
			if err != nil {
				f.logger.Warn("skipping undecodable session", zap.String("game", id), zap.Error(err))
				continue
			}
			onChange(s)
		}
	}()

	return nil
}

func (f *FirestoreStore) Transaction(ctx context.Context, id string, mutate Mutator) (bool, *Session, error) {
	ref := f.games().Doc(id)

	var (
		final   *Session
		aborted bool
	)

	err := f.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		// The transaction function may run several times, so start from
		// scratch on every attempt.
		final = nil
		aborted = false

		snap, err := txn.Get(ref)
		if notFound(err) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("while reading session %s: %w", id, err)
		}

		current, err := decode(snap)
		if err != nil {
			return err
		}

		draft := current.Clone()
		if err := mutate(draft); err != nil {
			if errors.Is(err, ErrAbort) {
				aborted = true
				final = current
			}
			return err
		}
		if draft.State < current.State {
			return ErrStateRegression
		}

		draft.ID = current.ID
		draft.CreatedAt = current.CreatedAt
		draft.UpdatedAt = time.Now()
		final = draft

		return txn.Set(ref, draft)
	}, firestore.MaxAttempts(maxAttempts))

	if aborted {
		return false, final, nil
	}
	if err != nil {
		return false, nil, err
	}

	return true, final, nil
}

// patchUpdates converts a Patch into Firestore field path updates.
func patchUpdates(p Patch, hasJoiner bool, now time.Time) []firestore.Update {
	var updates []firestore.Update

	if p.State != nil {
		updates = append(updates, firestore.Update{Path: "state", Value: int64(*p.State)})
	}
	updates = append(updates, playerUpdates("creator", p.Creator)...)
	if hasJoiner {
		updates = append(updates, playerUpdates("joiner", p.Joiner)...)
	}
	if len(updates) > 0 {
		updates = append(updates, firestore.Update{Path: "updatedAt", Value: now})
	}

	return updates
}

func playerUpdates(side string, p *PlayerPatch) []firestore.Update {
	if p == nil {
		return nil
	}

	var updates []firestore.Update
	if p.ImagePath != nil {
		updates = append(updates, firestore.Update{Path: side + ".gcsPath", Value: *p.ImagePath})
	}
	if p.DownloadURL != nil {
		updates = append(updates, firestore.Update{Path: side + ".downloadURL", Value: *p.DownloadURL})
	}
	if p.Emotion != nil {
		updates = append(updates, firestore.Update{Path: side + ".emotion", Value: string(*p.Emotion)})
	}
	if p.Wins != nil {
		updates = append(updates, firestore.Update{Path: side + ".wins", Value: *p.Wins})
	}

	return updates
}

func (f *FirestoreStore) Update(ctx context.Context, id string, patch Patch) error {
	ref := f.games().Doc(id)

	return f.client.RunTransaction(ctx, func(ctx context.Context, txn *firestore.Transaction) error {
		snap, err := txn.Get(ref)
		if notFound(err) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("while reading session %s: %w", id, err)
		}

		current, err := decode(snap)
		if err != nil {
			return err
		}
		if err := patch.Apply(current.Clone()); err != nil {
			return err
		}

		updates := patchUpdates(patch, current.Joiner != nil, time.Now())
		if len(updates) == 0 {
			return nil
		}

		return txn.Update(ref, updates)
	})
}

func (f *FirestoreStore) Delete(ctx context.Context, id string) error {
	_, err := f.games().Doc(id).Delete(ctx, firestore.Exists)
	if notFound(err) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("while deleting session %s: %w", id, err)
	}

	return nil
}

func (f *FirestoreStore) Stale(ctx context.Context, before time.Time) ([]string, error) {
	iter := f.games().Where("updatedAt", "<", before).Documents(ctx)
	defer iter.Stop()

	var ids []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("while looking up stale sessions: %w", err)
		}
		ids = append(ids, snap.Ref.ID)
	}
	sort.Strings(ids)

	return ids, nil
}
