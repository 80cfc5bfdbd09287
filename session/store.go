/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrAbort           = errors.New("transaction aborted")
	ErrTooManyAttempts = errors.New("transaction gave up after repeated write conflicts")
	ErrStateRegression = errors.New("session state may not move backwards")
)

// maxAttempts bounds how often a transaction re-runs its mutate function
// after losing a write conflict.
const maxAttempts = 25

// Mutator edits a private copy of a session inside a transaction. It may be
// invoked more than once per transaction and must not have side effects.
type Mutator func(s *Session) error

// Store is a realtime record tree of game sessions.
//
// Subscriptions started with Watch and SubscribeOpen run until ctx is done;
// callbacks for a single subscription are never invoked concurrently.
type Store interface {
	Create(ctx context.Context, s *Session) (string, error)
	Get(ctx context.Context, id string) (*Session, error)
	ListOpen(ctx context.Context) ([]*Session, error)
	SubscribeOpen(ctx context.Context, onAdded, onRemoved func(*Session)) error
	Watch(ctx context.Context, id string, onChange func(*Session)) error
	Transaction(ctx context.Context, id string, mutate Mutator) (bool, *Session, error)
	Update(ctx context.Context, id string, patch Patch) error
	Delete(ctx context.Context, id string) error
	Stale(ctx context.Context, before time.Time) ([]string, error)
}
