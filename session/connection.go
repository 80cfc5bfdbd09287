/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrConnectionClosed is returned when a record is registered on a connection
// that has already closed.
var ErrConnectionClosed = errors.New("connection already closed")

// Connection tracks the records one client asked to have removed when its
// connection drops.
type Connection struct {
	store Store

	mu     sync.Mutex
	ids    map[string]struct{}
	closed bool
}

func NewConnection(store Store) *Connection {
	return &Connection{
		store: store,
		ids:   make(map[string]struct{}),
	}
}

// RemoveOnDisconnect schedules deletion of id when the connection closes.
// The caller owns id again if the connection is already closed.
func (c *Connection) RemoveOnDisconnect(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	c.ids[id] = struct{}{}

	return nil
}

func (c *Connection) Cancel(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.ids, id)
}

func (c *Connection) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.ids)
}

// Close deletes every record still registered. Records that are already gone
// are not an error.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ids := c.ids
	c.ids = nil
	c.mu.Unlock()

	var errs []error
	for id := range ids {
		if err := c.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, fmt.Errorf("while removing session %s on disconnect: %w", id, err))
		}
	}

	return errors.Join(errs...)
}
