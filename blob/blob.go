/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package blob stores player photos.
package blob

import (
	"context"
	"errors"
	"path"
)

var ErrNotFound = errors.New("photo not found")

// Object is a stored photo. Path is what the store accepts in Read; for
// Cloud Storage it is a gs:// URI that Cloud Vision can read directly.
type Object struct {
	Path        string
	DownloadURL string
}

type Store interface {
	Write(ctx context.Context, key string, data []byte) (Object, error)
	Read(ctx context.Context, path string) ([]byte, error)
}

// Key is the object name of a player's photo for one game.
func Key(gameID, uid string) string {
	return path.Join("games", gameID, uid+".png")
}
