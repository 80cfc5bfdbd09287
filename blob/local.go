/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// LocalStore writes photos below a directory on disk. Download URLs point at
// urlPrefix, which the web server maps back onto the same directory.
type LocalStore struct {
	dir       string
	urlPrefix string
}

func NewLocalStore(dir, urlPrefix string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("while creating photo directory %q: %w", dir, err)
	}

	return &LocalStore{
		dir:       dir,
		urlPrefix: strings.TrimSuffix(urlPrefix, "/"),
	}, nil
}

func (l *LocalStore) Dir() string {
	return l.dir
}

// resolve maps an object key onto the filesystem, refusing keys that would
// escape the photo directory.
func (l *LocalStore) resolve(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" {
		return "", fmt.Errorf("invalid photo key %q", key)
	}
	return filepath.Join(l.dir, filepath.FromSlash(strings.TrimPrefix(clean, "/"))), nil
}

func (l *LocalStore) Write(ctx context.Context, key string, data []byte) (Object, error) {
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	name, err := l.resolve(key)
	if err != nil {
		return Object{}, err
	}

	if err := os.MkdirAll(filepath.Dir(name), 0o755); err != nil {
		return Object{}, fmt.Errorf("while creating directory for %q: %w", key, err)
	}

	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return Object{}, fmt.Errorf("while writing photo %q: %w", key, err)
	}
	if err := os.Rename(tmp, name); err != nil {
		return Object{}, fmt.Errorf("while storing photo %q: %w", key, err)
	}

	return Object{
		Path:        key,
		DownloadURL: l.urlPrefix + "/" + key,
	}, nil
}

func (l *LocalStore) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	name, err := l.resolve(p)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("while reading photo %q: %w", p, err)
	}

	return data, nil
}
