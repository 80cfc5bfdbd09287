/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package blob

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "games/abc/u1.png", Key("abc", "u1"))
}

func TestLocalStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()

	store, err := NewLocalStore(dir, "/photos/")
	require.NoError(t, err)

	obj, err := store.Write(context.Background(), Key("g1", "u1"), []byte("selfie"))
	require.NoError(t, err)

	assert.Equal(t, "games/g1/u1.png", obj.Path)
	assert.Equal(t, "/photos/games/g1/u1.png", obj.DownloadURL)

	onDisk, err := os.ReadFile(filepath.Join(dir, "games", "g1", "u1.png"))
	require.NoError(t, err)
	assert.Equal(t, []byte("selfie"), onDisk)

	data, err := store.Read(context.Background(), obj.Path)
	require.NoError(t, err)
	assert.Equal(t, []byte("selfie"), data)
}

func TestLocalStoreOverwrite(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/photos")
	require.NoError(t, err)

	key := Key("g1", "u1")
	_, err = store.Write(context.Background(), key, []byte("first"))
	require.NoError(t, err)
	_, err = store.Write(context.Background(), key, []byte("second"))
	require.NoError(t, err)

	data, err := store.Read(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)
}

func TestLocalStoreMissing(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/photos")
	require.NoError(t, err)

	_, err = store.Read(context.Background(), Key("nope", "nobody"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLocalStoreStaysInsideDirectory(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "photos")

	store, err := NewLocalStore(dir, "/photos")
	require.NoError(t, err)

	_, err = store.Write(context.Background(), "../../escape.png", []byte("x"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(parent, "escape.png"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(filepath.Join(dir, "escape.png"))
	assert.NoError(t, err)

	_, err = store.Write(context.Background(), "/", []byte("x"))
	assert.Error(t, err)
}

func TestLocalStoreCanceled(t *testing.T) {
	store, err := NewLocalStore(t.TempDir(), "/photos")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = store.Write(ctx, Key("g", "u"), []byte("x"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSplitURI(t *testing.T) {
	g := NewGCSStore(nil, "default-bucket")

	tests := []struct {
		name       string
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{name: "FullURI", uri: "gs://photos/games/g/u.png", wantBucket: "photos", wantKey: "games/g/u.png"},
		{name: "BareKey", uri: "games/g/u.png", wantBucket: "default-bucket", wantKey: "games/g/u.png"},
		{name: "MissingKey", uri: "gs://photos", wantErr: true},
		{name: "EmptyBucket", uri: "gs:///games/g/u.png", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket, key, err := g.splitURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func testImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	return img
}

func TestNormalize(t *testing.T) {
	large := &bytes.Buffer{}
	require.NoError(t, jpeg.Encode(large, testImage(1280, 960), nil))

	small := &bytes.Buffer{}
	require.NoError(t, png.Encode(small, testImage(32, 24)))

	tests := []struct {
		name   string
		input  []byte
		width  int
		height int
	}{
		{name: "ShrinksLargeJPEG", input: large.Bytes(), width: 640, height: 480},
		{name: "KeepsSmallPNG", input: small.Bytes(), width: 32, height: 24},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := Normalize(tt.input)
			require.NoError(t, err)

			cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
			require.NoError(t, err)

			assert.Equal(t, "png", format)
			assert.Equal(t, tt.width, cfg.Width)
			assert.Equal(t, tt.height, cfg.Height)
		})
	}
}

func TestNormalizeRejectsGarbage(t *testing.T) {
	_, err := Normalize([]byte("definitely not an image"))
	assert.Error(t, err)
}

func TestNormalizeBoundsSourceSize(t *testing.T) {
	encode := func(w, h int) []byte {
		buf := &bytes.Buffer{}
		require.NoError(t, png.Encode(buf, image.NewGray(image.Rect(0, 0, w, h))))
		return buf.Bytes()
	}

	for _, size := range [][2]int{{6000, 1}, {1, 6000}, {MaxSourceDimension + 1, MaxSourceDimension + 1}} {
		_, err := Normalize(encode(size[0], size[1]))
		assert.ErrorIs(t, err, ErrPhotoTooLarge, "size %dx%d", size[0], size[1])
	}

	out, err := Normalize(encode(MaxSourceDimension, 64))
	require.NoError(t, err)

	cfg, err := png.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, MaxDimension, cfg.Width)
}
