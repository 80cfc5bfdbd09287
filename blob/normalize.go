/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package blob

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
)

const (
	// MaxDimension bounds the width and height of stored photos.
	MaxDimension = 640

	// MaxSourceDimension bounds the width and height of photos accepted for
	// normalizing.
	MaxSourceDimension = 4096
)

var ErrPhotoTooLarge = errors.New("photo dimensions too large")

// Normalize decodes a PNG, JPEG or GIF selfie, shrinks it to fit within
// MaxDimension on both sides and re-encodes it as PNG.
func Normalize(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("while decoding photo: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width > MaxSourceDimension || cfg.Height > MaxSourceDimension {
		return nil, fmt.Errorf("%w: %dx%d", ErrPhotoTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("while decoding photo: %w", err)
	}

	thumbnail := resize.Thumbnail(MaxDimension, MaxDimension, img, resize.Lanczos3)

	buf := &bytes.Buffer{}
	if err := png.Encode(buf, thumbnail); err != nil {
		return nil, fmt.Errorf("while encoding photo: %w", err)
	}

	return buf.Bytes(), nil
}
