/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/Seednode/happyangrysurprised/blob"
	"github.com/Seednode/happyangrysurprised/emotion"
	"github.com/Seednode/happyangrysurprised/history"
	"github.com/Seednode/happyangrysurprised/session"
	"google.golang.org/api/option"
)

// backends are the services a game needs, chosen by configuration.
type backends struct {
	store    session.Store
	blobs    blob.Store
	local    *blob.LocalStore
	detector emotion.Detector
	history  *history.DB

	closers []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

func newBackends(ctx context.Context, cfg *Config) (*backends, error) {
	b := &backends{}

	if err := b.openStore(ctx, cfg); err != nil {
		_ = b.Close()
		return nil, err
	}
	if err := b.openBlobs(ctx, cfg); err != nil {
		_ = b.Close()
		return nil, err
	}
	if err := b.openDetector(ctx, cfg); err != nil {
		_ = b.Close()
		return nil, err
	}
	if err := b.openHistory(cfg); err != nil {
		_ = b.Close()
		return nil, err
	}

	return b, nil
}

func (b *backends) openStore(ctx context.Context, cfg *Config) error {
	if cfg.store != "firestore" {
		b.store = session.NewMemoryStore()

		logf(cfg, "STORE: Keeping games in memory")

		return nil
	}

	project := cfg.firestoreProj
	if project == "" {
		project = firestore.DetectProjectID
	}

	client, err := firestore.NewClient(ctx, project)
	if err != nil {
		return fmt.Errorf("while connecting to firestore: %w", err)
	}
	b.closers = append(b.closers, client.Close)

	b.store = session.NewFirestoreStore(client, cfg.firestoreColl, cfg.log().Named("firestore"))

	logf(cfg, "STORE: Keeping games in firestore collection %q", cfg.firestoreColl)

	return nil
}

func (b *backends) openBlobs(ctx context.Context, cfg *Config) error {
	if cfg.gcsBucket != "" {
		client, err := storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("while connecting to cloud storage: %w", err)
		}
		b.closers = append(b.closers, client.Close)

		b.blobs = blob.NewGCSStore(client, cfg.gcsBucket)

		logf(cfg, "STORE: Uploading photos to gs://%s", cfg.gcsBucket)

		return nil
	}

	local, err := blob.NewLocalStore(cfg.photoDir, cfg.prefix+"/photos")
	if err != nil {
		return err
	}
	b.blobs = local
	b.local = local

	logf(cfg, "STORE: Saving photos to %s", cfg.photoDir)

	return nil
}

func (b *backends) openDetector(ctx context.Context, cfg *Config) error {
	if cfg.detector == "none" {
		b.detector = unknownDetector{}

		logf(cfg, "VISION: Emotion detection disabled, every face is unknown")

		return nil
	}

	var opts []option.ClientOption
	if cfg.visionKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.visionKey))
	}
	if cfg.visionEndpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.visionEndpoint))
	}

	detector, err := emotion.NewCloudDetector(ctx, cfg.log().Named("vision"), opts...)
	if err != nil {
		return err
	}
	b.detector = detector

	return nil
}

func (b *backends) openHistory(cfg *Config) error {
	if cfg.historyDB == "" {
		return nil
	}

	db, err := history.Open(cfg.historyDB)
	if err != nil {
		return err
	}
	b.closers = append(b.closers, db.Close)
	b.history = db

	logf(cfg, "STORE: Recording results in %s", cfg.historyDB)

	return nil
}

// unknownDetector labels every photo Unknown, so every game is a draw.
type unknownDetector struct{}

func (unknownDetector) Detect(context.Context, emotion.Image) (session.Emotion, error) {
	return session.Unknown, nil
}
