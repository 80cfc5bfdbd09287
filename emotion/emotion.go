/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package emotion classifies the dominant emotion on a selfie.
package emotion

import (
	"context"

	"github.com/Seednode/happyangrysurprised/session"
)

// Image is a photo to classify. URI is preferred when set.
type Image struct {
	URI     string
	Content []byte
}

type Detector interface {
	Detect(ctx context.Context, img Image) (session.Emotion, error)
}

// Likelihoods are the per-emotion scores of a single face, using the Cloud
// Vision likelihood names.
type Likelihoods struct {
	Joy      string
	Anger    string
	Surprise string
}

var confident = []string{"VERY_LIKELY", "LIKELY", "POSSIBLE"}

// Label picks one emotion for a face. Stronger likelihoods win over weaker
// ones; at equal strength joy beats anger beats surprise.
func Label(face Likelihoods) session.Emotion {
	for _, level := range confident {
		switch level {
		case face.Joy:
			return session.Happy
		case face.Anger:
			return session.Angry
		case face.Surprise:
			return session.Surprised
		}
	}

	return session.Unknown
}
