/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package emotion

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/Seednode/happyangrysurprised/session"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	visionapi "google.golang.org/api/vision/v1"
)

// CloudDetector asks Cloud Vision for the single most prominent face.
type CloudDetector struct {
	service *visionapi.Service
	logger  *zap.Logger
}

func NewCloudDetector(ctx context.Context, logger *zap.Logger, opts ...option.ClientOption) (*CloudDetector, error) {
	service, err := visionapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("while creating vision client: %w", err)
	}

	return &CloudDetector{
		service: service,
		logger:  logger,
	}, nil
}

func request(img Image) *visionapi.AnnotateImageRequest {
	image := &visionapi.Image{}
	switch {
	case strings.HasPrefix(img.URI, "gs://"):
		image.Source = &visionapi.ImageSource{GcsImageUri: img.URI}
	case img.URI != "":
		image.Source = &visionapi.ImageSource{ImageUri: img.URI}
	default:
		image.Content = base64.StdEncoding.EncodeToString(img.Content)
	}

	return &visionapi.AnnotateImageRequest{
		Image: image,
		Features: []*visionapi.Feature{
			{Type: "FACE_DETECTION", MaxResults: 1},
		},
	}
}

func (d *CloudDetector) Detect(ctx context.Context, img Image) (session.Emotion, error) {
	resp, err := d.service.Images.Annotate(&visionapi.BatchAnnotateImagesRequest{
		Requests: []*visionapi.AnnotateImageRequest{request(img)},
	}).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("while annotating image: %w", err)
	}

	if len(resp.Responses) == 0 {
		return session.Unknown, nil
	}

	result := resp.Responses[0]
	if result.Error != nil && result.Error.Code != 0 {
		return "", fmt.Errorf("while annotating image: vision error %d: %s", result.Error.Code, result.Error.Message)
	}

	if len(result.FaceAnnotations) == 0 {
		d.logger.Debug("no face found", zap.String("uri", img.URI))

		return session.Unknown, nil
	}

	face := result.FaceAnnotations[0]

	label := Label(Likelihoods{
		Joy:      face.JoyLikelihood,
		Anger:    face.AngerLikelihood,
		Surprise: face.SurpriseLikelihood,
	})

	d.logger.Debug("face labelled",
		zap.String("uri", img.URI),
		zap.String("joy", face.JoyLikelihood),
		zap.String("anger", face.AngerLikelihood),
		zap.String("surprise", face.SurpriseLikelihood),
		zap.String("emotion", string(label)))

	return label, nil
}
