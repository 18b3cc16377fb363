// Package estimator defines the boundary to the external pose estimation
// model.
package estimator

import (
	"context"
	"errors"

	"github.com/example/body-measure/internal/pose"
)

// ErrNoPose is returned when the model found no body in the image.
var ErrNoPose = errors.New("no pose detected")

// Client exposes the subset of the pose estimator used by measurement sessions.
type Client interface {
	// Estimate detects body keypoints in an encoded image. A frame without a
	// body yields ErrNoPose.
	Estimate(ctx context.Context, userID string, image []byte) (pose.KeypointSet, error)
}
