// Package detect turns an arbitrary image into normalized detection results
// by invoking an object-detection model once per request.
package detect

import (
	"errors"

	"gocv.io/x/gocv"
)

// RawBox is one raw model output: a pixel-space bounding box with confidence
// and class index, before normalization.
type RawBox struct {
	X1, Y1, X2, Y2 float32
	Confidence     float32
	ClassID        int
}

// Detector is the detection collaborator. Implementations run one inference
// per call and apply the confidence threshold themselves.
type Detector interface {
	// Infer runs the model on img, returning boxes at or above threshold
	// in model output order.
	Infer(img gocv.Mat, threshold float32) ([]RawBox, error)
	// ClassName resolves a model class index to a label.
	ClassName(id int) string
	// ModelName identifies the loaded model, for the health endpoint.
	ModelName() string
}

// Sentinel errors for the request path. ErrDecode maps to a client error for
// uploads and to a server error for stored frames; ErrNoFrame means the
// frame store has never been populated.
var (
	ErrDecode       = errors.New("cannot decode image")
	ErrNoFrame      = errors.New("no frame captured yet")
	ErrBadThreshold = errors.New("threshold must be between 0 and 1")
)
