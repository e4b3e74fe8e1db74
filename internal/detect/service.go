package detect

import (
	"fmt"
	"math"
	"time"

	"gocv.io/x/gocv"

	"github.com/agv-data/vision/internal/framestore"
)

// BBox is a bounding box in normalized coordinates: fractions of the source
// image width/height, rounded to 4 decimal places.
type BBox struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// PixelBox is the same box in integer pixel coordinates.
type PixelBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

// Record is one detected object. DistanceMeters is reserved for depth
// estimation and always nil in this version; TriggeredStop is set by the
// downstream safety policy, never here.
type Record struct {
	ObjectClass    string   `json:"object_class"`
	Confidence     float64  `json:"confidence"`
	Bbox           BBox     `json:"bbox"`
	BboxPixels     PixelBox `json:"bbox_pixels"`
	DistanceMeters *float64 `json:"distance_meters"`
	TriggeredStop  bool     `json:"triggered_stop"`
}

// Result is the response envelope for one inference call. Detections keep
// the model's output order; ProcessingTimeMS covers the inference call only.
type Result struct {
	Detections       []Record `json:"detections"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
	TotalObjects     int      `json:"total_objects"`
}

// Service is the stateless request path: decode, one inference, normalize.
type Service struct {
	det    Detector
	frames *framestore.Store
}

func NewService(det Detector, frames *framestore.Store) *Service {
	return &Service{det: det, frames: frames}
}

// ModelName exposes the collaborator's model identity for /health.
func (s *Service) ModelName() string {
	return s.det.ModelName()
}

// DetectFromBytes decodes imageBytes and runs one inference at threshold.
// Undecodable input returns ErrDecode without invoking the detector; an
// out-of-range threshold returns ErrBadThreshold. A detector failure is
// propagated rather than masked: callers must never mistake a model error
// for an empty scene.
func (s *Service) DetectFromBytes(imageBytes []byte, threshold float64) (*Result, error) {
	if !validThreshold(threshold) {
		return nil, fmt.Errorf("%w: got %v", ErrBadThreshold, threshold)
	}

	img, err := gocv.IMDecode(imageBytes, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, ErrDecode
	}

	start := time.Now()
	boxes, err := s.det.Infer(img, float32(threshold))
	processingMS := time.Since(start).Milliseconds()
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	width := float64(img.Cols())
	height := float64(img.Rows())

	records := make([]Record, 0, len(boxes))
	for _, b := range boxes {
		records = append(records, Record{
			ObjectClass: s.det.ClassName(b.ClassID),
			Confidence:  round4(float64(b.Confidence)),
			Bbox: BBox{
				X1: round4(float64(b.X1) / width),
				Y1: round4(float64(b.Y1) / height),
				X2: round4(float64(b.X2) / width),
				Y2: round4(float64(b.Y2) / height),
			},
			BboxPixels: PixelBox{
				X1: int(b.X1),
				Y1: int(b.Y1),
				X2: int(b.X2),
				Y2: int(b.Y2),
			},
		})
	}

	return &Result{
		Detections:       records,
		ProcessingTimeMS: processingMS,
		TotalObjects:     len(records),
	}, nil
}

// DetectFromStore runs inference on the latest captured frame. Returns
// ErrNoFrame when nothing has been captured yet; a stored frame that fails
// to decode is a server-side ErrDecode.
func (s *Service) DetectFromStore(threshold float64) (*Result, error) {
	if !validThreshold(threshold) {
		return nil, fmt.Errorf("%w: got %v", ErrBadThreshold, threshold)
	}
	frame := s.frames.Latest()
	if frame == nil {
		return nil, ErrNoFrame
	}
	return s.DetectFromBytes(frame.JPEG, threshold)
}

// validThreshold accepts [0, 1]. Written as a positive check so NaN, which
// fails every comparison, is rejected rather than slipping past a range test.
func validThreshold(threshold float64) bool {
	return threshold >= 0 && threshold <= 1
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
