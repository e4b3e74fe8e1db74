// Package camera provides the frame-acquisition side of the vision pipeline:
// an abstraction over a V4L2 webcam and the capture loop that publishes the
// freshest frame for the detection service and out-of-process consumers.
package camera

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Camera abstracts the capture device. Implementations: Webcam (gocv) for
// hardware, MockCamera for dev mode and tests.
type Camera interface {
	// Open acquires the device. Must be called once before Read.
	Open() error
	// Read captures a single frame. The caller owns the returned Mat and
	// must Close it.
	Read() (gocv.Mat, error)
	// Resolution reports the negotiated frame size. Only valid after a
	// successful Open; a device may not honour the requested size exactly.
	Resolution() (width, height int)
	// Close releases the device.
	Close() error
}

// Webcam captures from a local video device via OpenCV.
type Webcam struct {
	deviceID  int
	reqWidth  int
	reqHeight int

	cap    *gocv.VideoCapture
	width  int
	height int
}

// NewWebcam creates a webcam for the given device index. width and height
// are requested from the driver; the negotiated values are read back on Open.
func NewWebcam(deviceID, width, height int) *Webcam {
	return &Webcam{deviceID: deviceID, reqWidth: width, reqHeight: height}
}

func (w *Webcam) Open() error {
	cap, err := gocv.OpenVideoCapture(w.deviceID)
	if err != nil {
		return fmt.Errorf("failed to open camera %d: %w", w.deviceID, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return fmt.Errorf("camera %d did not open", w.deviceID)
	}

	cap.Set(gocv.VideoCaptureFrameWidth, float64(w.reqWidth))
	cap.Set(gocv.VideoCaptureFrameHeight, float64(w.reqHeight))

	// read back what the driver actually negotiated
	w.width = int(cap.Get(gocv.VideoCaptureFrameWidth))
	w.height = int(cap.Get(gocv.VideoCaptureFrameHeight))
	w.cap = cap
	return nil
}

func (w *Webcam) Read() (gocv.Mat, error) {
	if w.cap == nil {
		return gocv.Mat{}, fmt.Errorf("camera %d not opened", w.deviceID)
	}
	mat := gocv.NewMat()
	if ok := w.cap.Read(&mat); !ok || mat.Empty() {
		mat.Close()
		return gocv.Mat{}, fmt.Errorf("failed to read frame from camera %d", w.deviceID)
	}
	return mat, nil
}

func (w *Webcam) Resolution() (int, int) {
	return w.width, w.height
}

func (w *Webcam) Close() error {
	if w.cap == nil {
		return nil
	}
	err := w.cap.Close()
	w.cap = nil
	return err
}

// EncodeJPEG serializes a frame to JPEG bytes.
func EncodeJPEG(mat gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(".jpg", mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	defer buf.Close()
	// copy out: the native buffer is freed on Close
	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return data, nil
}
