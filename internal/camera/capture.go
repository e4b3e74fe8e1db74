package camera

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/agv-data/vision/internal/audit"
	"github.com/agv-data/vision/internal/framestore"
	"github.com/agv-data/vision/internal/monitoring"
)

const component = "camera"

// Milestone cadences for audit events: a WARNING every warnEvery read
// failures, an INFO every milestoneEvery captured frames.
const (
	warnEvery      = 10
	milestoneEvery = 100
)

// Loop polls the camera on a fixed interval and publishes each captured
// frame to the frame store. Read failures are counted and retried after the
// same interval; there is no backoff.
type Loop struct {
	cam      Camera
	frames   *framestore.Store
	sink     *audit.Sink
	interval time.Duration

	frameCount atomic.Int64
	errorCount atomic.Int64
}

// NewLoop wires a capture loop. sink must be non-nil (use a sink with a nil
// store to disable persistence).
func NewLoop(cam Camera, frames *framestore.Store, sink *audit.Sink, interval time.Duration) *Loop {
	return &Loop{cam: cam, frames: frames, sink: sink, interval: interval}
}

// Counts returns frames captured and read errors so far.
func (l *Loop) Counts() (frames, errors int64) {
	return l.frameCount.Load(), l.errorCount.Load()
}

// Run captures until ctx is cancelled. The camera is opened once up front;
// an open failure is fatal and the loop never starts. The camera is released
// on every exit path, including a panicking cycle.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.cam.Open(); err != nil {
		monitoring.Logf("capture: cannot start without camera: %v", err)
		l.sink.Critical(component, "camera_open_failed",
			"Failed to open camera - capture cannot start", nil)
		return fmt.Errorf("capture loop startup: %w", err)
	}

	width, height := l.cam.Resolution()
	monitoring.Logf("capture: camera opened at %dx%d, interval %v", width, height, l.interval)
	l.sink.Info(component, "startup", "Camera capture started", map[string]interface{}{
		"resolution":       fmt.Sprintf("%dx%d", width, height),
		"capture_interval": l.interval.String(),
	})

	defer func() {
		if err := l.cam.Close(); err != nil {
			monitoring.Logf("capture: error releasing camera: %v", err)
		}
		frames, errs := l.Counts()
		l.sink.Info(component, "shutdown", "Camera capture stopped", map[string]interface{}{
			"frames_captured": frames,
			"errors":          errs,
		})
		monitoring.Logf("capture: stopped (%d frames, %d errors)", frames, errs)
	}()

	return l.loop(ctx)
}

// loop runs capture cycles until cancellation. A panic inside a cycle is
// recorded as an ERROR event and ends the loop through the shutdown path in
// Run, so the camera handle is always released.
func (l *Loop) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			frames, _ := l.Counts()
			monitoring.Logf("capture: unexpected error: %v", r)
			l.sink.Error(component, "unexpected_error",
				fmt.Sprintf("Unexpected capture error: %v", r), map[string]interface{}{
					"error":           fmt.Sprintf("%v", r),
					"frames_captured": frames,
				})
			err = fmt.Errorf("capture cycle panicked: %v", r)
		}
	}()

	for {
		l.cycle()
		if !sleepCtx(ctx, l.interval) {
			return ctx.Err()
		}
	}
}

func (l *Loop) cycle() {
	mat, err := l.cam.Read()
	if err != nil {
		l.recordFailure(fmt.Errorf("read: %w", err))
		return
	}
	defer mat.Close()

	jpeg, err := EncodeJPEG(mat)
	if err != nil {
		l.recordFailure(fmt.Errorf("encode: %w", err))
		return
	}

	l.frames.Publish(&framestore.Frame{
		JPEG:       jpeg,
		Width:      mat.Cols(),
		Height:     mat.Rows(),
		CapturedAt: time.Now(),
	})

	frames := l.frameCount.Add(1)
	if frames%milestoneEvery == 0 {
		l.sink.Info(component, "capture_milestone",
			fmt.Sprintf("Camera milestone: %d frames captured", frames), map[string]interface{}{
				"frames_captured": frames,
				"errors":          l.errorCount.Load(),
			})
	}
}

func (l *Loop) recordFailure(err error) {
	errs := l.errorCount.Add(1)
	monitoring.Logf("capture: skipping frame: %v", err)
	if errs%warnEvery == 0 {
		l.sink.Warning(component, "capture_failure",
			fmt.Sprintf("Camera capture failed %d times", errs), map[string]interface{}{
				"total_errors":    errs,
				"frames_captured": l.frameCount.Load(),
			})
	}
}

// sleepCtx waits for d or cancellation, reporting false when cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
