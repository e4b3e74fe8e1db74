package camera

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"github.com/agv-data/vision/internal/audit"
	"github.com/agv-data/vision/internal/db"
	"github.com/agv-data/vision/internal/framestore"
)

// eventRecorder implements audit.Store, capturing events in memory.
type eventRecorder struct {
	mu     sync.Mutex
	events []db.SystemEvent
}

func (r *eventRecorder) InsertDetection(d db.Detection) (int64, error) { return 1, nil }

func (r *eventRecorder) InsertEvent(e db.SystemEvent) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return int64(len(r.events)), nil
}

func (r *eventRecorder) Ping() error { return nil }

func (r *eventRecorder) byType(eventType string) []db.SystemEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []db.SystemEvent
	for _, e := range r.events {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func newTestLoop(t *testing.T, cam Camera) (*Loop, *framestore.Store, *eventRecorder, *audit.Sink) {
	t.Helper()
	frames, err := framestore.NewStore("")
	require.NoError(t, err)
	rec := &eventRecorder{}
	sink := audit.NewSink(rec, 64)
	sink.Start()
	return NewLoop(cam, frames, sink, time.Millisecond), frames, rec, sink
}

func TestRunFailsWhenCameraCannotOpen(t *testing.T) {
	cam := NewMockCamera(640, 480)
	cam.OpenErr = errors.New("no such device")
	loop, _, rec, sink := newTestLoop(t, cam)

	err := loop.Run(context.Background())
	require.Error(t, err)
	sink.Stop()

	critical := rec.byType("camera_open_failed")
	require.Len(t, critical, 1)
	assert.Equal(t, db.LevelCritical, critical[0].Level)
	// shutdown path never runs when the loop could not start
	assert.Empty(t, rec.byType("shutdown"))
}

func TestRunPublishesFramesAndStops(t *testing.T) {
	cam := NewMockCamera(64, 48)
	loop, frames, rec, sink := newTestLoop(t, cam)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		return frames.Latest() != nil
	}, time.Second, time.Millisecond)

	cancel()
	err := <-done
	require.ErrorIs(t, err, context.Canceled)
	sink.Stop()

	f := frames.Latest()
	require.NotNil(t, f)
	assert.Equal(t, 64, f.Width)
	assert.Equal(t, 48, f.Height)
	assert.NotEmpty(t, f.JPEG)

	assert.True(t, cam.Closed(), "camera must be released on shutdown")
	require.Len(t, rec.byType("startup"), 1)
	require.Len(t, rec.byType("shutdown"), 1)

	captured, readErrors := loop.Counts()
	assert.Greater(t, captured, int64(0))
	assert.Zero(t, readErrors)
}

// Ten consecutive read failures produce exactly one warning event, and no
// frame reaches the store until the first successful read.
func TestReadFailuresWarnEveryTenth(t *testing.T) {
	cam := NewMockCamera(64, 48)
	cam.FailReads = 10
	loop, frames, rec, sink := newTestLoop(t, cam)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		return frames.Latest() != nil
	}, time.Second, time.Millisecond)
	cancel()
	<-done
	sink.Stop()

	warnings := rec.byType("capture_failure")
	require.Len(t, warnings, 1)
	assert.Equal(t, db.LevelWarning, warnings[0].Level)
	assert.EqualValues(t, 10, warnings[0].Details["total_errors"])
	assert.EqualValues(t, 0, warnings[0].Details["frames_captured"])

	_, readErrors := loop.Counts()
	assert.EqualValues(t, 10, readErrors)
}

// panicCamera reads normally until panicAfter frames, then panics.
type panicCamera struct {
	*MockCamera
	panicAfter int
}

func (p *panicCamera) Read() (gocv.Mat, error) {
	if p.Reads() >= p.panicAfter {
		panic("video backend crashed")
	}
	return p.MockCamera.Read()
}

// A panicking capture cycle must surface as an ERROR event with the frame
// count so far, and still run the full shutdown path: camera released,
// shutdown event emitted.
func TestPanicInCycleRecordsErrorAndShutsDown(t *testing.T) {
	cam := &panicCamera{MockCamera: NewMockCamera(64, 48), panicAfter: 2}
	loop, frames, rec, sink := newTestLoop(t, cam.MockCamera)
	loop.cam = cam

	err := loop.Run(context.Background())
	require.Error(t, err)
	sink.Stop()

	require.NotNil(t, frames.Latest(), "frames before the panic must still be published")

	unexpected := rec.byType("unexpected_error")
	require.Len(t, unexpected, 1)
	assert.Equal(t, db.LevelError, unexpected[0].Level)
	assert.EqualValues(t, 2, unexpected[0].Details["frames_captured"])

	assert.True(t, cam.Closed(), "camera must be released after a panic")
	require.Len(t, rec.byType("shutdown"), 1)
}

func TestShutdownEventCarriesFinalCounts(t *testing.T) {
	cam := NewMockCamera(64, 48)
	loop, frames, rec, sink := newTestLoop(t, cam)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	require.Eventually(t, func() bool {
		return frames.Latest() != nil
	}, time.Second, time.Millisecond)
	cancel()
	<-done
	sink.Stop()

	shutdown := rec.byType("shutdown")
	require.Len(t, shutdown, 1)
	captured, _ := loop.Counts()
	assert.EqualValues(t, captured, shutdown[0].Details["frames_captured"])
}
