package db

import (
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func floatPtr(f float64) *float64 { return &f }

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestInsertDetection(t *testing.T) {
	db := newTestDB(t)

	d := Detection{
		ImagePath:        "images/latest.jpg",
		ProcessingTimeMS: 45,
		ObjectClass:      "person",
		Confidence:       0.8912,
		BboxX1:           0.12, BboxY1: 0.34, BboxX2: 0.45, BboxY2: 0.89,
		TriggeredStop: false,
	}

	id, err := db.InsertDetection(d)
	if err != nil {
		t.Fatalf("InsertDetection failed: %v", err)
	}
	if id == 0 {
		t.Error("expected non-zero detection id")
	}

	got, err := db.RecentDetections(10)
	if err != nil {
		t.Fatalf("RecentDetections failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d detections, want 1", len(got))
	}

	want := d
	want.ID = id
	if diff := cmp.Diff(want, got[0], cmpopts.IgnoreFields(Detection{}, "Timestamp")); diff != "" {
		t.Errorf("detection mismatch (-want +got):\n%s", diff)
	}
	if got[0].DistanceMeters != nil {
		t.Errorf("distance_meters = %v, want nil (depth estimation unimplemented)", *got[0].DistanceMeters)
	}
}

func TestRecentDetectionsOrderAndLimit(t *testing.T) {
	db := newTestDB(t)

	for i, class := range []string{"person", "box", "forklift"} {
		_, err := db.InsertDetection(Detection{
			ObjectClass:      class,
			Confidence:       0.5,
			ProcessingTimeMS: int64(10 + i),
		})
		if err != nil {
			t.Fatalf("InsertDetection failed: %v", err)
		}
	}

	got, err := db.RecentDetections(2)
	if err != nil {
		t.Fatalf("RecentDetections failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d detections, want 2", len(got))
	}
	if got[0].ObjectClass != "forklift" || got[1].ObjectClass != "box" {
		t.Errorf("unexpected order: %s, %s", got[0].ObjectClass, got[1].ObjectClass)
	}
}

func TestInsertEventRoundTrip(t *testing.T) {
	db := newTestDB(t)

	e := SystemEvent{
		Level:     LevelWarning,
		Component: "camera",
		EventType: "capture_failure",
		Message:   "Camera capture failed 10 times",
		Details: map[string]interface{}{
			"total_errors":    float64(10),
			"frames_captured": float64(3),
		},
	}

	id, err := db.InsertEvent(e)
	if err != nil {
		t.Fatalf("InsertEvent failed: %v", err)
	}
	if id == 0 {
		t.Error("expected non-zero event id")
	}

	got, err := db.RecentEvents(10, "")
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	want := e
	want.ID = id
	if diff := cmp.Diff(want, got[0], cmpopts.IgnoreFields(SystemEvent{}, "Timestamp")); diff != "" {
		t.Errorf("event mismatch (-want +got):\n%s", diff)
	}
}

func TestRecentEventsLevelFilter(t *testing.T) {
	db := newTestDB(t)

	events := []SystemEvent{
		{Level: LevelInfo, Component: "camera", EventType: "startup", Message: "started"},
		{Level: LevelWarning, Component: "camera", EventType: "capture_failure", Message: "failed"},
		{Level: LevelInfo, Component: "vision-ai", EventType: "startup", Message: "started"},
	}
	for _, e := range events {
		if _, err := db.InsertEvent(e); err != nil {
			t.Fatalf("InsertEvent failed: %v", err)
		}
	}

	warnings, err := db.RecentEvents(10, LevelWarning)
	if err != nil {
		t.Fatalf("RecentEvents failed: %v", err)
	}
	if len(warnings) != 1 || warnings[0].EventType != "capture_failure" {
		t.Errorf("level filter returned %+v, want single capture_failure", warnings)
	}
}

func TestDetectionRollup(t *testing.T) {
	db := newTestDB(t)

	// five person detections with spread-out processing times, one box
	times := []int64{10, 20, 30, 40, 50}
	for _, ms := range times {
		_, err := db.InsertDetection(Detection{
			ObjectClass:      "person",
			Confidence:       0.9,
			ProcessingTimeMS: ms,
		})
		if err != nil {
			t.Fatalf("InsertDetection failed: %v", err)
		}
	}
	if _, err := db.InsertDetection(Detection{ObjectClass: "box", Confidence: 0.6, ProcessingTimeMS: 15}); err != nil {
		t.Fatalf("InsertDetection failed: %v", err)
	}

	rollup, err := db.DetectionRollup(1)
	if err != nil {
		t.Fatalf("DetectionRollup failed: %v", err)
	}
	if len(rollup) != 2 {
		t.Fatalf("got %d classes, want 2", len(rollup))
	}
	// person sorts first (higher count)
	person := rollup[0]
	if person.ObjectClass != "person" || person.Count != 5 {
		t.Fatalf("unexpected first rollup row: %+v", person)
	}
	if person.MeanConf != 0.9 {
		t.Errorf("mean confidence = %v, want 0.9", person.MeanConf)
	}
	if person.P50ProcTimeMS < 20 || person.P50ProcTimeMS > 40 {
		t.Errorf("p50 = %v, want near median of %v", person.P50ProcTimeMS, times)
	}
	if person.P98ProcTimeMS < person.P50ProcTimeMS {
		t.Errorf("p98 (%v) < p50 (%v)", person.P98ProcTimeMS, person.P50ProcTimeMS)
	}
}

func TestDetectionActivity(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 3; i++ {
		if _, err := db.InsertDetection(Detection{ObjectClass: "person", Confidence: 0.7}); err != nil {
			t.Fatalf("InsertDetection failed: %v", err)
		}
	}

	activity, err := db.DetectionActivity(1)
	if err != nil {
		t.Fatalf("DetectionActivity failed: %v", err)
	}
	if len(activity) != 1 {
		t.Fatalf("got %d buckets, want 1", len(activity))
	}
	if activity[0].Count != 3 {
		t.Errorf("bucket count = %d, want 3", activity[0].Count)
	}
}

func TestMigrateUpAndVersion(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "migrate.db")
	db, err := NewDB(dbPath)
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp("migrations"); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	version, dirty, err := db.MigrateVersion("migrations")
	if err != nil {
		t.Fatalf("MigrateVersion failed: %v", err)
	}
	if dirty {
		t.Error("schema reported dirty after clean migration")
	}
	if version != 1 {
		t.Errorf("version = %d, want 1", version)
	}
}
