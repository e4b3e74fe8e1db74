package db

import (
	"compress/gzip"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	_ "modernc.org/sqlite"
	"tailscale.com/tsweb"
)

type DB struct {
	*sql.DB
}

func NewDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS detections (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp          TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			image_path         TEXT,
			processing_time_ms BIGINT,
			object_class       TEXT,
			confidence         DOUBLE,
			bbox_x1            DOUBLE,
			bbox_y1            DOUBLE,
			bbox_x2            DOUBLE,
			bbox_y2            DOUBLE,
			distance_meters    DOUBLE,
			triggered_stop     BOOLEAN DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS system_logs (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp          TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			level              TEXT,
			component          TEXT,
			event_type         TEXT,
			message            TEXT,
			details            TEXT,
			agv_speed_mms      BIGINT,
			battery_percentage BIGINT,
			position_x         DOUBLE,
			position_y         DOUBLE,
			path_id            BIGINT,
			detection_id       BIGINT
		);
		CREATE INDEX IF NOT EXISTS idx_detections_timestamp ON detections(timestamp);
		CREATE INDEX IF NOT EXISTS idx_system_logs_timestamp ON system_logs(timestamp);
	`)
	if err != nil {
		return nil, err
	}

	return &DB{db}, nil
}

// Detection is one persisted detection record. Bounding box coordinates are
// normalized fractions of the source image dimensions.
type Detection struct {
	ID               int64    `json:"id,omitempty"`
	Timestamp        string   `json:"timestamp,omitempty"`
	ImagePath        string   `json:"image_path"`
	ProcessingTimeMS int64    `json:"processing_time_ms"`
	ObjectClass      string   `json:"object_class"`
	Confidence       float64  `json:"confidence"`
	BboxX1           float64  `json:"bbox_x1"`
	BboxY1           float64  `json:"bbox_y1"`
	BboxX2           float64  `json:"bbox_x2"`
	BboxY2           float64  `json:"bbox_y2"`
	DistanceMeters   *float64 `json:"distance_meters"`
	TriggeredStop    bool     `json:"triggered_stop"`
}

// SystemEvent is one operational log entry. The telemetry fields (speed,
// battery, position, path) are part of the record shape shared with the AGV
// controller; the vision pipeline leaves them nil.
type SystemEvent struct {
	ID                int64                  `json:"id,omitempty"`
	Timestamp         string                 `json:"timestamp,omitempty"`
	Level             string                 `json:"level"`
	Component         string                 `json:"component"`
	EventType         string                 `json:"event_type"`
	Message           string                 `json:"message"`
	Details           map[string]interface{} `json:"details,omitempty"`
	AgvSpeedMMS       *int64                 `json:"agv_speed_mms,omitempty"`
	BatteryPercentage *int64                 `json:"battery_percentage,omitempty"`
	PositionX         *float64               `json:"position_x,omitempty"`
	PositionY         *float64               `json:"position_y,omitempty"`
	PathID            *int64                 `json:"path_id,omitempty"`
	DetectionID       *int64                 `json:"detection_id,omitempty"`
}

// Event levels, matching the system_logs schema.
const (
	LevelDebug    = "DEBUG"
	LevelInfo     = "INFO"
	LevelWarning  = "WARNING"
	LevelError    = "ERROR"
	LevelCritical = "CRITICAL"
)

// InsertDetection stores one detection row and returns its generated id.
func (db *DB) InsertDetection(d Detection) (int64, error) {
	res, err := db.Exec(
		`INSERT INTO detections (
			image_path, processing_time_ms, object_class, confidence,
			bbox_x1, bbox_y1, bbox_x2, bbox_y2,
			distance_meters, triggered_stop
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ImagePath, d.ProcessingTimeMS, d.ObjectClass, d.Confidence,
		d.BboxX1, d.BboxY1, d.BboxX2, d.BboxY2,
		d.DistanceMeters, d.TriggeredStop,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// InsertEvent stores one system event row and returns its generated id.
// Details are serialized as JSON text.
func (db *DB) InsertEvent(e SystemEvent) (int64, error) {
	var details *string
	if len(e.Details) > 0 {
		raw, err := json.Marshal(e.Details)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal event details: %w", err)
		}
		s := string(raw)
		details = &s
	}

	res, err := db.Exec(
		`INSERT INTO system_logs (
			level, component, event_type, message, details,
			agv_speed_mms, battery_percentage, position_x, position_y,
			path_id, detection_id
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Level, e.Component, e.EventType, e.Message, details,
		e.AgvSpeedMMS, e.BatteryPercentage, e.PositionX, e.PositionY,
		e.PathID, e.DetectionID,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// RecentDetections returns up to limit detection rows, newest first.
func (db *DB) RecentDetections(limit int) ([]Detection, error) {
	rows, err := db.Query(
		`SELECT id, timestamp, COALESCE(image_path, ''), processing_time_ms,
			object_class, confidence, bbox_x1, bbox_y1, bbox_x2, bbox_y2,
			distance_meters, triggered_stop
		FROM detections ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Detection
	for rows.Next() {
		var d Detection
		var dist sql.NullFloat64
		if err := rows.Scan(
			&d.ID, &d.Timestamp, &d.ImagePath, &d.ProcessingTimeMS,
			&d.ObjectClass, &d.Confidence, &d.BboxX1, &d.BboxY1, &d.BboxX2, &d.BboxY2,
			&dist, &d.TriggeredStop,
		); err != nil {
			return nil, err
		}
		if dist.Valid {
			d.DistanceMeters = &dist.Float64
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// RecentEvents returns up to limit system events, newest first, optionally
// filtered by level ("" means all levels).
func (db *DB) RecentEvents(limit int, level string) ([]SystemEvent, error) {
	query := `SELECT id, timestamp, level, component, event_type, message, details,
			agv_speed_mms, battery_percentage, position_x, position_y, path_id, detection_id
		FROM system_logs`
	args := []interface{}{}
	if level != "" {
		query += ` WHERE level = ?`
		args = append(args, level)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SystemEvent
	for rows.Next() {
		var e SystemEvent
		var details sql.NullString
		var speed, battery, pathID, detectionID sql.NullInt64
		var posX, posY sql.NullFloat64
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &e.Level, &e.Component, &e.EventType, &e.Message, &details,
			&speed, &battery, &posX, &posY, &pathID, &detectionID,
		); err != nil {
			return nil, err
		}
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, fmt.Errorf("failed to unmarshal event details: %w", err)
			}
		}
		if speed.Valid {
			e.AgvSpeedMMS = &speed.Int64
		}
		if battery.Valid {
			e.BatteryPercentage = &battery.Int64
		}
		if posX.Valid {
			e.PositionX = &posX.Float64
		}
		if posY.Valid {
			e.PositionY = &posY.Float64
		}
		if pathID.Valid {
			e.PathID = &pathID.Int64
		}
		if detectionID.Valid {
			e.DetectionID = &detectionID.Int64
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AttachAdminRoutes attaches debugging endpoints under /debug/: a tailSQL
// live query browser pointed at this database and an on-demand backup
// download. These routes are intended for localhost/tailnet access only.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		log.Fatalf("failed to create tailsql server: %v", err)
	}
	tsql.SetDB("sqlite://vision_data.db", db.DB, &tailsql.DBOptions{
		Label: "Vision DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unixTime := time.Now().Unix()
		backupPath := fmt.Sprintf("backup-%d.db", unixTime)
		if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
			http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", backupPath))
		w.Header().Set("Content-Type", "application/octet-stream")

		backupFile, err := os.Open(backupPath)
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
			return
		}
		defer func() {
			backupFile.Close()
			if err := os.Remove(backupPath); err != nil {
				log.Printf("Failed to remove backup file: %v", err)
			}
		}()

		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, backupFile); err != nil {
			log.Printf("Failed to stream backup: %v", err)
		}
	}))
}
