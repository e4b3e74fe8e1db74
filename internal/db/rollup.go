package db

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// ClassRollup summarizes persisted detections for one object class over a
// trailing window. Percentiles are over per-record inference time.
type ClassRollup struct {
	ObjectClass   string  `json:"object_class"`
	Count         int     `json:"count"`
	MeanConf      float64 `json:"mean_confidence"`
	MaxConf       float64 `json:"max_confidence"`
	P50ProcTimeMS float64 `json:"p50_processing_time_ms"`
	P85ProcTimeMS float64 `json:"p85_processing_time_ms"`
	P98ProcTimeMS float64 `json:"p98_processing_time_ms"`
	StopCount     int     `json:"triggered_stop_count"`
}

// DetectionRollup aggregates detections from the last `days` days per object
// class, ordered by descending count.
func (db *DB) DetectionRollup(days int) ([]ClassRollup, error) {
	rows, err := db.Query(
		`SELECT object_class, confidence, processing_time_ms, triggered_stop
		FROM detections
		WHERE timestamp >= datetime('now', ?)`,
		fmt.Sprintf("-%d days", days),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type acc struct {
		confs []float64
		times []float64
		stops int
	}
	byClass := make(map[string]*acc)

	for rows.Next() {
		var class string
		var conf float64
		var procMS int64
		var stopped bool
		if err := rows.Scan(&class, &conf, &procMS, &stopped); err != nil {
			return nil, err
		}
		a := byClass[class]
		if a == nil {
			a = &acc{}
			byClass[class] = a
		}
		a.confs = append(a.confs, conf)
		a.times = append(a.times, float64(procMS))
		if stopped {
			a.stops++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]ClassRollup, 0, len(byClass))
	for class, a := range byClass {
		sort.Float64s(a.times)
		maxConf := 0.0
		for _, c := range a.confs {
			if c > maxConf {
				maxConf = c
			}
		}
		out = append(out, ClassRollup{
			ObjectClass:   class,
			Count:         len(a.confs),
			MeanConf:      stat.Mean(a.confs, nil),
			MaxConf:       maxConf,
			P50ProcTimeMS: stat.Quantile(0.50, stat.Empirical, a.times, nil),
			P85ProcTimeMS: stat.Quantile(0.85, stat.Empirical, a.times, nil),
			P98ProcTimeMS: stat.Quantile(0.98, stat.Empirical, a.times, nil),
			StopCount:     a.stops,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ObjectClass < out[j].ObjectClass
	})
	return out, nil
}

// HourlyActivity is the number of detections recorded in one hour bucket.
type HourlyActivity struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// DetectionActivity returns detection counts bucketed by hour over the last
// `days` days, oldest first. Used by the activity plot.
func (db *DB) DetectionActivity(days int) ([]HourlyActivity, error) {
	rows, err := db.Query(
		`SELECT strftime('%Y-%m-%d %H:00', timestamp) AS hour, COUNT(*)
		FROM detections
		WHERE timestamp >= datetime('now', ?)
		GROUP BY hour ORDER BY hour`,
		fmt.Sprintf("-%d days", days),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HourlyActivity
	for rows.Next() {
		var h HourlyActivity
		if err := rows.Scan(&h.Hour, &h.Count); err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
