package api

import (
	"fmt"
	"net/http"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// showReport renders a detection summary page: objects seen per class and
// inference latency percentiles over the requested window.
func (s *Server) showReport(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}
	days := daysParam(r, 7)

	rollups, err := s.store.DetectionRollup(days)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}
	activity, err := s.store.DetectionActivity(days)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}

	classes := make([]string, 0, len(rollups))
	counts := make([]opts.BarData, 0, len(rollups))
	p50 := make([]opts.BarData, 0, len(rollups))
	p98 := make([]opts.BarData, 0, len(rollups))
	for _, rl := range rollups {
		classes = append(classes, rl.ObjectClass)
		counts = append(counts, opts.BarData{Value: rl.Count})
		p50 = append(p50, opts.BarData{Value: rl.P50ProcTimeMS})
		p98 = append(p98, opts.BarData{Value: rl.P98ProcTimeMS})
	}

	countChart := charts.NewBar()
	countChart.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Objects detected per class",
			Subtitle: fmt.Sprintf("last %d days", days),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	countChart.SetXAxis(classes).
		AddSeries("detections", counts)

	latencyChart := charts.NewBar()
	latencyChart.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Inference latency by class (ms)",
			Subtitle: "p50 and p98 of processing_time_ms",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	latencyChart.SetXAxis(classes).
		AddSeries("p50", p50).
		AddSeries("p98", p98)

	hours := make([]string, 0, len(activity))
	perHour := make([]opts.LineData, 0, len(activity))
	for _, a := range activity {
		hours = append(hours, a.Hour)
		perHour = append(perHour, opts.LineData{Value: a.Count})
	}
	activityChart := charts.NewLine()
	activityChart.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Detections per hour"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	activityChart.SetXAxis(hours).
		AddSeries("detections", perHour)

	page := components.NewPage()
	page.AddCharts(countChart, latencyChart, activityChart)
	if err := page.Render(w); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to render report")
	}
}
