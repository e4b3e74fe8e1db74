package api

import (
	"log"
	"net/http"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// activityPlot renders detection counts per hour as a PNG line chart. Handy
// for a quick look at camera activity without loading the report page.
func (s *Server) activityPlot(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "audit store not configured")
		return
	}
	activity, err := s.store.DetectionActivity(daysParam(r, 7))
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}

	pts := make(plotter.XYs, 0, len(activity))
	for i, a := range activity {
		pts = append(pts, plotter.XY{X: float64(i), Y: float64(a.Count)})
	}

	p := plot.New()
	p.Title.Text = "Detections per hour"
	p.X.Label.Text = "hour bucket"
	p.Y.Label.Text = "detections"

	line, err := plotter.NewLine(pts)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to build plot")
		return
	}
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())

	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, "failed to render plot")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	if _, err := wt.WriteTo(w); err != nil {
		log.Printf("failed to stream activity plot: %v", err)
	}
}
