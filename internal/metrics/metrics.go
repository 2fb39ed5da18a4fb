package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"baysebatch/internal/core/domain"
)

// Recorder tracks batch progress. A nil *Recorder discards everything.
type Recorder struct {
	Submissions  *prometheus.CounterVec
	RateLimited  prometheus.Counter
	StatusPolls  *prometheus.CounterVec
	ResultsSaved prometheus.Counter
	SkippedLines *prometheus.CounterVec
	PacingDelay  prometheus.Gauge
}

// NewRecorder creates the collectors and registers them with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		Submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bayse_submissions_total",
			Help: "Interpretation submissions by outcome",
		}, []string{"outcome"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bayse_rate_limited_total",
			Help: "Submissions rejected with HTTP 429",
		}),
		StatusPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bayse_status_polls_total",
			Help: "Status checks by reported status, or error when none came back",
		}, []string{"status"}),
		ResultsSaved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bayse_results_saved_total",
			Help: "Results appended to the output file",
		}),
		SkippedLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bayse_skipped_lines_total",
			Help: "Input lines rejected before any API call",
		}, []string{"flow"}),
		PacingDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bayse_pacing_delay_seconds",
			Help: "Current delay between submissions",
		}),
	}
	reg.MustRegister(r.Submissions, r.RateLimited, r.StatusPolls, r.ResultsSaved, r.SkippedLines, r.PacingDelay)
	return r
}

// Handler serves the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (r *Recorder) Submission(outcome string) {
	if r == nil {
		return
	}
	r.Submissions.WithLabelValues(outcome).Inc()
}

func (r *Recorder) RateLimit() {
	if r == nil {
		return
	}
	r.RateLimited.Inc()
}

func (r *Recorder) StatusPoll(s domain.Status) {
	if r == nil {
		return
	}
	r.StatusPolls.WithLabelValues(s.String()).Inc()
}

// PollError counts status checks that got no usable status back (transport or HTTP failure).
func (r *Recorder) PollError() {
	if r == nil {
		return
	}
	r.StatusPolls.WithLabelValues("error").Inc()
}

func (r *Recorder) ResultSaved() {
	if r == nil {
		return
	}
	r.ResultsSaved.Inc()
}

func (r *Recorder) SkippedLine(flow string) {
	if r == nil {
		return
	}
	r.SkippedLines.WithLabelValues(flow).Inc()
}

func (r *Recorder) Delay(d time.Duration) {
	if r == nil {
		return
	}
	r.PacingDelay.Set(d.Seconds())
}
