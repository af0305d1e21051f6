package cycle

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"station-alerts/internal/aggregator"
	"station-alerts/internal/evaluator"
	"station-alerts/internal/logging"
	"station-alerts/internal/models"
)

// Publisher delivers one alert and reports whether it went out.
type Publisher interface {
	Publish(ctx context.Context, alert models.Alert) error
}

// Mirror receives a copy of every delivered alert. Mirror failures are
// logged and do not affect delivery counts.
type Mirror interface {
	Mirror(ctx context.Context, alert models.Alert) error
}

// Runner executes the aggregate, evaluate and publish pipeline. One Runner
// serves every cadence; Run is safe for concurrent use.
type Runner struct {
	agg     *aggregator.Aggregator
	eval    *evaluator.Evaluator
	pub     Publisher
	mirrors []Mirror
	logger  *logging.Logger
	now     func() time.Time

	mu   sync.Mutex
	last map[string]models.CycleSummary
}

type Option func(*Runner)

// WithMirror adds m to the mirrors notified after each delivered alert.
func WithMirror(m Mirror) Option {
	return func(r *Runner) { r.mirrors = append(r.mirrors, m) }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

func NewRunner(agg *aggregator.Aggregator, eval *evaluator.Evaluator, pub Publisher, logger *logging.Logger, opts ...Option) *Runner {
	if logger == nil {
		logger = logging.Nop()
	}
	r := &Runner{
		agg:    agg,
		eval:   eval,
		pub:    pub,
		logger: logger.Component("cycle"),
		now:    time.Now,
		last:   make(map[string]models.CycleSummary),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run executes one cycle over the trailing window and always returns and
// logs its summary. Failures never escape the cycle.
func (r *Runner) Run(ctx context.Context, cadence string, window time.Duration) models.CycleSummary {
	started := r.now()
	w := aggregator.Trailing(started, window)
	summary := models.CycleSummary{
		CycleID:     uuid.NewString(),
		Cadence:     cadence,
		WindowStart: w.Start,
		WindowEnd:   w.End,
	}
	log := r.logger.With(logrus.Fields{"cadence": cadence, "cycle_id": summary.CycleID})

	defer func() {
		summary.Duration = r.now().Sub(started)
		r.record(summary)
		r.report(log, summary)
	}()

	records, err := r.agg.Collect(ctx, w)
	if err != nil {
		summary.Error = err.Error()
		log.Errorf("Cycle aborted: %v", err)
		return summary
	}
	summary.Records = len(records)

	alerts, rejected := r.eval.Evaluate(records)
	summary.Malformed = len(rejected)
	summary.Violations = len(alerts)
	for _, rj := range rejected {
		log.WithFields(logrus.Fields{
			"station_id":  rj.Record.StationID,
			"variable_id": rj.Record.VariableID,
		}).Warnf("Skipping record: %v", rj.Err)
	}

	for _, alert := range alerts {
		alert.CycleID = summary.CycleID
		if err := r.pub.Publish(ctx, alert); err != nil {
			summary.Failed++
			log.WithFields(logrus.Fields{"topic": alert.Topic, "alert_id": alert.ID}).Errorf("Failed to publish alert: %v", err)
			continue
		}
		summary.Sent++
		r.mirror(ctx, log, alert)
	}
	return summary
}

func (r *Runner) mirror(ctx context.Context, log *logging.Logger, alert models.Alert) {
	for _, m := range r.mirrors {
		if err := m.Mirror(ctx, alert); err != nil {
			log.WithField("alert_id", alert.ID).Warnf("Alert mirror failed: %v", err)
		}
	}
}

func (r *Runner) report(log *logging.Logger, s models.CycleSummary) {
	entry := log.WithFields(logrus.Fields{
		"records":     s.Records,
		"violations":  s.Violations,
		"malformed":   s.Malformed,
		"sent":        s.Sent,
		"failed":      s.Failed,
		"duration_ms": s.Duration.Milliseconds(),
	})
	switch {
	case s.Aborted():
		entry.WithField("error", s.Error).Error("Cycle summary")
	case s.Failed > 0 || s.Malformed > 0:
		entry.Warn("Cycle summary")
	default:
		entry.Infof("Alerts sent: %d", s.Sent)
	}
}

func (r *Runner) record(s models.CycleSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.last[s.Cadence] = s
}

// Last returns the most recent summary of every cadence, ordered by cadence.
func (r *Runner) Last() []models.CycleSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]models.CycleSummary, 0, len(r.last))
	for _, s := range r.last {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Cadence < list[j].Cadence })
	return list
}

// Job adapts the runner to a scheduler entry for one cadence.
func (r *Runner) Job(cadence string, window time.Duration) func(context.Context) error {
	return func(ctx context.Context) error {
		s := r.Run(ctx, cadence, window)
		if s.Aborted() {
			return errors.New(s.Error)
		}
		return nil
	}
}
