package app

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/artpar/usagegate/adapters/metrics"
	"github.com/artpar/usagegate/domain/errclass"
	"github.com/artpar/usagegate/ports"
)

// ErrorHandler turns raw errors into classified, logged, alerted and
// client-safe failures. The pipeline is classify, log, alert; the web
// layer renders the returned Classified.
type ErrorHandler struct {
	alerts  ports.AlertStore
	sinks   []ports.AlertSink
	clock   ports.Clock
	ids     ports.IDGenerator
	log     zerolog.Logger
	metrics *metrics.Collector
}

// NewErrorHandler creates an error handler.
func NewErrorHandler(alerts ports.AlertStore, sinks []ports.AlertSink, clock ports.Clock, ids ports.IDGenerator, m *metrics.Collector, log zerolog.Logger) *ErrorHandler {
	return &ErrorHandler{
		alerts:  alerts,
		sinks:   sinks,
		clock:   clock,
		ids:     ids,
		log:     log.With().Str("component", "errors").Logger(),
		metrics: m,
	}
}

// Handle classifies err and runs the side effects. Alerting failures
// are swallowed: an error in the error path must never mask the
// original failure.
func (h *ErrorHandler) Handle(ctx context.Context, err error, identity, provider string, extra map[string]any) errclass.Classified {
	c := errclass.Classify(err, identity, provider, extra, h.clock.Now())

	event := h.logEvent(c.Severity)
	event.
		Str("type", string(c.Kind)).
		Str("severity", string(c.Severity)).
		Str("identity", c.Identity).
		Str("provider", c.Provider).
		Fields(c.Context).
		Msg(c.Message)

	if h.metrics != nil {
		h.metrics.ErrorsTotal.WithLabelValues(string(c.Kind), string(c.Severity)).Inc()
	}

	if c.Severity.Alertable() {
		h.alert(ctx, c)
	}
	return c
}

func (h *ErrorHandler) logEvent(s errclass.Severity) *zerolog.Event {
	switch s {
	case errclass.SeverityCritical:
		return h.log.Error()
	case errclass.SeverityHigh:
		return h.log.Error()
	case errclass.SeverityMedium:
		return h.log.Warn()
	default:
		return h.log.Info()
	}
}

func (h *ErrorHandler) alert(ctx context.Context, c errclass.Classified) {
	a := ports.Alert{
		ID:        h.ids.New(),
		Kind:      ports.AlertKindError,
		Identity:  c.Identity,
		Provider:  c.Provider,
		Severity:  c.Severity,
		Message:   string(c.Kind) + ": " + c.Message,
		CreatedAt: c.Timestamp,
	}
	if err := h.alerts.Create(ctx, a); err != nil {
		h.log.Error().Err(err).Str("alert_id", a.ID).Msg("persist error alert")
	}
	for _, sink := range h.sinks {
		if err := sink.Notify(ctx, a); err != nil {
			h.log.Warn().Err(err).Str("alert_id", a.ID).Msg("deliver error alert")
		}
	}
}
