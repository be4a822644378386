package tracing

import (
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/rewards/config"
)

// Tracer defines the interface for tracing
type Tracer interface {
	Application() *newrelic.Application
	StartTransaction(name string) *newrelic.Transaction
	StartSegment(name string, txn *newrelic.Transaction) *newrelic.Segment
	EndTransaction(txn *newrelic.Transaction)
	RecordError(txn *newrelic.Transaction, err error)
	AddAttribute(txn *newrelic.Transaction, key string, value interface{})
	Close()
}

// NewRelicTracer implements Tracer using New Relic. A tracer without an
// application is disabled and every method is a no-op.
type NewRelicTracer struct {
	app *newrelic.Application
}

// NewTracer creates a new tracer
func NewTracer(cfg config.TracingConfig) (*NewRelicTracer, error) {
	if cfg.LicenseKey == "" {
		log.Warn().Msg("New Relic license key not provided, tracing will be disabled")
		return &NewRelicTracer{}, nil
	}

	app, err := newrelic.NewApplication(
		newrelic.ConfigAppName(cfg.AppName),
		newrelic.ConfigLicense(cfg.LicenseKey),
		newrelic.ConfigDistributedTracerEnabled(cfg.DistribTracing),
		newrelic.ConfigAppLogForwardingEnabled(cfg.LogEnabled),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize New Relic")
	}

	return &NewRelicTracer{app: app}, nil
}

// Disabled returns a tracer that records nothing
func Disabled() *NewRelicTracer {
	return &NewRelicTracer{}
}

// Application returns the New Relic application, nil when disabled
func (t *NewRelicTracer) Application() *newrelic.Application {
	return t.app
}

// StartTransaction starts a new transaction
func (t *NewRelicTracer) StartTransaction(name string) *newrelic.Transaction {
	if t.app == nil {
		return nil
	}
	return t.app.StartTransaction(name)
}

// StartSegment starts a new segment within a transaction
func (t *NewRelicTracer) StartSegment(name string, txn *newrelic.Transaction) *newrelic.Segment {
	if txn == nil {
		return nil
	}
	return txn.StartSegment(name)
}

// EndTransaction ends a transaction
func (t *NewRelicTracer) EndTransaction(txn *newrelic.Transaction) {
	if txn == nil {
		return
	}
	txn.End()
}

// RecordError records an error in a transaction
func (t *NewRelicTracer) RecordError(txn *newrelic.Transaction, err error) {
	if txn == nil || err == nil {
		return
	}
	txn.NoticeError(err)
}

// AddAttribute adds an attribute to a transaction
func (t *NewRelicTracer) AddAttribute(txn *newrelic.Transaction, key string, value interface{}) {
	if txn == nil {
		return
	}
	txn.AddAttribute(key, value)
}

// Close flushes pending data and shuts the agent down
func (t *NewRelicTracer) Close() {
	if t.app == nil {
		return
	}
	t.app.Shutdown(10 * time.Second)
	log.Info().Msg("New Relic tracer shutdown")
}
