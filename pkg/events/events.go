// Package events implements the EventSink external interface (spec.md §6),
// grounded on the teacher's zap setup (pkg/util/log.go) generalized from a
// fixed production config into a sink that tags every record with the
// category/kind/actor/txId shape every component emits.
package events

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink is the external collaborator every component logs domain events
// through. LogEvent is fire-and-forget: it never returns an error the caller
// observes (spec.md §1 AMBIENT STACK).
type Sink interface {
	LogEvent(category, kind, actor string, payload interface{}, txID string)
	// CriticalSettlementFailure logs a settlement failure at error level
	// without aborting the surrounding transaction (spec.md §7 rule 3).
	CriticalSettlementFailure(tradeID string, err error)
}

// ZapSink is the default Sink backing, JSON-encoded, ISO8601 timestamps —
// the same shape as pkg/util.NewLogger, generalized to one sugared logger
// shared by every component instead of one logger per subsystem.
type ZapSink struct {
	log *zap.SugaredLogger
}

func NewZapSink(log *zap.Logger) *ZapSink {
	return &ZapSink{log: log.Sugar()}
}

// NewProductionSink builds a zap logger with the teacher's JSON/ISO8601
// config (pkg/util.NewLogger) and wraps it as a Sink.
func NewProductionSink() (*ZapSink, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return NewZapSink(log), nil
}

func (s *ZapSink) LogEvent(category, kind, actor string, payload interface{}, txID string) {
	s.log.Infow("event",
		"category", category,
		"kind", kind,
		"actor", actor,
		"txId", txID,
		"payload", payload,
	)
}

// CriticalSettlementFailure implements Sink's settlement-failure hook
// (spec.md §7: settlement failures are recorded on the trade, not
// escalated to an abort).
func (s *ZapSink) CriticalSettlementFailure(tradeID string, err error) {
	s.log.Errorw("settlement_failure", "tradeId", tradeID, "error", err)
}

// NoopSink discards every event; used by component unit tests that don't
// want to pull in zap.
type NoopSink struct{}

func (NoopSink) LogEvent(category, kind, actor string, payload interface{}, txID string) {}
func (NoopSink) CriticalSettlementFailure(tradeID string, err error)                     {}

var _ Sink = (*ZapSink)(nil)
var _ Sink = NoopSink{}
