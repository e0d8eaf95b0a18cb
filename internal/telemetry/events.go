// Package telemetry emits per-stage processing events and aggregates
// health metrics over the ledger. Emission is fire-and-forget: a slow or
// failing sink never blocks intake.
package telemetry

import (
	"time"

	"go.uber.org/zap"
)

// Stage names used in StageEvent.
const (
	StageDedupe    = "dedupe"
	StageSelect    = "select"
	StageExtract   = "extract"
	StageNormalize = "normalize"
	StagePersist   = "persist"
	StageCRM       = "crm"
	StageComplete  = "complete"
)

// StageEvent describes one pipeline stage finishing for one event.
type StageEvent struct {
	Stage         string
	ExternalID    string
	CorrelationID string
	Tier          string
	Degraded      bool
	Duration      time.Duration
	Err           error
}

// Emitter receives stage events. Implementations must not block.
type Emitter interface {
	Emit(ev StageEvent)
}

// ZapEmitter logs stage events through the global zap logger.
type ZapEmitter struct{}

func (ZapEmitter) Emit(ev StageEvent) {
	fields := []zap.Field{
		zap.String("stage", ev.Stage),
		zap.String("external_id", ev.ExternalID),
		zap.String("correlation_id", ev.CorrelationID),
		zap.Duration("duration", ev.Duration),
	}
	if ev.Tier != "" {
		fields = append(fields, zap.String("tier", ev.Tier))
	}
	if ev.Degraded {
		fields = append(fields, zap.Bool("degraded", true))
	}
	if ev.Err != nil {
		fields = append(fields, zap.Error(ev.Err))
		zap.L().Warn("stage failed", fields...)
		return
	}
	zap.L().Info("stage finished", fields...)
}

// NopEmitter discards all events.
type NopEmitter struct{}

func (NopEmitter) Emit(StageEvent) {}
