package metrics

import (
	"context"
	"time"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// Recorder knows how to measure the sandbox runtime.
type Recorder interface {
	// MeasureRun measures a closed run by its outcome and closure.
	MeasureRun(ctx context.Context, outcome, closure model.RunState, duration time.Duration)
	MeasurePolicyDecision(ctx context.Context, verdict model.PolicyVerdict)
	MeasureLimitFallback(ctx context.Context, kind model.LimitKind)
	MeasureSnapshot(ctx context.Context, op string, success bool, duration time.Duration)
	MeasureRestoreDivergence(ctx context.Context, failedPaths int)
}

//go:generate mockery --case underscore --output metricsmock --outpkg metricsmock --name Recorder --structname MockRecorder

// Noop is a recorder that doesn't measure.
const Noop = noop(0)

type noop int

func (noop) MeasureRun(context.Context, model.RunState, model.RunState, time.Duration) {}
func (noop) MeasurePolicyDecision(context.Context, model.PolicyVerdict)                {}
func (noop) MeasureLimitFallback(context.Context, model.LimitKind)                     {}
func (noop) MeasureSnapshot(context.Context, string, bool, time.Duration)              {}
func (noop) MeasureRestoreDivergence(context.Context, int)                             {}
