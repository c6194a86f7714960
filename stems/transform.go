package stems

import (
	"context"
	"fmt"
	"log"
	"math"
	"stem-sync/dsp"
	"stem-sync/match"
)

const (
	// BPM differences inside this band count as already matching.
	tempoToleranceBpm = 1.0

	// shifts beyond this many semitones transpose before stretching;
	// large pitch moves are more stable on untouched audio
	transposeFirstAbove = 3
)

// Plan describes the transform that aligns one stem with another.
// Derived once from the session inputs and never mutated.
type Plan struct {
	NeedsTransposition bool
	Semitones          int
	NeedsTempoChange   bool
	TempoRatio         float64
	TransposeFirst     bool
}

// PlanTransform derives the plan that moves (sourceKey, sourceBpm)
// onto (targetKey, targetBpm). Transposition is planned whenever the
// key symbols differ, even when the semitone distance comes out zero
// across relative keys. Returns InvalidKeyError for unknown keys.
func PlanTransform(sourceKey string, sourceBpm float64, targetKey string, targetBpm float64) (Plan, error) {
	semitones, err := match.SemitoneDistance(sourceKey, targetKey)
	if err != nil {
		return Plan{}, err
	}

	plan := Plan{
		NeedsTransposition: sourceKey != targetKey,
		Semitones:          semitones,
		NeedsTempoChange:   math.Abs(sourceBpm-targetBpm) > tempoToleranceBpm,
		TempoRatio:         1.0,
	}
	if plan.NeedsTempoChange {
		plan.TempoRatio = match.BestTempoRatio(sourceBpm, targetBpm)
	}
	plan.TransposeFirst = abs(plan.Semitones) > transposeFirstAbove || !plan.NeedsTempoChange
	return plan, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// TransformError reports a failed pitch or tempo operation.
type TransformError struct {
	Op     string // "pitch_shift" or "time_stretch"
	Detail string
	Cause  error
}

func (e *TransformError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s failed: %s: %v", e.Op, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s failed: %s", e.Op, e.Detail)
}

func (e *TransformError) Unwrap() error {
	return e.Cause
}

// Outcome records which planned steps actually ran. A skipped step
// carries the reason, so callers can tell a fully applied transform
// from a degraded one.
type Outcome struct {
	Semitones    int
	TempoRatio   float64
	PitchApplied bool
	TempoApplied bool
	PitchSkipped string
	TempoSkipped string
}

// FullyApplied reports whether every planned step ran.
func (o Outcome) FullyApplied() bool {
	return o.PitchSkipped == "" && o.TempoSkipped == ""
}

// Summary renders the outcome for logs and session metadata.
func (o Outcome) Summary() string {
	if !o.PitchApplied && !o.TempoApplied && o.FullyApplied() {
		return "no change needed"
	}

	s := ""
	if o.PitchApplied {
		s = fmt.Sprintf("transposed %+d st", o.Semitones)
	}
	if o.TempoApplied {
		if s != "" {
			s += ", "
		}
		s += fmt.Sprintf("stretched x%.2f", o.TempoRatio)
	}
	if o.PitchSkipped != "" {
		if s == "" {
			s = "no change applied"
		}
		s += fmt.Sprintf(" (transposition skipped: %s)", o.PitchSkipped)
	}
	if o.TempoSkipped != "" {
		if s == "" {
			s = "no change applied"
		}
		s += fmt.Sprintf(" (stretch skipped: %s)", o.TempoSkipped)
	}
	return s
}

// PitchShifter transposes a buffer by a signed semitone count.
type PitchShifter interface {
	PitchShift(ctx context.Context, buf dsp.Buffer, semitones int) (dsp.Buffer, error)
}

// TimeStretcher changes playback tempo by a rate factor without
// altering pitch.
type TimeStretcher interface {
	TimeStretch(ctx context.Context, buf dsp.Buffer, rate float64) (dsp.Buffer, error)
}

// Transformer executes a Plan against a stem through the pitch and
// tempo collaborators.
type Transformer struct {
	shifter   PitchShifter
	stretcher TimeStretcher
}

func NewTransformer(shifter PitchShifter, stretcher TimeStretcher) *Transformer {
	return &Transformer{shifter: shifter, stretcher: stretcher}
}

// Apply runs the planned steps in plan order. A failing step is never
// fatal: it is skipped, the reason lands in the Outcome, and any
// remaining step still runs, so a failed transposition degrades to a
// tempo-only result rather than sinking the whole preparation. When
// the plan needs nothing, the input is returned unchanged.
func (t *Transformer) Apply(ctx context.Context, buf dsp.Buffer, plan Plan) (dsp.Buffer, Outcome) {
	outcome := Outcome{Semitones: plan.Semitones, TempoRatio: plan.TempoRatio}
	out := buf

	transpose := func() {
		if !plan.NeedsTransposition {
			return
		}
		shifted, err := t.shifter.PitchShift(ctx, out, plan.Semitones)
		if err != nil {
			outcome.PitchSkipped = err.Error()
			log.Printf("[transform] transposition failed, continuing without it: %v", err)
			return
		}
		out = shifted
		outcome.PitchApplied = true
	}

	stretch := func() {
		if !plan.NeedsTempoChange {
			return
		}
		stretched, err := t.stretcher.TimeStretch(ctx, out, plan.TempoRatio)
		if err != nil {
			outcome.TempoSkipped = err.Error()
			log.Printf("[transform] time stretch failed, continuing without it: %v", err)
			return
		}
		out = stretched
		outcome.TempoApplied = true
	}

	if plan.TransposeFirst {
		transpose()
		stretch()
	} else {
		stretch()
		transpose()
	}

	return out, outcome
}
