package match

import "math"

// minTempoRatio caps the allowed slow-down: candidates below this are
// rejected before falling back to the direct ratio.
const minTempoRatio = 0.8

// BestTempoRatio returns the playback-rate ratio that best aligns
// sourceBpm with targetBpm. Speeding up (direct ratio >= 1.0) is
// returned as-is. Slowing down searches harmonic alternatives:
// multiples of the target (i = 1..4) and integer divisions of the
// source (i = 2..4). Among candidates at or above the slow-down floor,
// the one closest to 1.0 wins; ties keep the first candidate in search
// order. If nothing survives the floor, the direct ratio is used even
// when it means more than a 20% slow-down.
// Both BPM values must be positive.
func BestTempoRatio(sourceBpm, targetBpm float64) float64 {
	direct := targetBpm / sourceBpm
	if direct >= 1.0 {
		return direct
	}

	var candidates []float64
	for i := 1; i <= 4; i++ {
		candidates = append(candidates, targetBpm*float64(i)/sourceBpm)
	}
	for i := 2; i <= 4; i++ {
		candidates = append(candidates, targetBpm/(sourceBpm/float64(i)))
	}

	best := 0.0
	found := false
	for _, ratio := range candidates {
		if ratio < minTempoRatio {
			continue
		}
		if !found || math.Abs(ratio-1.0) < math.Abs(best-1.0) {
			best = ratio
			found = true
		}
	}

	if !found {
		return direct
	}
	return best
}
