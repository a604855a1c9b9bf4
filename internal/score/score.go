// Package score computes subscription reputation scores. The formula is a
// pure function of the run history; all I/O stays in the caller.
package score

import (
	"math"

	"github.com/subweave/subweave/internal/store"
)

// Signal weights. They sum to 1; the weighted sum scales to [0, 100].
const (
	weightSuccessRate    = 0.40
	weightLatencyQuality = 0.30
	weightVolume         = 0.20
	weightStability      = 0.10

	// historyWindow is how many recent runs feed the averaged signals.
	historyWindow = 5

	// targetValidNodes is the valid-node count at which the volume signal
	// saturates.
	targetValidNodes = 20
)

// Tier thresholds on the integer score.
const (
	tierDailyMin     = 90
	tierOftenMin     = 70
	tierSometimesMin = 50
	tierRarelyMin    = 30
)

// Compute scores a subscription from its history. maxLatencyMS is the
// validator's pass threshold; latencies at or above it earn zero quality.
// A run whose fetch failed contributes zero to both success rate and
// latency quality.
func Compute(history []store.HistoryEntry, maxLatencyMS int) int {
	recent := history
	if len(recent) > historyWindow {
		recent = recent[len(recent)-historyWindow:]
	}

	var (
		successSum float64
		latencySum float64
		valids     []float64
	)
	for _, entry := range recent {
		if entry.Outcome != store.FetchFailure {
			total := entry.TotalNodes
			if total < 1 {
				total = 1
			}
			successSum += float64(entry.ValidNodes) / float64(total)
			latencySum += math.Max(0, 1-entry.AvgLatencyMS/float64(maxLatencyMS))
		}
		valids = append(valids, float64(entry.ValidNodes))
	}

	n := float64(len(recent))
	var successRate, latencyQuality float64
	if n > 0 {
		successRate = successSum / n
		latencyQuality = latencySum / n
	}

	var volume float64
	if len(recent) > 0 {
		last := recent[len(recent)-1]
		volume = math.Min(1, float64(last.ValidNodes)/targetValidNodes)
	}

	stability := stabilitySignal(valids)

	raw := weightSuccessRate*successRate +
		weightLatencyQuality*latencyQuality +
		weightVolume*volume +
		weightStability*stability
	return clampScore(int(math.Round(raw * 100)))
}

// TierOf maps a score to its frequency tier.
func TierOf(score int) store.Tier {
	switch {
	case score >= tierDailyMin:
		return store.TierDaily
	case score >= tierOftenMin:
		return store.TierOften
	case score >= tierSometimesMin:
		return store.TierSometimes
	case score >= tierRarelyMin:
		return store.TierRarely
	default:
		return store.TierSuspended
	}
}

// stabilitySignal is 1 - stddev/max(mean, 1), clamped to [0, 1]. A flat
// valid-node count over the window earns full credit.
func stabilitySignal(valids []float64) float64 {
	if len(valids) == 0 {
		return 1
	}
	var sum float64
	for _, v := range valids {
		sum += v
	}
	mean := sum / float64(len(valids))

	var sq float64
	for _, v := range valids {
		d := v - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(len(valids)))

	s := 1 - stddev/math.Max(mean, 1)
	return math.Max(0, math.Min(1, s))
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}
