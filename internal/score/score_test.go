package score

import (
	"testing"

	"github.com/subweave/subweave/internal/store"
)

func steadyHistory(runs, total, valid int, latencyMS float64) []store.HistoryEntry {
	out := make([]store.HistoryEntry, runs)
	for i := range out {
		out[i] = store.HistoryEntry{
			TotalNodes:   total,
			ValidNodes:   valid,
			AvgLatencyMS: latencyMS,
			Outcome:      store.FetchSuccess,
		}
	}
	return out
}

func TestCompute_SteadyMidVolume(t *testing.T) {
	// 10/10 valid over 5 runs at 300ms against a 2000ms threshold:
	// success 1.0*0.40 + latency 0.85*0.30 + volume 0.5*0.20 + stability
	// 1.0*0.10 = 0.855 -> 86.
	history := steadyHistory(5, 10, 10, 300)
	got := Compute(history, 2000)
	if got != 86 {
		t.Fatalf("score = %d, want 86", got)
	}
	if TierOf(got) != store.TierOften {
		t.Fatalf("tier = %s, want often", TierOf(got))
	}
}

func TestCompute_PerfectSubscription(t *testing.T) {
	history := steadyHistory(5, 30, 30, 0)
	got := Compute(history, 2000)
	if got != 100 {
		t.Fatalf("score = %d, want 100", got)
	}
	if TierOf(got) != store.TierDaily {
		t.Fatalf("tier = %s", TierOf(got))
	}
}

func TestCompute_FetchFailureZeroesRunContribution(t *testing.T) {
	healthy := steadyHistory(5, 10, 10, 300)
	mixed := steadyHistory(4, 10, 10, 300)
	mixed = append(mixed, store.HistoryEntry{Outcome: store.FetchFailure})

	if Compute(mixed, 2000) >= Compute(healthy, 2000) {
		t.Fatalf("failed fetch must lower the score: mixed=%d healthy=%d",
			Compute(mixed, 2000), Compute(healthy, 2000))
	}
}

func TestCompute_OnlyLastFiveRunsCount(t *testing.T) {
	// Ten terrible runs followed by five perfect ones: only the window
	// counts.
	history := steadyHistory(10, 100, 0, 1999)
	history = append(history, steadyHistory(5, 30, 30, 0)...)
	if got := Compute(history, 2000); got != 100 {
		t.Fatalf("score = %d, want 100 from the recent window", got)
	}
}

func TestCompute_EmptyHistory(t *testing.T) {
	// No history: every averaged signal is zero, stability defaults to
	// full credit.
	if got := Compute(nil, 2000); got != 10 {
		t.Fatalf("score = %d, want 10", got)
	}
}

func TestCompute_LatencyAtThresholdEarnsNothing(t *testing.T) {
	atLimit := Compute(steadyHistory(5, 20, 20, 2000), 2000)
	overLimit := Compute(steadyHistory(5, 20, 20, 5000), 2000)
	if atLimit != overLimit {
		t.Fatalf("latency quality must clamp at zero: %d vs %d", atLimit, overLimit)
	}
}

func TestCompute_VolumeSaturatesAtTarget(t *testing.T) {
	at := Compute(steadyHistory(5, 20, 20, 100), 2000)
	above := Compute(steadyHistory(5, 80, 80, 100), 2000)
	if at != above {
		t.Fatalf("volume must saturate at target: %d vs %d", at, above)
	}
}

func TestCompute_UnstableCountsPenalized(t *testing.T) {
	stable := steadyHistory(5, 40, 20, 300)
	unstable := []store.HistoryEntry{
		{TotalNodes: 40, ValidNodes: 40, AvgLatencyMS: 300, Outcome: store.FetchSuccess},
		{TotalNodes: 40, ValidNodes: 0, AvgLatencyMS: 300, Outcome: store.FetchSuccess},
		{TotalNodes: 40, ValidNodes: 40, AvgLatencyMS: 300, Outcome: store.FetchSuccess},
		{TotalNodes: 40, ValidNodes: 0, AvgLatencyMS: 300, Outcome: store.FetchSuccess},
		{TotalNodes: 40, ValidNodes: 20, AvgLatencyMS: 300, Outcome: store.FetchSuccess},
	}
	if Compute(unstable, 2000) >= Compute(stable, 2000) {
		t.Fatalf("oscillating counts must score below steady ones: %d vs %d",
			Compute(unstable, 2000), Compute(stable, 2000))
	}
}

func TestTierOf_Boundaries(t *testing.T) {
	cases := []struct {
		score int
		want  store.Tier
	}{
		{100, store.TierDaily},
		{90, store.TierDaily},
		{89, store.TierOften},
		{70, store.TierOften},
		{69, store.TierSometimes},
		{50, store.TierSometimes},
		{49, store.TierRarely},
		{30, store.TierRarely},
		{29, store.TierSuspended},
		{0, store.TierSuspended},
	}
	for _, c := range cases {
		if got := TierOf(c.score); got != c.want {
			t.Fatalf("TierOf(%d) = %s, want %s", c.score, got, c.want)
		}
	}
}

func TestCompute_ScoreAlwaysInRange(t *testing.T) {
	histories := [][]store.HistoryEntry{
		nil,
		steadyHistory(1, 0, 0, 0),
		steadyHistory(5, 1000, 1000, 0),
		{{Outcome: store.FetchFailure}},
		steadyHistory(20, 50, 25, 900),
	}
	for i, h := range histories {
		got := Compute(h, 2000)
		if got < 0 || got > 100 {
			t.Fatalf("history %d: score %d out of range", i, got)
		}
	}
}
