package store

import "time"

// FetchOutcome records how a subscription's fetch ended in one run.
type FetchOutcome string

const (
	FetchSuccess FetchOutcome = "success"
	FetchFailure FetchOutcome = "failure"
	FetchEmpty   FetchOutcome = "empty"
)

// Tier is the usage-frequency label derived from a subscription's score.
type Tier string

const (
	TierDaily     Tier = "daily"
	TierOften     Tier = "often"
	TierSometimes Tier = "sometimes"
	TierRarely    Tier = "rarely"
	TierSuspended Tier = "suspended"
)

// maxHistoryEntries bounds the per-subscription run history.
const maxHistoryEntries = 20

// HistoryEntry records one run's outcome for one subscription.
type HistoryEntry struct {
	Timestamp    time.Time    `yaml:"timestamp"`
	TotalNodes   int          `yaml:"total_nodes"`
	ValidNodes   int          `yaml:"valid_nodes"`
	AvgLatencyMS float64      `yaml:"avg_latency_ms"`
	Outcome      FetchOutcome `yaml:"fetch_outcome"`
}

// Subscription is the persistent per-URL state. The URL is the primary key.
type Subscription struct {
	URL         string    `yaml:"-"`
	DisplayName string    `yaml:"display_name"`
	CreatedAt   time.Time `yaml:"created_at"`
	UsedRuns    int       `yaml:"used_runs"`
	SuccessRuns int       `yaml:"success_runs"`

	History []HistoryEntry `yaml:"history,omitempty"`

	Score             int  `yaml:"current_score"`
	Tier              Tier `yaml:"frequency_tier"`
	ProtectionCounter int  `yaml:"protection_counter"`

	// LastRarelyWeek is the global week index at which this subscription
	// was last picked by the rarely-tier cycle.
	LastRarelyWeek int `yaml:"last_rarely_week,omitempty"`

	// LastSeenInList is when the URL last appeared in the operator's list.
	// Entries absent for more than a pruning cycle are dropped.
	LastSeenInList time.Time `yaml:"last_seen_in_list"`
}

// RecordRun appends one run's outcome, capping the history window and
// updating the run counters.
func (s *Subscription) RecordRun(entry HistoryEntry) {
	s.History = append(s.History, entry)
	if len(s.History) > maxHistoryEntries {
		s.History = s.History[len(s.History)-maxHistoryEntries:]
	}
	s.UsedRuns++
	if entry.Outcome == FetchSuccess {
		s.SuccessRuns++
	}
}

// ScoreTransition is one line of the append-only score history log.
type ScoreTransition struct {
	URL       string    `json:"url"`
	Timestamp time.Time `json:"timestamp"`
	OldScore  int       `json:"old_score"`
	NewScore  int       `json:"new_score"`
	OldTier   Tier      `json:"old_tier,omitempty"`
	NewTier   Tier      `json:"new_tier,omitempty"`
}

// GeoEntry is a cached geolocation lookup for a node host.
type GeoEntry struct {
	CountryCode string `yaml:"country_code" json:"country_code"`
	City        string `yaml:"city,omitempty" json:"city,omitempty"`
}
