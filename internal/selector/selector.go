// Package selector decides which subscriptions to fetch each run based on
// their tier, protection counter and a seeded PRNG.
package selector

import (
	"log"
	"math/rand/v2"
	"time"

	"github.com/subweave/subweave/internal/store"
)

// Tier selection probabilities, expressed as chances out of 3.
const (
	oftenChances     = 2
	sometimesChances = 1

	// rarelyCycleRuns is how many runs make up one rarely-tier week.
	rarelyCycleRuns = 7
)

// Selector picks the run's subscription set. Deterministic for a given
// seed; the default seed is the wall-clock day so repeated runs within a
// day make the same probabilistic choices.
type Selector struct {
	rng *rand.Rand
}

// New creates a selector from an explicit seed.
func New(seed uint64) *Selector {
	return &Selector{rng: rand.New(rand.NewPCG(seed, 0))}
}

// NewForDay seeds from the wall-clock day.
func NewForDay(now time.Time) *Selector {
	return New(DaySeed(now))
}

// DaySeed is the default seed: days since the Unix epoch in UTC.
func DaySeed(now time.Time) uint64 {
	return uint64(now.UTC().Unix() / 86400)
}

// Select returns the subscriptions to fetch this run, preserving input
// order. Side effects on the chosen entries: a positive protection counter
// is decremented, and rarely-tier picks record the current week index. The
// caller persists both at end of run.
func (s *Selector) Select(subs []*store.Subscription, runNumber int) []*store.Subscription {
	week := runNumber / rarelyCycleRuns
	var out []*store.Subscription
	for _, sub := range subs {
		if sub.ProtectionCounter > 0 {
			sub.ProtectionCounter--
			out = append(out, sub)
			continue
		}
		if s.selectByTier(sub, week) {
			out = append(out, sub)
		}
	}
	log.Printf("[selector] selected %d of %d subscriptions (week %d)",
		len(out), len(subs), week)
	return out
}

func (s *Selector) selectByTier(sub *store.Subscription, week int) bool {
	switch sub.Tier {
	case store.TierDaily:
		return true
	case store.TierOften:
		return s.rng.IntN(3) < oftenChances
	case store.TierSometimes:
		return s.rng.IntN(3) < sometimesChances
	case store.TierRarely:
		if week != sub.LastRarelyWeek {
			sub.LastRarelyWeek = week
			return true
		}
		return false
	default:
		return false
	}
}
