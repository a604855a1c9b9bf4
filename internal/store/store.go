package store

import (
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio"
	"golang.org/x/net/publicsuffix"
	"gopkg.in/yaml.v3"
)

const (
	subscriptionsFile = "subscriptions"
	scoreHistoryFile  = "score_history"
	ipCacheFile       = "ip_cache"

	// newSubscriptionProtection is how many runs a freshly added URL is
	// selected unconditionally, so it can accumulate history before tier
	// logic applies.
	newSubscriptionProtection = 3

	// pruneAfter is how long a URL may be absent from the operator's list
	// before its state is dropped.
	pruneAfter = 24 * time.Hour
)

// subscriptionsDoc is the on-disk shape of the subscriptions file.
type subscriptionsDoc struct {
	RunNumber     int                      `yaml:"run_number"`
	Subscriptions map[string]*Subscription `yaml:"subscriptions"`
}

// Store owns all durable state: subscription reputations, the score
// transition log and the IP-geo cache. It is single-writer; only the main
// run loop mutates it.
type Store struct {
	dir  string
	subs map[string]*Subscription

	runNumber   int
	transitions []ScoreTransition

	geo *geoCache
}

// Open loads state from dir, tolerating a missing or corrupt file by
// starting from empty state. The directory is created if needed.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("store: create %s: %w", dir, err)
	}
	s := &Store{
		dir:  dir,
		subs: make(map[string]*Subscription),
		geo:  newGeoCache(),
	}
	s.loadSubscriptions()
	s.loadIPCache()
	return s, nil
}

func (s *Store) loadSubscriptions() {
	path := filepath.Join(s.dir, subscriptionsFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[store] read %s: %v, starting empty", path, err)
		}
		return
	}
	var doc subscriptionsDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		log.Printf("[store] corrupt %s: %v, starting empty", path, err)
		return
	}
	s.runNumber = doc.RunNumber
	for url, sub := range doc.Subscriptions {
		if sub == nil {
			continue
		}
		sub.URL = url
		s.subs[url] = sub
	}
}

// RunNumber returns the global run counter before the current run.
func (s *Store) RunNumber() int {
	return s.runNumber
}

// BeginRun increments the run counter and returns the new run's number.
func (s *Store) BeginRun() int {
	s.runNumber++
	return s.runNumber
}

// Subscriptions returns all known subscriptions sorted by URL.
func (s *Store) Subscriptions() []*Subscription {
	out := make([]*Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out
}

// Get returns the subscription for url, or nil.
func (s *Store) Get(url string) *Subscription {
	return s.subs[url]
}

// Upsert folds the operator's URL list into the store. Previously unseen
// URLs are created with the full protection counter; existing entries have
// their list-presence timestamp refreshed. Returns the states for the given
// URLs in input order.
func (s *Store) Upsert(urls []string, now time.Time) []*Subscription {
	out := make([]*Subscription, 0, len(urls))
	for _, u := range urls {
		sub, ok := s.subs[u]
		if !ok {
			sub = &Subscription{
				URL:               u,
				DisplayName:       displayName(u),
				CreatedAt:         now,
				Tier:              TierOften,
				ProtectionCounter: newSubscriptionProtection,
			}
			s.subs[u] = sub
			log.Printf("[store] new subscription %s (%s)", sub.DisplayName, u)
		}
		sub.LastSeenInList = now
		out = append(out, sub)
	}
	return out
}

// PruneAbsent drops subscriptions that are no longer in the operator's list
// and have been absent longer than one pruning cycle. Returns how many were
// removed.
func (s *Store) PruneAbsent(current []string, now time.Time) int {
	present := make(map[string]bool, len(current))
	for _, u := range current {
		present[u] = true
	}
	removed := 0
	for url, sub := range s.subs {
		if present[url] {
			continue
		}
		if now.Sub(sub.LastSeenInList) <= pruneAfter {
			continue
		}
		delete(s.subs, url)
		removed++
		log.Printf("[store] pruned %s, absent since %s",
			url, sub.LastSeenInList.Format(time.RFC3339))
	}
	return removed
}

// RecordRun appends a history entry for url. Unknown URLs are ignored.
func (s *Store) RecordRun(url string, entry HistoryEntry) {
	if sub, ok := s.subs[url]; ok {
		sub.RecordRun(entry)
	}
}

// SetScore applies a recomputed score and tier, queueing the transition for
// the append-only log. No-op transitions are not logged.
func (s *Store) SetScore(url string, score int, tier Tier, now time.Time) {
	sub, ok := s.subs[url]
	if !ok {
		return
	}
	if sub.Score == score && sub.Tier == tier {
		return
	}
	s.transitions = append(s.transitions, ScoreTransition{
		URL:       url,
		Timestamp: now,
		OldScore:  sub.Score,
		NewScore:  score,
		OldTier:   sub.Tier,
		NewTier:   tier,
	})
	sub.Score = score
	sub.Tier = tier
}

// Persist writes all state to disk. The subscriptions file is replaced
// atomically (temp sibling then rename); score transitions are appended to
// the log. Called exactly once per run, after scoring.
func (s *Store) Persist() error {
	if err := s.persistSubscriptions(); err != nil {
		return err
	}
	if err := s.appendTransitions(); err != nil {
		return err
	}
	if err := s.persistIPCache(); err != nil {
		return err
	}
	return nil
}

func (s *Store) persistSubscriptions() error {
	doc := subscriptionsDoc{
		RunNumber:     s.runNumber,
		Subscriptions: make(map[string]*Subscription, len(s.subs)),
	}
	for url, sub := range s.subs {
		doc.Subscriptions[url] = sub
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("store: marshal subscriptions: %w", err)
	}
	path := filepath.Join(s.dir, subscriptionsFile)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return nil
}

// displayName derives a human label from the subscription URL host using
// the public suffix list. IP addresses and internal names fall back to the
// bare host.
func displayName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	host := u.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.Trim(host, "[]")
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}
