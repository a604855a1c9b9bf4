package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestUpsert_NewSubscriptionProtected(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	subs := s.Upsert([]string{"https://sub.provider-a.com/feed"}, t0)
	if len(subs) != 1 {
		t.Fatalf("subs = %d", len(subs))
	}
	sub := subs[0]
	if sub.ProtectionCounter != 3 {
		t.Fatalf("protection = %d, want 3", sub.ProtectionCounter)
	}
	if sub.DisplayName != "provider-a.com" {
		t.Fatalf("display name = %q, want eTLD+1", sub.DisplayName)
	}
	if !sub.CreatedAt.Equal(t0) {
		t.Fatalf("created at = %v", sub.CreatedAt)
	}
}

func TestUpsert_ExistingKeepsState(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	first := s.Upsert([]string{"https://a.example/x"}, t0)[0]
	first.Score = 77
	first.ProtectionCounter = 1

	again := s.Upsert([]string{"https://a.example/x"}, t0.Add(time.Hour))[0]
	if again != first {
		t.Fatal("upsert created a duplicate entry")
	}
	if again.Score != 77 || again.ProtectionCounter != 1 {
		t.Fatalf("state lost: %+v", again)
	}
	if !again.LastSeenInList.Equal(t0.Add(time.Hour)) {
		t.Fatalf("last seen = %v", again.LastSeenInList)
	}
}

func TestPersistLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	s.BeginRun()
	sub := s.Upsert([]string{"https://a.example/x"}, t0)[0]
	sub.RecordRun(HistoryEntry{
		Timestamp:    t0,
		TotalNodes:   50,
		ValidNodes:   30,
		AvgLatencyMS: 412.5,
		Outcome:      FetchSuccess,
	})
	s.SetScore("https://a.example/x", 64, TierSometimes, t0)
	s.SetIPGeo("1.2.3.4", GeoEntry{CountryCode: "JP", City: "Tokyo"})
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}

	reloaded, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if reloaded.RunNumber() != 1 {
		t.Fatalf("run number = %d", reloaded.RunNumber())
	}
	got := reloaded.Get("https://a.example/x")
	if got == nil {
		t.Fatal("subscription lost")
	}
	if got.Score != 64 || got.Tier != TierSometimes {
		t.Fatalf("score/tier = %d/%s", got.Score, got.Tier)
	}
	if got.UsedRuns != 1 || got.SuccessRuns != 1 {
		t.Fatalf("counters = %d/%d", got.UsedRuns, got.SuccessRuns)
	}
	if len(got.History) != 1 || got.History[0].ValidNodes != 30 {
		t.Fatalf("history = %+v", got.History)
	}
	if got.History[0].AvgLatencyMS != 412.5 {
		t.Fatalf("avg latency = %v", got.History[0].AvgLatencyMS)
	}

	geo, ok := reloaded.GetIPGeo("1.2.3.4")
	if !ok || geo.CountryCode != "JP" {
		t.Fatalf("geo = %+v ok=%v", geo, ok)
	}
}

func TestOpen_CorruptFilesStartEmpty(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, subscriptionsFile), []byte("{not yaml: ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ipCacheFile), []byte(":::"), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Open(dir)
	if err != nil {
		t.Fatalf("corrupt state must not abort: %v", err)
	}
	if len(s.Subscriptions()) != 0 || s.IPGeoLen() != 0 {
		t.Fatal("expected empty state")
	}
}

func TestScoreTransitions_AppendAndRead(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	s.Upsert([]string{"https://a.example/x"}, t0)
	s.SetScore("https://a.example/x", 40, TierRarely, t0)
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}
	s.SetScore("https://a.example/x", 55, TierSometimes, t0.Add(time.Hour))
	if err := s.Persist(); err != nil {
		t.Fatal(err)
	}

	trs, err := s.ScoreTransitions()
	if err != nil {
		t.Fatal(err)
	}
	if len(trs) != 2 {
		t.Fatalf("transitions = %d, want 2", len(trs))
	}
	if trs[0].NewScore != 40 || trs[1].OldScore != 40 || trs[1].NewScore != 55 {
		t.Fatalf("transitions = %+v", trs)
	}
}

func TestSetScore_NoOpNotLogged(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	sub := s.Upsert([]string{"https://a.example/x"}, t0)[0]
	s.SetScore(sub.URL, sub.Score, sub.Tier, t0)
	if len(s.transitions) != 0 {
		t.Fatalf("no-op transition logged: %+v", s.transitions)
	}
}

func TestPruneAbsent(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	s.Upsert([]string{"https://gone.example/x", "https://kept.example/y"}, t0)

	// Still inside the grace period.
	if removed := s.PruneAbsent([]string{"https://kept.example/y"}, t0.Add(time.Hour)); removed != 0 {
		t.Fatalf("removed = %d, want 0 inside grace period", removed)
	}

	later := t0.Add(48 * time.Hour)
	s.Upsert([]string{"https://kept.example/y"}, later)
	if removed := s.PruneAbsent([]string{"https://kept.example/y"}, later); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if s.Get("https://gone.example/x") != nil {
		t.Fatal("absent subscription not pruned")
	}
	if s.Get("https://kept.example/y") == nil {
		t.Fatal("present subscription pruned")
	}
}

func TestRecordRun_HistoryCapped(t *testing.T) {
	sub := &Subscription{URL: "https://a.example/x"}
	for i := 0; i < 25; i++ {
		sub.RecordRun(HistoryEntry{TotalNodes: i, Outcome: FetchSuccess})
	}
	if len(sub.History) != maxHistoryEntries {
		t.Fatalf("history = %d, want %d", len(sub.History), maxHistoryEntries)
	}
	if sub.History[len(sub.History)-1].TotalNodes != 24 {
		t.Fatal("newest entry missing")
	}
	if sub.UsedRuns != 25 || sub.SuccessRuns != 25 {
		t.Fatalf("counters = %d/%d", sub.UsedRuns, sub.SuccessRuns)
	}
}

func TestDisplayName(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://sub.provider.co.uk/feed?token=x", "provider.co.uk"},
		{"https://1.2.3.4:8443/feed", "1.2.3.4"},
		{"https://raw.githubusercontent.com/u/r/main/list.txt", "githubusercontent.com"},
	}
	for _, c := range cases {
		if got := displayName(c.url); got != c.want {
			t.Fatalf("displayName(%s) = %q, want %q", c.url, got, c.want)
		}
	}
}
