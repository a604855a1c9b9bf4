package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/subweave/subweave/internal/buildinfo"
	"github.com/subweave/subweave/internal/clashout"
	"github.com/subweave/subweave/internal/codec"
	"github.com/subweave/subweave/internal/config"
	"github.com/subweave/subweave/internal/emit"
	"github.com/subweave/subweave/internal/fetch"
	"github.com/subweave/subweave/internal/ingest"
	"github.com/subweave/subweave/internal/rename"
	"github.com/subweave/subweave/internal/runlog"
	"github.com/subweave/subweave/internal/score"
	"github.com/subweave/subweave/internal/selector"
	"github.com/subweave/subweave/internal/store"
	"github.com/subweave/subweave/internal/validate"
)

const runDBFile = "runs.db"

// runOnce executes one full pipeline pass. It returns an error only for the
// conditions that must fail the process: an unreadable subscription list,
// state that cannot be opened or persisted, or a cancelled run. Everything
// else (failed fetches, zero valid nodes) still counts as a completed run.
func runOnce(ctx context.Context, cfg *config.EnvConfig) error {
	start := time.Now().UTC()

	if cfg.RunDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.RunDeadline)
		defer cancel()
	}

	urls, err := readSubscriptionList(cfg.SubscriptionsFile)
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.StateDir)
	if err != nil {
		return err
	}

	run := st.BeginRun()
	log.Printf("[run] starting run %d with %d listed subscriptions", run, len(urls))

	subs := st.Upsert(urls, start)
	if pruned := st.PruneAbsent(urls, start); pruned > 0 {
		log.Printf("[run] pruned %d subscriptions absent from the list", pruned)
	}

	sel := newSelector(cfg, start)
	selected := sel.Select(subs, run)

	selectedURLs := make([]string, len(selected))
	for i, sub := range selected {
		selectedURLs[i] = sub.URL
	}

	fetcher := fetch.New(fetch.Options{
		Timeout:     cfg.FetchTimeout,
		Concurrency: cfg.FetchConcurrency,
		UserAgent:   "subweave/" + buildinfo.Version,
		TLSVerify:   cfg.TLSVerify,
	})
	results := fetcher.FetchAll(ctx, selectedURLs)

	dedup := ingest.NewDeduper()
	outcomes := make(map[string]store.FetchOutcome, len(results))
	parsedCounts := make(map[string]int, len(results))
	var totalParsed, totalMalformed, totalUnsupported int

	for _, res := range results {
		if !res.Succeeded() {
			outcomes[res.URL] = store.FetchFailure
			// A status rejection means the server answered; the link
			// itself may be dead rather than the network flaky.
			if fetch.IsStatusError(res.Err) {
				log.Printf("[run] %s: rejected by provider, check the listed URL", res.URL)
			}
			continue
		}
		nodes, stats, err := ingest.ParseBody(res.Body, res.URL)
		totalParsed += stats.Parsed
		totalMalformed += stats.Malformed
		totalUnsupported += stats.Unsupported
		if err != nil || len(nodes) == 0 {
			if err != nil {
				log.Printf("[run] %s: %v", res.URL, err)
			}
			outcomes[res.URL] = store.FetchEmpty
			continue
		}
		outcomes[res.URL] = store.FetchSuccess
		parsedCounts[res.URL] = len(nodes)
		added := dedup.Add(nodes)
		log.Printf("[run] %s: %d parsed, %d unique", res.URL, len(nodes), added)
	}

	unique := dedup.Nodes()
	log.Printf("[run] parsed %d nodes (%d malformed, %d unsupported), %d unique",
		totalParsed, totalMalformed, totalUnsupported, len(unique))

	validator := validate.New(validate.Options{
		TCPTimeout:   cfg.TCPProbeTimeout,
		BatchSize:    cfg.BatchSize,
		BatchDelay:   cfg.BatchDelay,
		MaxLatencyMS: cfg.MaxLatencyMS,
		Mode:         cfg.ValidationMode,
	})
	report := validator.Run(ctx, unique)
	cancelled := report.Cancelled || ctx.Err() != nil

	// A cancelled run leaves no state writes and no artifacts: the next
	// run starts from the last fully-persisted state.
	if !cancelled {
		for _, sub := range selected {
			entry := store.HistoryEntry{
				Timestamp:  start,
				TotalNodes: parsedCounts[sub.URL],
				Outcome:    outcomes[sub.URL],
			}
			if entry.Outcome == "" {
				entry.Outcome = store.FetchFailure
			}
			if stats := report.PerSubscription[sub.URL]; stats != nil {
				entry.ValidNodes = stats.Valid
				entry.AvgLatencyMS = stats.AvgLatencyMS
			}
			st.RecordRun(sub.URL, entry)

			sc := score.Compute(st.Get(sub.URL).History, cfg.MaxLatencyMS)
			st.SetScore(sub.URL, sc, score.TierOf(sc), start)
		}

		ranked := validate.Rank(unique, cfg.MaxOutputNodes)
		relabelNodes(ctx, cfg, st, ranked)

		emitter := emit.New(clashout.New(cfg.OutputDir, cfg.MiniNodes))
		if err := emitter.Emit(ctx, ranked, report); err != nil {
			log.Printf("[run] %v", err)
		}

		if err := st.Persist(); err != nil {
			return err
		}
	}

	finished := time.Now().UTC()
	appendRunRecord(ctx, cfg, runlog.Record{
		RunNumber:     run,
		StartedAt:     start,
		FinishedAt:    finished,
		SubsSelected:  len(selected),
		NodesParsed:   totalParsed,
		NodesUnique:   len(unique),
		NodesValid:    report.ValidNodes,
		SuccessRate:   report.SuccessRate(),
		Cancelled:     report.Cancelled,
		FailureCounts: failureCounts(unique),
	})

	logSummary(run, selected, st, report, finished.Sub(start))

	if cancelled {
		return fmt.Errorf("run %d cancelled before completion", run)
	}
	return nil
}

func newSelector(cfg *config.EnvConfig, now time.Time) *selector.Selector {
	if cfg.SelectorSeedSet {
		return selector.New(cfg.SelectorSeed)
	}
	return selector.NewForDay(now)
}

// readSubscriptionList loads one URL per line, skipping blanks and comments.
func readSubscriptionList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("subscription list: %w", err)
	}
	defer f.Close()

	var urls []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("subscription list: read %s: %w", path, err)
	}
	return urls, nil
}

// relabelNodes rewrites node names to country-grouped labels when a GeoIP
// database is configured. A missing or unreadable database downgrades to a
// warning; output then keeps the provider-assigned names.
func relabelNodes(ctx context.Context, cfg *config.EnvConfig, st *store.Store, ranked []*codec.Node) {
	if cfg.GeoIPDB == "" || len(ranked) == 0 {
		return
	}
	reader, err := rename.Open(cfg.GeoIPDB)
	if err != nil {
		log.Printf("[run] geoip database unavailable, keeping original names: %v", err)
		return
	}
	defer reader.Close()
	rename.New(reader, st).Rename(ctx, ranked)
}

func appendRunRecord(ctx context.Context, cfg *config.EnvConfig, rec runlog.Record) {
	db, err := runlog.Open(filepath.Join(cfg.StateDir, runDBFile))
	if err != nil {
		log.Printf("[run] run log unavailable: %v", err)
		return
	}
	defer db.Close()
	// The record must land even when the run itself was cancelled.
	if err := db.Append(context.WithoutCancel(ctx), rec); err != nil {
		log.Printf("[run] record run: %v", err)
	}
}

func failureCounts(nodes []*codec.Node) map[string]int {
	counts := make(map[string]int)
	for _, n := range nodes {
		if n.Valid || n.FailReason == "" {
			continue
		}
		reason := n.FailReason
		if strings.HasPrefix(reason, "other(") {
			reason = "other"
		}
		counts[reason]++
	}
	return counts
}

func logSummary(run int, selected []*store.Subscription, st *store.Store, report *validate.Report, elapsed time.Duration) {
	log.Printf("[run] run %d finished in %s: %d subscriptions, %d/%d nodes valid (%.1f%%)",
		run, elapsed.Round(time.Millisecond), len(selected),
		report.ValidNodes, report.TotalNodes, report.SuccessRate()*100)

	scored := make([]*store.Subscription, 0, len(selected))
	for _, sub := range selected {
		if cur := st.Get(sub.URL); cur != nil {
			scored = append(scored, cur)
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	for i, sub := range scored {
		if i >= 5 {
			break
		}
		log.Printf("[run]   top %d: %s score=%d tier=%s", i+1, sub.DisplayName, sub.Score, sub.Tier)
	}
	if len(scored) > 5 {
		shown := len(scored) - 5
		if shown > 5 {
			shown = 5
		}
		for i := 0; i < shown; i++ {
			sub := scored[len(scored)-shown+i]
			log.Printf("[run]   bottom %d: %s score=%d tier=%s", shown-i, sub.DisplayName, sub.Score, sub.Tier)
		}
	}
}

// runReport prints the persisted subscription state and recent run
// diagnostics without executing a pipeline pass.
func runReport(ctx context.Context, cfg *config.EnvConfig) error {
	st, err := store.Open(cfg.StateDir)
	if err != nil {
		return err
	}

	subs := st.Subscriptions()
	fmt.Printf("Subscriptions (%d), run %d\n", len(subs), st.RunNumber())
	for _, sub := range subs {
		fmt.Printf("  %-30s score=%-3d tier=%-9s success=%d/%d\n",
			sub.DisplayName, sub.Score, sub.Tier, sub.SuccessRuns, sub.UsedRuns)
	}

	trans, err := st.ScoreTransitions()
	if err != nil {
		return err
	}
	if recent := tailTransitions(trans, 10); len(recent) > 0 {
		fmt.Printf("\nRecent score changes (%d)\n", len(recent))
		for _, tr := range recent {
			fmt.Printf("  %s %s: %d -> %d (%s -> %s)\n",
				tr.Timestamp.UTC().Format(time.RFC3339), tr.URL,
				tr.OldScore, tr.NewScore, tr.OldTier, tr.NewTier)
		}
	}

	db, err := runlog.Open(filepath.Join(cfg.StateDir, runDBFile))
	if err != nil {
		return err
	}
	defer db.Close()

	recent, err := db.Recent(ctx, 10)
	if err != nil {
		return err
	}
	fmt.Printf("\nRecent runs (%d)\n", len(recent))
	for _, rec := range recent {
		status := "ok"
		if rec.Cancelled {
			status = "cancelled"
		}
		fmt.Printf("  run %-4d %s  subs=%d parsed=%d unique=%d valid=%d rate=%.1f%% %s\n",
			rec.RunNumber, rec.StartedAt.UTC().Format(time.RFC3339),
			rec.SubsSelected, rec.NodesParsed, rec.NodesUnique, rec.NodesValid,
			rec.SuccessRate*100, status)
		if len(rec.FailureCounts) > 0 {
			fmt.Printf("           failures: %s\n", formatFailures(rec.FailureCounts))
		}
	}
	return nil
}

// tailTransitions returns the newest n entries of the chronological log.
func tailTransitions(trans []store.ScoreTransition, n int) []store.ScoreTransition {
	if len(trans) > n {
		return trans[len(trans)-n:]
	}
	return trans
}

func formatFailures(counts map[string]int) string {
	reasons := make([]string, 0, len(counts))
	for reason := range counts {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	parts := make([]string, len(reasons))
	for i, reason := range reasons {
		parts[i] = fmt.Sprintf("%s=%d", reason, counts[reason])
	}
	return strings.Join(parts, " ")
}
