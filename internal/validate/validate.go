// Package validate probes node endpoints over TCP with bounded concurrency
// and produces the run's ranked node list.
package validate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/subweave/subweave/internal/codec"
)

// Failure reasons recorded on invalid nodes. Diagnostic only; scoring sees
// just the binary outcome.
const (
	ReasonTimeout     = "timeout"
	ReasonRefused     = "refused"
	ReasonUnreachable = "unreachable"
	ReasonDNSFailed   = "dns_failed"
	ReasonCancelled   = "cancelled"
)

// Mode selects the probe strategy.
type Mode string

const (
	// ModeStrict opens a TCP connection and measures handshake latency.
	ModeStrict Mode = "strict"

	// ModeLenient only resolves the server name. Any resolvable host is
	// valid with a synthetic latency of zero.
	ModeLenient Mode = "lenient"
)

// Options configure a Validator. Zero values fall back to defaults.
type Options struct {
	TCPTimeout   time.Duration // per-probe budget including DNS, default 8s
	BatchSize    int           // concurrent probes per batch, default 20
	BatchDelay   time.Duration // pause between batches; zero disables
	MaxLatencyMS int           // pass threshold, default 2000
	Mode         Mode          // default strict
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.TCPTimeout <= 0 {
		out.TCPTimeout = 8 * time.Second
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 20
	}
	if out.BatchDelay < 0 {
		out.BatchDelay = 500 * time.Millisecond
	}
	if out.MaxLatencyMS <= 0 {
		out.MaxLatencyMS = 2000
	}
	if out.Mode == "" {
		out.Mode = ModeStrict
	}
	return out
}

// SubscriptionStats is the per-subscription slice of a report.
type SubscriptionStats struct {
	Total        int
	Valid        int
	AvgLatencyMS float64
}

// Report is the run-level validation aggregate.
type Report struct {
	TotalNodes      int
	ValidNodes      int
	PerSubscription map[string]*SubscriptionStats
	Duration        time.Duration
	Cancelled       bool
}

// SuccessRate is valid/total, zero for an empty run.
func (r *Report) SuccessRate() float64 {
	if r.TotalNodes == 0 {
		return 0
	}
	return float64(r.ValidNodes) / float64(r.TotalNodes)
}

// Validator drains a node list in fixed-size batches with a mandatory
// inter-batch delay, throttling the host's outbound connection rate.
type Validator struct {
	opts   Options
	dialer *net.Dialer

	// dnsCache memoizes lenient-mode lookups within a run. Many nodes in
	// one subscription share a server name.
	dnsCache otter.Cache[string, bool]
}

func New(opts Options) *Validator {
	opts = opts.withDefaults()
	cache, err := otter.MustBuilder[string, bool](4096).
		Cost(func(_ string, _ bool) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("validate: failed to create dns cache: " + err.Error())
	}
	return &Validator{
		opts:     opts,
		dialer:   &net.Dialer{Timeout: opts.TCPTimeout},
		dnsCache: cache,
	}
}

// Run probes every node in place, setting Valid, Latency and FailReason,
// and returns the aggregate report. Cancellation marks the remaining nodes
// cancelled and returns promptly; partial outcomes are kept.
func (v *Validator) Run(ctx context.Context, nodes []*codec.Node) *Report {
	start := time.Now()
	report := &Report{
		TotalNodes:      len(nodes),
		PerSubscription: make(map[string]*SubscriptionStats),
	}

	for batchStart := 0; batchStart < len(nodes); batchStart += v.opts.BatchSize {
		if ctx.Err() != nil {
			markCancelled(nodes[batchStart:])
			report.Cancelled = true
			break
		}
		end := batchStart + v.opts.BatchSize
		if end > len(nodes) {
			end = len(nodes)
		}
		v.probeBatch(ctx, nodes[batchStart:end])

		done := end
		log.Printf("[validate] batch %d/%d done, %d/%d nodes probed",
			batchStart/v.opts.BatchSize+1,
			(len(nodes)+v.opts.BatchSize-1)/v.opts.BatchSize,
			done, len(nodes))

		if end < len(nodes) && v.opts.BatchDelay > 0 {
			select {
			case <-time.After(v.opts.BatchDelay):
			case <-ctx.Done():
			}
		}
	}

	for _, n := range nodes {
		stats := report.PerSubscription[n.Subscription]
		if stats == nil {
			stats = &SubscriptionStats{}
			report.PerSubscription[n.Subscription] = stats
		}
		stats.Total++
		if n.Valid {
			report.ValidNodes++
			stats.Valid++
			stats.AvgLatencyMS += float64(n.Latency.Milliseconds())
		}
	}
	for _, stats := range report.PerSubscription {
		if stats.Valid > 0 {
			stats.AvgLatencyMS /= float64(stats.Valid)
		}
	}
	report.Duration = time.Since(start)
	return report
}

func (v *Validator) probeBatch(ctx context.Context, batch []*codec.Node) {
	var wg sync.WaitGroup
	for _, n := range batch {
		wg.Add(1)
		go func(n *codec.Node) {
			defer wg.Done()
			v.probe(ctx, n)
		}(n)
	}
	wg.Wait()
}

func (v *Validator) probe(ctx context.Context, n *codec.Node) {
	ctx, cancel := context.WithTimeout(ctx, v.opts.TCPTimeout)
	defer cancel()

	if v.opts.Mode == ModeLenient {
		v.probeDNS(ctx, n)
		return
	}

	addr := net.JoinHostPort(n.Server, strconv.Itoa(int(n.Port)))
	start := time.Now()
	conn, err := v.dialer.DialContext(ctx, "tcp", addr)
	latency := time.Since(start)
	if err != nil {
		n.Valid = false
		n.FailReason = classifyDialError(ctx, err)
		return
	}
	conn.Close()

	if latency.Milliseconds() > int64(v.opts.MaxLatencyMS) {
		n.Valid = false
		n.Latency = latency
		n.FailReason = ReasonTimeout
		return
	}
	n.Valid = true
	n.Latency = latency
	n.FailReason = ""
}

func (v *Validator) probeDNS(ctx context.Context, n *codec.Node) {
	if net.ParseIP(n.Server) != nil {
		n.Valid = true
		return
	}
	if resolvable, hit := v.dnsCache.Get(n.Server); hit {
		n.Valid = resolvable
		if !resolvable {
			n.FailReason = ReasonDNSFailed
		}
		return
	}
	_, err := net.DefaultResolver.LookupHost(ctx, n.Server)
	if err != nil {
		n.Valid = false
		if ctx.Err() != nil {
			n.FailReason = classifyDialError(ctx, err)
			return
		}
		n.FailReason = ReasonDNSFailed
		v.dnsCache.Set(n.Server, false)
		return
	}
	n.Valid = true
	v.dnsCache.Set(n.Server, true)
}

// classifyDialError maps a dial failure to the failure taxonomy.
func classifyDialError(ctx context.Context, err error) string {
	if errors.Is(ctx.Err(), context.Canceled) {
		return ReasonCancelled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonDNSFailed
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ReasonTimeout
	}

	msg := err.Error()
	switch {
	case containsAny(msg, "connection refused"):
		return ReasonRefused
	case containsAny(msg, "no route to host", "network is unreachable", "host is down"):
		return ReasonUnreachable
	}
	return fmt.Sprintf("other(%s)", msg)
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func markCancelled(nodes []*codec.Node) {
	for _, n := range nodes {
		n.Valid = false
		n.FailReason = ReasonCancelled
	}
}

// Rank returns the valid nodes sorted by ascending latency, capped at max.
// The sort is stable so latency ties keep insertion order.
func Rank(nodes []*codec.Node, max int) []*codec.Node {
	var valid []*codec.Node
	for _, n := range nodes {
		if n.Valid {
			valid = append(valid, n)
		}
	}
	sort.SliceStable(valid, func(i, j int) bool {
		return valid[i].Latency < valid[j].Latency
	})
	if max > 0 && len(valid) > max {
		valid = valid[:max]
	}
	return valid
}
