// Package clashout writes the run's output artifacts: two Clash
// configuration files, two flat URI lists and the validation stats record.
package clashout

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio"
	"gopkg.in/yaml.v3"

	"github.com/subweave/subweave/internal/codec"
	"github.com/subweave/subweave/internal/validate"
)

const (
	configFile     = "clash.yaml"
	configMiniFile = "clash_mini.yaml"
	urisFile       = "nodes.txt"
	urisMiniFile   = "nodes_mini.txt"
	statsFile      = "validation_stats.json"

	defaultMiniNodes = 20
)

// Writer emits Clash-consumable artifacts into an output directory. All
// writes are atomic. With zero valid nodes every file still appears, as a
// syntactically valid empty artifact.
type Writer struct {
	dir       string
	miniNodes int
	now       func() time.Time
}

func New(dir string, miniNodes int) *Writer {
	if miniNodes <= 0 {
		miniNodes = defaultMiniNodes
	}
	return &Writer{dir: dir, miniNodes: miniNodes, now: time.Now}
}

func (w *Writer) Name() string { return "clash" }

func (w *Writer) Write(_ context.Context, ranked []*codec.Node, report *validate.Report) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("clashout: create %s: %w", w.dir, err)
	}

	mini := ranked
	if len(mini) > w.miniNodes {
		mini = mini[:w.miniNodes]
	}

	if err := w.writeConfig(configFile, ranked); err != nil {
		return err
	}
	if err := w.writeConfig(configMiniFile, mini); err != nil {
		return err
	}
	if err := w.writeURIList(urisFile, ranked); err != nil {
		return err
	}
	if err := w.writeURIList(urisMiniFile, mini); err != nil {
		return err
	}
	return w.writeStats(report)
}

// clashConfig is the emitted document shape. Proxies and group members are
// never nil so the empty case serializes as [] rather than null.
type clashConfig struct {
	Proxies     []map[string]any `yaml:"proxies"`
	ProxyGroups []proxyGroup     `yaml:"proxy-groups"`
}

type proxyGroup struct {
	Name    string   `yaml:"name"`
	Type    string   `yaml:"type"`
	Proxies []string `yaml:"proxies"`
}

func (w *Writer) writeConfig(name string, nodes []*codec.Node) error {
	cfg := clashConfig{
		Proxies: make([]map[string]any, 0, len(nodes)),
		ProxyGroups: []proxyGroup{
			{Name: "PROXY", Type: "select", Proxies: make([]string, 0, len(nodes))},
		},
	}
	seen := make(map[string]int)
	for _, n := range nodes {
		proxy := clashProxy(n)
		// Clash requires unique proxy names.
		base := proxy["name"].(string)
		if c := seen[base]; c > 0 {
			proxy["name"] = fmt.Sprintf("%s %d", base, c+1)
		}
		seen[base]++
		cfg.Proxies = append(cfg.Proxies, proxy)
		cfg.ProxyGroups[0].Proxies = append(cfg.ProxyGroups[0].Proxies, proxy["name"].(string))
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("clashout: marshal %s: %w", name, err)
	}
	path := filepath.Join(w.dir, name)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("clashout: write %s: %w", path, err)
	}
	return nil
}

func (w *Writer) writeURIList(name string, nodes []*codec.Node) error {
	var b strings.Builder
	for _, n := range nodes {
		uri, err := codec.Format(n)
		if err != nil {
			continue
		}
		b.WriteString(uri)
		b.WriteByte('\n')
	}
	path := filepath.Join(w.dir, name)
	if err := renameio.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("clashout: write %s: %w", path, err)
	}
	return nil
}

// statsRecord matches the validation_stats contract consumed by the
// publication pipeline.
type statsRecord struct {
	Timestamp       time.Time                `json:"timestamp"`
	TotalNodes      int                      `json:"total_nodes"`
	ValidNodes      int                      `json:"valid_nodes"`
	SuccessRate     float64                  `json:"success_rate"`
	PerSubscription map[string]subStatsEntry `json:"per_subscription"`
}

type subStatsEntry struct {
	Total        int     `json:"total"`
	Valid        int     `json:"valid"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
}

func (w *Writer) writeStats(report *validate.Report) error {
	rec := statsRecord{
		Timestamp:       w.now().UTC(),
		PerSubscription: make(map[string]subStatsEntry),
	}
	if report != nil {
		rec.TotalNodes = report.TotalNodes
		rec.ValidNodes = report.ValidNodes
		rec.SuccessRate = report.SuccessRate()
		for url, stats := range report.PerSubscription {
			rec.PerSubscription[url] = subStatsEntry{
				Total:        stats.Total,
				Valid:        stats.Valid,
				AvgLatencyMS: stats.AvgLatencyMS,
			}
		}
	}
	data, err := json.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return fmt.Errorf("clashout: marshal stats: %w", err)
	}
	path := filepath.Join(w.dir, statsFile)
	if err := renameio.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("clashout: write %s: %w", path, err)
	}
	return nil
}
