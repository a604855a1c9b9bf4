package ingest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/subweave/subweave/internal/codec"
)

// Stats tallies one subscription body's parse outcome.
type Stats struct {
	Parsed      int // nodes successfully decoded
	Malformed   int // lines with a supported scheme but broken structure
	Unsupported int // lines with an unrecognized scheme
}

// ParseBody decodes one fetched subscription body into nodes. Formats are
// tried in a fixed order: Clash YAML, then whole-body base64 wrapping a
// URI list, then raw URI lines. Every node is stamped with the source URL
// for provenance. A body that yields zero nodes is not an error; the
// caller decides how to report it.
func ParseBody(data []byte, sourceURL string) ([]*codec.Node, Stats, error) {
	normalized := normalizeInput(data)
	if len(normalized) == 0 {
		return nil, Stats{}, fmt.Errorf("ingest: empty body from %s", sourceURL)
	}

	text := normalizeTextContent(string(normalized))

	if looksLikeClashYAML(text) {
		nodes, stats, err := parseClashYAML(text)
		if err == nil {
			stampSource(nodes, sourceURL)
			return nodes, stats, nil
		}
		// Not actually a Clash document; try the remaining formats.
		log.Printf("[ingest] %s: %v", sourceURL, err)
	}

	if decoded, ok := tryDecodeBase64ToText(normalized); ok {
		if nodes, stats, recognized := parseURILines(decoded); recognized {
			stampSource(nodes, sourceURL)
			return nodes, stats, nil
		}
	}

	if nodes, stats, recognized := parseURILines(text); recognized {
		stampSource(nodes, sourceURL)
		return nodes, stats, nil
	}

	return nil, Stats{}, fmt.Errorf("ingest: unrecognized format from %s", sourceURL)
}

// parseURILines parses newline-separated proxy URIs. The body is recognized
// when at least one line carries a supported scheme prefix; individual bad
// lines are counted and skipped, never fatal.
func parseURILines(text string) ([]*codec.Node, Stats, bool) {
	var (
		nodes      []*codec.Node
		stats      Stats
		recognized bool
	)
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}
		if codec.HasSupportedPrefix(line) {
			recognized = true
		}
		node, err := codec.Parse(line)
		if err != nil {
			switch {
			case strings.Contains(line, "://") && !codec.HasSupportedPrefix(line):
				stats.Unsupported++
			default:
				stats.Malformed++
			}
			continue
		}
		nodes = append(nodes, node)
		stats.Parsed++
	}
	return nodes, stats, recognized
}

func stampSource(nodes []*codec.Node, sourceURL string) {
	for _, n := range nodes {
		n.Subscription = sourceURL
	}
}

// Deduper keeps the first node seen for each canonical identity across all
// subscription bodies in a run.
type Deduper struct {
	seen  map[codec.Hash]string // identity digest -> first source URL
	nodes []*codec.Node
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[codec.Hash]string)}
}

// Add folds a batch into the unique set and returns how many were new.
// Later duplicates lose, whichever subscription they came from.
func (d *Deduper) Add(nodes []*codec.Node) int {
	added := 0
	for _, n := range nodes {
		id := n.Identity()
		if first, dup := d.seen[id]; dup {
			if first != n.Subscription {
				log.Printf("[ingest] duplicate node %s from %s, kept copy from %s",
					n.Key(), n.Subscription, first)
			}
			continue
		}
		d.seen[id] = n.Subscription
		d.nodes = append(d.nodes, n)
		added++
	}
	return added
}

// Nodes returns the unique nodes in first-seen order.
func (d *Deduper) Nodes() []*codec.Node {
	return d.nodes
}

// Len reports the unique node count.
func (d *Deduper) Len() int {
	return len(d.nodes)
}

func normalizeInput(data []byte) []byte {
	trimmed := bytes.TrimSpace(data)
	return bytes.TrimPrefix(trimmed, []byte{0xEF, 0xBB, 0xBF})
}

// normalizeTextContent strips a BOM, zero-width characters and stray control
// bytes that subscription providers leave in their output.
func normalizeTextContent(content string) string {
	content = strings.TrimPrefix(content, "\uFEFF")

	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		switch r {
		case '\u200B', '\u200C', '\u200D':
			continue
		}
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func tryDecodeBase64ToText(data []byte) (string, bool) {
	compact := strings.Join(strings.Fields(string(data)), "")
	if !looksLikeBase64(compact) {
		return "", false
	}
	decoded, ok := decodeBase64Relaxed(compact)
	if !ok || !utf8.Valid(decoded) {
		return "", false
	}
	return string(decoded), true
}

func decodeBase64Relaxed(input string) ([]byte, bool) {
	s := strings.TrimSpace(input)
	if s == "" {
		return nil, false
	}
	if rem := len(s) % 4; rem != 0 {
		s += strings.Repeat("=", 4-rem)
	}
	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil {
		return decoded, true
	}
	if decoded, err := base64.URLEncoding.DecodeString(s); err == nil {
		return decoded, true
	}
	return nil, false
}

func looksLikeBase64(s string) bool {
	if len(s) < 24 || len(s)%4 == 1 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '+' || r == '/' || r == '-' || r == '_' || r == '=':
		default:
			return false
		}
	}
	return true
}

func looksLikeClashYAML(text string) bool {
	lower := strings.ToLower(text)
	return strings.HasPrefix(lower, "proxies:") ||
		strings.Contains(lower, "\nproxies:") ||
		strings.HasPrefix(lower, "proxy-groups:") ||
		strings.Contains(lower, "\nproxy-groups:")
}
