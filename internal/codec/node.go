// Package codec parses and formats proxy node URIs and defines the
// canonical node identity used for deduplication.
package codec

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// Protocol identifies one of the supported proxy URI schemes.
type Protocol string

const (
	ProtocolSS     Protocol = "ss"
	ProtocolSSR    Protocol = "ssr"
	ProtocolVMess  Protocol = "vmess"
	ProtocolVLESS  Protocol = "vless"
	ProtocolTrojan Protocol = "trojan"
)

// SupportedProtocols is the set of protocols the codec understands.
var SupportedProtocols = map[Protocol]bool{
	ProtocolSS:     true,
	ProtocolSSR:    true,
	ProtocolVMess:  true,
	ProtocolVLESS:  true,
	ProtocolTrojan: true,
}

// Node is a single parsed proxy endpoint. Server is stored in canonical
// form (lowercase, no IPv6 brackets). Params is the protocol-specific
// parameter bag; unknown keys survive a parse/format round trip verbatim.
type Node struct {
	Protocol Protocol
	Server   string
	Port     uint16
	Name     string
	Params   map[string]string

	// Subscription is the URL of the owning subscription (provenance).
	// Set by the ingestor, not the parser.
	Subscription string

	// Validation outcome. Latency is meaningful only when Valid is true.
	Valid      bool
	Latency    time.Duration
	FailReason string
}

// Key returns the canonical identity string (protocol, lowercase server,
// port). Two nodes with equal keys collapse to one during ingestion.
func (n *Node) Key() string {
	return fmt.Sprintf("%s|%s|%d", n.Protocol, strings.ToLower(n.Server), n.Port)
}

// Hash is a 128-bit digest of a node's canonical identity.
type Hash [16]byte

// Hex returns the lowercase hex encoding of the hash.
func (h Hash) Hex() string {
	return hex.EncodeToString(h[:])
}

// String implements fmt.Stringer.
func (h Hash) String() string {
	return h.Hex()
}

// Identity computes the xxh3-128 digest of the canonical key.
func (n *Node) Identity() Hash {
	h128 := xxh3.Hash128([]byte(n.Key()))
	var h Hash
	binary.LittleEndian.PutUint64(h[:8], h128.Lo)
	binary.LittleEndian.PutUint64(h[8:], h128.Hi)
	return h
}

// Param returns the named parameter or "" when absent.
func (n *Node) Param(key string) string {
	if n.Params == nil {
		return ""
	}
	return n.Params[key]
}

// LatencyMS returns the measured latency in whole milliseconds.
func (n *Node) LatencyMS() int64 {
	return n.Latency.Milliseconds()
}

// DefaultName synthesizes a display name for nodes without one.
func DefaultName(proto Protocol, server string, port uint16) string {
	return fmt.Sprintf("%s-%s:%d", proto, server, port)
}
