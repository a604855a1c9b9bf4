package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Parse failure classes. All are non-fatal at the ingestor boundary: a line
// that fails to parse is counted and skipped, never aborts a run.
var (
	// ErrMalformedURI means the line matched a supported scheme prefix but
	// its structure is broken (missing host, bad port, truncated payload).
	ErrMalformedURI = errors.New("codec: malformed uri")

	// ErrUnsupportedProtocol means the line carries a scheme outside the
	// five supported protocols.
	ErrUnsupportedProtocol = errors.New("codec: unsupported protocol")

	// ErrDecodeFailed means a base64 payload or structured body could not
	// be decoded.
	ErrDecodeFailed = errors.New("codec: decode failed")
)

// Parse dispatches a single URI line to the parser for its scheme.
func Parse(line string) (*Node, error) {
	line = strings.TrimSpace(line)
	lower := strings.ToLower(line)
	switch {
	case strings.HasPrefix(lower, "ss://"):
		return ParseSS(line)
	case strings.HasPrefix(lower, "ssr://"):
		return ParseSSR(line)
	case strings.HasPrefix(lower, "vmess://"):
		return ParseVMess(line)
	case strings.HasPrefix(lower, "vless://"):
		return ParseVLESS(line)
	case strings.HasPrefix(lower, "trojan://"):
		return ParseTrojan(line)
	}
	scheme, _, found := strings.Cut(line, "://")
	if !found {
		return nil, fmt.Errorf("%w: no scheme in %q", ErrMalformedURI, truncate(line, 40))
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedProtocol, scheme)
}

// Format renders a node back into its scheme's canonical URI form.
// Formatting then re-parsing yields an identical node.
func Format(n *Node) (string, error) {
	switch n.Protocol {
	case ProtocolSS:
		return FormatSS(n)
	case ProtocolSSR:
		return FormatSSR(n)
	case ProtocolVMess:
		return FormatVMess(n)
	case ProtocolVLESS:
		return FormatVLESS(n)
	case ProtocolTrojan:
		return FormatTrojan(n)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedProtocol, n.Protocol)
}

// HasSupportedPrefix reports whether a trimmed line starts with one of the
// five supported scheme prefixes.
func HasSupportedPrefix(line string) bool {
	lower := strings.ToLower(line)
	for proto := range SupportedProtocols {
		if strings.HasPrefix(lower, string(proto)+"://") {
			return true
		}
	}
	return false
}

// --- shared helpers ---

// decodeBase64Relaxed decodes standard or URL-safe base64, re-synthesizing
// missing padding first. Subscription providers emit every variant.
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

// parseHostPort splits "host:port" or "[v6]:port", canonicalizing the host
// (lowercase, brackets stripped).
func parseHostPort(hostport string) (string, uint16, bool) {
	hostport = strings.TrimSpace(hostport)
	if hostport == "" {
		return "", 0, false
	}

	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		// Tolerate a bare "host:port" with an IPv6-looking host by
		// splitting on the last colon.
		idx := strings.LastIndex(hostport, ":")
		if idx <= 0 || idx >= len(hostport)-1 {
			return "", 0, false
		}
		host = hostport[:idx]
		portStr = hostport[idx+1:]
	}

	port, err := strconv.ParseUint(strings.TrimSpace(portStr), 10, 16)
	if err != nil || port == 0 {
		return "", 0, false
	}
	host = CanonicalHost(host)
	if host == "" {
		return "", 0, false
	}
	return host, uint16(port), true
}

// CanonicalHost lowercases the host and strips IPv6 brackets. All servers
// are stored in this form so the dedup key is case-insensitive.
func CanonicalHost(host string) string {
	host = strings.TrimSpace(host)
	host = strings.Trim(host, "[]")
	return strings.ToLower(host)
}

// formatHostPort renders "host:port", re-bracketing IPv6 literals.
func formatHostPort(host string, port uint16) string {
	if strings.Contains(host, ":") {
		return fmt.Sprintf("[%s]:%d", host, port)
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// urlHostPort extracts the canonical host and port from a parsed URL,
// defaulting to 443 when the port is omitted. Many providers skip the port
// for TLS-based schemes.
func urlHostPort(u *url.URL) (string, uint16, bool) {
	host := CanonicalHost(u.Hostname())
	if host == "" {
		return "", 0, false
	}
	portStr := u.Port()
	if portStr == "" {
		return host, 443, true
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port == 0 {
		return "", 0, false
	}
	return host, uint16(port), true
}

// decodeFragment percent-decodes a URI fragment used as a display name.
func decodeFragment(fragment string) string {
	if fragment == "" {
		return ""
	}
	decoded, err := url.QueryUnescape(fragment)
	if err != nil {
		return strings.TrimSpace(fragment)
	}
	return strings.TrimSpace(decoded)
}

// validUTF8 guards decoded payloads that must be text.
func validUTF8(b []byte) bool {
	return utf8.Valid(b)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
