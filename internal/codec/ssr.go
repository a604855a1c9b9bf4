package codec

import (
	"encoding/base64"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ssrOrderedParams is the conventional emission order for the SSR query
// section. Unknown keys follow, sorted.
var ssrOrderedParams = []string{"obfsparam", "protoparam", "remarks", "group"}

// ParseSSR parses an SSR URI: ssr://<base64> where the decoded body is
//
//	host:port:protocol:method:obfs:password_base64/?key=value_base64&...
//
// The host may itself contain colons (IPv6), so the six fields are split
// from the right.
func ParseSSR(uri string) (*Node, error) {
	payload := strings.TrimSpace(strings.TrimPrefix(uri, "ssr://"))
	if payload == "" {
		return nil, fmt.Errorf("%w: empty ssr payload", ErrMalformedURI)
	}
	decoded, ok := decodeBase64Relaxed(payload)
	if !ok || !validUTF8(decoded) {
		return nil, fmt.Errorf("%w: ssr payload base64", ErrDecodeFailed)
	}
	body := string(decoded)

	main, query, _ := strings.Cut(body, "/?")
	main = strings.TrimSuffix(main, "/")

	fields := strings.Split(main, ":")
	if len(fields) < 6 {
		return nil, fmt.Errorf("%w: ssr body has %d fields, want 6", ErrMalformedURI, len(fields))
	}
	// Rightmost five fields are fixed; everything before them is the host.
	n := len(fields)
	server := CanonicalHost(strings.Join(fields[:n-5], ":"))
	portStr := fields[n-5]
	obfsProto := fields[n-4]
	method := fields[n-3]
	obfs := fields[n-2]
	passwordB64 := fields[n-1]

	port64, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil || port64 == 0 || server == "" {
		return nil, fmt.Errorf("%w: ssr host:port", ErrMalformedURI)
	}
	passwordRaw, ok := decodeBase64Relaxed(passwordB64)
	if !ok || !validUTF8(passwordRaw) {
		return nil, fmt.Errorf("%w: ssr password base64", ErrDecodeFailed)
	}

	params := map[string]string{
		"protocol": obfsProto,
		"method":   method,
		"obfs":     obfs,
		"password": string(passwordRaw),
	}

	name := ""
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		decodedValue := value
		if raw, ok := decodeBase64Relaxed(value); ok && validUTF8(raw) {
			decodedValue = string(raw)
		}
		if key == "remarks" {
			name = strings.TrimSpace(decodedValue)
			continue
		}
		params[key] = decodedValue
	}

	if name == "" {
		name = DefaultName(ProtocolSSR, server, uint16(port64))
	}
	return &Node{
		Protocol: ProtocolSSR,
		Server:   server,
		Port:     uint16(port64),
		Name:     name,
		Params:   params,
	}, nil
}

// FormatSSR rebuilds the base64 body with URL-safe unpadded encoding.
func FormatSSR(n *Node) (string, error) {
	if n.Param("method") == "" || n.Param("obfs") == "" {
		return "", fmt.Errorf("%w: ssr node without method/obfs", ErrMalformedURI)
	}
	b64 := func(s string) string {
		return base64.RawURLEncoding.EncodeToString([]byte(s))
	}

	main := fmt.Sprintf("%s:%d:%s:%s:%s:%s",
		n.Server, n.Port,
		n.Param("protocol"), n.Param("method"), n.Param("obfs"),
		b64(n.Param("password")))

	pairs := make([]string, 0, len(n.Params))
	emitted := map[string]bool{"protocol": true, "method": true, "obfs": true, "password": true}
	for _, key := range ssrOrderedParams {
		if key == "remarks" {
			pairs = append(pairs, "remarks="+b64(n.Name))
			continue
		}
		if value, ok := n.Params[key]; ok {
			pairs = append(pairs, key+"="+b64(value))
			emitted[key] = true
		}
	}
	var extra []string
	for key, value := range n.Params {
		if emitted[key] || key == "obfsparam" || key == "protoparam" || key == "group" {
			continue
		}
		extra = append(extra, key+"="+b64(value))
	}
	sort.Strings(extra)
	pairs = append(pairs, extra...)

	body := main + "/?" + strings.Join(pairs, "&")
	return "ssr://" + base64.RawURLEncoding.EncodeToString([]byte(body)), nil
}
