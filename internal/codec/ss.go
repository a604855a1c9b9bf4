package codec

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
)

// ParseSS parses a Shadowsocks URI. Two layouts are accepted:
//
//	ss://<base64(method:password)>@<host>:<port>#<name>
//	ss://<base64(method:password@host:port)>#<name>
//
// The userinfo part may also appear as plain "method:password"; some
// providers skip the base64 wrapping entirely.
func ParseSS(uri string) (*Node, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(uri, "ss://"))
	if raw == "" {
		return nil, fmt.Errorf("%w: empty ss payload", ErrMalformedURI)
	}

	beforeFragment, fragment, _ := strings.Cut(raw, "#")
	beforeQuery, _, _ := strings.Cut(beforeFragment, "?")
	name := decodeFragment(fragment)

	var method, password, server string
	var port uint16

	if at := strings.LastIndex(beforeQuery, "@"); at > 0 && at < len(beforeQuery)-1 {
		var ok bool
		method, password, ok = parseSSUserInfo(beforeQuery[:at])
		if !ok {
			return nil, fmt.Errorf("%w: ss userinfo", ErrDecodeFailed)
		}
		server, port, ok = parseHostPort(beforeQuery[at+1:])
		if !ok {
			return nil, fmt.Errorf("%w: ss host:port", ErrMalformedURI)
		}
	} else {
		decoded, ok := decodeBase64Relaxed(beforeQuery)
		if !ok || !validUTF8(decoded) {
			return nil, fmt.Errorf("%w: ss payload base64", ErrDecodeFailed)
		}
		text := string(decoded)
		at := strings.LastIndex(text, "@")
		if at <= 0 || at >= len(text)-1 {
			return nil, fmt.Errorf("%w: ss decoded payload", ErrMalformedURI)
		}
		method, password, ok = parseSSUserInfo(text[:at])
		if !ok {
			return nil, fmt.Errorf("%w: ss method:password", ErrMalformedURI)
		}
		server, port, ok = parseHostPort(text[at+1:])
		if !ok {
			return nil, fmt.Errorf("%w: ss host:port", ErrMalformedURI)
		}
	}

	if name == "" {
		name = DefaultName(ProtocolSS, server, port)
	}
	return &Node{
		Protocol: ProtocolSS,
		Server:   server,
		Port:     port,
		Name:     name,
		Params: map[string]string{
			"method":   method,
			"password": password,
		},
	}, nil
}

// parseSSUserInfo accepts plain "method:password" or its base64 wrapping.
func parseSSUserInfo(input string) (string, string, bool) {
	if method, password, ok := strings.Cut(input, ":"); ok {
		method = strings.TrimSpace(method)
		password = strings.TrimSpace(password)
		if method != "" && password != "" {
			return method, password, true
		}
	}

	decoded, ok := decodeBase64Relaxed(strings.TrimSpace(input))
	if !ok || !validUTF8(decoded) {
		return "", "", false
	}
	method, password, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return "", "", false
	}
	method = strings.TrimSpace(method)
	password = strings.TrimSpace(password)
	if method == "" || password == "" {
		return "", "", false
	}
	return method, password, true
}

// FormatSS renders the userinfo layout with URL-safe unpadded base64.
func FormatSS(n *Node) (string, error) {
	method := n.Param("method")
	password := n.Param("password")
	if method == "" || password == "" {
		return "", fmt.Errorf("%w: ss node without method/password", ErrMalformedURI)
	}
	userinfo := base64.RawURLEncoding.EncodeToString([]byte(method + ":" + password))
	return fmt.Sprintf("ss://%s@%s#%s",
		userinfo, formatHostPort(n.Server, n.Port), url.QueryEscape(n.Name)), nil
}
