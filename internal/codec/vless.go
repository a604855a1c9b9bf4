package codec

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// ParseVLESS parses vless://<uuid>@<host>:<port>?<query>#<name>.
// Recognized query keys include encryption, flow, security, sni, alpn, fp,
// type, host, path and serviceName; all query keys are kept verbatim.
func ParseVLESS(uri string) (*Node, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: vless: %v", ErrMalformedURI, err)
	}
	id := strings.TrimSpace(u.User.Username())
	if id == "" {
		return nil, fmt.Errorf("%w: vless missing uuid", ErrMalformedURI)
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: vless uuid %q", ErrMalformedURI, id)
	}

	server, port, ok := urlHostPort(u)
	if !ok {
		return nil, fmt.Errorf("%w: vless host:port %q", ErrMalformedURI, u.Host)
	}

	params := queryToParams(u.Query())
	params["uuid"] = id

	name := decodeFragment(u.Fragment)
	if name == "" {
		name = DefaultName(ProtocolVLESS, server, port)
	}
	return &Node{
		Protocol: ProtocolVLESS,
		Server:   server,
		Port:     port,
		Name:     name,
		Params:   params,
	}, nil
}

// FormatVLESS rebuilds the URI with a sorted query string.
func FormatVLESS(n *Node) (string, error) {
	id := n.Param("uuid")
	if id == "" {
		return "", fmt.Errorf("%w: vless node without uuid", ErrMalformedURI)
	}
	query := paramsToQuery(n.Params, "uuid")
	return assembleURI("vless", id, n.Server, n.Port, query, n.Name), nil
}

// queryToParams flattens url.Values to the single-valued parameter bag.
// Repeated keys keep the first value, matching first-wins elsewhere.
func queryToParams(values url.Values) map[string]string {
	params := make(map[string]string, len(values))
	for key, list := range values {
		if len(list) > 0 {
			params[key] = list[0]
		}
	}
	return params
}

// paramsToQuery rebuilds a query string, skipping the listed keys.
// url.Values.Encode sorts keys, so output is deterministic.
func paramsToQuery(params map[string]string, skip ...string) string {
	skipped := make(map[string]bool, len(skip))
	for _, key := range skip {
		skipped[key] = true
	}
	values := url.Values{}
	for key, value := range params {
		if !skipped[key] {
			values.Set(key, value)
		}
	}
	return values.Encode()
}

// assembleURI renders scheme://user@host:port?query#name.
func assembleURI(scheme, user, server string, port uint16, query, name string) string {
	var b strings.Builder
	b.WriteString(scheme)
	b.WriteString("://")
	b.WriteString(url.User(user).String())
	b.WriteByte('@')
	b.WriteString(formatHostPort(server, port))
	if query != "" {
		b.WriteByte('?')
		b.WriteString(query)
	}
	b.WriteByte('#')
	b.WriteString(url.QueryEscape(name))
	return b.String()
}
