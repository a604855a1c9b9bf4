package codec

import (
	"fmt"
	"net/url"
	"strings"
)

// ParseTrojan parses trojan://<password>@<host>:<port>?<query>#<name>.
// Recognized query keys include sni, alpn, allowInsecure, peer, type, host
// and path; all query keys are kept verbatim.
func ParseTrojan(uri string) (*Node, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, fmt.Errorf("%w: trojan: %v", ErrMalformedURI, err)
	}
	password := strings.TrimSpace(u.User.Username())
	if password == "" {
		return nil, fmt.Errorf("%w: trojan missing password", ErrMalformedURI)
	}

	server, port, ok := urlHostPort(u)
	if !ok {
		return nil, fmt.Errorf("%w: trojan host:port %q", ErrMalformedURI, u.Host)
	}

	params := queryToParams(u.Query())
	params["password"] = password

	name := decodeFragment(u.Fragment)
	if name == "" {
		name = DefaultName(ProtocolTrojan, server, port)
	}
	return &Node{
		Protocol: ProtocolTrojan,
		Server:   server,
		Port:     port,
		Name:     name,
		Params:   params,
	}, nil
}

// FormatTrojan rebuilds the URI with a sorted query string.
func FormatTrojan(n *Node) (string, error) {
	password := n.Param("password")
	if password == "" {
		return "", fmt.Errorf("%w: trojan node without password", ErrMalformedURI)
	}
	query := paramsToQuery(n.Params, "password")
	return assembleURI("trojan", password, n.Server, n.Port, query, n.Name), nil
}
