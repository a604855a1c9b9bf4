package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// ParseVMess parses vmess://<base64> where the decoded body is a JSON
// object. Recognized keys are v, ps, add, port, id, aid, scy, net, type,
// host, path, tls, sni; unrecognized keys are preserved verbatim in the
// parameter bag so the downstream writer can emit them faithfully.
func ParseVMess(uri string) (*Node, error) {
	payload := strings.TrimSpace(strings.TrimPrefix(uri, "vmess://"))
	if payload == "" {
		return nil, fmt.Errorf("%w: empty vmess payload", ErrMalformedURI)
	}
	decoded, ok := decodeBase64Relaxed(payload)
	if !ok || !validUTF8(decoded) {
		return nil, fmt.Errorf("%w: vmess payload base64", ErrDecodeFailed)
	}

	dec := json.NewDecoder(bytes.NewReader(decoded))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("%w: vmess json: %v", ErrDecodeFailed, err)
	}

	params := make(map[string]string, len(obj))
	for key, value := range obj {
		params[key] = stringifyJSONValue(value)
	}

	server := CanonicalHost(params["add"])
	delete(params, "add")
	if server == "" {
		return nil, fmt.Errorf("%w: vmess missing server", ErrMalformedURI)
	}
	port64, err := strconv.ParseUint(strings.TrimSpace(params["port"]), 10, 16)
	if err != nil || port64 == 0 {
		return nil, fmt.Errorf("%w: vmess port %q", ErrMalformedURI, params["port"])
	}
	delete(params, "port")

	if id := params["id"]; id != "" {
		if _, err := uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("%w: vmess id %q", ErrMalformedURI, id)
		}
	}

	name := strings.TrimSpace(params["ps"])
	delete(params, "ps")
	if name == "" {
		name = DefaultName(ProtocolVMess, server, uint16(port64))
	}
	if params["v"] == "" {
		params["v"] = "2"
	}
	return &Node{
		Protocol: ProtocolVMess,
		Server:   server,
		Port:     uint16(port64),
		Name:     name,
		Params:   params,
	}, nil
}

// FormatVMess re-marshals the JSON body. encoding/json sorts map keys, so
// the output is deterministic and round-trip stable.
func FormatVMess(n *Node) (string, error) {
	obj := make(map[string]string, len(n.Params)+3)
	for key, value := range n.Params {
		obj[key] = value
	}
	obj["add"] = n.Server
	obj["port"] = strconv.Itoa(int(n.Port))
	obj["ps"] = n.Name

	body, err := json.Marshal(obj)
	if err != nil {
		return "", fmt.Errorf("codec: vmess marshal: %w", err)
	}
	return "vmess://" + base64.StdEncoding.EncodeToString(body), nil
}

// stringifyJSONValue flattens JSON scalars to strings. Providers emit the
// same field as number or string interchangeably (port, aid).
func stringifyJSONValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(raw)
	}
}
