package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/subweave/subweave/internal/codec"
)

// parseClashYAML extracts the proxies list from a Clash config and converts
// each entry to a node. Unsupported proxy types (hysteria2, tuic, snell and
// friends) count as unsupported; entries of a known type missing a required
// field count as malformed.
func parseClashYAML(text string) ([]*codec.Node, Stats, error) {
	var cfg struct {
		Proxies []map[string]any `yaml:"proxies"`
	}
	if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
		return nil, Stats{}, fmt.Errorf("unmarshal clash yaml: %w", err)
	}

	var (
		nodes []*codec.Node
		stats Stats
	)
	for _, proxy := range cfg.Proxies {
		node, outcome := convertClashProxy(proxy)
		switch outcome {
		case clashOK:
			nodes = append(nodes, node)
			stats.Parsed++
		case clashUnsupported:
			stats.Unsupported++
		case clashMalformed:
			stats.Malformed++
		}
	}
	return nodes, stats, nil
}

type clashOutcome int

const (
	clashOK clashOutcome = iota
	clashUnsupported
	clashMalformed
)

func convertClashProxy(proxy map[string]any) (*codec.Node, clashOutcome) {
	proxyType := strings.ToLower(strings.TrimSpace(getString(proxy, "type")))
	name := strings.TrimSpace(getString(proxy, "name"))
	server := codec.CanonicalHost(getString(proxy, "server"))
	port, portOK := getUint16(proxy, "port")

	var protocol codec.Protocol
	switch proxyType {
	case "ss", "shadowsocks":
		protocol = codec.ProtocolSS
	case "ssr", "shadowsocksr":
		protocol = codec.ProtocolSSR
	case "vmess":
		protocol = codec.ProtocolVMess
	case "vless":
		protocol = codec.ProtocolVLESS
	case "trojan":
		protocol = codec.ProtocolTrojan
	default:
		return nil, clashUnsupported
	}
	if server == "" || !portOK {
		return nil, clashMalformed
	}

	params := map[string]string{}
	switch protocol {
	case codec.ProtocolSS:
		method := strings.TrimSpace(firstNonEmpty(getString(proxy, "cipher"), getString(proxy, "method")))
		password := getString(proxy, "password")
		if method == "" || password == "" {
			return nil, clashMalformed
		}
		params["method"] = method
		params["password"] = password
	case codec.ProtocolSSR:
		method := strings.TrimSpace(firstNonEmpty(getString(proxy, "cipher"), getString(proxy, "method")))
		password := getString(proxy, "password")
		if method == "" || password == "" {
			return nil, clashMalformed
		}
		params["method"] = method
		params["password"] = password
		params["protocol"] = strings.TrimSpace(getString(proxy, "protocol"))
		params["obfs"] = strings.TrimSpace(getString(proxy, "obfs"))
		if v := getString(proxy, "protocol-param"); v != "" {
			params["protoparam"] = v
		}
		if v := getString(proxy, "obfs-param"); v != "" {
			params["obfsparam"] = v
		}
	case codec.ProtocolVMess:
		id := strings.TrimSpace(getString(proxy, "uuid"))
		if id == "" {
			return nil, clashMalformed
		}
		params["id"] = id
		params["v"] = "2"
		if aid, ok := getUint16(proxy, "alterId", "alter_id", "aid"); ok {
			params["aid"] = strconv.Itoa(int(aid))
		} else {
			params["aid"] = "0"
		}
		if v := strings.TrimSpace(getString(proxy, "cipher")); v != "" {
			params["scy"] = v
		}
		setClashTransport(params, proxy)
		setClashTLS(params, proxy)
	case codec.ProtocolVLESS:
		id := strings.TrimSpace(getString(proxy, "uuid"))
		if id == "" {
			return nil, clashMalformed
		}
		params["uuid"] = id
		if v := strings.TrimSpace(getString(proxy, "flow")); v != "" {
			params["flow"] = v
		}
		setClashTransport(params, proxy)
		setClashTLS(params, proxy)
	case codec.ProtocolTrojan:
		password := getString(proxy, "password")
		if password == "" {
			return nil, clashMalformed
		}
		params["password"] = password
		if v := strings.TrimSpace(firstNonEmpty(getString(proxy, "sni"), getString(proxy, "servername"))); v != "" {
			params["sni"] = v
		}
		if insecure, ok := getBool(proxy, "skip-cert-verify"); ok && insecure {
			params["allowInsecure"] = "1"
		}
		setClashTransport(params, proxy)
	}

	if name == "" {
		name = codec.DefaultName(protocol, server, port)
	}
	return &codec.Node{
		Protocol: protocol,
		Server:   server,
		Port:     port,
		Name:     name,
		Params:   params,
	}, clashOK
}

func setClashTransport(params map[string]string, proxy map[string]any) {
	network := strings.ToLower(strings.TrimSpace(getString(proxy, "network")))
	if network == "" {
		return
	}
	params["net"] = network
	if network != "ws" && network != "grpc" {
		return
	}
	opts, ok := getMap(proxy, network+"-opts", network+"_opts")
	if !ok {
		return
	}
	if path := strings.TrimSpace(getString(opts, "path")); path != "" {
		params["path"] = path
	}
	if svc := strings.TrimSpace(getString(opts, "grpc-service-name", "serviceName")); svc != "" {
		params["serviceName"] = svc
	}
	if headers, ok := getMap(opts, "headers"); ok {
		if host := strings.TrimSpace(getString(headers, "Host", "host")); host != "" {
			params["host"] = host
		}
	}
}

func setClashTLS(params map[string]string, proxy map[string]any) {
	if enabled, ok := getBool(proxy, "tls"); ok && enabled {
		params["tls"] = "tls"
	}
	if v := strings.TrimSpace(firstNonEmpty(
		getString(proxy, "servername"),
		getString(proxy, "sni"),
	)); v != "" {
		params["sni"] = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func getString(m map[string]any, keys ...string) string {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			return t
		case int:
			return strconv.Itoa(t)
		case int64:
			return strconv.FormatInt(t, 10)
		case uint64:
			return strconv.FormatUint(t, 10)
		case float64:
			return strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(t)
		}
	}
	return ""
}

func getUint16(m map[string]any, keys ...string) (uint16, bool) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		var n int64
		switch t := v.(type) {
		case int:
			n = int64(t)
		case int64:
			n = t
		case uint64:
			if t > 65535 {
				return 0, false
			}
			n = int64(t)
		case float64:
			n = int64(t)
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
			if err != nil {
				continue
			}
			n = parsed
		default:
			continue
		}
		if n <= 0 || n > 65535 {
			return 0, false
		}
		return uint16(n), true
	}
	return 0, false
}

func getBool(m map[string]any, keys ...string) (bool, bool) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case bool:
			return t, true
		case string:
			parsed, err := strconv.ParseBool(strings.TrimSpace(t))
			if err != nil {
				continue
			}
			return parsed, true
		}
	}
	return false, false
}

func getMap(m map[string]any, keys ...string) (map[string]any, bool) {
	for _, key := range keys {
		v, ok := m[key]
		if !ok {
			continue
		}
		if sub, ok := v.(map[string]any); ok {
			return sub, true
		}
	}
	return nil, false
}
