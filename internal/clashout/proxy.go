package clashout

import (
	"strconv"

	"github.com/subweave/subweave/internal/codec"
)

// clashProxy converts a node to its Clash proxy mapping. Only keys Clash
// understands are emitted; the node's remaining parameters stay in the URI
// lists, which preserve everything.
func clashProxy(n *codec.Node) map[string]any {
	proxy := map[string]any{
		"name":   n.Name,
		"server": n.Server,
		"port":   int(n.Port),
	}
	switch n.Protocol {
	case codec.ProtocolSS:
		proxy["type"] = "ss"
		proxy["cipher"] = n.Param("method")
		proxy["password"] = n.Param("password")
	case codec.ProtocolSSR:
		proxy["type"] = "ssr"
		proxy["cipher"] = n.Param("method")
		proxy["password"] = n.Param("password")
		proxy["protocol"] = n.Param("protocol")
		proxy["obfs"] = n.Param("obfs")
		if v := n.Param("protoparam"); v != "" {
			proxy["protocol-param"] = v
		}
		if v := n.Param("obfsparam"); v != "" {
			proxy["obfs-param"] = v
		}
	case codec.ProtocolVMess:
		proxy["type"] = "vmess"
		proxy["uuid"] = n.Param("id")
		proxy["alterId"] = atoiOr(n.Param("aid"), 0)
		cipher := n.Param("scy")
		if cipher == "" {
			cipher = "auto"
		}
		proxy["cipher"] = cipher
		if n.Param("tls") == "tls" {
			proxy["tls"] = true
		}
		setTransport(proxy, n)
	case codec.ProtocolVLESS:
		proxy["type"] = "vless"
		proxy["uuid"] = n.Param("uuid")
		if v := n.Param("flow"); v != "" {
			proxy["flow"] = v
		}
		if sec := n.Param("security"); sec == "tls" || sec == "reality" {
			proxy["tls"] = true
		}
		if v := n.Param("sni"); v != "" {
			proxy["servername"] = v
		}
		setTransport(proxy, n)
	case codec.ProtocolTrojan:
		proxy["type"] = "trojan"
		proxy["password"] = n.Param("password")
		if v := n.Param("sni"); v != "" {
			proxy["sni"] = v
		}
		if n.Param("allowInsecure") == "1" || n.Param("allowInsecure") == "true" {
			proxy["skip-cert-verify"] = true
		}
		setTransport(proxy, n)
	}
	return proxy
}

func setTransport(proxy map[string]any, n *codec.Node) {
	network := n.Param("net")
	if network == "" {
		network = n.Param("type")
	}
	switch network {
	case "ws":
		proxy["network"] = "ws"
		opts := map[string]any{}
		if path := n.Param("path"); path != "" {
			opts["path"] = path
		}
		if host := n.Param("host"); host != "" {
			opts["headers"] = map[string]any{"Host": host}
		}
		if len(opts) > 0 {
			proxy["ws-opts"] = opts
		}
	case "grpc":
		proxy["network"] = "grpc"
		if svc := n.Param("serviceName"); svc != "" {
			proxy["grpc-opts"] = map[string]any{"grpc-service-name": svc}
		}
	}
}

func atoiOr(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}
