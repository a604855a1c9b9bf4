package ingest

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/subweave/subweave/internal/codec"
)

const (
	ssLine     = "ss://YWVzLTI1Ni1nY206cGFzc3dvcmQ=@1.2.3.4:443#test"
	trojanLine = "trojan://pw@host.example:443?sni=sni.example#tj"
)

func TestParseBody_RawURILines(t *testing.T) {
	body := "# provider banner\n" + ssLine + "\n\n" + trojanLine + "\nhysteria2://x@y:1#z\nbroken-line\n"
	nodes, stats, err := ParseBody([]byte(body), "https://sub.example/a")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(nodes))
	}
	if stats.Parsed != 2 || stats.Unsupported != 1 || stats.Malformed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	for _, n := range nodes {
		if n.Subscription != "https://sub.example/a" {
			t.Fatalf("subscription = %q", n.Subscription)
		}
	}
}

func TestParseBody_WholeBodyBase64(t *testing.T) {
	plain := ssLine + "\n" + trojanLine + "\n"
	body := base64.StdEncoding.EncodeToString([]byte(plain))
	nodes, stats, err := ParseBody([]byte(body), "https://sub.example/b64")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 || stats.Parsed != 2 {
		t.Fatalf("nodes=%d stats=%+v", len(nodes), stats)
	}
}

func TestParseBody_Base64WithLineWraps(t *testing.T) {
	plain := ssLine + "\n" + trojanLine + "\n"
	enc := base64.StdEncoding.EncodeToString([]byte(plain))
	var wrapped strings.Builder
	for i := 0; i < len(enc); i += 40 {
		end := i + 40
		if end > len(enc) {
			end = len(enc)
		}
		wrapped.WriteString(enc[i:end])
		wrapped.WriteByte('\n')
	}
	nodes, _, err := ParseBody([]byte(wrapped.String()), "https://sub.example/wrap")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 2 {
		t.Fatalf("nodes = %d, want 2", len(nodes))
	}
}

func TestParseBody_ClashYAML(t *testing.T) {
	body := `
port: 7890
proxies:
  - name: "hk-01"
    type: ss
    server: HK.Example.COM
    port: 8388
    cipher: aes-256-gcm
    password: pw1
  - name: "jp-01"
    type: vmess
    server: 1.2.3.4
    port: 443
    uuid: b831381d-6324-4d53-ad4f-8cda48b30811
    alterId: 0
    cipher: auto
    network: ws
    ws-opts:
      path: /ws
      headers:
        Host: cdn.example.com
  - name: "tj-01"
    type: trojan
    server: tj.example.com
    port: 443
    password: pw2
    sni: cdn.example.com
    skip-cert-verify: true
  - name: "unsupported"
    type: hysteria2
    server: h.example.com
    port: 443
  - name: "no-password"
    type: trojan
    server: bad.example.com
    port: 443
`
	nodes, stats, err := ParseBody([]byte(body), "https://sub.example/clash")
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(nodes))
	}
	if stats.Parsed != 3 || stats.Unsupported != 1 || stats.Malformed != 1 {
		t.Fatalf("stats = %+v", stats)
	}

	ss := nodes[0]
	if ss.Protocol != codec.ProtocolSS || ss.Server != "hk.example.com" || ss.Port != 8388 {
		t.Fatalf("ss node = %+v", ss)
	}
	if ss.Param("method") != "aes-256-gcm" {
		t.Fatalf("method = %q", ss.Param("method"))
	}

	vm := nodes[1]
	if vm.Param("net") != "ws" || vm.Param("path") != "/ws" || vm.Param("host") != "cdn.example.com" {
		t.Fatalf("vmess params = %v", vm.Params)
	}
	if vm.Param("aid") != "0" {
		t.Fatalf("aid = %q", vm.Param("aid"))
	}

	tj := nodes[2]
	if tj.Param("sni") != "cdn.example.com" || tj.Param("allowInsecure") != "1" {
		t.Fatalf("trojan params = %v", tj.Params)
	}
}

func TestParseBody_ClashLookalikeFallsThrough(t *testing.T) {
	// Starts like a Clash document but is broken YAML; the raw URI line
	// in the same body must still be picked up.
	body := "proxies: [unterminated\n" + ssLine + "\n"

	nodes, stats, err := ParseBody([]byte(body), "https://sub.example/lookalike")
	if err != nil {
		t.Fatal(err)
	}
	if stats.Parsed != 1 || len(nodes) != 1 {
		t.Fatalf("parsed = %d nodes = %d, want 1 each", stats.Parsed, len(nodes))
	}
	if nodes[0].Server != "1.2.3.4" {
		t.Fatalf("server = %q", nodes[0].Server)
	}
}

func TestParseBody_EmptyBody(t *testing.T) {
	if _, _, err := ParseBody([]byte("   \n  "), "https://sub.example/empty"); err == nil {
		t.Fatal("want error for empty body")
	}
}

func TestParseBody_UnrecognizedFormat(t *testing.T) {
	if _, _, err := ParseBody([]byte("<html><body>404</body></html>"), "https://sub.example/html"); err == nil {
		t.Fatal("want error for html body")
	}
}

func TestDeduper_FirstWins(t *testing.T) {
	a, err := codec.Parse(ssLine)
	if err != nil {
		t.Fatal(err)
	}
	a.Subscription = "https://sub.example/a"

	b, err := codec.Parse(ssLine)
	if err != nil {
		t.Fatal(err)
	}
	b.Name = "different display name"
	b.Subscription = "https://sub.example/b"

	c, err := codec.Parse(trojanLine)
	if err != nil {
		t.Fatal(err)
	}
	c.Subscription = "https://sub.example/b"

	d := NewDeduper()
	if added := d.Add([]*codec.Node{a}); added != 1 {
		t.Fatalf("added = %d", added)
	}
	if added := d.Add([]*codec.Node{b, c}); added != 1 {
		t.Fatalf("added = %d, want 1 (duplicate dropped)", added)
	}
	if d.Len() != 2 {
		t.Fatalf("len = %d", d.Len())
	}
	kept := d.Nodes()[0]
	if kept.Subscription != "https://sub.example/a" || kept.Name != "test" {
		t.Fatalf("first-wins violated: %+v", kept)
	}
}

func TestDeduper_CaseVariantServersCollide(t *testing.T) {
	lower := &codec.Node{Protocol: codec.ProtocolTrojan, Server: "example.com", Port: 443, Subscription: "a"}
	upper := &codec.Node{Protocol: codec.ProtocolTrojan, Server: codec.CanonicalHost("EXAMPLE.COM"), Port: 443, Subscription: "b"}

	d := NewDeduper()
	d.Add([]*codec.Node{lower, upper})
	if d.Len() != 1 {
		t.Fatalf("len = %d, want 1", d.Len())
	}
}

func TestDeduper_ProtocolsStayDistinct(t *testing.T) {
	ss := &codec.Node{Protocol: codec.ProtocolSS, Server: "example.com", Port: 443, Subscription: "a"}
	tj := &codec.Node{Protocol: codec.ProtocolTrojan, Server: "example.com", Port: 443, Subscription: "a"}

	d := NewDeduper()
	if added := d.Add([]*codec.Node{ss, tj}); added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}
	if d.Len() != 2 {
		t.Fatalf("len = %d, want 2", d.Len())
	}
}
