package rename

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/subweave/subweave/internal/codec"
	"github.com/subweave/subweave/internal/store"
)

// tableReader serves lookups from a fixed IP-to-country table.
type tableReader struct {
	table map[string]store.GeoEntry
}

func (r *tableReader) Lookup(ip net.IP) (store.GeoEntry, error) {
	return r.table[ip.String()], nil
}

func (r *tableReader) Close() error { return nil }

func testStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func mkNode(server string, latencyMS int) *codec.Node {
	return &codec.Node{
		Protocol: codec.ProtocolTrojan,
		Server:   server,
		Port:     443,
		Name:     "original",
		Valid:    true,
		Latency:  time.Duration(latencyMS) * time.Millisecond,
	}
}

func TestRename_CountryGroupedNumbering(t *testing.T) {
	reader := &tableReader{table: map[string]store.GeoEntry{
		"1.1.1.1": {CountryCode: "JP"},
		"2.2.2.2": {CountryCode: "JP"},
		"3.3.3.3": {CountryCode: "US"},
	}}
	nodes := []*codec.Node{
		mkNode("1.1.1.1", 100),
		mkNode("3.3.3.3", 150),
		mkNode("2.2.2.2", 200),
	}

	New(reader, testStore(t)).Rename(context.Background(), nodes)

	want := []string{"JP-01 | 100ms", "US-01 | 150ms", "JP-02 | 200ms"}
	for i, n := range nodes {
		if n.Name != want[i] {
			t.Fatalf("node %d name = %q, want %q", i, n.Name, want[i])
		}
	}
}

func TestRename_UnknownCountryFallsBack(t *testing.T) {
	nodes := []*codec.Node{mkNode("9.9.9.9", 80)}
	New(NoOpReader(), testStore(t)).Rename(context.Background(), nodes)
	if nodes[0].Name != "XX-01 | 80ms" {
		t.Fatalf("name = %q", nodes[0].Name)
	}
}

func TestRename_CacheConsultedFirst(t *testing.T) {
	s := testStore(t)
	s.SetIPGeo("5.5.5.5", store.GeoEntry{CountryCode: "DE"})

	// Reader knows nothing; the cached entry must win.
	nodes := []*codec.Node{mkNode("5.5.5.5", 90)}
	New(NoOpReader(), s).Rename(context.Background(), nodes)
	if nodes[0].Name != "DE-01 | 90ms" {
		t.Fatalf("name = %q", nodes[0].Name)
	}
}

func TestRename_LookupResultCached(t *testing.T) {
	s := testStore(t)
	reader := &tableReader{table: map[string]store.GeoEntry{
		"6.6.6.6": {CountryCode: "SG", City: "Singapore"},
	}}
	New(reader, s).Rename(context.Background(), []*codec.Node{mkNode("6.6.6.6", 10)})

	entry, ok := s.GetIPGeo("6.6.6.6")
	if !ok || entry.CountryCode != "SG" || entry.City != "Singapore" {
		t.Fatalf("cache entry = %+v ok=%v", entry, ok)
	}
}
