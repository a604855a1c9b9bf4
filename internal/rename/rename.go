// Package rename rewrites node display names from geolocation data, giving
// the output files uniform labels like "JP-01 | 134ms".
package rename

import (
	"context"
	"fmt"
	"log"
	"net"
	"time"

	"github.com/oschwald/maxminddb-golang"

	"github.com/subweave/subweave/internal/codec"
	"github.com/subweave/subweave/internal/store"
)

// GeoReader resolves an IP to a country code and city. The interface keeps
// the mmdb file out of tests.
type GeoReader interface {
	Lookup(ip net.IP) (store.GeoEntry, error)
	Close() error
}

// noOpReader answers every lookup with an empty entry. Used when no
// database is configured; nodes then keep their original names.
type noOpReader struct{}

func (noOpReader) Lookup(_ net.IP) (store.GeoEntry, error) { return store.GeoEntry{}, nil }
func (noOpReader) Close() error                            { return nil }

// NoOpReader returns a reader that never renames.
func NoOpReader() GeoReader { return noOpReader{} }

// mmdbReader is the production GeoReader backed by a MaxMind database.
type mmdbReader struct {
	db *maxminddb.Reader
}

// Open opens a GeoLite2/GeoIP2 mmdb file.
func Open(path string) (GeoReader, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("rename: open %s: %w", path, err)
	}
	return &mmdbReader{db: db}, nil
}

func (r *mmdbReader) Lookup(ip net.IP) (store.GeoEntry, error) {
	var rec struct {
		Country struct {
			ISOCode string `maxminddb:"iso_code"`
		} `maxminddb:"country"`
		City struct {
			Names map[string]string `maxminddb:"names"`
		} `maxminddb:"city"`
	}
	if err := r.db.Lookup(ip, &rec); err != nil {
		return store.GeoEntry{}, err
	}
	return store.GeoEntry{
		CountryCode: rec.Country.ISOCode,
		City:        rec.City.Names["en"],
	}, nil
}

func (r *mmdbReader) Close() error { return r.db.Close() }

// Renamer rewrites display names to "<CC>-<nn> | <latency>ms". Lookups go
// through the store's IP-geo cache so repeated runs skip resolution.
type Renamer struct {
	reader     GeoReader
	cache      *store.Store
	resolver   *net.Resolver
	dnsTimeout time.Duration
}

func New(reader GeoReader, cache *store.Store) *Renamer {
	return &Renamer{
		reader:     reader,
		cache:      cache,
		resolver:   net.DefaultResolver,
		dnsTimeout: 3 * time.Second,
	}
}

// Rename relabels the ranked nodes in place. Nodes whose country cannot be
// determined are grouped under "XX". Numbering follows ranked order within
// each country, starting at 01.
func (r *Renamer) Rename(ctx context.Context, nodes []*codec.Node) {
	counters := make(map[string]int)
	for _, n := range nodes {
		entry := r.locate(ctx, n.Server)
		cc := entry.CountryCode
		if cc == "" {
			cc = "XX"
		}
		counters[cc]++
		n.Name = fmt.Sprintf("%s-%02d | %dms", cc, counters[cc], n.Latency.Milliseconds())
	}
	log.Printf("[rename] labeled %d nodes across %d countries, %d cached locations",
		len(nodes), len(counters), r.cache.IPGeoLen())
}

// locate resolves a server to a geo entry, consulting the persistent cache
// first. Unresolvable hosts cache an empty entry so each is tried once.
func (r *Renamer) locate(ctx context.Context, server string) store.GeoEntry {
	if entry, ok := r.cache.GetIPGeo(server); ok {
		return entry
	}

	ip := net.ParseIP(server)
	if ip == nil {
		lookupCtx, cancel := context.WithTimeout(ctx, r.dnsTimeout)
		addrs, err := r.resolver.LookupIP(lookupCtx, "ip", server)
		cancel()
		if err != nil || len(addrs) == 0 {
			r.cache.SetIPGeo(server, store.GeoEntry{})
			return store.GeoEntry{}
		}
		ip = addrs[0]
	}

	entry, err := r.reader.Lookup(ip)
	if err != nil {
		log.Printf("[rename] lookup %s: %v", server, err)
		entry = store.GeoEntry{}
	}
	r.cache.SetIPGeo(server, entry)
	return entry
}
