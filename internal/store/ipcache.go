package store

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/renameio"
	"github.com/puzpuzpuz/xsync/v4"
	"gopkg.in/yaml.v3"
)

// geoCache is the in-memory IP-geo map. The renamer reads it concurrently
// while the run loop writes; each key is written at most once per run.
type geoCache struct {
	entries *xsync.Map[string, GeoEntry]
}

func newGeoCache() *geoCache {
	return &geoCache{entries: xsync.NewMap[string, GeoEntry]()}
}

// GetIPGeo looks up a cached geolocation for a host key.
func (s *Store) GetIPGeo(key string) (GeoEntry, bool) {
	return s.geo.entries.Load(key)
}

// SetIPGeo records a geolocation for a host key.
func (s *Store) SetIPGeo(key string, entry GeoEntry) {
	s.geo.entries.Store(key, entry)
}

// IPGeoLen reports the cache size.
func (s *Store) IPGeoLen() int {
	return s.geo.entries.Size()
}

func (s *Store) loadIPCache() {
	path := filepath.Join(s.dir, ipCacheFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.Printf("[store] read %s: %v, starting empty", path, err)
		}
		return
	}
	var m map[string]GeoEntry
	if err := yaml.Unmarshal(data, &m); err != nil {
		log.Printf("[store] corrupt %s: %v, starting empty", path, err)
		return
	}
	for key, entry := range m {
		s.geo.entries.Store(key, entry)
	}
}

func (s *Store) persistIPCache() error {
	m := make(map[string]GeoEntry, s.geo.entries.Size())
	s.geo.entries.Range(func(key string, entry GeoEntry) bool {
		m[key] = entry
		return true
	})
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("store: marshal ip cache: %w", err)
	}
	path := filepath.Join(s.dir, ipCacheFile)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("store: write %s: %w", path, err)
	}
	return nil
}
