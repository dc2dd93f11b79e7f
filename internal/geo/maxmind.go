package geo

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/maxminddb-golang"
)

// MaxMind looks addresses up in a local GeoLite2-City database.
type MaxMind struct {
	mu     sync.RWMutex
	db     *maxminddb.Reader
	locale string
}

// cityRecord matches the GeoLite2-City database structure.
type cityRecord struct {
	Country struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"country"`
	Subdivisions []struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"subdivisions"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
}

// OpenMaxMind opens the database at path. Names are returned in locale,
// falling back to English.
func OpenMaxMind(path, locale string) (*MaxMind, error) {
	db, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open GeoIP database: %w", err)
	}
	if locale == "" {
		locale = "en"
	}
	return &MaxMind{db: db, locale: locale}, nil
}

// Locate implements Locator.
func (m *MaxMind) Locate(_ context.Context, ip string) (Location, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return Location{}, fmt.Errorf("invalid address %q", ip)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.db == nil {
		return Location{}, errNoData
	}

	var rec cityRecord
	if err := m.db.Lookup(parsed, &rec); err != nil {
		return Location{}, fmt.Errorf("GeoIP lookup: %w", err)
	}

	loc := Location{
		Country: m.name(rec.Country.Names),
		City:    m.name(rec.City.Names),
	}
	if len(rec.Subdivisions) > 0 {
		loc.Region = m.name(rec.Subdivisions[0].Names)
	}
	if loc.Country == "" {
		return Location{}, errNoData
	}
	return loc, nil
}

func (m *MaxMind) name(names map[string]string) string {
	if n, ok := names[m.locale]; ok {
		return n
	}
	return names["en"]
}

// Close closes the database.
func (m *MaxMind) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.db == nil {
		return nil
	}
	err := m.db.Close()
	m.db = nil
	return err
}
