// Package geo resolves client addresses to a coarse location. Lookups are
// best effort: every failure resolves to an unknown location.
package geo

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strings"
	"time"
)

// Unknown is the value of any field that could not be resolved.
const Unknown = "未知"

// DefaultTimeout bounds a single lookup.
const DefaultTimeout = 3 * time.Second

var errNoData = errors.New("geo: no location data")

// Location is a resolved address.
type Location struct {
	Country string `json:"country"`
	Region  string `json:"region"`
	City    string `json:"city"`
}

// UnknownLocation returns a location with every field unknown.
func UnknownLocation() Location {
	return Location{Country: Unknown, Region: Unknown, City: Unknown}
}

func (l Location) withDefaults() Location {
	if l.Country == "" {
		l.Country = Unknown
	}
	if l.Region == "" {
		l.Region = Unknown
	}
	if l.City == "" {
		l.City = Unknown
	}
	return l
}

// Locator looks up one address.
type Locator interface {
	Locate(ctx context.Context, ip string) (Location, error)
}

// Chain tries each locator in order and returns the first success.
type Chain []Locator

// Locate implements Locator.
func (c Chain) Locate(ctx context.Context, ip string) (Location, error) {
	err := errNoData
	for _, l := range c {
		loc, lerr := l.Locate(ctx, ip)
		if lerr == nil {
			return loc, nil
		}
		err = lerr
	}
	return Location{}, err
}

// Resolver applies the private-address short circuit and the timeout.
type Resolver struct {
	locator Locator
	timeout time.Duration
}

// NewResolver wraps a locator. A nil locator resolves everything to unknown.
func NewResolver(l Locator, timeout time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Resolver{locator: l, timeout: timeout}
}

// Lookup never fails: private, loopback and unparseable addresses, timeouts
// and upstream errors all resolve to UnknownLocation.
func (r *Resolver) Lookup(ctx context.Context, ip string) Location {
	if r == nil || r.locator == nil || IsPrivate(ip) {
		return UnknownLocation()
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	loc, err := r.locator.Locate(ctx, ip)
	if err != nil {
		slog.Debug("geolocation lookup failed", "error", err)
		return UnknownLocation()
	}
	return loc.withDefaults()
}

// IsPrivate reports whether ip should skip lookups: empty, "unknown",
// unparseable, loopback, private, link-local or unspecified addresses.
func IsPrivate(ip string) bool {
	ip = strings.TrimSpace(ip)
	if ip == "" || ip == "unknown" {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return true
	}
	return parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() ||
		parsed.IsLinkLocalMulticast() || parsed.IsUnspecified()
}
