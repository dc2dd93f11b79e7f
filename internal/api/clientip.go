package api

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/Zachkp/zach-dev-api/internal/records"
)

// ClientIP returns the visitor address: the Vercel header, then the first
// X-Forwarded-For hop, then X-Real-IP, then the socket peer. IPv4-mapped
// IPv6 prefixes are removed. The headers are taken as sent, so the result
// is only fit for geolocation and logs.
func ClientIP(r *http.Request) string {
	for _, h := range []string{"X-Vercel-Forwarded-For", "X-Forwarded-For", "X-Real-IP"} {
		if v := r.Header.Get(h); v != "" {
			first, _, _ := strings.Cut(v, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return strings.TrimPrefix(ip, "::ffff:")
			}
		}
	}

	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if host == "" {
		return records.UnknownAddress
	}
	return strings.TrimPrefix(host, "::ffff:")
}

var hashingSalt = randomHex(16)

// HashIP returns a salted, truncated hash of ip for log lines. The salt
// changes on every start, so hashes are only comparable within one run.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip + hashingSalt))
	return hex.EncodeToString(sum[:])[:16]
}

func randomHex(n int) string {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}
