package records

import "github.com/mileusna/useragent"

// BrowserName returns the browser named by ua, or "Unknown".
func BrowserName(ua string) string {
	if name := useragent.Parse(ua).Name; name != "" {
		return name
	}
	return "Unknown"
}

// IsBot reports whether ua identifies a crawler.
func IsBot(ua string) bool {
	return useragent.Parse(ua).Bot
}
