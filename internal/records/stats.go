package records

import (
	"strings"
	"time"
)

// NormalizePath collapses index pages and strips the deployment sub-path so
// the same page is counted under one key.
//
//	/oldfish-profile/index.html -> /
//	/blog/index.html            -> /blog
//	/blog/                      -> /blog
func NormalizePath(p, subpath string) string {
	path := strings.TrimSpace(p)
	if path == "" {
		return "/"
	}

	subpath = strings.Trim(subpath, "/")
	if subpath != "" {
		var parts []string
		for _, s := range strings.Split(path, "/") {
			if s != "" {
				parts = append(parts, s)
			}
		}
		if len(parts) >= 2 && parts[0] == subpath {
			path = "/" + strings.Join(parts[1:], "/")
		}
	}

	if path == "/index.html" {
		return "/"
	}
	if strings.HasSuffix(path, "/index.html") {
		path = strings.TrimSuffix(path, "/index.html")
		if path == "" {
			return "/"
		}
		return path
	}
	if len(path) > 1 && strings.HasSuffix(path, "/") {
		path = strings.TrimSuffix(path, "/")
	}
	if path == "" {
		return "/"
	}
	return path
}

// Windows holds rolling view counts.
type Windows struct {
	Today int `json:"todayViews"`
	Week  int `json:"weekViews"`
	Month int `json:"monthViews"`
}

// CountWindows sums daily counts for today, the last 7 days and the last
// month, using calendar dates in loc.
func CountWindows(daily map[string]int, now time.Time, loc *time.Location) Windows {
	local := now.In(loc)
	today := local.Format("2006-01-02")
	weekCutoff := local.AddDate(0, 0, -7).Format("2006-01-02")
	monthCutoff := local.AddDate(0, -1, 0).Format("2006-01-02")

	w := Windows{Today: daily[today]}
	for date, n := range daily {
		if date >= weekCutoff {
			w.Week += n
		}
		if date >= monthCutoff {
			w.Month += n
		}
	}
	return w
}

// VisitStats is the aggregate returned by the visit retrieval endpoint.
type VisitStats struct {
	TotalViews int `json:"totalViews"`
	Windows
	Visits           []StoredVisit  `json:"visits"`
	DailyViews       map[string]int `json:"dailyViews"`
	PageViews        map[string]int `json:"pageViews"`
	CountryStats     map[string]int `json:"countryStats"`
	HourDistribution map[int]int    `json:"hourDistribution"`
	BrowserStats     map[string]int `json:"browserStats"`
}

// EmptyVisitStats returns zeroed statistics.
func EmptyVisitStats() VisitStats {
	return VisitStats{
		Visits:           []StoredVisit{},
		DailyViews:       map[string]int{},
		PageViews:        map[string]int{},
		CountryStats:     map[string]int{},
		HourDistribution: emptyHours(),
		BrowserStats:     map[string]int{},
	}
}

// AggregateVisits buckets visits by date, page, country, hour and browser.
// Dates and hours are taken from each visit's parsed timestamp in loc;
// paths are normalized with subpath.
func AggregateVisits(visits []StoredVisit, now time.Time, loc *time.Location, subpath string) VisitStats {
	stats := EmptyVisitStats()
	stats.TotalViews = len(visits)

	for _, v := range visits {
		at := v.at.In(loc)
		v.Date = at.Format("2006-01-02")
		v.Path = NormalizePath(v.Path, subpath)

		stats.DailyViews[v.Date]++
		stats.PageViews[v.Path]++
		stats.CountryStats[v.Country]++
		stats.HourDistribution[at.Hour()]++
		stats.BrowserStats[BrowserName(v.UserAgent)]++
		stats.Visits = append(stats.Visits, v)
	}

	stats.Windows = CountWindows(stats.DailyViews, now, loc)
	return stats
}

func emptyHours() map[int]int {
	hours := make(map[int]int, 24)
	for i := 0; i < 24; i++ {
		hours[i] = 0
	}
	return hours
}
