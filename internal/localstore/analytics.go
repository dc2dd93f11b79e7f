package localstore

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/Zachkp/zach-dev-api/internal/records"
)

const (
	// MaxRecords caps the stored page views; the oldest are dropped first.
	MaxRecords = 10000
	// RetentionDays is how long records and daily counts are kept.
	RetentionDays = 90
	// CleanupInterval is the minimum time between automatic cleanups.
	CleanupInterval = 7 * 24 * time.Hour

	// DirectReferrer is recorded when a view has no referrer.
	DirectReferrer = "direct"

	dateLayout = "2006-01-02"
)

// PageRecord is one locally recorded page view.
type PageRecord struct {
	Timestamp string `json:"timestamp"`
	Date      string `json:"date"`
	Path      string `json:"path"`
	Referrer  string `json:"referrer"`
	UserAgent string `json:"userAgent"`
	Hour      int    `json:"hour"`
}

// State is the aggregate stored under KeyAnalytics.
type State struct {
	TotalViews  int            `json:"totalViews"`
	DailyViews  map[string]int `json:"dailyViews"`
	PageViews   map[string]int `json:"pageViews"`
	Records     []PageRecord   `json:"records"`
	LastCleanup string         `json:"lastCleanup"`
}

func newState(now time.Time, loc *time.Location) *State {
	return &State{
		DailyViews:  map[string]int{},
		PageViews:   map[string]int{},
		Records:     []PageRecord{},
		LastCleanup: records.DateKey(now, loc),
	}
}

func (s *State) normalize() {
	if s.DailyViews == nil {
		s.DailyViews = map[string]int{}
	}
	if s.PageViews == nil {
		s.PageViews = map[string]int{}
	}
	if s.Records == nil {
		s.Records = []PageRecord{}
	}
}

// Add appends a view and bumps the total, daily and per-page counters.
func (s *State) Add(r PageRecord) {
	s.normalize()
	s.Records = append(s.Records, r)
	if n := len(s.Records); n > MaxRecords {
		s.Records = append([]PageRecord(nil), s.Records[n-MaxRecords:]...)
	}
	s.TotalViews++
	s.DailyViews[r.Date]++
	s.PageViews[r.Path]++
}

// prune drops records and daily counts older than RetentionDays.
func (s *State) prune(now time.Time, loc *time.Location) {
	s.normalize()
	cutoff := now.AddDate(0, 0, -RetentionDays)
	cutoffDate := records.DateKey(cutoff, loc)

	kept := s.Records[:0]
	for _, r := range s.Records {
		at, err := time.Parse(time.RFC3339Nano, r.Timestamp)
		if err != nil || at.Before(cutoff) {
			continue
		}
		kept = append(kept, r)
	}
	s.Records = kept

	for date := range s.DailyViews {
		if date < cutoffDate {
			delete(s.DailyViews, date)
		}
	}
	s.LastCleanup = records.DateKey(now, loc)
}

// AnalyticsStore keeps the page-view aggregate in a KV.
type AnalyticsStore struct {
	kv  KV
	loc *time.Location
	now func() time.Time
}

// NewAnalyticsStore creates the store and initializes the aggregate if it
// does not exist yet.
func NewAnalyticsStore(kv KV, loc *time.Location) *AnalyticsStore {
	if loc == nil {
		loc = time.Local
	}
	a := &AnalyticsStore{kv: kv, loc: loc, now: time.Now}
	a.ensure()
	return a
}

// Location returns the zone dates are bucketed in.
func (a *AnalyticsStore) Location() *time.Location { return a.loc }

func (a *AnalyticsStore) ensure() {
	_, ok, err := a.kv.Get(KeyAnalytics)
	if err != nil {
		slog.Error("Failed to read analytics", "error", err)
		return
	}
	if !ok {
		a.Write(newState(a.now(), a.loc))
	}
}

// Read returns the stored aggregate. It returns nil only when the backing
// store cannot be read; a missing or corrupt aggregate is reinitialized.
func (a *AnalyticsStore) Read() *State {
	raw, ok, err := a.kv.Get(KeyAnalytics)
	if err != nil {
		slog.Error("Failed to read analytics", "error", err)
		return nil
	}
	if !ok {
		fresh := newState(a.now(), a.loc)
		a.Write(fresh)
		return fresh
	}

	var s State
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		slog.Warn("Analytics data corrupt, reinitializing", "error", err)
		fresh := newState(a.now(), a.loc)
		a.Write(fresh)
		return fresh
	}
	s.normalize()
	return &s
}

// Write persists s. Failures are logged, never returned. When the quota is
// exceeded the retention window is applied to s and the write retried once.
func (a *AnalyticsStore) Write(s *State) {
	if s == nil {
		return
	}
	err := a.set(s)
	if errors.Is(err, ErrQuotaExceeded) {
		slog.Warn("Analytics storage full, dropping old records")
		s.prune(a.now(), a.loc)
		err = a.set(s)
	}
	if err != nil {
		slog.Error("Failed to save analytics", "error", err)
	}
}

func (a *AnalyticsStore) set(s *State) error {
	data, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return a.kv.Set(KeyAnalytics, string(data))
}

// Reset discards all analytics and starts over.
func (a *AnalyticsStore) Reset() {
	if err := a.kv.Remove(KeyAnalytics); err != nil {
		slog.Error("Failed to reset analytics", "error", err)
		return
	}
	a.Write(newState(a.now(), a.loc))
}

// CleanupOldRecords applies the retention window and stamps lastCleanup.
func (a *AnalyticsStore) CleanupOldRecords(now time.Time) {
	s := a.Read()
	if s == nil {
		return
	}
	s.prune(now, a.loc)
	a.Write(s)
}

// CleanupIfNeeded runs CleanupOldRecords when at least CleanupInterval has
// passed since the last cleanup. It reports whether a cleanup ran.
func (a *AnalyticsStore) CleanupIfNeeded(now time.Time) bool {
	s := a.Read()
	if s == nil {
		return false
	}
	last, err := time.ParseInLocation(dateLayout, s.LastCleanup, a.loc)
	if err != nil {
		last = time.Date(2000, 1, 1, 0, 0, 0, 0, a.loc)
	}
	if now.Sub(last) < CleanupInterval {
		return false
	}
	s.prune(now, a.loc)
	a.Write(s)
	return true
}

// Stats is the local view summary.
type Stats struct {
	TotalViews int `json:"totalViews"`
	records.Windows
	PageViews        map[string]int `json:"pageViews"`
	DailyViews       map[string]int `json:"dailyViews"`
	HourDistribution map[int]int    `json:"hourDistribution"`
	Records          []PageRecord   `json:"records"`
}

// Stats summarizes the aggregate as of now. The hour histogram uses each
// record's stored hour.
func (a *AnalyticsStore) Stats(now time.Time) Stats {
	stats := Stats{
		PageViews:        map[string]int{},
		DailyViews:       map[string]int{},
		HourDistribution: make(map[int]int, 24),
		Records:          []PageRecord{},
	}
	for h := 0; h < 24; h++ {
		stats.HourDistribution[h] = 0
	}

	s := a.Read()
	if s == nil {
		return stats
	}

	stats.TotalViews = s.TotalViews
	stats.Windows = records.CountWindows(s.DailyViews, now, a.loc)
	stats.PageViews = s.PageViews
	stats.DailyViews = s.DailyViews
	stats.Records = s.Records
	for _, r := range s.Records {
		stats.HourDistribution[r.Hour]++
	}
	return stats
}

// DayCount is one point of the daily chart.
type DayCount struct {
	Date  string `json:"date"`
	Views int    `json:"views"`
}

// DailyViewsForChart returns the last days dates, oldest first, including
// days without views.
func (a *AnalyticsStore) DailyViewsForChart(now time.Time, days int) []DayCount {
	if days <= 0 {
		days = 30
	}
	s := a.Read()
	if s == nil {
		return []DayCount{}
	}

	out := make([]DayCount, 0, days)
	for i := days - 1; i >= 0; i-- {
		date := records.DateKey(now.AddDate(0, 0, -i), a.loc)
		out = append(out, DayCount{Date: date, Views: s.DailyViews[date]})
	}
	return out
}

// TopPages returns the n most viewed pages, most viewed first.
func (a *AnalyticsStore) TopPages(n int) []PageCount {
	s := a.Read()
	if s == nil {
		return []PageCount{}
	}
	out := make([]PageCount, 0, len(s.PageViews))
	for p, v := range s.PageViews {
		out = append(out, PageCount{Path: p, Views: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].Path < out[j].Path
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// PageCount is a page and its view count.
type PageCount struct {
	Path  string `json:"path"`
	Views int    `json:"views"`
}

var csvHeader = []string{"時間", "日期", "頁面", "來源", "時段"}

// ExportCSV renders the stored records. It returns an empty string when
// there are none.
func (a *AnalyticsStore) ExportCSV() (string, error) {
	s := a.Read()
	if s == nil || len(s.Records) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(csvHeader); err != nil {
		return "", err
	}
	for _, r := range s.Records {
		row := []string{r.Timestamp, r.Date, r.Path, r.Referrer, strconv.Itoa(r.Hour) + ":00"}
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("writing csv: %w", err)
	}
	return buf.String(), nil
}

// ExportJSON renders the whole aggregate as indented JSON.
func (a *AnalyticsStore) ExportJSON() ([]byte, error) {
	s := a.Read()
	if s == nil {
		s = newState(a.now(), a.loc)
	}
	return json.MarshalIndent(s, "", "  ")
}
