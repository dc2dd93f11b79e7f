// Package filter checks user-submitted text against a blocklist of words
// and regular expressions kept in the local store.
package filter

import (
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Zachkp/zach-dev-api/internal/localstore"
	"github.com/Zachkp/zach-dev-api/internal/records"
)

const (
	// DefaultCategory is used when a rule is added without one.
	DefaultCategory = "general"
	// DefaultLogLimit is the number of blocked submissions kept locally.
	DefaultLogLimit = 100
	// DefaultConfigTTL is how long a fetched configuration is trusted.
	DefaultConfigTTL = 5 * time.Minute
)

// Result is the outcome of Detect.
type Result struct {
	Detected bool                  `json:"detected"`
	Matches  []records.FilterMatch `json:"matches"`
}

// Words returns the matched rule words without duplicates.
func (r Result) Words() []string {
	seen := make(map[string]bool, len(r.Matches))
	var out []string
	for _, m := range r.Matches {
		if !seen[m.Word] {
			seen[m.Word] = true
			out = append(out, m.Word)
		}
	}
	return out
}

// Stats counts blocked submissions.
type Stats struct {
	TotalBlocked      int            `json:"totalBlocked"`
	BlockedByCategory map[string]int `json:"blockedByCategory"`
	LastBlocked       *string        `json:"lastBlocked"`
}

// LogEntry is one blocked submission kept in the local log.
type LogEntry struct {
	Timestamp string                `json:"timestamp"`
	Page      string                `json:"page"`
	Name      string                `json:"name"`
	Message   string                `json:"message"`
	Matches   []records.FilterMatch `json:"matches"`
}

// RuleUpdate changes selected fields of a rule.
type RuleUpdate struct {
	Word     *string `json:"word,omitempty"`
	Category *string `json:"category,omitempty"`
	Enabled  *bool   `json:"enabled,omitempty"`
}

// Options configures an Engine.
type Options struct {
	ConfigTTL time.Duration
	LogLimit  int
}

// Engine owns the filter rules, block statistics, the blocked log and the
// cached system configuration.
type Engine struct {
	kv       localstore.KV
	source   ConfigSource
	ttl      time.Duration
	logLimit int
	now      func() time.Time

	mu    sync.Mutex
	group singleflight.Group
}

// NewEngine creates an engine and seeds the default rules, the enabled
// flag and empty statistics when they are absent.
func NewEngine(kv localstore.KV, source ConfigSource, opts Options) *Engine {
	if opts.ConfigTTL <= 0 {
		opts.ConfigTTL = DefaultConfigTTL
	}
	if opts.LogLimit <= 0 {
		opts.LogLimit = DefaultLogLimit
	}
	e := &Engine{kv: kv, source: source, ttl: opts.ConfigTTL, logLimit: opts.LogLimit, now: time.Now}
	e.seed()
	return e
}

func (e *Engine) seed() {
	if _, ok, err := e.kv.Get(localstore.KeyContentFilters); err == nil && !ok {
		e.SaveFilters(records.DefaultFilters())
	}
	if _, ok, err := e.kv.Get(localstore.KeyFilterEnabled); err == nil && !ok {
		e.SetEnabled(true)
	}
	if _, ok, err := e.kv.Get(localstore.KeyFilterStats); err == nil && !ok {
		e.ResetStats()
	}
}

// IsEnabled reports whether filtering is switched on.
func (e *Engine) IsEnabled() bool {
	v, _, err := e.kv.Get(localstore.KeyFilterEnabled)
	if err != nil {
		slog.Error("Failed to read filter switch", "error", err)
		return false
	}
	return v == "true"
}

// SetEnabled switches filtering on or off.
func (e *Engine) SetEnabled(enabled bool) {
	v := "false"
	if enabled {
		v = "true"
	}
	if err := e.kv.Set(localstore.KeyFilterEnabled, v); err != nil {
		slog.Error("Failed to save filter switch", "error", err)
	}
}

// Filters returns the stored rules. Unreadable data yields no rules.
func (e *Engine) Filters() []records.FilterRule {
	raw, ok, err := e.kv.Get(localstore.KeyContentFilters)
	if err != nil || !ok {
		return []records.FilterRule{}
	}
	var rules []records.FilterRule
	if err := json.Unmarshal([]byte(raw), &rules); err != nil {
		slog.Warn("Filter rules corrupt", "error", err)
		return []records.FilterRule{}
	}
	return rules
}

// SaveFilters replaces the stored rules. Failures are logged.
func (e *Engine) SaveFilters(rules []records.FilterRule) {
	if rules == nil {
		rules = []records.FilterRule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		slog.Error("Failed to encode filter rules", "error", err)
		return
	}
	if err := e.kv.Set(localstore.KeyContentFilters, string(data)); err != nil {
		slog.Error("Failed to save filter rules", "error", err)
	}
}

// AddFilter appends an enabled rule and returns its id, one more than the
// largest existing id.
func (e *Engine) AddFilter(word, category string) int {
	e.mu.Lock()
	defer e.mu.Unlock()

	if category == "" {
		category = DefaultCategory
	}
	rules := e.Filters()
	id := 1
	for _, r := range rules {
		if r.ID >= id {
			id = r.ID + 1
		}
	}
	rules = append(rules, records.FilterRule{ID: id, Word: strings.TrimSpace(word), Category: category, Enabled: true})
	e.SaveFilters(rules)
	return id
}

// RemoveFilter deletes the rule with id and reports whether it existed.
func (e *Engine) RemoveFilter(id int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rules := e.Filters()
	kept := make([]records.FilterRule, 0, len(rules))
	for _, r := range rules {
		if r.ID != id {
			kept = append(kept, r)
		}
	}
	e.SaveFilters(kept)
	return len(kept) < len(rules)
}

// UpdateFilter applies u to the rule with id and reports whether it existed.
func (e *Engine) UpdateFilter(id int, u RuleUpdate) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	rules := e.Filters()
	for i := range rules {
		if rules[i].ID != id {
			continue
		}
		if u.Word != nil {
			rules[i].Word = *u.Word
		}
		if u.Category != nil {
			rules[i].Category = *u.Category
		}
		if u.Enabled != nil {
			rules[i].Enabled = *u.Enabled
		}
		e.SaveFilters(rules)
		return true
	}
	return false
}

// Detect checks text against every enabled rule. A rule can match twice:
// once as a case-insensitive substring and once as a /regex/. All matches
// are returned in rule order.
func (e *Engine) Detect(text string) Result {
	if !e.IsEnabled() {
		return Result{Matches: []records.FilterMatch{}}
	}
	matches := Match(e.Filters(), text)
	return Result{Detected: len(matches) > 0, Matches: matches}
}

// Match runs the detection over rules without consulting the switch.
func Match(rules []records.FilterRule, text string) []records.FilterMatch {
	matches := []records.FilterMatch{}
	lower := strings.ToLower(text)

	for _, r := range rules {
		if !r.Enabled || r.Word == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(r.Word)) {
			matches = append(matches, records.FilterMatch{Word: r.Word, Category: r.Category, OriginalWord: r.Word})
		}

		pattern, ok := regexBody(r.Word)
		if !ok {
			continue
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			slog.Warn("Invalid filter pattern", "word", r.Word, "error", err)
			continue
		}
		if re.MatchString(text) {
			matches = append(matches, records.FilterMatch{Word: r.Word, Category: r.Category, OriginalWord: r.Word, IsRegex: true})
		}
	}
	return matches
}

func regexBody(word string) (string, bool) {
	if len(word) < 2 || !strings.HasPrefix(word, "/") || !strings.HasSuffix(word, "/") {
		return "", false
	}
	return word[1 : len(word)-1], true
}

// RecordBlock counts one blocked submission in category.
func (e *Engine) RecordBlock(category string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := e.Stats()
	stats.TotalBlocked++
	stats.BlockedByCategory[category]++
	ts := records.ISOTime(e.now())
	stats.LastBlocked = &ts
	e.saveStats(stats)
}

// Stats returns the block statistics.
func (e *Engine) Stats() Stats {
	empty := Stats{BlockedByCategory: map[string]int{}}
	raw, ok, err := e.kv.Get(localstore.KeyFilterStats)
	if err != nil || !ok {
		return empty
	}
	var s Stats
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return empty
	}
	if s.BlockedByCategory == nil {
		s.BlockedByCategory = map[string]int{}
	}
	return s
}

// ResetStats zeroes the block statistics.
func (e *Engine) ResetStats() {
	e.saveStats(Stats{BlockedByCategory: map[string]int{}})
}

func (e *Engine) saveStats(s Stats) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := e.kv.Set(localstore.KeyFilterStats, string(data)); err != nil {
		slog.Error("Failed to save filter stats", "error", err)
	}
}

// LogBlocked prepends entry to the blocked log, keeping the newest entries.
func (e *Engine) LogBlocked(entry LogEntry) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if entry.Timestamp == "" {
		entry.Timestamp = records.ISOTime(e.now())
	}
	log := append([]LogEntry{entry}, e.BlockedLog()...)
	if len(log) > e.logLimit {
		log = log[:e.logLimit]
	}
	data, err := json.Marshal(log)
	if err != nil {
		return
	}
	if err := e.kv.Set(localstore.KeyBlockedLog, string(data)); err != nil {
		slog.Error("Failed to save blocked log", "error", err)
	}
}

// BlockedLog returns the blocked log, newest first.
func (e *Engine) BlockedLog() []LogEntry {
	raw, ok, err := e.kv.Get(localstore.KeyBlockedLog)
	if err != nil || !ok {
		return []LogEntry{}
	}
	var log []LogEntry
	if err := json.Unmarshal([]byte(raw), &log); err != nil {
		return []LogEntry{}
	}
	return log
}
