// Package records defines the record types persisted in the issue store and
// the text encoding that maps each record to exactly one issue body.
package records

import "time"

// Defaults used when a field is missing or could not be determined.
const (
	Unknown        = "未知"
	UnknownAddress = "unknown"
	DirectReferrer = "直接訪問"
	NotProvided    = "未提供"
)

// Label sets. Labels are the only index the store offers.
var (
	VisitLabels   = []string{"analytics", "visit-track"}
	BlockedLabels = []string{"analytics", "blocked-content"}
	MessageLabels = []string{"whisper", "自動提交"}
	ConfigLabels  = []string{"system-config"}

	messageFilter = []string{"whisper"}
)

// Placeholders written over a deleted message.
const (
	DeletedTitle = "[已刪除]"
	DeletedBody  = "*此訊息已被刪除*"
)

// ConfigTitle is the title of the singleton configuration issue.
const ConfigTitle = "SYSTEM_CONFIG"

// VisitRecord is one page view.
type VisitRecord struct {
	Timestamp string `json:"timestamp"`
	Date      string `json:"date"`
	Path      string `json:"path"`
	Referrer  string `json:"referrer"`
	IP        string `json:"ip"`
	Country   string `json:"country"`
	Region    string `json:"region"`
	City      string `json:"city"`
	UserAgent string `json:"userAgent"`
}

// BlockedContentRecord is a submission rejected by the content filter.
type BlockedContentRecord struct {
	Timestamp    string   `json:"timestamp"`
	Page         string   `json:"page"`
	Name         string   `json:"name"`
	MatchedWords []string `json:"matchedWords"`
	IP           string   `json:"ip"`
	Country      string   `json:"country"`
	Region       string   `json:"region"`
	City         string   `json:"city"`
	UserAgent    string   `json:"userAgent"`
	Message      string   `json:"message"`
}

// MessageRecord is a message ("whisper") left through the contact form.
type MessageRecord struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// FilterRule is one blocklist entry. Word is either a literal or a
// /pattern/ regular expression.
type FilterRule struct {
	ID       int    `json:"id"`
	Word     string `json:"word"`
	Category string `json:"category"`
	Enabled  bool   `json:"enabled"`
}

// FilterMatch is produced for each rule that matches an input.
type FilterMatch struct {
	Word         string `json:"word"`
	Category     string `json:"category"`
	OriginalWord string `json:"originalWord,omitempty"`
	IsRegex      bool   `json:"isRegex,omitempty"`
}

// SystemConfig is the singleton site configuration.
type SystemConfig struct {
	WhisperEnabled bool         `json:"whisperEnabled"`
	FilterEnabled  bool         `json:"filterEnabled"`
	Filters        []FilterRule `json:"filters"`
}

// DefaultFilters returns the seed rule set.
func DefaultFilters() []FilterRule {
	return []FilterRule{
		{ID: 1, Word: "垃圾", Category: "spam", Enabled: true},
		{ID: 2, Word: "廣告", Category: "spam", Enabled: true},
		{ID: 3, Word: "詐騙", Category: "fraud", Enabled: true},
	}
}

// DefaultConfig returns the configuration used when none is stored or
// reachable.
func DefaultConfig() SystemConfig {
	return SystemConfig{
		WhisperEnabled: true,
		FilterEnabled:  true,
		Filters:        DefaultFilters(),
	}
}

// Meta identifies the issue a decoded record came from.
type Meta struct {
	ID          int    `json:"id"`
	IssueNumber int    `json:"issueNumber"`
	IssueURL    string `json:"issueUrl"`
}

// StoredVisit is a decoded visit issue.
type StoredVisit struct {
	Meta
	VisitRecord

	at time.Time
}

// At returns the parsed visit time.
func (v StoredVisit) At() time.Time { return v.at }

// StoredBlocked is a decoded blocked-content issue.
type StoredBlocked struct {
	Meta
	BlockedContentRecord

	Words string `json:"words"`
}

// StoredMessage is a decoded message issue.
type StoredMessage struct {
	Meta
	MessageRecord

	Read bool `json:"read"`
}

// ISOTime formats t like JavaScript's Date.toISOString.
func ISOTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// DateKey formats the calendar date of t in loc.
func DateKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}
