package records

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/Zachkp/zach-dev-api/internal/issues"
)

// Field labels used in issue bodies, as "**Label：** value".
const (
	labelTime      = "時間"
	labelPage      = "頁面"
	labelReferrer  = "來源"
	labelName      = "姓名"
	labelEmail     = "Email"
	labelWords     = "觸發詞"
	labelIP        = "IP"
	labelCountry   = "國家/地區"
	labelRegion    = "區域"
	labelCity      = "城市"
	labelUserAgent = "用戶代理"
	labelMessage   = "訊息內容"
	labelBlocked   = "被攔截內容"
)

// WordSep joins matched words in titles and bodies.
const WordSep = "、"

const docPrefix = "<!-- record:v1 "

var (
	docPattern    = regexp.MustCompile(`<!-- record:v1 (.*) -->`)
	configPattern = regexp.MustCompile("```json\\s*([\\s\\S]*?)\\s*```")
	linePatterns  = map[string]*regexp.Regexp{}
	blockPatterns = map[string]*regexp.Regexp{}
)

func init() {
	for _, l := range []string{labelTime, labelPage, labelReferrer, labelName, labelEmail, labelWords,
		labelIP, labelCountry, labelRegion, labelCity, labelUserAgent} {
		linePatterns[l] = regexp.MustCompile(`\*\*` + regexp.QuoteMeta(l) + `：\*\* (.+)`)
	}
	for _, l := range []string{labelMessage, labelBlocked} {
		blockPatterns[l] = regexp.MustCompile(`\*\*` + regexp.QuoteMeta(l) + `：\*\*\s*\n\n([\s\S]*?)\n\n---`)
	}
}

// field extracts a labeled single-line value, or def if absent.
func field(body, label, def string) string {
	m := linePatterns[label].FindStringSubmatch(body)
	if m == nil {
		return def
	}
	return strings.TrimSpace(m[1])
}

// block extracts a labeled multi-line section terminated by a rule line.
func block(body, label string) (string, bool) {
	m := blockPatterns[label].FindStringSubmatch(body)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(m[1]), true
}

// oneLine keeps label lines parseable: the JSON document holds the exact value.
func oneLine(s string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(s, "\r", " ")), " ")
}

func writeField(b *strings.Builder, label, value string) {
	fmt.Fprintf(b, "**%s：** %s\n", label, oneLine(value))
}

func writeDoc(b *strings.Builder, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	b.WriteString("\n\n")
	b.WriteString(docPrefix)
	b.Write(data)
	b.WriteString(" -->")
}

// readDoc decodes the embedded JSON document if the body carries one. The
// encoder appends it last, so the last occurrence wins over any lookalike
// typed into a message.
func readDoc(body string, v any) bool {
	all := docPattern.FindAllStringSubmatch(body, -1)
	if len(all) == 0 {
		return false
	}
	return json.Unmarshal([]byte(all[len(all)-1][1]), v) == nil
}

// EncodeVisit renders a visit issue body.
func EncodeVisit(v VisitRecord) string {
	var b strings.Builder
	b.WriteString("## 網站訪問記錄\n\n")
	writeField(&b, labelTime, v.Timestamp)
	writeField(&b, labelPage, v.Path)
	writeField(&b, labelReferrer, v.Referrer)
	writeField(&b, labelIP, v.IP)
	writeField(&b, labelCountry, v.Country)
	writeField(&b, labelRegion, v.Region)
	writeField(&b, labelCity, v.City)
	writeField(&b, labelUserAgent, v.UserAgent)
	b.WriteString("\n---\n*此記錄由網站自動生成*")
	writeDoc(&b, v)
	return b.String()
}

// DecodeVisit recovers a visit from an issue, falling back to issue metadata
// and defaults for fields that fail to parse.
func DecodeVisit(issue *issues.Issue) StoredVisit {
	body := issue.Body

	var v VisitRecord
	if !readDoc(body, &v) {
		v = VisitRecord{
			Timestamp: field(body, labelTime, ""),
			Path:      field(body, labelPage, "/"),
			Referrer:  field(body, labelReferrer, DirectReferrer),
			IP:        field(body, labelIP, UnknownAddress),
			Country:   field(body, labelCountry, Unknown),
			Region:    field(body, labelRegion, Unknown),
			City:      field(body, labelCity, Unknown),
			UserAgent: field(body, labelUserAgent, ""),
		}
	}
	if v.Timestamp == "" {
		v.Timestamp = ISOTime(issue.CreatedAt)
	}
	if v.Path == "" {
		v.Path = "/"
	}

	at, err := time.Parse(time.RFC3339Nano, v.Timestamp)
	if err != nil {
		at = issue.CreatedAt
	}
	v.Date = issue.CreatedAt.UTC().Format("2006-01-02")

	return StoredVisit{
		Meta:        meta(issue),
		VisitRecord: v,
		at:          at,
	}
}

// EncodeBlocked renders a blocked-content issue body.
func EncodeBlocked(r BlockedContentRecord) string {
	var b strings.Builder
	b.WriteString("## 內容攔截紀錄\n\n")
	writeField(&b, labelTime, r.Timestamp)
	writeField(&b, labelPage, r.Page)
	writeField(&b, labelName, r.Name)
	writeField(&b, labelWords, JoinWords(r.MatchedWords))
	writeField(&b, labelIP, r.IP)
	writeField(&b, labelCountry, r.Country)
	writeField(&b, labelRegion, r.Region)
	writeField(&b, labelCity, r.City)
	writeField(&b, labelUserAgent, r.UserAgent)
	b.WriteString("\n---\n\n**被攔截內容：**\n\n")
	b.WriteString(r.Message)
	b.WriteString("\n\n---\n*此記錄由網站自動生成*")
	writeDoc(&b, r)
	return b.String()
}

// DecodeBlocked recovers a blocked-content record from an issue.
func DecodeBlocked(issue *issues.Issue) StoredBlocked {
	body := issue.Body

	var r BlockedContentRecord
	if !readDoc(body, &r) {
		words := field(body, labelWords, "")
		r = BlockedContentRecord{
			Timestamp:    field(body, labelTime, ISOTime(issue.CreatedAt)),
			Page:         field(body, labelPage, "/"),
			Name:         field(body, labelName, ""),
			MatchedWords: SplitWords(words),
			IP:           field(body, labelIP, UnknownAddress),
			Country:      field(body, labelCountry, Unknown),
			Region:       field(body, labelRegion, Unknown),
			City:         field(body, labelCity, Unknown),
			UserAgent:    field(body, labelUserAgent, ""),
		}
		r.Message, _ = block(body, labelBlocked)
	}

	return StoredBlocked{
		Meta:                 meta(issue),
		BlockedContentRecord: r,
		Words:                JoinWords(r.MatchedWords),
	}
}

// EncodeMessage renders a message issue body.
func EncodeMessage(m MessageRecord) string {
	var b strings.Builder
	b.WriteString("## 悄悄話訊息\n\n")
	writeField(&b, labelName, m.Name)
	writeField(&b, labelEmail, m.Email)
	writeField(&b, labelTime, m.Timestamp)
	b.WriteString("\n---\n\n**訊息內容：**\n\n")
	b.WriteString(m.Message)
	b.WriteString("\n\n---\n\n*此訊息由網站表單自動提交*")
	writeDoc(&b, m)
	return b.String()
}

// DecodeMessage recovers a message from an issue. A closed issue is a read
// message.
func DecodeMessage(issue *issues.Issue) StoredMessage {
	body := issue.Body

	var m MessageRecord
	if !readDoc(body, &m) {
		m = MessageRecord{
			Name:  field(body, labelName, Unknown),
			Email: field(body, labelEmail, Unknown),
		}
		msg, ok := block(body, labelMessage)
		if !ok {
			msg = body
		}
		m.Message = msg
	}
	m.Timestamp = ISOTime(issue.CreatedAt)

	return StoredMessage{
		Meta:          meta(issue),
		MessageRecord: m,
		Read:          issue.State == issues.StateClosed,
	}
}

// EncodeConfig renders the configuration issue body.
func EncodeConfig(c SystemConfig) (string, error) {
	if c.Filters == nil {
		c.Filters = []FilterRule{}
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding config: %w", err)
	}

	var b strings.Builder
	b.WriteString("## 系統配置\n\n")
	b.WriteString("此 Issue 用於存儲網站系統配置，請勿手動修改。\n\n")
	b.WriteString("```json\n")
	b.Write(data)
	b.WriteString("\n```\n\n---\n*此配置由管理後台自動更新*")
	return b.String(), nil
}

// DecodeConfig parses the configuration block and merges it over the
// defaults: keys present in the stored document win. ok is false when the
// body has no parseable block.
func DecodeConfig(body string) (cfg SystemConfig, ok bool) {
	cfg = DefaultConfig()
	m := configPattern.FindStringSubmatch(body)
	if m == nil {
		return cfg, false
	}
	var stored struct {
		WhisperEnabled *bool         `json:"whisperEnabled"`
		FilterEnabled  *bool         `json:"filterEnabled"`
		Filters        *[]FilterRule `json:"filters"`
	}
	if err := json.Unmarshal([]byte(m[1]), &stored); err != nil {
		return cfg, false
	}
	if stored.WhisperEnabled != nil {
		cfg.WhisperEnabled = *stored.WhisperEnabled
	}
	if stored.FilterEnabled != nil {
		cfg.FilterEnabled = *stored.FilterEnabled
	}
	if stored.Filters != nil {
		cfg.Filters = *stored.Filters
	}
	return cfg, true
}

// JoinWords renders matched words, or Unknown when there are none.
func JoinWords(words []string) string {
	if len(words) == 0 {
		return Unknown
	}
	return strings.Join(words, WordSep)
}

// SplitWords is the inverse of JoinWords.
func SplitWords(s string) []string {
	if s == "" || s == Unknown {
		return nil
	}
	return strings.Split(s, WordSep)
}

func meta(issue *issues.Issue) Meta {
	return Meta{ID: issue.Number, IssueNumber: issue.Number, IssueURL: issue.HTMLURL}
}
