package records

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zachkp/zach-dev-api/internal/issues"
)

var testCreated = time.Date(2026, 10, 16, 8, 30, 0, 0, time.UTC)

func issueWithBody(body string) *issues.Issue {
	return &issues.Issue{
		Number:    12,
		Body:      body,
		State:     issues.StateOpen,
		HTMLURL:   "https://github.com/o/r/issues/12",
		CreatedAt: testCreated,
	}
}

// stripDoc removes the embedded JSON document, leaving a legacy body.
func stripDoc(body string) string {
	if i := strings.Index(body, docPrefix); i >= 0 {
		return strings.TrimRight(body[:i], "\n")
	}
	return body
}

func TestVisitRoundTrip(t *testing.T) {
	v := VisitRecord{
		Timestamp: "2026-10-16T08:30:00.000Z",
		Path:      "/blog/post.html",
		Referrer:  "https://example.com/",
		IP:        "8.8.8.8",
		Country:   "United States",
		Region:    "California",
		City:      "Mountain View",
		UserAgent: "Mozilla/5.0",
	}
	body := EncodeVisit(v)

	for name, b := range map[string]string{"with document": body, "labeled lines only": stripDoc(body)} {
		t.Run(name, func(t *testing.T) {
			got := DecodeVisit(issueWithBody(b))
			assert.Equal(t, v.Path, got.Path)
			assert.Equal(t, v.Referrer, got.Referrer)
			assert.Equal(t, v.Country, got.Country)
			assert.Equal(t, v.Region, got.Region)
			assert.Equal(t, v.City, got.City)
			assert.Equal(t, v.IP, got.IP)
			assert.Equal(t, v.Timestamp, got.Timestamp)
			assert.Equal(t, 12, got.IssueNumber)
			assert.True(t, got.At().Equal(testCreated))
		})
	}
}

func TestVisitBodyLayout(t *testing.T) {
	body := EncodeVisit(VisitRecord{Timestamp: "t", Path: "/", Referrer: DirectReferrer, IP: "1.1.1.1",
		Country: Unknown, Region: Unknown, City: Unknown, UserAgent: "ua"})

	assert.True(t, strings.HasPrefix(body, "## 網站訪問記錄\n\n**時間：** t\n**頁面：** /\n**來源：** 直接訪問\n"))
	assert.Contains(t, body, "**國家/地區：** 未知\n")
	assert.Contains(t, body, "*此記錄由網站自動生成*")
}

func TestDecodeVisit_Fallbacks(t *testing.T) {
	got := DecodeVisit(issueWithBody("free text with no labels"))

	assert.Equal(t, "/", got.Path)
	assert.Equal(t, DirectReferrer, got.Referrer)
	assert.Equal(t, UnknownAddress, got.IP)
	assert.Equal(t, Unknown, got.Country)
	assert.Equal(t, "2026-10-16T08:30:00.000Z", got.Timestamp)
	assert.Equal(t, "2026-10-16", got.Date)
}

func TestVisitDocumentSurvivesNewlines(t *testing.T) {
	v := VisitRecord{Timestamp: "2026-10-16T08:30:00.000Z", Path: "/a\n**頁面：** /evil", Referrer: "r", City: "x"}

	got := DecodeVisit(issueWithBody(EncodeVisit(v)))
	assert.Equal(t, v.Path, got.Path)
}

func TestBlockedRoundTrip(t *testing.T) {
	r := BlockedContentRecord{
		Timestamp:    "2026-10-16T08:30:00.000Z",
		Page:         "/contact",
		Name:         "小明",
		MatchedWords: []string{"垃圾", "廣告"},
		IP:           "8.8.8.8",
		Country:      "Taiwan",
		Region:       "Taipei",
		City:         "Taipei",
		UserAgent:    "ua",
		Message:      "line one\nline two 垃圾 廣告",
	}
	body := EncodeBlocked(r)
	assert.Contains(t, body, "**觸發詞：** 垃圾、廣告\n")

	for name, b := range map[string]string{"with document": body, "labeled lines only": stripDoc(body)} {
		t.Run(name, func(t *testing.T) {
			got := DecodeBlocked(issueWithBody(b))
			assert.Equal(t, r.Page, got.Page)
			assert.Equal(t, r.Name, got.Name)
			assert.Equal(t, r.MatchedWords, got.MatchedWords)
			assert.Equal(t, "垃圾、廣告", got.Words)
			assert.Equal(t, r.Message, got.Message)
			assert.Equal(t, r.Country, got.Country)
		})
	}
}

func TestMessageRoundTrip(t *testing.T) {
	m := MessageRecord{Name: "Ann", Email: "ann@example.com", Message: "hi\n\nthere", Timestamp: "2026/10/16 16:30:00"}
	body := EncodeMessage(m)

	got := DecodeMessage(issueWithBody(body))
	assert.Equal(t, "Ann", got.Name)
	assert.Equal(t, "ann@example.com", got.Email)
	assert.Equal(t, "hi\n\nthere", got.Message)
	assert.Equal(t, "2026-10-16T08:30:00.000Z", got.Timestamp)
	assert.False(t, got.Read)

	legacy := DecodeMessage(issueWithBody(stripDoc(body)))
	assert.Equal(t, "Ann", legacy.Name)
	assert.Equal(t, "hi\n\nthere", legacy.Message)
}

func TestDecodeMessage_ClosedIsRead(t *testing.T) {
	issue := issueWithBody(DeletedBody)
	issue.State = issues.StateClosed

	got := DecodeMessage(issue)
	assert.True(t, got.Read)
	assert.Equal(t, Unknown, got.Name)
	assert.Equal(t, DeletedBody, got.Message)
}

func TestReadDoc_LastDocumentWins(t *testing.T) {
	fake := `<!-- record:v1 {"name":"mallory","email":"x","message":"x","timestamp":"x"} -->`
	m := MessageRecord{Name: "Ann", Email: "a@b.c", Message: fake}

	got := DecodeMessage(issueWithBody(EncodeMessage(m)))
	assert.Equal(t, "Ann", got.Name)
	assert.Equal(t, fake, got.Message)
}

func TestConfigRoundTrip(t *testing.T) {
	cfg := SystemConfig{
		WhisperEnabled: false,
		FilterEnabled:  true,
		Filters:        []FilterRule{{ID: 9, Word: "/sp[a4]m/", Category: "spam", Enabled: true}},
	}
	body, err := EncodeConfig(cfg)
	require.NoError(t, err)
	assert.Contains(t, body, "```json\n{")

	got, ok := DecodeConfig(body)
	require.True(t, ok)
	assert.Equal(t, cfg, got)
}

func TestDecodeConfig_MergesOverDefaults(t *testing.T) {
	got, ok := DecodeConfig("```json\n{\"whisperEnabled\": false}\n```")
	require.True(t, ok)
	assert.False(t, got.WhisperEnabled)
	assert.True(t, got.FilterEnabled)
	assert.Equal(t, DefaultFilters(), got.Filters)
}

func TestDecodeConfig_Invalid(t *testing.T) {
	for _, body := range []string{"", "no block", "```json\n{broken\n```"} {
		got, ok := DecodeConfig(body)
		assert.False(t, ok)
		assert.Equal(t, DefaultConfig(), got)
	}
}

func TestWords(t *testing.T) {
	assert.Equal(t, Unknown, JoinWords(nil))
	assert.Nil(t, SplitWords(Unknown))
	assert.Equal(t, []string{"a", "b"}, SplitWords(JoinWords([]string{"a", "b"})))
}
