package records

import (
	"context"
	"fmt"
	"time"

	"github.com/Zachkp/zach-dev-api/internal/issues"
)

// Repository reads and writes records through an issue store.
type Repository struct {
	store issues.Store
	loc   *time.Location
}

// NewRepository creates a repository. Titles use clock times in loc.
func NewRepository(store issues.Store, loc *time.Location) *Repository {
	if loc == nil {
		loc = time.Local
	}
	return &Repository{store: store, loc: loc}
}

// Location returns the time zone used for titles and day buckets.
func (r *Repository) Location() *time.Location {
	return r.loc
}

func (r *Repository) titleTime(t time.Time) string {
	return t.UTC().Format("2006-01-02") + " " + t.In(r.loc).Format("15:04")
}

// CreateVisit persists one visit.
func (r *Repository) CreateVisit(ctx context.Context, v VisitRecord, at time.Time) (*issues.Issue, error) {
	return r.store.Create(ctx, issues.NewIssue{
		Title:  "訪問記錄：" + r.titleTime(at),
		Body:   EncodeVisit(v),
		Labels: VisitLabels,
	})
}

// ListVisits returns the newest page of visits.
func (r *Repository) ListVisits(ctx context.Context) ([]StoredVisit, error) {
	list, err := r.store.List(ctx, issues.ListOptions{Labels: VisitLabels})
	if err != nil {
		return nil, err
	}
	out := make([]StoredVisit, 0, len(list))
	for _, issue := range list {
		out = append(out, DecodeVisit(issue))
	}
	return out, nil
}

// CreateBlocked persists one blocked-content event.
func (r *Repository) CreateBlocked(ctx context.Context, b BlockedContentRecord, at time.Time) (*issues.Issue, error) {
	return r.store.Create(ctx, issues.NewIssue{
		Title:  fmt.Sprintf("攔截紀錄：%s（%s）", r.titleTime(at), JoinWords(b.MatchedWords)),
		Body:   EncodeBlocked(b),
		Labels: BlockedLabels,
	})
}

// ListBlocked returns the newest page of blocked-content events.
func (r *Repository) ListBlocked(ctx context.Context) ([]StoredBlocked, error) {
	list, err := r.store.List(ctx, issues.ListOptions{Labels: BlockedLabels})
	if err != nil {
		return nil, err
	}
	out := make([]StoredBlocked, 0, len(list))
	for _, issue := range list {
		out = append(out, DecodeBlocked(issue))
	}
	return out, nil
}

// CreateMessage persists a contact message.
func (r *Repository) CreateMessage(ctx context.Context, m MessageRecord) (*issues.Issue, error) {
	return r.store.Create(ctx, issues.NewIssue{
		Title:  "悄悄話：來自 " + m.Name,
		Body:   EncodeMessage(m),
		Labels: MessageLabels,
	})
}

// MessageTime formats the human-readable time written into message bodies.
func (r *Repository) MessageTime(t time.Time) string {
	return t.In(r.loc).Format("2006/1/2 15:04:05")
}

// ListMessages returns the newest page of messages, read and unread.
func (r *Repository) ListMessages(ctx context.Context) ([]StoredMessage, error) {
	list, err := r.store.List(ctx, issues.ListOptions{Labels: messageFilter})
	if err != nil {
		return nil, err
	}
	out := make([]StoredMessage, 0, len(list))
	for _, issue := range list {
		out = append(out, DecodeMessage(issue))
	}
	return out, nil
}

// CloseMessage marks a message read.
func (r *Repository) CloseMessage(ctx context.Context, number int) (*issues.Issue, error) {
	return r.store.Update(ctx, number, issues.Patch{State: issues.String(issues.StateClosed)})
}

// DeleteMessage overwrites a message with placeholders and closes it. The
// original content cannot be recovered afterwards.
func (r *Repository) DeleteMessage(ctx context.Context, number int) (*issues.Issue, error) {
	if _, err := r.store.Get(ctx, number); err != nil {
		return nil, err
	}
	return r.store.Update(ctx, number, issues.Patch{
		Title: issues.String(DeletedTitle),
		Body:  issues.String(DeletedBody),
		State: issues.String(issues.StateClosed),
	})
}

// LoadConfig returns the stored configuration merged over the defaults, or
// the defaults when none is stored. Store failures are returned.
func (r *Repository) LoadConfig(ctx context.Context) (SystemConfig, error) {
	list, err := r.store.List(ctx, issues.ListOptions{Labels: ConfigLabels, PerPage: 1})
	if err != nil {
		return DefaultConfig(), err
	}
	if len(list) == 0 {
		return DefaultConfig(), nil
	}
	cfg, _ := DecodeConfig(list[0].Body)
	return cfg, nil
}

// FetchConfig implements filter.ConfigSource.
func (r *Repository) FetchConfig(ctx context.Context) (SystemConfig, error) {
	return r.LoadConfig(ctx)
}

// SaveConfig upserts the configuration issue: the first issue labelled
// system-config is updated, otherwise a new one is created. Two concurrent
// saves may both create.
func (r *Repository) SaveConfig(ctx context.Context, cfg SystemConfig) (number int, created bool, err error) {
	body, err := EncodeConfig(cfg)
	if err != nil {
		return 0, false, err
	}

	existing, err := r.store.List(ctx, issues.ListOptions{Labels: ConfigLabels, PerPage: 1})
	if err != nil {
		return 0, false, fmt.Errorf("searching config issue: %w", err)
	}

	if len(existing) > 0 {
		number = existing[0].Number
		if _, err := r.store.Update(ctx, number, issues.Patch{Body: issues.String(body)}); err != nil {
			return 0, false, fmt.Errorf("updating config: %w", err)
		}
		return number, false, nil
	}

	issue, err := r.store.Create(ctx, issues.NewIssue{Title: ConfigTitle, Body: body, Labels: ConfigLabels})
	if err != nil {
		return 0, false, fmt.Errorf("creating config: %w", err)
	}
	return issue.Number, true, nil
}
