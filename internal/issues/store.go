// Package issues is the record store: labelled, listable, text-bodied entries
// keyed by issue number. The production backend is GitHub Issues; a sqlite
// backend with the same semantics is used for local development and tests.
package issues

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Issue states.
const (
	StateOpen   = "open"
	StateClosed = "closed"
	StateAll    = "all"
)

// MaxPerPage is the largest page the store returns. Listing never paginates
// beyond the first page.
const MaxPerPage = 100

// ErrNotFound is returned when an issue number does not exist.
var ErrNotFound = errors.New("issue not found")

// APIError carries the message returned by the remote API.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("issue store returned status %d", e.Status)
	}
	return e.Message
}

// Issue is a stored entry.
type Issue struct {
	Number    int
	Title     string
	Body      string
	State     string
	HTMLURL   string
	Labels    []string
	CreatedAt time.Time
}

// NewIssue is the payload for Create.
type NewIssue struct {
	Title  string
	Body   string
	Labels []string
}

// Patch updates selected fields. Nil fields are left untouched.
type Patch struct {
	Title *string
	Body  *string
	State *string
}

// ListOptions filters a listing. All labels must be present on an entry.
// Results are newest first.
type ListOptions struct {
	Labels  []string
	State   string // open, closed or all; empty means all
	PerPage int    // capped at MaxPerPage; zero means MaxPerPage
}

func (o ListOptions) perPage() int {
	if o.PerPage <= 0 || o.PerPage > MaxPerPage {
		return MaxPerPage
	}
	return o.PerPage
}

func (o ListOptions) state() string {
	if o.State == "" {
		return StateAll
	}
	return o.State
}

// Store is implemented by record store backends.
type Store interface {
	Create(ctx context.Context, in NewIssue) (*Issue, error)
	Get(ctx context.Context, number int) (*Issue, error)
	Update(ctx context.Context, number int, p Patch) (*Issue, error)
	List(ctx context.Context, opts ListOptions) ([]*Issue, error)
}

// String returns a pointer to s, for building a Patch.
func String(s string) *string { return &s }
