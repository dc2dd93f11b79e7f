package issues

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const labelSep = "\x1f"

const createIssuesTable = `
CREATE TABLE IF NOT EXISTS issues (
	number INTEGER PRIMARY KEY AUTOINCREMENT,
	title TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT 'open',
	created_at TEXT NOT NULL
)`

const createLabelsTable = `
CREATE TABLE IF NOT EXISTS issue_labels (
	issue_number INTEGER NOT NULL REFERENCES issues(number),
	label TEXT NOT NULL,
	PRIMARY KEY (issue_number, label)
)`

const selectIssue = `
SELECT i.number, i.title, i.body, i.state, i.created_at,
	COALESCE((SELECT group_concat(l.label, char(31)) FROM issue_labels l WHERE l.issue_number = i.number), '')
FROM issues i`

// SQLiteStore keeps records in a local sqlite database with the same
// label/list semantics as the GitHub backend.
type SQLiteStore struct {
	db      *sql.DB
	baseURL string
	now     func() time.Time
}

// OpenSQLiteStore opens (and migrates) a sqlite store at path. Use ":memory:"
// for an ephemeral store.
func OpenSQLiteStore(path, baseURL string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening issue store: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{createIssuesTable, createLabelsTable} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("migrating issue store: %w", err)
		}
	}

	return &SQLiteStore{db: db, baseURL: strings.TrimSuffix(baseURL, "/"), now: time.Now}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Create inserts a new open issue with its labels.
func (s *SQLiteStore) Create(ctx context.Context, in NewIssue) (*Issue, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := s.now().UTC().Format(time.RFC3339Nano)
	res, err := tx.ExecContext(ctx,
		`INSERT INTO issues (title, body, state, created_at) VALUES (?, ?, ?, ?)`,
		in.Title, in.Body, StateOpen, created)
	if err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}

	for _, label := range in.Labels {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO issue_labels (issue_number, label) VALUES (?, ?)`, id, label); err != nil {
			return nil, fmt.Errorf("labelling issue %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("creating issue: %w", err)
	}
	return s.Get(ctx, int(id))
}

// Get fetches one issue.
func (s *SQLiteStore) Get(ctx context.Context, number int) (*Issue, error) {
	row := s.db.QueryRowContext(ctx, selectIssue+` WHERE i.number = ?`, number)
	issue, err := s.scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching issue %d: %w", number, err)
	}
	return issue, nil
}

// Update patches the given fields.
func (s *SQLiteStore) Update(ctx context.Context, number int, p Patch) (*Issue, error) {
	var sets []string
	var args []any
	if p.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *p.Title)
	}
	if p.Body != nil {
		sets = append(sets, "body = ?")
		args = append(args, *p.Body)
	}
	if p.State != nil {
		sets = append(sets, "state = ?")
		args = append(args, *p.State)
	}
	if len(sets) == 0 {
		return s.Get(ctx, number)
	}

	args = append(args, number)
	res, err := s.db.ExecContext(ctx, `UPDATE issues SET `+strings.Join(sets, ", ")+` WHERE number = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("updating issue %d: %w", number, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, number)
}

// List returns up to one page of issues carrying every label, newest first.
func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*Issue, error) {
	var where []string
	var args []any

	if st := opts.state(); st != StateAll {
		where = append(where, "i.state = ?")
		args = append(args, st)
	}
	if len(opts.Labels) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?, ", len(opts.Labels)), ", ")
		where = append(where, `(SELECT COUNT(DISTINCT l.label) FROM issue_labels l
			WHERE l.issue_number = i.number AND l.label IN (`+marks+`)) = ?`)
		for _, label := range opts.Labels {
			args = append(args, label)
		}
		args = append(args, distinct(opts.Labels))
	}

	query := selectIssue
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY i.number DESC LIMIT ?"
	args = append(args, opts.perPage())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing issues: %w", err)
	}
	defer rows.Close()

	var out []*Issue
	for rows.Next() {
		issue, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("listing issues: %w", err)
		}
		out = append(out, issue)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scan(row scanner) (*Issue, error) {
	var (
		issue   Issue
		created string
		labels  string
	)
	if err := row.Scan(&issue.Number, &issue.Title, &issue.Body, &issue.State, &created, &labels); err != nil {
		return nil, err
	}
	issue.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	if labels != "" {
		issue.Labels = strings.Split(labels, labelSep)
	}
	if s.baseURL != "" {
		issue.HTMLURL = fmt.Sprintf("%s/issues/%d", s.baseURL, issue.Number)
	}
	return &issue, nil
}

func distinct(labels []string) int {
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}
