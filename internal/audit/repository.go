// Package audit records authentication events in the auth_audit_logs table
// and fans them out to optional sinks (MQTT, InfluxDB).
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Action names an authentication event.
type Action string

const (
	ActionLoginSuccess    Action = "login_success"
	ActionLoginFailure    Action = "login_failure"
	ActionLockout         Action = "lockout"
	ActionRefresh         Action = "refresh"
	ActionLogout          Action = "logout"
	ActionLogoutAll       Action = "logout_all"
	ActionAccountDisabled Action = "account_disabled"
)

// Result is the outcome of an audited event.
type Result string

const (
	ResultSuccess Result = "success"
	ResultFailure Result = "failure"
)

// Entry is a single, immutable audit trail record. An empty UserID means
// the event could not be attributed to an account.
type Entry struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id,omitempty"`
	Action    Action    `json:"action"`
	Result    Result    `json:"result"`
	IPAddr    string    `json:"ip_addr,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	TraceID   string    `json:"trace_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Filter controls which audit entries to return.
type Filter struct {
	UserID string
	Action Action
	Result Result
	Limit  int // default 50, max 200
	Offset int
}

// ListResult contains a page of audit entries.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository is append-only: entries are created and listed, never changed.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores audit entries in SQLite.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const (
	defaultLimit = 50
	maxLimit     = 200

	// timeLayout is fixed-width so created_at orders correctly as text.
	timeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Create inserts a new entry. ID, TraceID and CreatedAt are generated if empty.
func (r *SQLiteRepository) Create(ctx context.Context, entry *Entry) error {
	if entry.Action == "" || entry.Result == "" {
		return fmt.Errorf("inserting audit entry: action and result are required")
	}
	if entry.ID == "" {
		entry.ID = "aud-" + uuid.NewString()
	}
	if entry.TraceID == "" {
		entry.TraceID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	entry.CreatedAt = entry.CreatedAt.UTC().Truncate(time.Millisecond)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_audit_logs (id, user_id, action, result, ip_addr, user_agent, trace_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, nullableString(entry.UserID), string(entry.Action), string(entry.Result),
		nullableString(entry.IPAddr), nullableString(entry.UserAgent), entry.TraceID,
		entry.CreatedAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings so they are stored as NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any
	if filter.UserID != "" {
		conditions = append(conditions, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, string(filter.Action))
	}
	if filter.Result != "" {
		conditions = append(conditions, "result = ?")
		args = append(args, string(filter.Result))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM auth_audit_logs " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit entries: %w", err)
	}

	query := "SELECT id, user_id, action, result, ip_addr, user_agent, trace_id, created_at FROM auth_audit_logs " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?"
	rows, err := r.db.QueryContext(ctx, query, append(args, filter.Limit, filter.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("querying audit entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var userID, ipAddr, userAgent sql.NullString
		var action, result, createdAt string

		if err := rows.Scan(&e.ID, &userID, &action, &result, &ipAddr, &userAgent, &e.TraceID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.UserID = userID.String
		e.Action = Action(action)
		e.Result = Result(result)
		e.IPAddr = ipAddr.String
		e.UserAgent = userAgent.String

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit timestamp %q: %w", createdAt, err)
		}
		e.CreatedAt = t

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
