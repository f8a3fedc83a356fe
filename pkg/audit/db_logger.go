package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DBRecorder stores login activity in the login_activity table created by
// identity.EnsureSchema
type DBRecorder struct {
	db *sql.DB
}

// NewDBRecorder creates a new database-backed recorder
func NewDBRecorder(db *sql.DB) (*DBRecorder, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBRecorder{db: db}, nil
}

// Record inserts one activity row
func (r *DBRecorder) Record(ctx context.Context, a *Activity) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO login_activity (id, username, activity_code, message, login_mode, ip_address, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Username, string(a.Code), a.Message, a.LoginMode, a.IPAddress, a.AttemptedAt)
	if err != nil {
		return fmt.Errorf("failed to insert login activity: %w", err)
	}
	return nil
}

// Search lists activity newest first
func (r *DBRecorder) Search(ctx context.Context, filter SearchFilter) ([]*Activity, error) {
	var (
		where []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Username != "" {
		where = append(where, "username = "+arg(filter.Username))
	}
	if len(filter.Codes) > 0 {
		placeholders := make([]string, len(filter.Codes))
		for i, c := range filter.Codes {
			placeholders[i] = arg(string(c))
		}
		where = append(where, "activity_code IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.StartTime != nil {
		where = append(where, "attempted_at >= "+arg(filter.StartTime.UTC()))
	}
	if filter.EndTime != nil {
		where = append(where, "attempted_at <= "+arg(filter.EndTime.UTC()))
	}

	query := `SELECT id, username, activity_code, message, login_mode, ip_address, attempted_at FROM login_activity`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY attempted_at DESC LIMIT " + arg(filter.limit()) + " OFFSET " + arg(filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search login activity: %w", err)
	}
	defer rows.Close()

	var out []*Activity
	for rows.Next() {
		a := &Activity{}
		var code string
		if err := rows.Scan(&a.ID, &a.Username, &code, &a.Message, &a.LoginMode, &a.IPAddress, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan login activity: %w", err)
		}
		a.Code = ActivityCode(code)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Delete removes the given activity rows and returns how many went away
func (r *DBRecorder) Delete(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM login_activity WHERE id IN ("+strings.Join(placeholders, ", ")+")", args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete login activity: %w", err)
	}
	return res.RowsAffected()
}

// Cleanup removes activity older than the retention window
func (r *DBRecorder) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()
	res, err := r.db.ExecContext(ctx, "DELETE FROM login_activity WHERE attempted_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up login activity: %w", err)
	}
	return res.RowsAffected()
}
