package responses

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const selectResponse = `SELECT id, user_id, category, response, created_at, updated_at FROM user_responses`

func scanResponse(row interface{ Scan(...any) error }) (*Response, error) {
	var r Response
	if err := row.Scan(&r.ID, &r.UserID, &r.Category, &r.Response, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

// Latest returns the current row for (user, category), nil when none exists.
func (r *Repository) Latest(ctx context.Context, userID string, cat Category) (*Response, error) {
	resp, err := scanResponse(r.db.QueryRowContext(ctx, selectResponse+` WHERE user_id = ? AND category = ? ORDER BY updated_at DESC, id DESC LIMIT 1`, userID, cat))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest response %s/%s: %w", userID, cat, err)
	}
	return resp, nil
}

// History lists every row for (user, category), newest first.
func (r *Repository) History(ctx context.Context, userID string, cat Category) ([]Response, error) {
	rows, err := r.db.QueryContext(ctx, selectResponse+` WHERE user_id = ? AND category = ? ORDER BY updated_at DESC, id DESC`, userID, cat)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()
	var out []Response
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *resp)
	}
	return out, rows.Err()
}

// LatestAll returns the current row of every category the user answered.
func (r *Repository) LatestAll(ctx context.Context, userID string) (Answers, error) {
	rows, err := r.db.QueryContext(ctx, selectResponse+` WHERE user_id = ? ORDER BY updated_at DESC, id DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()
	out := Answers{}
	for rows.Next() {
		resp, err := scanResponse(rows)
		if err != nil {
			return nil, err
		}
		if _, seen := out[resp.Category]; !seen {
			out[resp.Category] = *resp
		}
	}
	return out, rows.Err()
}

func (r *Repository) Insert(ctx context.Context, userID string, cat Category, text string, now time.Time) (*Response, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO user_responses (user_id, category, response, created_at, updated_at) VALUES (?,?,?,?,?)`, userID, cat, text, now, now)
	if err != nil {
		return nil, fmt.Errorf("insert response: %w", err)
	}
	id, _ := res.LastInsertId()
	return &Response{ID: id, UserID: userID, Category: cat, Response: text, CreatedAt: now, UpdatedAt: now}, nil
}

func (r *Repository) Update(ctx context.Context, id int64, text string, now time.Time) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE user_responses SET response = ?, updated_at = ? WHERE id = ?`, text, now, id); err != nil {
		return fmt.Errorf("update response %d: %w", id, err)
	}
	return nil
}
