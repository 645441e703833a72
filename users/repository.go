package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

const mysqlDuplicateEntry = 1062

const maxCodeAttempts = 5

type Repository struct {
	db      *sql.DB
	codeLen int
	now     func() time.Time
}

func NewRepository(db *sql.DB, codeLen int) *Repository {
	return &Repository{db: db, codeLen: codeLen, now: time.Now}
}

const selectUser = `SELECT id, IFNULL(email,''), referral_code, created_at FROM users`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.ReferralCode, &u.CreatedAt); err != nil {
		return nil, err
	}
	return &u, nil
}

// Get returns nil, nil when the user is unknown.
func (r *Repository) Get(ctx context.Context, id string) (*User, error) {
	u, err := scanUser(r.db.QueryRowContext(ctx, selectUser+` WHERE id = ? LIMIT 1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// Ensure returns the stored user, inserting it with a fresh referral code on
// first sight. created reports whether this call inserted the row.
func (r *Repository) Ensure(ctx context.Context, id, email string) (u *User, created bool, err error) {
	if u, err = r.Get(ctx, id); err != nil || u != nil {
		return u, false, err
	}
	var nullEmail sql.NullString
	if email = strings.TrimSpace(email); email != "" {
		nullEmail = sql.NullString{String: email, Valid: true}
	}
	now := r.now().UTC()
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := NewReferralCode(r.codeLen)
		if err != nil {
			return nil, false, err
		}
		_, err = r.db.ExecContext(ctx, `INSERT INTO users (id, email, referral_code, created_at) VALUES (?,?,?,?)`, id, nullEmail, code, now)
		if err == nil {
			return &User{ID: id, Email: email, ReferralCode: code, CreatedAt: now}, true, nil
		}
		var me *mysql.MySQLError
		if !errors.As(err, &me) || me.Number != mysqlDuplicateEntry {
			return nil, false, fmt.Errorf("insert user %s: %w", id, err)
		}
		if !strings.Contains(me.Message, "referral_code") {
			// a concurrent request created the same account first
			u, err := r.Get(ctx, id)
			return u, false, err
		}
	}
	return nil, false, fmt.Errorf("insert user %s: no unique referral code after %d attempts", id, maxCodeAttempts)
}

// FindByReferralCode resolves a dedicated referral code (case-insensitive).
func (r *Repository) FindByReferralCode(ctx context.Context, code string) (*User, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, nil
	}
	u, err := scanUser(r.db.QueryRowContext(ctx, selectUser+` WHERE referral_code = ? LIMIT 1`, code))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find referral code: %w", err)
	}
	return u, nil
}

// FindByIDPrefix resolves legacy share links that carried the first characters
// of the referrer's account id. Ambiguous prefixes resolve to nothing.
func (r *Repository) FindByIDPrefix(ctx context.Context, prefix string) (*User, error) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" || strings.Trim(prefix, "0123456789abcdef-") != "" {
		return nil, nil
	}
	rows, err := r.db.QueryContext(ctx, selectUser+` WHERE id LIKE ? LIMIT 2`, prefix+"%")
	if err != nil {
		return nil, fmt.Errorf("find id prefix: %w", err)
	}
	defer rows.Close()
	var found []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(found) != 1 {
		return nil, nil
	}
	return found[0], nil
}
