package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"tandem/domain"
)

type userRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Email       string    `db:"email"`
	Image       *string   `db:"image"`
	Role        string    `db:"role"`
	GithubID    int64     `db:"github_id"`
	GithubLogin string    `db:"github_login"`
	GithubToken string    `db:"github_token"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r userRow) toDomain() *domain.User {
	return &domain.User{
		ID:          r.ID,
		Name:        r.Name,
		Email:       r.Email,
		Image:       r.Image,
		Role:        domain.UserRole(r.Role),
		GithubID:    r.GithubID,
		GithubLogin: r.GithubLogin,
		GithubToken: r.GithubToken,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

const userColumns = `id, name, email, image, role, github_id, github_login, github_token, created_at, updated_at`

func (db *DB) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	var row userRow
	if err := db.x.GetContext(ctx, &row, db.q(`SELECT `+userColumns+` FROM users WHERE id = ?`), userID); err != nil {
		return nil, notFoundIfNoRows(err, "user "+userID)
	}
	return row.toDomain(), nil
}

func (db *DB) FindUserByGitHubID(ctx context.Context, githubID int64) (*domain.User, error) {
	var row userRow
	if err := db.x.GetContext(ctx, &row, db.q(`SELECT `+userColumns+` FROM users WHERE github_id = ?`), githubID); err != nil {
		return nil, notFoundIfNoRows(err, fmt.Sprintf("user with github id %d", githubID))
	}
	return row.toDomain(), nil
}

// CreateUser assigns an id and timestamps and inserts the user.
func (db *DB) CreateUser(ctx context.Context, u *domain.User) error {
	now := db.now()
	u.ID = uuid.NewString()
	u.CreatedAt = now
	u.UpdatedAt = now
	if u.Role == "" {
		u.Role = domain.UserRoleUser
	}
	_, err := db.x.ExecContext(ctx, db.q(`INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		u.ID, u.Name, u.Email, u.Image, string(u.Role), u.GithubID, u.GithubLogin, u.GithubToken, u.CreatedAt, u.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %s already exists: %w", u.Email, domain.ErrConflict)
	}
	return err
}

// UpdateUserLogin refreshes the profile and token captured at sign-in.
func (db *DB) UpdateUserLogin(ctx context.Context, u *domain.User) error {
	u.UpdatedAt = db.now()
	res, err := db.x.ExecContext(ctx, db.q(`UPDATE users SET name = ?, email = ?, image = ?, role = ?, github_login = ?, github_token = ?, updated_at = ?
		WHERE id = ?`), u.Name, u.Email, u.Image, string(u.Role), u.GithubLogin, u.GithubToken, u.UpdatedAt, u.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("email %s belongs to another user: %w", u.Email, domain.ErrConflict)
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("user %s: %w", u.ID, domain.ErrNotFound)
	}
	return nil
}

func (db *DB) IsWhitelisted(ctx context.Context, email string) (bool, error) {
	var n int
	if err := db.x.GetContext(ctx, &n, db.q(`SELECT COUNT(*) FROM whitelist WHERE email = ?`), email); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListWhitelist returns entries newest first.
func (db *DB) ListWhitelist(ctx context.Context) ([]domain.WhitelistEntry, error) {
	var rows []struct {
		ID        string    `db:"id"`
		Email     string    `db:"email"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err := db.x.SelectContext(ctx, &rows, `SELECT id, email, created_at FROM whitelist ORDER BY created_at DESC, email`); err != nil {
		return nil, err
	}
	out := make([]domain.WhitelistEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.WhitelistEntry{ID: r.ID, Email: r.Email, CreatedAt: r.CreatedAt})
	}
	return out, nil
}

// AddWhitelist inserts email unless present and returns the stored entry.
func (db *DB) AddWhitelist(ctx context.Context, email string) (*domain.WhitelistEntry, error) {
	_, err := db.x.ExecContext(ctx, db.q(`INSERT INTO whitelist (id, email, created_at) VALUES (?, ?, ?) ON CONFLICT (email) DO NOTHING`),
		uuid.NewString(), email, db.now())
	if err != nil {
		return nil, err
	}
	var e domain.WhitelistEntry
	if err := db.x.QueryRowxContext(ctx, db.q(`SELECT id, email, created_at FROM whitelist WHERE email = ?`), email).
		Scan(&e.ID, &e.Email, &e.CreatedAt); err != nil {
		return nil, err
	}
	return &e, nil
}

func (db *DB) RemoveWhitelist(ctx context.Context, email string) error {
	res, err := db.x.ExecContext(ctx, db.q(`DELETE FROM whitelist WHERE email = ?`), email)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("whitelist entry %s: %w", email, domain.ErrNotFound)
	}
	return nil
}

// UpsertWaitlist records email once; repeated signups are no-ops.
func (db *DB) UpsertWaitlist(ctx context.Context, email string) error {
	_, err := db.x.ExecContext(ctx, db.q(`INSERT INTO waitlist (email, created_at) VALUES (?, ?) ON CONFLICT (email) DO NOTHING`),
		email, db.now())
	return err
}

// ListWaitlist returns waitlist entries oldest first.
func (db *DB) ListWaitlist(ctx context.Context) ([]domain.WaitlistEntry, error) {
	var rows []struct {
		Email     string    `db:"email"`
		CreatedAt time.Time `db:"created_at"`
	}
	if err := db.x.SelectContext(ctx, &rows, `SELECT email, created_at FROM waitlist ORDER BY created_at, email`); err != nil {
		return nil, err
	}
	out := make([]domain.WaitlistEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.WaitlistEntry{Email: r.Email, CreatedAt: r.CreatedAt})
	}
	return out, nil
}
