package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"tandem/domain"
)

type projectRow struct {
	ID             string    `db:"id"`
	Title          string    `db:"title"`
	Description    *string   `db:"description"`
	GithubRepoID   *string   `db:"github_repo_id"`
	GithubRepoName *string   `db:"github_repo_name"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r projectRow) toDomain() domain.Project {
	return domain.Project{
		ID:             r.ID,
		Title:          r.Title,
		Description:    r.Description,
		GithubRepoID:   r.GithubRepoID,
		GithubRepoName: r.GithubRepoName,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
}

const projectColumns = `id, title, description, github_repo_id, github_repo_name, created_at, updated_at`

// CreateProject inserts the project and its owner membership in one transaction.
func (db *DB) CreateProject(ctx context.Context, in domain.NewProject, ownerID string) (*domain.Project, error) {
	now := db.now()
	p := domain.Project{
		ID:             uuid.NewString(),
		Title:          in.Title,
		Description:    in.Description,
		GithubRepoID:   in.GithubRepoID,
		GithubRepoName: in.GithubRepoName,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, db.q(`INSERT INTO projects (`+projectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`),
			p.ID, p.Title, p.Description, p.GithubRepoID, p.GithubRepoName, p.CreatedAt, p.UpdatedAt); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, db.q(`INSERT INTO members (user_id, project_id, role, created_at) VALUES (?, ?, ?, ?)`),
			ownerID, p.ID, string(domain.RoleOwner), now)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("project for repository already exists: %w", domain.ErrConflict)
		}
		return nil, err
	}
	return &p, nil
}

func (db *DB) FindProjectByRepo(ctx context.Context, repoID string) (*domain.Project, error) {
	var row projectRow
	err := db.x.GetContext(ctx, &row, db.q(`SELECT `+projectColumns+` FROM projects WHERE github_repo_id = ?`), repoID)
	if err != nil {
		return nil, notFoundIfNoRows(err, "project for repository "+repoID)
	}
	p := row.toDomain()
	return &p, nil
}

func (db *DB) GetProject(ctx context.Context, projectID string) (*domain.Project, error) {
	var row projectRow
	err := db.x.GetContext(ctx, &row, db.q(`SELECT `+projectColumns+` FROM projects WHERE id = ?`), projectID)
	if err != nil {
		return nil, notFoundIfNoRows(err, "project "+projectID)
	}
	p := row.toDomain()
	return &p, nil
}

// ListProjectsForUser returns the user's projects, most recently updated first.
func (db *DB) ListProjectsForUser(ctx context.Context, userID string) ([]domain.Project, error) {
	var rows []projectRow
	err := db.x.SelectContext(ctx, &rows, db.q(`SELECT p.id, p.title, p.description, p.github_repo_id, p.github_repo_name, p.created_at, p.updated_at
		FROM projects p JOIN members m ON m.project_id = p.id
		WHERE m.user_id = ?
		ORDER BY p.updated_at DESC, p.id`), userID)
	if err != nil {
		return nil, err
	}
	projects := make([]domain.Project, 0, len(rows))
	for _, r := range rows {
		projects = append(projects, r.toDomain())
	}
	return projects, nil
}

type memberRow struct {
	UserID    string            `db:"user_id"`
	ProjectID string            `db:"project_id"`
	Role      domain.MemberRole `db:"role"`
	Name      string            `db:"name"`
	Email     string            `db:"email"`
	Image     *string           `db:"image"`
}

func (db *DB) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	var rows []memberRow
	err := db.x.SelectContext(ctx, &rows, db.q(`SELECT m.user_id, m.project_id, m.role, u.name, u.email, u.image
		FROM members m JOIN users u ON u.id = m.user_id
		WHERE m.project_id = ?
		ORDER BY m.created_at, m.user_id`), projectID)
	if err != nil {
		return nil, err
	}
	members := make([]domain.Member, 0, len(rows))
	for _, r := range rows {
		members = append(members, domain.Member{
			UserID:    r.UserID,
			ProjectID: r.ProjectID,
			Role:      r.Role,
			User:      &domain.UserProfile{ID: r.UserID, Name: r.Name, Email: r.Email, Image: r.Image},
		})
	}
	return members, nil
}

func (db *DB) IsMember(ctx context.Context, userID, projectID string) (bool, error) {
	var n int
	err := db.x.GetContext(ctx, &n, db.q(`SELECT COUNT(*) FROM members WHERE user_id = ? AND project_id = ?`), userID, projectID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
