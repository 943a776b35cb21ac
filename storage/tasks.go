package storage

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	log "github.com/sirupsen/logrus"

	"tandem/domain"
)

// tagList stores task tags as a JSON array in a TEXT column.
type tagList []string

func (t tagList) Value() (driver.Value, error) {
	if t == nil {
		return "[]", nil
	}
	b, err := sonic.Marshal([]string(t))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (t *tagList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*t = tagList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("tags: unsupported type %T", src)
	}
	var tags []string
	if err := sonic.Unmarshal(raw, &tags); err != nil {
		return fmt.Errorf("tags: %w", err)
	}
	if tags == nil {
		tags = []string{}
	}
	*t = tags
	return nil
}

type taskRow struct {
	ID             string    `db:"id"`
	Title          string    `db:"title"`
	Description    *string   `db:"description"`
	Status         string    `db:"status"`
	Order          int       `db:"sort_order"`
	Priority       string    `db:"priority"`
	Tags           tagList   `db:"tags"`
	GithubBranch   *string   `db:"github_branch"`
	GithubPrID     *int64    `db:"github_pr_id"`
	GithubPrStatus *string   `db:"github_pr_status"`
	ProjectID      string    `db:"project_id"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r taskRow) toDomain() domain.Task {
	t := domain.Task{
		ID:           r.ID,
		Title:        r.Title,
		Description:  r.Description,
		Status:       domain.Status(r.Status),
		Order:        r.Order,
		Priority:     domain.Priority(r.Priority),
		Tags:         []string(r.Tags),
		GithubBranch: r.GithubBranch,
		GithubPrID:   r.GithubPrID,
		ProjectID:    r.ProjectID,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	if r.GithubPrStatus != nil {
		s := domain.PRStatus(*r.GithubPrStatus)
		t.GithubPrStatus = &s
	}
	return t
}

const taskColumns = `id, title, description, status, sort_order, priority, tags, github_branch, github_pr_id, github_pr_status, project_id, created_at, updated_at`

// tasks in a partition are listed by order, ties broken by age then id
const taskOrdering = `sort_order, created_at, id`

func (db *DB) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	return db.getTask(ctx, db.x, taskID)
}

func (db *DB) getTask(ctx context.Context, q sqlx.QueryerContext, taskID string) (*domain.Task, error) {
	var row taskRow
	err := sqlx.GetContext(ctx, q, &row, db.q(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`), taskID)
	if err != nil {
		return nil, notFoundIfNoRows(err, "task "+taskID)
	}
	t := row.toDomain()
	return &t, nil
}

// ListTasks returns every task of a project sorted by order ascending.
func (db *DB) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	var rows []taskRow
	err := db.x.SelectContext(ctx, &rows, db.q(`SELECT `+taskColumns+` FROM tasks WHERE project_id = ? ORDER BY `+taskOrdering), projectID)
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		tasks = append(tasks, r.toDomain())
	}
	return tasks, nil
}

// CreateTask appends the task to its (project, status) partition. The
// project row lock makes reading the partition maximum and inserting atomic.
func (db *DB) CreateTask(ctx context.Context, projectID string, in domain.NewTask) (*domain.Task, error) {
	now := db.now()
	t := domain.Task{
		ID:          uuid.NewString(),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		Tags:        in.Tags,
		ProjectID:   projectID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.Tags == nil {
		t.Tags = []string{}
	}
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := db.lockProject(ctx, tx, projectID, now); err != nil {
			return err
		}
		var max sql.NullInt64
		if err := tx.GetContext(ctx, &max, db.q(`SELECT MAX(sort_order) FROM tasks WHERE project_id = ? AND status = ?`),
			projectID, string(t.Status)); err != nil {
			return err
		}
		order, fits := domain.NextOrder(int(max.Int64), max.Valid)
		if !fits {
			partition, err := db.partition(ctx, tx, projectID, t.Status, t.ID)
			if err != nil {
				return err
			}
			placement, err := domain.Place(partition, t.ID, "", "")
			if err != nil {
				return err
			}
			if err := db.renumber(ctx, tx, projectID, t.Status, placement.Renumbered); err != nil {
				return err
			}
			order = placement.Order
		}
		t.Order = order
		_, err := tx.ExecContext(ctx, db.q(`INSERT INTO tasks (`+taskColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			t.ID, t.Title, t.Description, string(t.Status), t.Order, string(t.Priority), tagList(t.Tags),
			nil, nil, nil, t.ProjectID, t.CreatedAt, t.UpdatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateTask writes only the fields set in upd.
func (db *DB) UpdateTask(ctx context.Context, taskID string, upd domain.TaskUpdate) (*domain.Task, error) {
	var sets []string
	var args []any
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if upd.Status.Set {
		set("status", string(upd.Status.Value))
	}
	if upd.Order.Set {
		set("sort_order", upd.Order.Value)
	}
	if upd.Title.Set {
		set("title", upd.Title.Value)
	}
	if upd.Description.Set {
		set("description", upd.Description.Ptr())
	}
	if upd.Priority.Set {
		set("priority", string(upd.Priority.Value))
	}
	if upd.Tags.Set {
		set("tags", tagList(upd.Tags.Value))
	}
	if upd.GithubBranch.Set {
		set("github_branch", upd.GithubBranch.Ptr())
	}
	if upd.GithubPrID.Set {
		set("github_pr_id", upd.GithubPrID.Ptr())
	}
	if upd.GithubPrStatus.Set {
		var v *string
		if upd.GithubPrStatus.Valid {
			s := string(upd.GithubPrStatus.Value)
			v = &s
		}
		set("github_pr_status", v)
	}
	if len(sets) == 0 {
		return db.GetTask(ctx, taskID)
	}
	set("updated_at", db.now())
	args = append(args, taskID)

	res, err := db.x.ExecContext(ctx, db.q(`UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`), args...)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, domain.ErrNotFound)
	}
	return db.GetTask(ctx, taskID)
}

// MoveTask places the task between the requested neighbours of the target
// partition. Only the moved row changes unless the gap has to be renumbered.
func (db *DB) MoveTask(ctx context.Context, taskID string, mv domain.MoveRequest) (*domain.Task, error) {
	var moved *domain.Task
	err := db.inTx(ctx, func(tx *sqlx.Tx) error {
		current, err := db.getTask(ctx, tx, taskID)
		if err != nil {
			return err
		}
		now := db.now()
		if err := db.lockProject(ctx, tx, current.ProjectID, now); err != nil {
			return err
		}

		partition, err := db.partition(ctx, tx, current.ProjectID, mv.Status, taskID)
		if err != nil {
			return err
		}
		placement, err := domain.Place(partition, taskID, mv.AfterID, mv.BeforeID)
		if err != nil {
			return err
		}
		if err := db.renumber(ctx, tx, current.ProjectID, mv.Status, placement.Renumbered); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, db.q(`UPDATE tasks SET status = ?, sort_order = ?, updated_at = ? WHERE id = ?`),
			string(mv.Status), placement.Order, now, taskID); err != nil {
			return err
		}
		moved, err = db.getTask(ctx, tx, taskID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return moved, nil
}

// partition returns the ordered slots of a (project, status) partition,
// leaving out skip.
func (db *DB) partition(ctx context.Context, tx *sqlx.Tx, projectID string, status domain.Status, skip string) ([]domain.Slot, error) {
	var rows []struct {
		ID    string `db:"id"`
		Order int    `db:"sort_order"`
	}
	if err := tx.SelectContext(ctx, &rows, db.q(`SELECT id, sort_order FROM tasks
		WHERE project_id = ? AND status = ? AND id <> ?
		ORDER BY `+taskOrdering), projectID, string(status), skip); err != nil {
		return nil, err
	}
	slots := make([]domain.Slot, len(rows))
	for i, r := range rows {
		slots[i] = domain.Slot{ID: r.ID, Order: r.Order}
	}
	return slots, nil
}

func (db *DB) renumber(ctx context.Context, tx *sqlx.Tx, projectID string, status domain.Status, slots []domain.Slot) error {
	if len(slots) == 0 {
		return nil
	}
	log.WithFields(log.Fields{"project": projectID, "status": status, "count": len(slots)}).
		Info("renumbering task partition")
	for _, s := range slots {
		if _, err := tx.ExecContext(ctx, db.q(`UPDATE tasks SET sort_order = ? WHERE id = ?`), s.Order, s.ID); err != nil {
			return err
		}
	}
	return nil
}
