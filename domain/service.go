package domain

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
)

// ProjectStorage defines the persistence needed by ProjectService.
type ProjectStorage interface {
	CreateProject(ctx context.Context, in NewProject, ownerID string) (*Project, error)
	FindProjectByRepo(ctx context.Context, repoID string) (*Project, error)
	GetProject(ctx context.Context, projectID string) (*Project, error)
	ListProjectsForUser(ctx context.Context, userID string) ([]Project, error)
	ListMembers(ctx context.Context, projectID string) ([]Member, error)
	IsMember(ctx context.Context, userID, projectID string) (bool, error)

	GetTask(ctx context.Context, taskID string) (*Task, error)
	ListTasks(ctx context.Context, projectID string) ([]Task, error)
	CreateTask(ctx context.Context, projectID string, in NewTask) (*Task, error)
	UpdateTask(ctx context.Context, taskID string, upd TaskUpdate) (*Task, error)
	MoveTask(ctx context.Context, taskID string, mv MoveRequest) (*Task, error)
}

// ProjectService implements project and task operations behind the
// membership check.
type ProjectService struct {
	st     ProjectStorage
	events EventPublisher
}

func NewProjectService(st ProjectStorage, events EventPublisher) ProjectService {
	if events == nil {
		events = NopPublisher
	}
	return ProjectService{st: st, events: events}
}

// Authorize checks that projectID exists and that userID is one of its members.
func (s ProjectService) Authorize(ctx context.Context, userID, projectID string) error {
	if _, err := s.st.GetProject(ctx, projectID); err != nil {
		return err
	}
	ok, err := s.st.IsMember(ctx, userID, projectID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

func (s ProjectService) CreateProject(ctx context.Context, userID string, in NewProject) (*Project, error) {
	if err := in.Normalize(); err != nil {
		return nil, err
	}
	if in.GithubRepoID != nil {
		existing, err := s.st.FindProjectByRepo(ctx, *in.GithubRepoID)
		switch {
		case err == nil && existing != nil:
			return nil, fmt.Errorf("repository %s already linked to project %s: %w", *in.GithubRepoID, existing.ID, ErrConflict)
		case err != nil && !errors.Is(err, ErrNotFound):
			return nil, err
		}
	}
	p, err := s.st.CreateProject(ctx, in, userID)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, BoardEvent{
		ID:        p.ID,
		Type:      EventProjectCreated,
		ProjectID: p.ID,
		UserID:    userID,
		Time:      p.CreatedAt,
	})
	return p, nil
}

// ListProjects returns the projects userID belongs to, most recently updated first.
func (s ProjectService) ListProjects(ctx context.Context, userID string) ([]Project, error) {
	return s.st.ListProjectsForUser(ctx, userID)
}

func (s ProjectService) GetProject(ctx context.Context, userID, projectID string) (*ProjectDetail, error) {
	p, err := s.st.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ok, err := s.st.IsMember(ctx, userID, projectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnauthorized
	}
	members, err := s.st.ListMembers(ctx, projectID)
	if err != nil {
		return nil, err
	}
	tasks, err := s.st.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &ProjectDetail{Project: *p, Members: members, Tasks: tasks}, nil
}

// CreateTask appends a task to the end of its column.
func (s ProjectService) CreateTask(ctx context.Context, userID, projectID string, in NewTask) (*Task, error) {
	if err := in.Normalize(); err != nil {
		return nil, err
	}
	if err := s.Authorize(ctx, userID, projectID); err != nil {
		return nil, err
	}
	t, err := s.st.CreateTask(ctx, projectID, in)
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"task": t.ID, "project": projectID, "order": t.Order}).Debug("task created")
	s.events.Publish(ctx, NewTaskEvent(EventTaskCreated, userID, t))
	return t, nil
}

// UpdateTask applies a partial update. A status-only change keeps the current order.
func (s ProjectService) UpdateTask(ctx context.Context, userID, taskID string, upd TaskUpdate) (*Task, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	if err := s.authorizeTask(ctx, userID, taskID); err != nil {
		return nil, err
	}
	t, err := s.st.UpdateTask(ctx, taskID, upd)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, NewTaskEvent(EventTaskUpdated, userID, t))
	return t, nil
}

// MoveTask places a task between two neighbours of the target column.
func (s ProjectService) MoveTask(ctx context.Context, userID, taskID string, mv MoveRequest) (*Task, error) {
	if err := mv.Validate(taskID); err != nil {
		return nil, err
	}
	if err := s.authorizeTask(ctx, userID, taskID); err != nil {
		return nil, err
	}
	t, err := s.st.MoveTask(ctx, taskID, mv)
	if err != nil {
		return nil, err
	}
	s.events.Publish(ctx, NewTaskEvent(EventTaskMoved, userID, t))
	return t, nil
}

func (s ProjectService) authorizeTask(ctx context.Context, userID, taskID string) error {
	t, err := s.st.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	ok, err := s.st.IsMember(ctx, userID, t.ProjectID)
	if err != nil {
		return err
	}
	if !ok {
		log.WithFields(log.Fields{"task": taskID, "user": userID}).Warn("task access denied")
		return ErrUnauthorized
	}
	return nil
}
