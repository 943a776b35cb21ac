package domain

import (
	"context"
	"errors"
	"testing"
)

func strp(s string) *string { return &s }

func newServiceWithProject(t *testing.T) (ProjectService, *fakeStore, *recordingPublisher, *Project) {
	t.Helper()
	fs := newFakeStore()
	pub := &recordingPublisher{}
	svc := NewProjectService(fs, pub)
	p, err := svc.CreateProject(context.Background(), "owner", NewProject{Title: "Tandem"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return svc, fs, pub, p
}

func TestCreateProjectMakesCreatorOwner(t *testing.T) {
	svc, fs, pub, p := newServiceWithProject(t)
	if fs.members[p.ID]["owner"] != RoleOwner {
		t.Fatalf("expected owner membership, got %v", fs.members[p.ID])
	}
	if len(pub.events) != 1 || pub.events[0].Type != EventProjectCreated {
		t.Fatalf("expected project-created event, got %+v", pub.events)
	}
	list, err := svc.ListProjects(context.Background(), "owner")
	if err != nil || len(list) != 1 || list[0].ID != p.ID {
		t.Fatalf("unexpected project list %+v err %v", list, err)
	}
}

func TestCreateProjectDuplicateRepo(t *testing.T) {
	fs := newFakeStore()
	svc := NewProjectService(fs, nil)
	ctx := context.Background()
	in := NewProject{Title: "One", GithubRepoID: strp("42"), GithubRepoName: strp("acme/one")}
	if _, err := svc.CreateProject(ctx, "u1", in); err != nil {
		t.Fatalf("first create: %v", err)
	}
	in.Title = "Two"
	_, err := svc.CreateProject(ctx, "u2", in)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if len(fs.projects) != 1 {
		t.Fatalf("expected a single project, got %d", len(fs.projects))
	}
}

func TestCreateProjectRequiresCompleteRepoLink(t *testing.T) {
	svc := NewProjectService(newFakeStore(), nil)
	_, err := svc.CreateProject(context.Background(), "u1", NewProject{Title: "x", GithubRepoID: strp("1")})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreateTaskOrderSequence(t *testing.T) {
	svc, _, _, p := newServiceWithProject(t)
	ctx := context.Background()

	fix, err := svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "Fix bug", Status: StatusTodo})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	docs, err := svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "Write docs", Status: StatusTodo})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	third, err := svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "Ship", Status: StatusTodo})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if fix.Order != 1000 || docs.Order != 2000 || third.Order != 3000 {
		t.Fatalf("unexpected orders %d %d %d", fix.Order, docs.Order, third.Order)
	}
	if fix.Priority != PriorityMedium {
		t.Fatalf("expected default priority medium, got %s", fix.Priority)
	}

	other, err := svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "Review", Status: StatusDone})
	if err != nil || other.Order != 1000 {
		t.Fatalf("expected separate partition to start at 1000, got %+v err %v", other, err)
	}
}

func TestCreateTaskDefaultsStatus(t *testing.T) {
	svc, _, _, p := newServiceWithProject(t)
	task, err := svc.CreateTask(context.Background(), "owner", p.ID, NewTask{Title: "x"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if task.Status != StatusTodo {
		t.Fatalf("expected todo, got %s", task.Status)
	}
}

func TestCreateTaskGate(t *testing.T) {
	svc, fs, _, p := newServiceWithProject(t)
	ctx := context.Background()

	if _, err := svc.CreateTask(ctx, "stranger", p.ID, NewTask{Title: "x"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := svc.CreateTask(ctx, "stranger", "missing", NewTask{Title: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "  "}); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(fs.tasks) != 0 {
		t.Fatalf("expected no tasks, got %d", len(fs.tasks))
	}
}

func TestUpdateTaskStatusKeepsOrder(t *testing.T) {
	svc, _, pub, p := newServiceWithProject(t)
	ctx := context.Background()
	task, err := svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "Fix bug"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.UpdateTask(ctx, "owner", task.ID, TaskUpdate{Status: Some(StatusDone)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Status != StatusDone || got.Order != 1000 || got.Title != "Fix bug" {
		t.Fatalf("unexpected task after update %+v", got)
	}
	last := pub.events[len(pub.events)-1]
	if last.Type != EventTaskUpdated || last.TaskID != task.ID {
		t.Fatalf("unexpected event %+v", last)
	}
}

func TestUpdateTaskClearsNullableFields(t *testing.T) {
	svc, _, _, p := newServiceWithProject(t)
	ctx := context.Background()
	task, _ := svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "x"})

	got, err := svc.UpdateTask(ctx, "owner", task.ID, TaskUpdate{GithubBranch: Some("feat/x"), GithubPrID: Some(int64(7))})
	if err != nil || got.GithubBranch == nil || *got.GithubBranch != "feat/x" || *got.GithubPrID != 7 {
		t.Fatalf("unexpected task %+v err %v", got, err)
	}
	got, err = svc.UpdateTask(ctx, "owner", task.ID, TaskUpdate{GithubBranch: Null[string]()})
	if err != nil || got.GithubBranch != nil || got.GithubPrID == nil {
		t.Fatalf("expected branch cleared only, got %+v err %v", got, err)
	}
}

func TestUpdateTaskGate(t *testing.T) {
	svc, fs, _, p := newServiceWithProject(t)
	ctx := context.Background()
	task, _ := svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "x"})

	_, err := svc.UpdateTask(ctx, "stranger", task.ID, TaskUpdate{Status: Some(StatusDone)})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if fs.tasks[task.ID].Status != StatusTodo {
		t.Fatalf("task changed despite rejection")
	}
	_, err = svc.UpdateTask(ctx, "stranger", "missing", TaskUpdate{Status: Some(StatusDone)})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	_, err = svc.UpdateTask(ctx, "owner", task.ID, TaskUpdate{})
	if !IsValidation(err) {
		t.Fatalf("expected validation error for empty update, got %v", err)
	}
}

func TestMoveTaskChangesOnlyMovedTask(t *testing.T) {
	svc, fs, _, p := newServiceWithProject(t)
	ctx := context.Background()
	a, _ := svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "a", Status: StatusTodo})
	b, _ := svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "b", Status: StatusTodo})
	c, _ := svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "c", Status: StatusInProgress})
	d, _ := svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "d", Status: StatusInProgress})

	moved, err := svc.MoveTask(ctx, "owner", a.ID, MoveRequest{Status: StatusInProgress, AfterID: c.ID, BeforeID: d.ID})
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	if moved.Status != StatusInProgress || moved.Order != 1500 {
		t.Fatalf("unexpected moved task %+v", moved)
	}
	for _, other := range []*Task{b, c, d} {
		got := fs.tasks[other.ID]
		if got.Status != other.Status || got.Order != other.Order {
			t.Fatalf("task %s changed: %+v", other.Title, got)
		}
	}
}

func TestMoveTaskGate(t *testing.T) {
	svc, _, _, p := newServiceWithProject(t)
	ctx := context.Background()
	a, _ := svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "a"})

	if _, err := svc.MoveTask(ctx, "stranger", a.ID, MoveRequest{Status: StatusDone}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := svc.MoveTask(ctx, "owner", a.ID, MoveRequest{Status: "archived"}); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := svc.MoveTask(ctx, "owner", a.ID, MoveRequest{Status: StatusDone, AfterID: a.ID}); !IsValidation(err) {
		t.Fatalf("expected validation error for self neighbour, got %v", err)
	}
}

func TestGetProjectGate(t *testing.T) {
	svc, _, _, p := newServiceWithProject(t)
	ctx := context.Background()
	_, _ = svc.CreateTask(ctx, "owner", p.ID, NewTask{Title: "b"})

	if _, err := svc.GetProject(ctx, "stranger", p.ID); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := svc.GetProject(ctx, "owner", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	detail, err := svc.GetProject(ctx, "owner", p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(detail.Members) != 1 || len(detail.Tasks) != 1 {
		t.Fatalf("unexpected detail %+v", detail)
	}
}
