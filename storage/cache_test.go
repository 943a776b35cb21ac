package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"tandem/domain"
)

type stubBackend struct {
	domain.ProjectStorage
	listProjectsFn func(ctx context.Context, userID string) ([]domain.Project, error)
	listTasksFn    func(ctx context.Context, projectID string) ([]domain.Task, error)
	createTaskFn   func(ctx context.Context, projectID string, in domain.NewTask) (*domain.Task, error)
	members        []domain.Member
}

func (s *stubBackend) ListProjectsForUser(ctx context.Context, userID string) ([]domain.Project, error) {
	if s.listProjectsFn == nil {
		return nil, errors.New("unexpected ListProjectsForUser call")
	}
	return s.listProjectsFn(ctx, userID)
}

func (s *stubBackend) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	if s.listTasksFn == nil {
		return nil, errors.New("unexpected ListTasks call")
	}
	return s.listTasksFn(ctx, projectID)
}

func (s *stubBackend) CreateTask(ctx context.Context, projectID string, in domain.NewTask) (*domain.Task, error) {
	if s.createTaskFn == nil {
		return nil, errors.New("unexpected CreateTask call")
	}
	return s.createTaskFn(ctx, projectID, in)
}

func (s *stubBackend) ListMembers(ctx context.Context, projectID string) ([]domain.Member, error) {
	return s.members, nil
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCacheListTasksMissThenHit(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	var calls int
	cache := NewCache(&stubBackend{
		listTasksFn: func(ctx context.Context, projectID string) ([]domain.Task, error) {
			calls++
			return []domain.Task{{ID: "t1", Title: "Write code", Order: 1000, Tags: []string{}}}, nil
		},
	}, client, time.Minute)

	for i := 0; i < 2; i++ {
		tasks, err := cache.ListTasks(ctx, "p1")
		if err != nil {
			t.Fatalf("list tasks: %v", err)
		}
		if len(tasks) != 1 || tasks[0].ID != "t1" || tasks[0].Order != 1000 {
			t.Fatalf("unexpected tasks: %#v", tasks)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 call to backend, got %d", calls)
	}
	if ttl := mr.TTL(tasksCacheKey("p1")); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected TTL: %v", ttl)
	}
}

func TestCacheCreateTaskEvictsBoardAndMemberLists(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()

	backend := &stubBackend{
		createTaskFn: func(ctx context.Context, projectID string, in domain.NewTask) (*domain.Task, error) {
			return &domain.Task{ID: "t2", ProjectID: projectID}, nil
		},
		members: []domain.Member{{UserID: "u1"}, {UserID: "u2"}},
	}
	cache := NewCache(backend, client, time.Minute)

	for _, key := range []string{tasksCacheKey("p1"), projectsCacheKey("u1"), projectsCacheKey("u2"), projectsCacheKey("u3")} {
		if err := mr.Set(key, "[]"); err != nil {
			t.Fatalf("seed %s: %v", key, err)
		}
	}
	if _, err := cache.CreateTask(ctx, "p1", domain.NewTask{Title: "x"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, key := range []string{tasksCacheKey("p1"), projectsCacheKey("u1"), projectsCacheKey("u2")} {
		if mr.Exists(key) {
			t.Fatalf("expected %s evicted", key)
		}
	}
	if !mr.Exists(projectsCacheKey("u3")) {
		t.Fatalf("unrelated user's list should stay cached")
	}
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	if err := mr.Set(projectsCacheKey("u1"), "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	cache := NewCache(&stubBackend{
		listProjectsFn: func(ctx context.Context, userID string) ([]domain.Project, error) {
			return []domain.Project{{ID: "p1", Title: "Board"}}, nil
		},
	}, client, time.Minute)

	projects, err := cache.ListProjectsForUser(ctx, "u1")
	if err != nil || len(projects) != 1 {
		t.Fatalf("projects %+v err %v", projects, err)
	}
}

func TestCacheWithoutRedis(t *testing.T) {
	var calls int
	cache := NewCache(&stubBackend{
		listTasksFn: func(ctx context.Context, projectID string) ([]domain.Task, error) {
			calls++
			return nil, nil
		},
	}, nil, time.Minute)
	_, _ = cache.ListTasks(context.Background(), "p1")
	_, _ = cache.ListTasks(context.Background(), "p1")
	if calls != 2 {
		t.Fatalf("expected backend hit on every call, got %d", calls)
	}
}

func TestSessionStoreLifecycle(t *testing.T) {
	mr, client := newTestRedis(t)
	ctx := context.Background()
	sessions := NewSessionStore(client, time.Hour)

	sid, err := sessions.Create(ctx, "u1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if ttl := mr.TTL(sessionKey(sid)); ttl != time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}
	userID, err := sessions.Lookup(ctx, sid)
	if err != nil || userID != "u1" {
		t.Fatalf("lookup: %q err %v", userID, err)
	}
	if err := sessions.Revoke(ctx, sid); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := sessions.Lookup(ctx, sid); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found after revoke, got %v", err)
	}
}

func TestBoardBusDeliversToProjectChannel(t *testing.T) {
	_, client := newTestRedis(t)
	ctx := context.Background()
	bus := NewBoardBus(client)

	sub := bus.Subscribe(ctx, "p1")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	ev := domain.BoardEvent{ID: "e1", Type: domain.EventTaskMoved, ProjectID: "p1", TaskID: "t1", Status: domain.StatusDone, Order: 1500}
	if err := bus.Send(ctx, ev); err != nil {
		t.Fatalf("send: %v", err)
	}
	select {
	case msg := <-sub.Channel():
		if msg.Channel != "board:p1" {
			t.Fatalf("unexpected channel %s", msg.Channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}
