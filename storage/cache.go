package storage

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"tandem/domain"
)

// Cache wraps a project store with redis-backed caching of project lists and
// task boards. Writes evict the affected keys.
type Cache struct {
	domain.ProjectStorage
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching wrapper using the provided redis client and TTL.
func NewCache(base domain.ProjectStorage, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{ProjectStorage: base, redis: client, ttl: ttl}
}

func (c *Cache) ListProjectsForUser(ctx context.Context, userID string) ([]domain.Project, error) {
	var projects []domain.Project
	if c.load(ctx, projectsCacheKey(userID), &projects) {
		return projects, nil
	}
	projects, err := c.ProjectStorage.ListProjectsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, projectsCacheKey(userID), projects)
	return projects, nil
}

func (c *Cache) ListTasks(ctx context.Context, projectID string) ([]domain.Task, error) {
	var tasks []domain.Task
	if c.load(ctx, tasksCacheKey(projectID), &tasks) {
		return tasks, nil
	}
	tasks, err := c.ProjectStorage.ListTasks(ctx, projectID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, tasksCacheKey(projectID), tasks)
	return tasks, nil
}

func (c *Cache) CreateProject(ctx context.Context, in domain.NewProject, ownerID string) (*domain.Project, error) {
	p, err := c.ProjectStorage.CreateProject(ctx, in, ownerID)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, projectsCacheKey(ownerID))
	return p, nil
}

func (c *Cache) CreateTask(ctx context.Context, projectID string, in domain.NewTask) (*domain.Task, error) {
	t, err := c.ProjectStorage.CreateTask(ctx, projectID, in)
	if err != nil {
		return nil, err
	}
	c.evictProject(ctx, projectID)
	return t, nil
}

func (c *Cache) UpdateTask(ctx context.Context, taskID string, upd domain.TaskUpdate) (*domain.Task, error) {
	t, err := c.ProjectStorage.UpdateTask(ctx, taskID, upd)
	if err != nil {
		return nil, err
	}
	c.evict(ctx, tasksCacheKey(t.ProjectID))
	return t, nil
}

func (c *Cache) MoveTask(ctx context.Context, taskID string, mv domain.MoveRequest) (*domain.Task, error) {
	t, err := c.ProjectStorage.MoveTask(ctx, taskID, mv)
	if err != nil {
		return nil, err
	}
	c.evictProject(ctx, t.ProjectID)
	return t, nil
}

// evictProject drops the board and, because creates and moves bump the
// project's updated_at, every member's project list.
func (c *Cache) evictProject(ctx context.Context, projectID string) {
	keys := []string{tasksCacheKey(projectID)}
	members, err := c.ProjectStorage.ListMembers(ctx, projectID)
	if err == nil {
		for _, m := range members {
			keys = append(keys, projectsCacheKey(m.UserID))
		}
	}
	c.evict(ctx, keys...)
}

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := sonic.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

func (c *Cache) store(ctx context.Context, key string, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(v)
	if err != nil {
		return
	}
	_ = c.redis.Set(ctx, key, data, c.ttl).Err()
}

func (c *Cache) evict(ctx context.Context, keys ...string) {
	if c.redis == nil || len(keys) == 0 {
		return
	}
	_, _ = c.redis.Del(ctx, keys...).Result()
}

func projectsCacheKey(userID string) string {
	return "projects:" + userID
}

func tasksCacheKey(projectID string) string {
	return "tasks:" + projectID
}
