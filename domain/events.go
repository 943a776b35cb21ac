package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventTaskCreated    EventType = "task-created"
	EventTaskUpdated    EventType = "task-updated"
	EventTaskMoved      EventType = "task-moved"
	EventProjectCreated EventType = "project-created"
)

// BoardEvent announces a change to a project's board.
type BoardEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	ProjectID string    `json:"projectId"`
	TaskID    string    `json:"taskId,omitempty"`
	UserID    string    `json:"userId"`
	Status    Status    `json:"status,omitempty"`
	Order     int       `json:"order,omitempty"`
	Time      time.Time `json:"time"`
}

// NewTaskEvent builds an event describing t after a change made by userID.
func NewTaskEvent(typ EventType, userID string, t *Task) BoardEvent {
	return BoardEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		ProjectID: t.ProjectID,
		TaskID:    t.ID,
		UserID:    userID,
		Status:    t.Status,
		Order:     t.Order,
		Time:      time.Now().UTC(),
	}
}

// EventPublisher delivers board events. Implementations must not block the caller
// for long and report failures through their own logging.
type EventPublisher interface {
	Publish(ctx context.Context, ev BoardEvent)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, BoardEvent) {}

// NopPublisher discards every event.
var NopPublisher EventPublisher = nopPublisher{}
