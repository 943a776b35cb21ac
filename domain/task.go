package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"
)

// Status is the kanban column a task belongs to.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
)

// Statuses lists the board columns in display order.
var Statuses = []Status{StatusTodo, StatusInProgress, StatusDone}

// Valid reports whether s is a known column.
func (s Status) Valid() bool {
	switch s {
	case StatusTodo, StatusInProgress, StatusDone:
		return true
	}
	return false
}

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

type PRStatus string

const (
	PROpen   PRStatus = "open"
	PRMerged PRStatus = "merged"
	PRClosed PRStatus = "closed"
)

func (p PRStatus) Valid() bool {
	switch p {
	case PROpen, PRMerged, PRClosed:
		return true
	}
	return false
}

// Task represents a single board item.
type Task struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Description    *string   `json:"description"`
	Status         Status    `json:"status"`
	Order          int       `json:"order"`
	Priority       Priority  `json:"priority"`
	Tags           []string  `json:"tags"`
	GithubBranch   *string   `json:"githubBranch"`
	GithubPrID     *int64    `json:"githubPrId"`
	GithubPrStatus *PRStatus `json:"githubPrStatus"`
	ProjectID      string    `json:"projectId"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// NewTask is the validated input for task creation.
type NewTask struct {
	Title       string   `json:"title"`
	Status      Status   `json:"status,omitempty"`
	Description *string  `json:"description,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

// Normalize applies defaults and validates the input.
func (n *NewTask) Normalize() error {
	n.Title = strings.TrimSpace(n.Title)
	if n.Title == "" {
		return &ValidationError{Field: "title", Reason: "is required"}
	}
	if n.Status == "" {
		n.Status = StatusTodo
	}
	if !n.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "must be one of todo, in-progress, done"}
	}
	if n.Priority == "" {
		n.Priority = PriorityMedium
	}
	if !n.Priority.Valid() {
		return &ValidationError{Field: "priority", Reason: "must be one of low, medium, high"}
	}
	return nil
}

// Nullable distinguishes an absent JSON field from an explicit null. Decode
// it with encoding/json, which hands null to UnmarshalJSON for value types.
type Nullable[T any] struct {
	Set   bool
	Valid bool
	Value T
}

// Some returns a Nullable holding v.
func Some[T any](v T) Nullable[T] {
	return Nullable[T]{Set: true, Valid: true, Value: v}
}

// Null returns a Nullable that clears the field.
func Null[T any]() Nullable[T] {
	return Nullable[T]{Set: true}
}

func (n *Nullable[T]) UnmarshalJSON(data []byte) error {
	n.Set = true
	if string(data) == "null" {
		var zero T
		n.Valid = false
		n.Value = zero
		return nil
	}
	if err := sonic.Unmarshal(data, &n.Value); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// Ptr returns the held value as a pointer, nil when cleared.
func (n Nullable[T]) Ptr() *T {
	if !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// TaskUpdate carries a partial update. Only fields with Set == true are applied.
type TaskUpdate struct {
	Status         Nullable[Status]   `json:"status"`
	Order          Nullable[int]      `json:"order"`
	Title          Nullable[string]   `json:"title"`
	Description    Nullable[string]   `json:"description"`
	Priority       Nullable[Priority] `json:"priority"`
	Tags           Nullable[[]string] `json:"tags"`
	GithubBranch   Nullable[string]   `json:"githubBranch"`
	GithubPrID     Nullable[int64]    `json:"githubPrId"`
	GithubPrStatus Nullable[PRStatus] `json:"githubPrStatus"`
}

// Empty reports whether the update touches no field.
func (u TaskUpdate) Empty() bool {
	return !u.Status.Set && !u.Order.Set && !u.Title.Set && !u.Description.Set &&
		!u.Priority.Set && !u.Tags.Set && !u.GithubBranch.Set && !u.GithubPrID.Set &&
		!u.GithubPrStatus.Set
}

// Validate rejects nulls on required columns and values outside the enums.
func (u *TaskUpdate) Validate() error {
	if u.Empty() {
		return &ValidationError{Reason: "no fields to update"}
	}
	if u.Status.Set && (!u.Status.Valid || !u.Status.Value.Valid()) {
		return &ValidationError{Field: "status", Reason: "must be one of todo, in-progress, done"}
	}
	if u.Order.Set && !u.Order.Valid {
		return &ValidationError{Field: "order", Reason: "cannot be null"}
	}
	if u.Order.Set && (u.Order.Value < 1 || u.Order.Value > MaxOrder) {
		return &ValidationError{Field: "order", Reason: fmt.Sprintf("must be between 1 and %d", MaxOrder)}
	}
	if u.Title.Set {
		u.Title.Value = strings.TrimSpace(u.Title.Value)
		if !u.Title.Valid || u.Title.Value == "" {
			return &ValidationError{Field: "title", Reason: "cannot be empty"}
		}
	}
	if u.Priority.Set && (!u.Priority.Valid || !u.Priority.Value.Valid()) {
		return &ValidationError{Field: "priority", Reason: "must be one of low, medium, high"}
	}
	if u.Tags.Set && !u.Tags.Valid {
		u.Tags = Some([]string{})
	}
	if u.GithubPrStatus.Set && u.GithubPrStatus.Valid && !u.GithubPrStatus.Value.Valid() {
		return &ValidationError{Field: "githubPrStatus", Reason: "must be one of open, merged, closed"}
	}
	return nil
}

// Apply copies the set fields onto t. Used by stores that update in memory.
func (u TaskUpdate) Apply(t *Task) {
	if u.Status.Set {
		t.Status = u.Status.Value
	}
	if u.Order.Set {
		t.Order = u.Order.Value
	}
	if u.Title.Set {
		t.Title = u.Title.Value
	}
	if u.Description.Set {
		t.Description = u.Description.Ptr()
	}
	if u.Priority.Set {
		t.Priority = u.Priority.Value
	}
	if u.Tags.Set {
		t.Tags = append([]string(nil), u.Tags.Value...)
	}
	if u.GithubBranch.Set {
		t.GithubBranch = u.GithubBranch.Ptr()
	}
	if u.GithubPrID.Set {
		t.GithubPrID = u.GithubPrID.Ptr()
	}
	if u.GithubPrStatus.Set {
		t.GithubPrStatus = u.GithubPrStatus.Ptr()
	}
}

// MoveRequest places a task into a column between two neighbours. Empty
// neighbour ids mean "no constraint on that side"; with both empty the task
// goes to the end of the column.
type MoveRequest struct {
	Status   Status `json:"status"`
	AfterID  string `json:"afterId,omitempty"`
	BeforeID string `json:"beforeId,omitempty"`
}

func (m MoveRequest) Validate(taskID string) error {
	if !m.Status.Valid() {
		return &ValidationError{Field: "status", Reason: "must be one of todo, in-progress, done"}
	}
	if m.AfterID != "" && m.AfterID == m.BeforeID {
		return &ValidationError{Field: "afterId", Reason: "must differ from beforeId"}
	}
	if m.AfterID == taskID || m.BeforeID == taskID {
		return &ValidationError{Field: "afterId", Reason: "task cannot be its own neighbour"}
	}
	return nil
}
