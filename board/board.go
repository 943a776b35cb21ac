// Package board keeps a client-side copy of a project's tasks, applies drag
// interactions optimistically and reconciles them with the server's answers.
package board

import (
	"context"
	"errors"
	"sort"
	"sync"

	"tandem/domain"
)

var ErrUnknownTask = errors.New("board: unknown task")

// Target is what the pointer is over during a drag: a task, or the empty area
// of a column when TaskID is empty.
type Target struct {
	TaskID string
	Column domain.Status
}

// Move is a pending optimistic move awaiting the server.
type Move struct {
	TaskID   string
	Status   domain.Status
	Order    int
	AfterID  string
	BeforeID string
	Seq      uint64
}

// Request is the server request that persists m.
func (m Move) Request() domain.MoveRequest {
	return domain.MoveRequest{Status: m.Status, AfterID: m.AfterID, BeforeID: m.BeforeID}
}

type Column struct {
	Status domain.Status
	Tasks  []domain.Task
}

type origin struct {
	index    int
	status   domain.Status
	afterID  string
	beforeID string
}

// Board is safe for concurrent use; server responses usually arrive on other
// goroutines than the ones driving the drag.
type Board struct {
	mu        sync.Mutex
	tasks     []domain.Task
	confirmed map[string]domain.Task
	pending   map[string]Move
	activeID  string
	origin    origin
	seq       uint64
	stale     bool
}

func New(tasks []domain.Task) *Board {
	b := &Board{}
	b.Replace(tasks)
	return b
}

// Replace installs a fresh server list. The server wins: the working copy,
// the confirmed snapshot and every pending move are discarded.
func (b *Board) Replace(tasks []domain.Task) {
	sorted := append([]domain.Task(nil), tasks...)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tasks = sorted
	b.confirmed = make(map[string]domain.Task, len(sorted))
	for _, t := range sorted {
		b.confirmed[t.ID] = t
	}
	b.pending = map[string]Move{}
	b.stale = false
	if b.activeID != "" {
		if b.indexOf(b.activeID) < 0 {
			b.activeID = ""
		} else {
			b.origin = b.originOf(b.activeID)
		}
	}
}

// DragStart marks id as the task being dragged.
func (b *Board) DragStart(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.indexOf(id) < 0 {
		return ErrUnknownTask
	}
	b.activeID = id
	b.origin = b.originOf(id)
	return nil
}

// DragOver moves the dragged task under the pointer. Over a task it adopts
// that task's column and takes its place in the sequence; over an empty column
// area it only changes column.
func (b *Board) DragOver(t Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeID == "" || t.TaskID == b.activeID {
		return
	}
	from := b.indexOf(b.activeID)
	if t.TaskID == "" {
		if t.Column.Valid() {
			b.tasks[from].Status = t.Column
		}
		return
	}
	to := b.indexOf(t.TaskID)
	if to < 0 {
		return
	}
	b.tasks[from].Status = b.tasks[to].Status
	b.tasks = arrayMove(b.tasks, from, to)
}

// DragEnd finishes the gesture. It yields a Move when the dragged task ended
// up in another column or between other neighbours.
func (b *Board) DragEnd() (Move, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeID == "" {
		return Move{}, false
	}
	id := b.activeID
	b.activeID = ""

	now := b.originOf(id)
	if now.status == b.origin.status && now.afterID == b.origin.afterID && now.beforeID == b.origin.beforeID {
		return Move{}, false
	}

	var prev, next *int
	if now.afterID != "" {
		o := b.tasks[b.indexOf(now.afterID)].Order
		prev = &o
	}
	if now.beforeID != "" {
		o := b.tasks[b.indexOf(now.beforeID)].Order
		next = &o
	}
	order, ok := domain.Between(prev, next)
	if !ok {
		// the server renumbers the column; keep the slot next to prev meanwhile
		order = *next
		if prev != nil {
			order = *prev
		}
	}

	idx := b.indexOf(id)
	b.tasks[idx].Order = order
	b.seq++
	m := Move{TaskID: id, Status: now.status, Order: order, AfterID: now.afterID, BeforeID: now.beforeID, Seq: b.seq}
	b.pending[id] = m
	return m, true
}

// DragCancel puts the dragged task back where it started.
func (b *Board) DragCancel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeID == "" {
		return
	}
	idx := b.indexOf(b.activeID)
	b.tasks[idx].Status = b.origin.status
	target := b.origin.index
	if target >= len(b.tasks) {
		target = len(b.tasks) - 1
	}
	b.tasks = arrayMove(b.tasks, idx, target)
	b.activeID = ""
}

// Confirm records the server's copy of a moved task. It reports false when a
// newer move for the same task is still pending, in which case only the
// confirmed snapshot is updated.
//
// The server renumbers a column when the gap at the drop point has closed,
// and only the moved task comes back. A confirmed position that differs
// from the optimistic one therefore marks the board stale until Replace.
func (b *Board) Confirm(m Move, t domain.Task) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if prev, ok := b.confirmed[t.ID]; !ok || !t.UpdatedAt.Before(prev.UpdatedAt) {
		b.confirmed[t.ID] = t
	}
	if t.Status != m.Status || t.Order != m.Order {
		b.stale = true
	}
	p, ok := b.pending[m.TaskID]
	if !ok || p.Seq != m.Seq {
		return false
	}
	delete(b.pending, m.TaskID)
	if idx := b.indexOf(t.ID); idx >= 0 && t.ID != b.activeID {
		b.tasks[idx] = t
	}
	return true
}

// Stale reports whether other tasks may hold orders the server has since
// rewritten. Callers refetch the project and Replace.
func (b *Board) Stale() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stale
}

// Fail reverts the task of a rejected move to its last confirmed state. Stale
// failures are ignored.
func (b *Board) Fail(m Move) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[m.TaskID]
	if !ok || p.Seq != m.Seq {
		return false
	}
	delete(b.pending, m.TaskID)
	known, ok := b.confirmed[m.TaskID]
	idx := b.indexOf(m.TaskID)
	if !ok || idx < 0 {
		return true
	}
	current := b.tasks[idx]
	current.Status = known.Status
	current.Order = known.Order
	b.tasks = append(b.tasks[:idx], b.tasks[idx+1:]...)
	b.insertSorted(current)
	if b.activeID == m.TaskID {
		b.origin = b.originOf(m.TaskID)
	}
	return true
}

// Submit persists a move through mover and reconciles the answer.
func (b *Board) Submit(ctx context.Context, mover Mover, m Move) (*domain.Task, error) {
	t, err := mover.MoveTask(ctx, m.TaskID, m.Request())
	if err != nil {
		b.Fail(m)
		return nil, err
	}
	b.Confirm(m, *t)
	return t, nil
}

// Mover persists moves, typically the HTTP client.
type Mover interface {
	MoveTask(ctx context.Context, taskID string, req domain.MoveRequest) (*domain.Task, error)
}

// Columns groups the working copy by status in display order.
func (b *Board) Columns() []Column {
	b.mu.Lock()
	defer b.mu.Unlock()
	cols := make([]Column, len(domain.Statuses))
	for i, s := range domain.Statuses {
		cols[i] = Column{Status: s, Tasks: []domain.Task{}}
	}
	for _, t := range b.tasks {
		if i := statusIndex(t.Status); i >= 0 {
			cols[i].Tasks = append(cols[i].Tasks, t)
		}
	}
	return cols
}

// Tasks returns a copy of the working sequence.
func (b *Board) Tasks() []domain.Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]domain.Task(nil), b.tasks...)
}

func (b *Board) ActiveID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeID
}

// Pending lists unconfirmed moves oldest first.
func (b *Board) Pending() []Move {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Move, 0, len(b.pending))
	for _, m := range b.pending {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (b *Board) indexOf(id string) int {
	for i := range b.tasks {
		if b.tasks[i].ID == id {
			return i
		}
	}
	return -1
}

// originOf captures where id sits: its index, column and column neighbours.
func (b *Board) originOf(id string) origin {
	o := origin{index: b.indexOf(id)}
	o.status = b.tasks[o.index].Status
	var last string
	found := false
	for _, t := range b.tasks {
		if t.Status != o.status {
			continue
		}
		if found {
			o.beforeID = t.ID
			break
		}
		if t.ID == id {
			o.afterID = last
			found = true
			continue
		}
		last = t.ID
	}
	return o
}

// insertSorted places t before the first task of its column with a larger
// order, or after the last task of any earlier-or-equal column.
func (b *Board) insertSorted(t domain.Task) {
	pos := len(b.tasks)
	for i, other := range b.tasks {
		if less(t, other) {
			pos = i
			break
		}
	}
	b.tasks = append(b.tasks, domain.Task{})
	copy(b.tasks[pos+1:], b.tasks[pos:])
	b.tasks[pos] = t
}

func less(a, b domain.Task) bool {
	if sa, sb := statusIndex(a.Status), statusIndex(b.Status); sa != sb {
		return sa < sb
	}
	if a.Order != b.Order {
		return a.Order < b.Order
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func statusIndex(s domain.Status) int {
	for i, st := range domain.Statuses {
		if st == s {
			return i
		}
	}
	return -1
}

// arrayMove moves the element at from to index to, shifting the rest.
func arrayMove(tasks []domain.Task, from, to int) []domain.Task {
	if from == to {
		return tasks
	}
	moved := tasks[from]
	if from < to {
		copy(tasks[from:to], tasks[from+1:to+1])
	} else {
		copy(tasks[to+1:from+1], tasks[to:from])
	}
	tasks[to] = moved
	return tasks
}
