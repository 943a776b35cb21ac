package domain

import (
	"fmt"
	"math"
)

// OrderGap is the spacing between consecutive tasks in a column.
const OrderGap = 1000

// MaxOrder is the highest order a task may hold. sort_order is a 32-bit
// column on postgres.
const MaxOrder = math.MaxInt32 - OrderGap

// NextOrder returns the order for a task appended to a partition whose
// highest order is max. nonEmpty is false for an empty partition. fits is
// false when max+OrderGap would pass MaxOrder and the partition must be
// renumbered instead.
func NextOrder(max int, nonEmpty bool) (order int, fits bool) {
	if !nonEmpty {
		return OrderGap, true
	}
	if max > MaxOrder-OrderGap {
		return 0, false
	}
	return max + OrderGap, true
}

// Slot is a task's position inside a (project, status) partition.
type Slot struct {
	ID    string
	Order int
}

// Between returns an order strictly between prev and next. A nil bound is
// open. ok is false when no integer fits and the partition must be renumbered.
func Between(prev, next *int) (int, bool) {
	switch {
	case prev == nil && next == nil:
		return OrderGap, true
	case next == nil:
		return NextOrder(*prev, true)
	case prev == nil:
		if *next < 2 {
			return 0, false
		}
		return *next / 2, true
	default:
		if *next-*prev < 2 {
			return 0, false
		}
		return *prev + (*next-*prev)/2, true
	}
}

// Placement is the outcome of placing a task into a partition.
type Placement struct {
	Order int
	// Renumbered holds the other slots whose order changed. Empty unless the
	// gap around the insertion point collapsed.
	Renumbered []Slot
}

// Place computes the order of taskID when dropped into partition, which must
// be sorted by order and must not contain taskID. afterID and beforeID name
// the neighbours the task should land between; either may be empty.
func Place(partition []Slot, taskID, afterID, beforeID string) (Placement, error) {
	idx, err := insertionIndex(partition, afterID, beforeID)
	if err != nil {
		return Placement{}, err
	}

	var prev, next *int
	if idx > 0 {
		prev = &partition[idx-1].Order
	}
	if idx < len(partition) {
		next = &partition[idx].Order
	}
	if order, ok := Between(prev, next); ok {
		return Placement{Order: order}, nil
	}

	var p Placement
	pos := 0
	for i := 0; i <= len(partition); i++ {
		if i == idx {
			pos++
			p.Order = pos * OrderGap
		}
		if i == len(partition) {
			break
		}
		pos++
		want := pos * OrderGap
		if partition[i].Order != want {
			p.Renumbered = append(p.Renumbered, Slot{ID: partition[i].ID, Order: want})
		}
	}
	return p, nil
}

func insertionIndex(partition []Slot, afterID, beforeID string) (int, error) {
	find := func(id string) int {
		for i, s := range partition {
			if s.ID == id {
				return i
			}
		}
		return -1
	}

	after, before := -1, -1
	if afterID != "" {
		if after = find(afterID); after < 0 {
			return 0, &ValidationError{Field: "afterId", Reason: fmt.Sprintf("%s is not in the target column", afterID)}
		}
	}
	if beforeID != "" {
		if before = find(beforeID); before < 0 {
			return 0, &ValidationError{Field: "beforeId", Reason: fmt.Sprintf("%s is not in the target column", beforeID)}
		}
	}

	switch {
	case after >= 0 && before >= 0:
		if before != after+1 {
			return 0, &ValidationError{Field: "afterId", Reason: "and beforeId are not adjacent"}
		}
		return before, nil
	case after >= 0:
		return after + 1, nil
	case before >= 0:
		return before, nil
	default:
		return len(partition), nil
	}
}
