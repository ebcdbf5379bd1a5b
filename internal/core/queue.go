package core

import "slices"

// Queue is an ordered list of item identifiers with a cursor.
type Queue struct {
	Items        []string `json:"items"`
	CurrentIndex int      `json:"current_index"`
}

// NewQueue positions a queue on itemID. CurrentIndex is -1 when the item
// is not queued.
func NewQueue(items []string, itemID string) *Queue {
	return &Queue{
		Items:        items,
		CurrentIndex: slices.Index(items, itemID),
	}
}

// Current returns the current item, or "" if there is none.
func (q *Queue) Current() string {
	if q == nil || q.CurrentIndex < 0 || q.CurrentIndex >= len(q.Items) {
		return ""
	}
	return q.Items[q.CurrentIndex]
}

// Neighbors returns the items before and after the current one.
func (q *Queue) Neighbors() (prev, next string) {
	if q == nil || q.CurrentIndex < 0 || q.CurrentIndex >= len(q.Items) {
		return "", ""
	}
	if q.CurrentIndex > 0 {
		prev = q.Items[q.CurrentIndex-1]
	}
	if q.CurrentIndex < len(q.Items)-1 {
		next = q.Items[q.CurrentIndex+1]
	}
	return prev, next
}

// Upcoming returns items after the current position.
func (q *Queue) Upcoming() []string {
	if q == nil || q.CurrentIndex < 0 || q.CurrentIndex >= len(q.Items)-1 {
		return nil
	}
	return q.Items[q.CurrentIndex+1:]
}

// Len returns the total number of items in the queue.
func (q *Queue) Len() int {
	if q == nil {
		return 0
	}
	return len(q.Items)
}

// IsEmpty returns true if the queue has no items.
func (q *Queue) IsEmpty() bool {
	return q.Len() == 0
}
