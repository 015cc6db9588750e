package install

import "sync"

// Queue is an insertion-ordered set of tasks keyed by dependency key.
type Queue struct {
	mu    sync.Mutex
	order []string
	tasks map[string]Task
}

func NewQueue() *Queue {
	return &Queue{tasks: make(map[string]Task)}
}

// Add inserts task unless key is already queued. It reports whether it inserted.
func (q *Queue) Add(key string, task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.tasks[key]; exists {
		return false
	}
	task.Key = key
	q.tasks[key] = task
	q.order = append(q.order, key)
	return true
}

// Peek returns the oldest queued task without removing it.
func (q *Queue) Peek() (string, Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.order) == 0 {
		return "", Task{}, false
	}
	key := q.order[0]
	return key, q.tasks[key], true
}

// Remove deletes key from the queue.
func (q *Queue) Remove(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.tasks[key]; !ok {
		return false
	}
	delete(q.tasks, key)
	for i, k := range q.order {
		if k == key {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether key is queued.
func (q *Queue) Contains(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.tasks[key]
	return ok
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.order)
}

// Keys returns queued keys in processing order.
func (q *Queue) Keys() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, len(q.order))
	copy(out, q.order)
	return out
}
