package queue

import (
	"container/heap"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/review-scraper/pkg/models"
)

// pqItem is one queued company with its heap bookkeeping
type pqItem struct {
	work  models.WorkItem
	order uint64 // insertion counter, breaks ties between equal Seq values
	index int
}

// companyHeap implements heap.Interface ordered by input sequence
type companyHeap []*pqItem

func (h companyHeap) Len() int { return len(h) }

func (h companyHeap) Less(i, j int) bool {
	if h[i].work.Seq != h[j].work.Seq {
		return h[i].work.Seq < h[j].work.Seq
	}
	return h[i].order < h[j].order
}

func (h companyHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *companyHeap) Push(x any) {
	item := x.(*pqItem)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *companyHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// ThreadSafePriorityQueue hands company identifiers to crawl workers in input
// order. Pop blocks until an item arrives or the queue is closed.
type ThreadSafePriorityQueue struct {
	h      companyHeap
	mu     sync.Mutex
	cond   *sync.Cond
	closed bool
	next   uint64
	seen   map[string]struct{} // Every identifier ever added
	log    *logrus.Entry
}

// NewThreadSafePriorityQueue creates an empty queue
func NewThreadSafePriorityQueue(log *logrus.Entry) *ThreadSafePriorityQueue {
	q := &ThreadSafePriorityQueue{seen: make(map[string]struct{}), log: log}
	q.cond = sync.NewCond(&q.mu)
	heap.Init(&q.h)
	return q
}

// Add enqueues a work item. It reports false when the queue is already closed
// or the identifier was added before, even if it has since been popped.
func (q *ThreadSafePriorityQueue) Add(item models.WorkItem) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		q.log.Warnf("Attempted to add company to closed queue: %s", item.Identifier)
		return false
	}
	if _, dup := q.seen[item.Identifier]; dup {
		q.log.Debugf("Company already queued, ignoring: %s", item.Identifier)
		return false
	}
	q.seen[item.Identifier] = struct{}{}
	heap.Push(&q.h, &pqItem{work: item, order: q.next})
	q.next++
	q.cond.Signal()
	return true
}

// Pop removes the item with the lowest Seq. It returns false once the queue is
// closed and empty.
func (q *ThreadSafePriorityQueue) Pop() (models.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.h) == 0 {
		if q.closed {
			return models.WorkItem{}, false
		}
		q.cond.Wait()
	}
	return heap.Pop(&q.h).(*pqItem).work, true
}

// Drain closes the queue and returns whatever was still waiting, in pop order.
func (q *ThreadSafePriorityQueue) Drain() []models.WorkItem {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closeLocked()
	rest := make([]models.WorkItem, 0, len(q.h))
	for len(q.h) > 0 {
		rest = append(rest, heap.Pop(&q.h).(*pqItem).work)
	}
	return rest
}

// Close signals that no more items will be added
func (q *ThreadSafePriorityQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closeLocked()
}

func (q *ThreadSafePriorityQueue) closeLocked() {
	if !q.closed {
		q.closed = true
		q.cond.Broadcast()
	}
}

// Len returns the number of waiting items
func (q *ThreadSafePriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}
