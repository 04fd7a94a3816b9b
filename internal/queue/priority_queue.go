package queue

import (
	"container/heap"
	"sync"
	"time"

	"github.com/vhvplatform/go-smart-notification-service/internal/domain"
)

// DeliveryJob is one unit of drain work: a single row, or every due row of a bundle
type DeliveryJob struct {
	UserID      string
	BundleID    string
	Priority    domain.Priority
	ScheduledAt time.Time
	Rows        []*domain.QueuedNotification
	Index       int // Index in the heap
}

// deliveryJobHeap implements heap.Interface
type deliveryJobHeap []*DeliveryJob

func (h deliveryJobHeap) Len() int { return len(h) }

func (h deliveryJobHeap) Less(i, j int) bool {
	// Higher priority first, then the longest waiting
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].ScheduledAt.Before(h[j].ScheduledAt)
}

func (h deliveryJobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].Index = i
	h[j].Index = j
}

func (h *deliveryJobHeap) Push(x interface{}) {
	n := len(*h)
	job := x.(*DeliveryJob)
	job.Index = n
	*h = append(*h, job)
}

func (h *deliveryJobHeap) Pop() interface{} {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil // Avoid memory leak
	job.Index = -1
	*h = old[0 : n-1]
	return job
}

// PriorityQueue is a thread-safe priority queue of delivery jobs
type PriorityQueue struct {
	jobs deliveryJobHeap
	mu   sync.Mutex
	cond *sync.Cond
}

// NewPriorityQueue creates a new priority queue
func NewPriorityQueue() *PriorityQueue {
	pq := &PriorityQueue{
		jobs: make(deliveryJobHeap, 0),
	}
	pq.cond = sync.NewCond(&pq.mu)
	heap.Init(&pq.jobs)
	return pq
}

// Push adds a job to the queue
func (pq *PriorityQueue) Push(job *DeliveryJob) {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	heap.Push(&pq.jobs, job)
	pq.cond.Signal()
}

// Pop removes and returns the most urgent job, blocking while the queue is empty
func (pq *PriorityQueue) Pop() *DeliveryJob {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	for pq.jobs.Len() == 0 {
		pq.cond.Wait()
	}

	return heap.Pop(&pq.jobs).(*DeliveryJob)
}

// TryPop pops without blocking and returns nil when empty
func (pq *PriorityQueue) TryPop() *DeliveryJob {
	pq.mu.Lock()
	defer pq.mu.Unlock()

	if pq.jobs.Len() == 0 {
		return nil
	}

	return heap.Pop(&pq.jobs).(*DeliveryJob)
}

// Len returns the number of jobs in the queue
func (pq *PriorityQueue) Len() int {
	pq.mu.Lock()
	defer pq.mu.Unlock()
	return pq.jobs.Len()
}

// IsEmpty returns true if the queue is empty
func (pq *PriorityQueue) IsEmpty() bool {
	return pq.Len() == 0
}

// groupJobs turns due rows into jobs. Rows sharing a bundle id become one
// job carrying the bundle's highest priority and earliest schedule.
func groupJobs(rows []*domain.QueuedNotification) []*DeliveryJob {
	var jobs []*DeliveryJob
	bundles := make(map[string]*DeliveryJob)

	for _, row := range rows {
		if row.BundleID == "" {
			jobs = append(jobs, &DeliveryJob{
				UserID:      row.UserID,
				Priority:    row.Priority,
				ScheduledAt: row.ScheduledAt,
				Rows:        []*domain.QueuedNotification{row},
			})
			continue
		}

		key := row.UserID + "|" + row.BundleID
		job, ok := bundles[key]
		if !ok {
			job = &DeliveryJob{
				UserID:      row.UserID,
				BundleID:    row.BundleID,
				Priority:    row.Priority,
				ScheduledAt: row.ScheduledAt,
			}
			bundles[key] = job
			jobs = append(jobs, job)
		}
		job.Rows = append(job.Rows, row)
		if row.Priority > job.Priority {
			job.Priority = row.Priority
		}
		if row.ScheduledAt.Before(job.ScheduledAt) {
			job.ScheduledAt = row.ScheduledAt
		}
	}

	return jobs
}
