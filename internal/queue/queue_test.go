package queue_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"payflow.app/resolver/internal/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var _ = Describe("Queue", func() {
	var (
		mr     *miniredis.Miniredis
		client *redis.Client
		clock  *fakeClock
		q      *queue.Queue
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		clock = &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
		q = queue.New(client, queue.Config{
			Name:         queue.IssueQueue,
			Prefix:       "payflow",
			MaxAttempts:  3,
			BackoffBase:  2 * time.Second,
			StallTimeout: time.Minute,
		}, queue.WithClock(clock.Now))
	})

	AfterEach(func() {
		_ = client.Close()
	})

	Describe("Enqueue", func() {
		It("derives the job id from the issue", func() {
			id, enqueued, err := q.Enqueue(ctx, queue.NewIssueTask(7, 3, "req-1"))
			Expect(err).NotTo(HaveOccurred())
			Expect(enqueued).To(BeTrue())
			Expect(id).To(Equal("issue:7"))
		})

		It("deduplicates while the job is waiting", func() {
			_, _, err := q.Enqueue(ctx, queue.NewIssueTask(7, 3, "req-1"))
			Expect(err).NotTo(HaveOccurred())

			id, enqueued, err := q.Enqueue(ctx, queue.NewIssueTask(7, 1, "req-2"))
			Expect(err).NotTo(HaveOccurred())
			Expect(enqueued).To(BeFalse())
			Expect(id).To(Equal("issue:7"))

			stats, err := q.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats.Waiting).To(Equal(int64(1)))
		})

		It("deduplicates while the job is running", func() {
			_, _, _ = q.Enqueue(ctx, queue.NewIssueTask(7, 3, ""))
			job, err := q.Dequeue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(job).NotTo(BeNil())

			_, enqueued, err := q.Enqueue(ctx, queue.NewIssueTask(7, 3, ""))
			Expect(err).NotTo(HaveOccurred())
			Expect(enqueued).To(BeFalse())
		})

		It("accepts the id again once the job completed", func() {
			_, _, _ = q.Enqueue(ctx, queue.NewIssueTask(7, 3, ""))
			job, _ := q.Dequeue(ctx)
			Expect(q.Complete(ctx, job)).To(Succeed())

			_, enqueued, err := q.Enqueue(ctx, queue.NewIssueTask(7, 3, ""))
			Expect(err).NotTo(HaveOccurred())
			Expect(enqueued).To(BeTrue())
		})

		It("rejects tasks without an identity", func() {
			_, _, err := q.Enqueue(ctx, queue.Task{TaskType: queue.TaskTypeProcessIssue})
			Expect(err).To(HaveOccurred())

			_, _, err = q.Enqueue(ctx, queue.Task{TaskType: "unknown"})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Dequeue", func() {
		It("returns nil when nothing is ready", func() {
			job, err := q.Dequeue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(job).To(BeNil())
		})

		It("serves higher priority first and FIFO within a priority", func() {
			_, _, _ = q.Enqueue(ctx, queue.NewIssueTask(1, 4, ""))
			clock.Advance(time.Millisecond)
			_, _, _ = q.Enqueue(ctx, queue.NewIssueTask(2, 3, ""))
			clock.Advance(time.Millisecond)
			_, _, _ = q.Enqueue(ctx, queue.NewIssueTask(3, 1, ""))
			clock.Advance(time.Millisecond)
			_, _, _ = q.Enqueue(ctx, queue.NewIssueTask(4, 3, ""))

			var order []int64
			for i := 0; i < 4; i++ {
				job, err := q.Dequeue(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(job).NotTo(BeNil())
				order = append(order, *job.Payload.IssueID)
			}
			Expect(order).To(Equal([]int64{3, 2, 4, 1}))
		})

		It("round-trips the payload and bookkeeping", func() {
			_, _, _ = q.Enqueue(ctx, queue.NewIssueTask(9, 2, "req-9"))
			job, err := q.Dequeue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.ID).To(Equal("issue:9"))
			Expect(job.TaskType).To(Equal(queue.TaskTypeProcessIssue))
			Expect(job.Payload.RequestID).To(Equal("req-9"))
			Expect(job.Priority).To(Equal(2))
			Expect(job.Attempts).To(Equal(0))
			Expect(job.MaxAttempts).To(Equal(3))
			Expect(job.EnqueuedAt).To(Equal(time.UnixMilli(clock.Now().UnixMilli())))
		})

		It("treats priority outside 1-4 as normal", func() {
			_, _, _ = q.Enqueue(ctx, queue.NewIssueTask(1, 0, ""))
			job, _ := q.Dequeue(ctx)
			Expect(job.Priority).To(Equal(3))
		})
	})

	Describe("Retry", func() {
		It("delays by base times two to the attempt", func() {
			_, _, _ = q.Enqueue(ctx, queue.NewIssueTask(5, 3, ""))

			job, _ := q.Dequeue(ctx)
			dead, err := q.Retry(ctx, job, errors.New("db down"))
			Expect(err).NotTo(HaveOccurred())
			Expect(dead).To(BeFalse())

			clock.Advance(1999 * time.Millisecond)
			job, _ = q.Dequeue(ctx)
			Expect(job).To(BeNil())

			clock.Advance(time.Millisecond)
			job, _ = q.Dequeue(ctx)
			Expect(job).NotTo(BeNil())
			Expect(job.Attempts).To(Equal(1))
			Expect(job.LastError).To(Equal("db down"))

			_, _ = q.Retry(ctx, job, errors.New("db down"))
			clock.Advance(3999 * time.Millisecond)
			job, _ = q.Dequeue(ctx)
			Expect(job).To(BeNil())
			clock.Advance(time.Millisecond)
			job, _ = q.Dequeue(ctx)
			Expect(job).NotTo(BeNil())
			Expect(job.Attempts).To(Equal(2))
		})

		It("dead-letters after the final attempt", func() {
			_, _, _ = q.Enqueue(ctx, queue.NewIssueTask(5, 3, "req-5"))

			var dead bool
			for i := 0; i < 3; i++ {
				clock.Advance(time.Hour)
				job, err := q.Dequeue(ctx)
				Expect(err).NotTo(HaveOccurred())
				Expect(job).NotTo(BeNil())
				dead, err = q.Retry(ctx, job, errors.New("still down"))
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(dead).To(BeTrue())

			stats, err := q.Stats(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(stats).To(Equal(queue.Stats{DeadLetters: 1}))

			letters, err := q.DeadLetters(ctx, 10)
			Expect(err).NotTo(HaveOccurred())
			Expect(letters).To(HaveLen(1))
			Expect(letters[0].JobID).To(Equal("issue:5"))
			Expect(letters[0].TaskType).To(Equal(queue.TaskTypeProcessIssue))
			Expect(letters[0].Attempts).To(Equal(3))
			Expect(letters[0].Error).To(Equal("still down"))
			Expect(letters[0].Payload).To(ContainSubstring(`"requestId":"req-5"`))

			// The id is free again after dead-lettering.
			_, enqueued, err := q.Enqueue(ctx, queue.NewIssueTask(5, 3, ""))
			Expect(err).NotTo(HaveOccurred())
			Expect(enqueued).To(BeTrue())
		})

		It("ignores jobs that no longer exist", func() {
			dead, err := q.Retry(ctx, &queue.Job{ID: "issue:404"}, errors.New("x"))
			Expect(err).NotTo(HaveOccurred())
			Expect(dead).To(BeFalse())
		})
	})

	Describe("Fail", func() {
		It("dead-letters immediately", func() {
			_, _, _ = q.Enqueue(ctx, queue.NewIssueTask(6, 3, ""))
			job, _ := q.Dequeue(ctx)
			Expect(q.Fail(ctx, job, errors.New("issue not found"))).To(Succeed())

			stats, _ := q.Stats(ctx)
			Expect(stats.Active).To(BeZero())
			Expect(stats.DeadLetters).To(Equal(int64(1)))

			letters, _ := q.DeadLetters(ctx, 1)
			Expect(letters[0].Attempts).To(Equal(0))
			Expect(letters[0].Error).To(Equal("issue not found"))
		})
	})

	Describe("ReclaimStalled", func() {
		It("returns jobs past their stall deadline to the wait set", func() {
			_, _, _ = q.Enqueue(ctx, queue.NewIssueTask(8, 3, ""))
			_, _ = q.Dequeue(ctx)

			n, err := q.ReclaimStalled(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(BeZero())

			clock.Advance(time.Minute + time.Millisecond)
			n, err = q.ReclaimStalled(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			job, err := q.Dequeue(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(job.ID).To(Equal("issue:8"))
			Expect(job.Stalls).To(Equal(1))
		})
	})

	It("keeps queues isolated by name", func() {
		other := queue.New(client, queue.Config{Name: queue.MaintenanceQueue, Prefix: "payflow"}, queue.WithClock(clock.Now))
		_, _, err := other.Enqueue(ctx, queue.NewMaintenanceTask("archive"))
		Expect(err).NotTo(HaveOccurred())

		job, err := q.Dequeue(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(job).To(BeNil())

		job, err = other.Dequeue(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(job.ID).To(Equal("maintenance:archive"))
		Expect(job.Payload.Kind).To(Equal("archive"))
	})
})
