package lock_test

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"payflow.app/resolver/internal/lock"
)

var _ = Describe("RedisLock", func() {
	var (
		mr     *miniredis.Miniredis
		client *redis.Client
		locker *lock.RedisLock
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr = miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		locker = lock.NewRedisLock(client, "payflow")
	})

	AfterEach(func() {
		_ = client.Close()
	})

	It("uses the issue lock key", func() {
		Expect(locker.Key(42)).To(Equal("payflow:lock:issue:42"))
	})

	It("grants the lease to one owner at a time", func() {
		ok, err := locker.Acquire(ctx, 1, "w1:a", 30*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		ok, err = locker.Acquire(ctx, 1, "w2:b", 30*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())

		owner, err := locker.Owner(ctx, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(owner).To(Equal("w1:a"))
		Expect(mr.TTL(locker.Key(1))).To(Equal(30 * time.Second))
	})

	It("lets different issues lock independently", func() {
		ok1, _ := locker.Acquire(ctx, 1, "w1:a", time.Second)
		ok2, _ := locker.Acquire(ctx, 2, "w1:a", time.Second)
		Expect(ok1).To(BeTrue())
		Expect(ok2).To(BeTrue())
	})

	It("releases only for the owning token", func() {
		_, err := locker.Acquire(ctx, 1, "w1:a", 30*time.Second)
		Expect(err).NotTo(HaveOccurred())

		released, err := locker.Release(ctx, 1, "w2:b")
		Expect(err).NotTo(HaveOccurred())
		Expect(released).To(BeFalse())
		Expect(mr.Exists(locker.Key(1))).To(BeTrue())

		released, err = locker.Release(ctx, 1, "w1:a")
		Expect(err).NotTo(HaveOccurred())
		Expect(released).To(BeTrue())
		Expect(mr.Exists(locker.Key(1))).To(BeFalse())
	})

	It("expires after the TTL so another worker can take over", func() {
		_, _ = locker.Acquire(ctx, 1, "w1:a", 30*time.Second)
		mr.FastForward(31 * time.Second)

		ok, err := locker.Acquire(ctx, 1, "w2:b", 30*time.Second)
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())

		// the stale holder must not delete the new lease
		released, err := locker.Release(ctx, 1, "w1:a")
		Expect(err).NotTo(HaveOccurred())
		Expect(released).To(BeFalse())
		owner, _ := locker.Owner(ctx, 1)
		Expect(owner).To(Equal("w2:b"))
	})

	It("rejects a non-positive TTL", func() {
		_, err := locker.Acquire(ctx, 1, "w1:a", 0)
		Expect(err).To(HaveOccurred())
	})

	It("admits exactly one of many concurrent contenders", func() {
		var winners atomic.Int32
		var wg sync.WaitGroup
		for i := range 20 {
			wg.Add(1)
			go func(i int) {
				defer GinkgoRecover()
				defer wg.Done()
				ok, err := locker.Acquire(ctx, 9, lock.NewOwnerToken("w"+string(rune('a'+i))), 30*time.Second)
				Expect(err).NotTo(HaveOccurred())
				if ok {
					winners.Add(1)
				}
			}(i)
		}
		wg.Wait()
		Expect(winners.Load()).To(Equal(int32(1)))
	})

	It("builds owner tokens from the worker id", func() {
		a := lock.NewOwnerToken("worker-1")
		b := lock.NewOwnerToken("worker-1")
		Expect(strings.HasPrefix(a, "worker-1:")).To(BeTrue())
		Expect(a).NotTo(Equal(b))
	})
})
