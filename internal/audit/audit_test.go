package audit_test

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"payflow.app/resolver/internal/audit"
)

var _ = Describe("RedisSink", func() {
	var (
		client *redis.Client
		sink   *audit.RedisSink
		ctx    context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		mr := miniredis.RunT(GinkgoT())
		client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
		sink = audit.NewRedisSink(client, "payflow")
	})

	AfterEach(func() {
		_ = client.Close()
	})

	It("writes to the prefixed stream", func() {
		Expect(sink.Stream()).To(Equal("payflow:audit"))
	})

	It("round-trips records newest first", func() {
		at := time.UnixMilli(time.Now().UnixMilli())
		Expect(sink.Emit(ctx, audit.Record{
			Action:    audit.ActionTransition,
			IssueID:   42,
			From:      "pending",
			To:        "processing",
			Actor:     "worker-1",
			Reason:    "picked up by worker",
			RequestID: "req-1",
			At:        at,
		})).To(Succeed())
		Expect(sink.Emit(ctx, audit.Record{
			Action:   audit.ActionDecided,
			IssueID:  42,
			Actor:    "worker-1",
			Metadata: map[string]any{"decision": "retry_payment"},
		})).To(Succeed())

		entries, err := sink.Recent(ctx, 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(HaveLen(2))

		Expect(entries[0].Action).To(Equal(audit.ActionDecided))
		Expect(entries[0].Metadata).To(HaveKeyWithValue("decision", "retry_payment"))
		Expect(entries[0].At.IsZero()).To(BeFalse())

		Expect(entries[1].IssueID).To(Equal(int64(42)))
		Expect(entries[1].From).To(Equal("pending"))
		Expect(entries[1].To).To(Equal("processing"))
		Expect(entries[1].RequestID).To(Equal("req-1"))
		Expect(entries[1].At).To(Equal(at))
	})

	It("returns nothing for an empty stream", func() {
		entries, err := sink.Recent(ctx, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(entries).To(BeEmpty())
	})
})
