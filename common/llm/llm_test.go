package llm_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"payflow.app/resolver/common/llm"
)

var _ = Describe("New", func() {
	It("requires an API key", func() {
		client, err := llm.New(llm.Config{Provider: llm.ProviderOpenAI})
		Expect(err).To(HaveOccurred())
		Expect(client).To(BeNil())
	})

	It("rejects unknown providers", func() {
		_, err := llm.New(llm.Config{Provider: "cohere", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unsupported LLM provider")))
	})

	It("applies provider default models", func() {
		oa, err := llm.New(llm.Config{APIKey: "k"})
		Expect(err).NotTo(HaveOccurred())
		Expect(oa.Model()).To(Equal("gpt-4o-mini"))

		an, err := llm.New(llm.Config{Provider: llm.ProviderAnthropic, APIKey: "k", Model: "claude-x"})
		Expect(err).NotTo(HaveOccurred())
		Expect(an.Model()).To(Equal("claude-x"))
	})
})

var _ = Describe("OpenAI client", func() {
	var (
		server   *httptest.Server
		captured map[string]any
	)

	BeforeEach(func() {
		captured = nil
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(body, &captured)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{
				"id": "chatcmpl-1",
				"object": "chat.completion",
				"created": 1700000000,
				"model": "gpt-4o-mini",
				"choices": [{"index": 0, "finish_reason": "stop",
					"message": {"role": "assistant", "content": "{\"decision\":\"auto_resolve\"}"}}],
				"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
			}`)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	It("returns the raw content and token usage", func() {
		client, err := llm.New(llm.Config{APIKey: "k", BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		resp, err := client.Complete(context.Background(), llm.Request{
			SystemPrompt: "sys",
			UserPrompt:   "user",
			SchemaName:   "decision",
			Schema:       llm.GenerateSchema[struct{ Decision string }](),
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Content).To(Equal(`{"decision":"auto_resolve"}`))
		Expect(resp.PromptTokens).To(Equal(12))
		Expect(resp.CompletionTokens).To(Equal(7))
		Expect(captured).To(HaveKey("response_format"))
	})

	It("omits the response format without a schema", func() {
		client, err := llm.New(llm.Config{APIKey: "k", BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		_, err = client.Complete(context.Background(), llm.Request{UserPrompt: "user"})
		Expect(err).NotTo(HaveOccurred())
		Expect(captured).NotTo(HaveKey("response_format"))
	})
})

var _ = Describe("Anthropic client", func() {
	It("concatenates text blocks", func() {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{
				"id": "msg_1",
				"type": "message",
				"role": "assistant",
				"model": "claude-x",
				"content": [{"type": "text", "text": "Here is my answer: "}, {"type": "text", "text": "{}"}],
				"stop_reason": "end_turn",
				"usage": {"input_tokens": 3, "output_tokens": 4}
			}`)
		}))
		defer server.Close()

		client, err := llm.New(llm.Config{Provider: llm.ProviderAnthropic, APIKey: "k", BaseURL: server.URL})
		Expect(err).NotTo(HaveOccurred())

		resp, err := client.Complete(context.Background(), llm.Request{SystemPrompt: "sys", UserPrompt: "u"})
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Content).To(Equal("Here is my answer: {}"))
		Expect(resp.FinishReason).To(Equal("stop"))
		Expect(resp.PromptTokens).To(Equal(3))
	})
})

var _ = Describe("Classify", func() {
	It("detects timeouts", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
		defer cancel()
		<-ctx.Done()
		Expect(llm.Classify(fmt.Errorf("call: %w", ctx.Err()))).To(Equal(llm.ErrorKindTimeout))
	})

	It("detects cancellation", func() {
		Expect(llm.Classify(context.Canceled)).To(Equal(llm.ErrorKindCanceled))
	})

	DescribeTable("maps provider status codes",
		func(status int, want llm.ErrorKind) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(status)
				fmt.Fprint(w, `{"error": {"message": "nope", "type": "x", "code": "y"}}`)
			}))
			defer server.Close()

			client, err := llm.New(llm.Config{APIKey: "k", BaseURL: server.URL})
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Complete(context.Background(), llm.Request{UserPrompt: "u"})
			Expect(err).To(HaveOccurred())
			Expect(llm.Classify(err)).To(Equal(want))
		},
		Entry("rate limit", http.StatusTooManyRequests, llm.ErrorKindRateLimited),
		Entry("server error", http.StatusBadGateway, llm.ErrorKindServer),
		Entry("bad request", http.StatusBadRequest, llm.ErrorKindClient),
	)

	It("treats unknown errors as network failures", func() {
		Expect(llm.Classify(fmt.Errorf("dial tcp: connection refused"))).To(Equal(llm.ErrorKindNetwork))
	})
})
