package aiassess

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/mzemanski-eng/claims-ebilling/internal/domain"
)

type fakeMessagesClient struct {
	response *anthropic.Message
	err      error
	gotCtx   context.Context
}

func (f *fakeMessagesClient) New(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	f.gotCtx = ctx
	return f.response, f.err
}

func textMessage(jsonBody string) *anthropic.Message {
	return &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{{Text: jsonBody}},
	}
}

func newTestAssessor(client messagesClient) *Assessor {
	return &Assessor{
		client:  client,
		model:   anthropic.Model("claude-haiku-4-5"),
		timeout: 5 * time.Second,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "test",
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
		}),
		logger: zap.NewNop(),
	}
}

var _ = Describe("Assessor", func() {
	taxonomyItem := domain.TaxonomyItem{Label: "IME Physical Examination", Description: "In-person physical exam by an IME physician"}

	It("returns nil when no API key is configured", func() {
		a := NewAssessor(Config{}, zap.NewNop())
		Expect(a).To(BeNil())
		Expect(a.AssessAlignment(context.Background(), "anything", taxonomyItem)).To(BeNil())
	})

	It("parses a well-formed ALIGNED response", func() {
		a := newTestAssessor(&fakeMessagesClient{response: textMessage(`{"score":"aligned","rationale":"Matches the contracted exam."}`)})
		result := a.AssessAlignment(context.Background(), "IME physical exam for claimant", taxonomyItem)
		Expect(result).NotTo(BeNil())
		Expect(result.Score).To(Equal("ALIGNED"))
	})

	It("truncates a rationale longer than 500 characters", func() {
		long := make([]byte, 600)
		for i := range long {
			long[i] = 'a'
		}
		body := `{"score":"PARTIAL","rationale":"` + string(long) + `"}`
		a := newTestAssessor(&fakeMessagesClient{response: textMessage(body)})
		result := a.AssessAlignment(context.Background(), "vague description", taxonomyItem)
		Expect(result).NotTo(BeNil())
		Expect(len(result.Rationale)).To(Equal(maxRationaleLen))
	})

	It("returns nil on a non-JSON response", func() {
		a := newTestAssessor(&fakeMessagesClient{response: textMessage("not json at all")})
		result := a.AssessAlignment(context.Background(), "desc", taxonomyItem)
		Expect(result).To(BeNil())
	})

	It("returns nil when the score is not one of the three known values", func() {
		a := newTestAssessor(&fakeMessagesClient{response: textMessage(`{"score":"UNKNOWN","rationale":"x"}`)})
		result := a.AssessAlignment(context.Background(), "desc", taxonomyItem)
		Expect(result).To(BeNil())
	})

	It("returns nil when the API call fails", func() {
		a := newTestAssessor(&fakeMessagesClient{err: errors.New("rate limited")})
		result := a.AssessAlignment(context.Background(), "desc", taxonomyItem)
		Expect(result).To(BeNil())
	})

	It("bounds the call with the configured timeout instead of the caller's bare context", func() {
		client := &fakeMessagesClient{response: textMessage(`{"score":"ALIGNED","rationale":"ok"}`)}
		a := newTestAssessor(client)
		a.AssessAlignment(context.Background(), "desc", taxonomyItem)

		Expect(client.gotCtx).NotTo(Equal(context.Background()))
		deadline, ok := client.gotCtx.Deadline()
		Expect(ok).To(BeTrue())
		Expect(time.Until(deadline)).To(BeNumerically("<=", a.timeout))
	})
})
