package notification

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/slack-go/slack"

	"github.com/mzemanski-eng/claims-ebilling/internal/config"
)

type fakePoster struct {
	posted []*slack.WebhookMessage
	err    error
}

func (f *fakePoster) PostWebhookContext(ctx context.Context, url string, msg *slack.WebhookMessage) error {
	if f.err != nil {
		return f.err
	}
	f.posted = append(f.posted, msg)
	return nil
}

var _ = Describe("Notifier", func() {
	It("does nothing when notification is disabled", func() {
		poster := &fakePoster{}
		n := &Notifier{cfg: config.NotificationConfig{Enabled: false, SlackWebhookURL: "https://hooks.slack.test/x"}, poster: poster}
		n.InvoiceNeedsReview(context.Background(), "INV-1", "REVIEW_REQUIRED")
		Expect(poster.posted).To(BeEmpty())
	})

	It("does nothing when no webhook url is configured", func() {
		poster := &fakePoster{}
		n := &Notifier{cfg: config.NotificationConfig{Enabled: true}, poster: poster}
		n.InvoiceNeedsReview(context.Background(), "INV-1", "REVIEW_REQUIRED")
		Expect(poster.posted).To(BeEmpty())
	})

	It("posts an invoice-needs-review message naming the invoice and status", func() {
		poster := &fakePoster{}
		n := &Notifier{cfg: config.NotificationConfig{Enabled: true, SlackWebhookURL: "https://hooks.slack.test/x", SlackChannel: "#claims"}, poster: poster}
		n.InvoiceNeedsReview(context.Background(), "INV-42", "PENDING_CARRIER_REVIEW")

		Expect(poster.posted).To(HaveLen(1))
		Expect(poster.posted[0].Text).To(ContainSubstring("INV-42"))
		Expect(poster.posted[0].Text).To(ContainSubstring("PENDING_CARRIER_REVIEW"))
		Expect(poster.posted[0].Channel).To(Equal("#claims"))
	})

	It("swallows a webhook delivery failure", func() {
		poster := &fakePoster{err: errors.New("503 from slack")}
		n := &Notifier{cfg: config.NotificationConfig{Enabled: true, SlackWebhookURL: "https://hooks.slack.test/x"}, poster: poster}
		Expect(func() {
			n.InvoiceDisputed(context.Background(), "INV-7")
		}).NotTo(Panic())
	})
})
