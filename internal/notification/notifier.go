// Package notification sends best-effort Slack alerts for events a
// carrier reviewer should notice promptly: an invoice landing in
// REVIEW_REQUIRED, a dispute being raised. It is a supplemented feature
// with no originating Python module — the original workflow only
// tracked these transitions in the database; this surfaces them
// out-of-band. A delivery failure never blocks the pipeline it
// observes, mirroring internal/audit's never-raises contract.
package notification

import (
	"context"

	"github.com/slack-go/slack"
	"go.uber.org/zap"

	"github.com/mzemanski-eng/claims-ebilling/internal/config"
	"github.com/mzemanski-eng/claims-ebilling/internal/logging"
)

// webhookPoster is the subset of slack-go this package calls, narrowed
// so tests can substitute a fake without reaching the network.
type webhookPoster interface {
	PostWebhookContext(ctx context.Context, url string, msg *slack.WebhookMessage) error
}

type defaultPoster struct{}

func (defaultPoster) PostWebhookContext(ctx context.Context, url string, msg *slack.WebhookMessage) error {
	return slack.PostWebhookContext(ctx, url, msg)
}

// Notifier posts best-effort carrier-facing alerts to a Slack channel
// via an incoming webhook.
type Notifier struct {
	cfg    config.NotificationConfig
	poster webhookPoster
	logger *zap.Logger
}

func NewNotifier(cfg config.NotificationConfig, logger *zap.Logger) *Notifier {
	return &Notifier{cfg: cfg, poster: defaultPoster{}, logger: logger}
}

// notify posts text to the configured webhook. Disabled or unconfigured
// notification is a silent no-op, and a post failure is logged, never
// returned — callers are the pipeline, which must never block on this.
func (n *Notifier) notify(ctx context.Context, text string) {
	if n == nil || !n.cfg.Enabled || n.cfg.SlackWebhookURL == "" {
		return
	}

	msg := &slack.WebhookMessage{Channel: n.cfg.SlackChannel, Text: text}
	if err := n.poster.PostWebhookContext(ctx, n.cfg.SlackWebhookURL, msg); err != nil && n.logger != nil {
		n.logger.Warn("slack notification failed",
			logging.NewFields().Component("notification").Operation("post_webhook").Error(err).Build()...)
	}
}

// InvoiceNeedsReview alerts that an invoice has moved to a status
// requiring carrier attention (REVIEW_REQUIRED, PENDING_CARRIER_REVIEW).
func (n *Notifier) InvoiceNeedsReview(ctx context.Context, invoiceNumber, status string) {
	n.notify(ctx, "Invoice *"+invoiceNumber+"* requires carrier review (status: "+status+").")
}

// InvoiceDisputed alerts that a supplier has disputed a carrier decision.
func (n *Notifier) InvoiceDisputed(ctx context.Context, invoiceNumber string) {
	n.notify(ctx, "Invoice *"+invoiceNumber+"* has been disputed by the supplier and needs carrier review.")
}

// MappingRuleOverridden alerts that a carrier override changed how a
// service description classifies going forward.
func (n *Notifier) MappingRuleOverridden(ctx context.Context, taxonomyCode string, supplierScoped bool) {
	scope := "globally"
	if supplierScoped {
		scope = "for one supplier"
	}
	n.notify(ctx, "A mapping rule was overridden "+scope+"; new classifications will resolve to `"+taxonomyCode+"`.")
}
