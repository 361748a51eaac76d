// Package settlement carries withdrawn value out of custody. The executor
// calls a Transferer after committing the debit; if the transferer fails
// the debit is reversed, so implementations must only report success once
// the payout is genuinely on its way.
package settlement

import (
	"context"
	"fmt"

	"coffer/internal/amqp"
	"coffer/internal/core"
	"coffer/internal/log"
)

// PayoutPublisher is the slice of the AMQP client the transferer needs.
type PayoutPublisher interface {
	PublishPayout(ctx context.Context, msg *amqp.PayoutMessage) error
}

// LogTransferer acknowledges payouts by logging them. It is the dev and
// test mode; value leaves custody on paper only.
type LogTransferer struct {
	logger *log.Logger
}

func NewLogTransferer(logger *log.Logger) *LogTransferer {
	return &LogTransferer{logger: logger.WithComponent("settlement")}
}

func (t *LogTransferer) Transfer(ctx context.Context, to core.Principal, amount int64) error {
	t.logger.InfoContext(ctx, "Payout settled",
		"account", string(to),
		"amount", amount,
		"mode", "log")
	return nil
}

// AMQPTransferer hands payouts to the payout queue. The broker takes
// over durability once the publish is confirmed; a failed publish means
// the value never left.
type AMQPTransferer struct {
	publisher PayoutPublisher
	logger    *log.Logger
}

func NewAMQPTransferer(publisher PayoutPublisher, logger *log.Logger) *AMQPTransferer {
	return &AMQPTransferer{
		publisher: publisher,
		logger:    logger.WithComponent("settlement"),
	}
}

func (t *AMQPTransferer) Transfer(ctx context.Context, to core.Principal, amount int64) error {
	msg := amqp.NewPayoutMessage(string(to), amount)
	if err := t.publisher.PublishPayout(ctx, msg); err != nil {
		return fmt.Errorf("publish payout: %w", err)
	}
	t.logger.InfoContext(ctx, "Payout settled",
		"account", string(to),
		"amount", amount,
		"mode", "amqp")
	return nil
}

// Ensure interface conformance
var (
	_ core.Transferer = (*LogTransferer)(nil)
	_ core.Transferer = (*AMQPTransferer)(nil)
)
