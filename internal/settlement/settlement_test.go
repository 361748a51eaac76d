package settlement

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"coffer/internal/amqp"
	"coffer/internal/log"
)

type fakePayoutPublisher struct {
	published []*amqp.PayoutMessage
	err       error
}

func (f *fakePayoutPublisher) PublishPayout(_ context.Context, msg *amqp.PayoutMessage) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	return nil
}

func quietLogger() *log.Logger {
	return log.New(log.Config{Handler: slog.NewTextHandler(io.Discard, nil)})
}

func TestLogTransferer(t *testing.T) {
	tr := NewLogTransferer(quietLogger())

	if err := tr.Transfer(context.Background(), "alice", 150); err != nil {
		t.Fatalf("Transfer() error = %v, want nil", err)
	}
}

func TestAMQPTransferer_PublishesPayout(t *testing.T) {
	pub := &fakePayoutPublisher{}
	tr := NewAMQPTransferer(pub, quietLogger())

	if err := tr.Transfer(context.Background(), "alice", 150); err != nil {
		t.Fatalf("Transfer() error = %v, want nil", err)
	}

	if len(pub.published) != 1 {
		t.Fatalf("published %d messages, want 1", len(pub.published))
	}
	msg := pub.published[0]
	if msg.Account != "alice" {
		t.Errorf("Account = %q, want %q", msg.Account, "alice")
	}
	if msg.Amount != 150 {
		t.Errorf("Amount = %d, want %d", msg.Amount, 150)
	}
	if msg.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}
}

func TestAMQPTransferer_PublishFailure(t *testing.T) {
	brokerDown := errors.New("connection refused")
	pub := &fakePayoutPublisher{err: brokerDown}
	tr := NewAMQPTransferer(pub, quietLogger())

	err := tr.Transfer(context.Background(), "bob", 42)
	if err == nil {
		t.Fatal("Transfer() should fail when publish fails")
	}
	if !errors.Is(err, brokerDown) {
		t.Errorf("Transfer() error = %v, want wrapped %v", err, brokerDown)
	}
}
