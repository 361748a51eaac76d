package amqp

import (
	"encoding/json"
	"time"
)

// OperationMessage announces one journaled ledger operation. The export
// worker treats the sequence as authoritative and re-reads the journal
// row before mirroring it, the remaining fields are for consumers that
// only need the event.
type OperationMessage struct {
	Sequence  uint64    `json:"sequence"`
	Account   string    `json:"account"`
	Kind      string    `json:"kind"`
	Amount    int64     `json:"amount"`
	Balance   int64     `json:"balance"`
	Timestamp time.Time `json:"timestamp"`
}

// NewOperationMessage creates an operation message stamped with now.
func NewOperationMessage(seq uint64, account, kind string, amount, balance int64) *OperationMessage {
	return &OperationMessage{
		Sequence:  seq,
		Account:   account,
		Kind:      kind,
		Amount:    amount,
		Balance:   balance,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *OperationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// OperationMessageFromJSON creates a message from JSON bytes
func OperationMessageFromJSON(data []byte) (*OperationMessage, error) {
	var msg OperationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// PayoutMessage instructs the settlement rail to move value out of
// custody to the given account.
type PayoutMessage struct {
	Account   string    `json:"account"`
	Amount    int64     `json:"amount"`
	Timestamp time.Time `json:"timestamp"`
}

// NewPayoutMessage creates a payout instruction stamped with now.
func NewPayoutMessage(account string, amount int64) *PayoutMessage {
	return &PayoutMessage{
		Account:   account,
		Amount:    amount,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *PayoutMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// PayoutMessageFromJSON creates a message from JSON bytes
func PayoutMessageFromJSON(data []byte) (*PayoutMessage, error) {
	var msg PayoutMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
