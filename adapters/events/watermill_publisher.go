package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/layer-3/otpwallet/ports"
)

const (
	TopicAuthenticated = "otpwallet.session.authenticated"
	TopicLogout        = "otpwallet.session.logged_out"
	TopicTransaction   = "otpwallet.transaction.submitted"
)

// SessionEvent is published when a session is created or destroyed
type SessionEvent struct {
	Email      string    `json:"email,omitempty"`
	Address    string    `json:"address"`
	OccurredAt time.Time `json:"occurred_at"`
}

// TransactionEvent is published after a transfer was accepted by the node
type TransactionEvent struct {
	From       string    `json:"from"`
	To         string    `json:"to"`
	AmountEth  string    `json:"amount_eth"`
	Hash       string    `json:"hash"`
	OccurredAt time.Time `json:"occurred_at"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) *WatermillPublisher {
	return &WatermillPublisher{publisher: publisher}
}

var _ ports.EventPublisher = (*WatermillPublisher)(nil)

// PublishAuthenticated publishes a session creation event
func (p *WatermillPublisher) PublishAuthenticated(ctx context.Context, email, address string) error {
	return p.publish(ctx, TopicAuthenticated, SessionEvent{
		Email:      email,
		Address:    address,
		OccurredAt: time.Now().UTC(),
	})
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, address string) error {
	return p.publish(ctx, TopicLogout, SessionEvent{
		Address:    address,
		OccurredAt: time.Now().UTC(),
	})
}

// PublishTransaction publishes a submitted transfer
func (p *WatermillPublisher) PublishTransaction(ctx context.Context, from, to, amountEth, hash string) error {
	return p.publish(ctx, TopicTransaction, TransactionEvent{
		From:       from,
		To:         to,
		AmountEth:  amountEth,
		Hash:       hash,
		OccurredAt: time.Now().UTC(),
	})
}

func (p *WatermillPublisher) publish(ctx context.Context, topic string, event interface{}) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// NopPublisher drops every event
type NopPublisher struct{}

var _ ports.EventPublisher = NopPublisher{}

func (NopPublisher) PublishAuthenticated(context.Context, string, string) error { return nil }
func (NopPublisher) PublishLogout(context.Context, string) error                { return nil }
func (NopPublisher) PublishTransaction(context.Context, string, string, string, string) error {
	return nil
}
