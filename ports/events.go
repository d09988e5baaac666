package ports

import "context"

// EventPublisher publishes session and transfer events to other processes
type EventPublisher interface {
	PublishAuthenticated(ctx context.Context, email, address string) error
	PublishLogout(ctx context.Context, address string) error
	PublishTransaction(ctx context.Context, from, to, amountEth, hash string) error
}
