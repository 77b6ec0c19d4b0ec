package domain

import "context"

// Classification is the semantic categorizer's verdict for one message.
type Classification struct {
	Category   Category
	Confidence float64
	Reasoning  string
}

// ContextMessage is one turn of recent conversation handed to reply generation.
type ContextMessage struct {
	FromMe bool
	Text   string
}

// ReplyRequest carries everything the AI needs to draft a reply.
type ReplyRequest struct {
	Message string
	Context []ContextMessage
}

// Provider is the AI capability the engine depends on. Both operations are
// network calls bounded by the caller's context deadline.
type Provider interface {
	Name() string
	Classify(ctx context.Context, text string) (Classification, error)
	GenerateReply(ctx context.Context, req ReplyRequest) (string, error)
	Healthy(ctx context.Context) error
}

// Sender transmits a reply to the target chat. The dry-run executor wraps it
// with a logging no-op.
type Sender interface {
	Send(ctx context.Context, chatID, text string) error
}

// Notifier surfaces an out-of-band alert to the owner (emergency flags).
type Notifier interface {
	Notify(ctx context.Context, text string) error
}
