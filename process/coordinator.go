package process

import "context"

// Coordinator is the small capability spec.md §6 says the core consumes
// from the message bus, without assuming any wire format. The
// coordinator package provides an in-process implementation; tests can
// supply a stub.
type Coordinator interface {
	AddRPCSubscriber(id string, handler func(ctx context.Context, msg any) (any, error)) error
	RemoveRPCSubscriber(id string) error
	AddBroadcastSubscriber(subject string, handler func(ctx context.Context, msg any)) error
	RemoveBroadcastSubscriber(subject string) error
	BroadcastSend(ctx context.Context, subject string, body any) error
}
