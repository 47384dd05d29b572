package ports

import (
	"context"

	"github.com/roomsync/chat-client/internal/core/domain"
)

// ChangeFeed is the change-feed API of the backend collaborator.
type ChangeFeed interface {
	// Subscribe returns once the subscription is live: any change committed
	// after Subscribe returns is delivered.
	Subscribe(ctx context.Context, query domain.FeedQuery) (FeedSubscription, error)
}

// FeedSubscription is a live change-feed subscription. Events is closed once
// the subscription ends. Close is safe to call more than once.
type FeedSubscription interface {
	Events() <-chan domain.ChangeEvent
	Close() error
}

// Dispatcher runs tasks asynchronously. Tasks sharing a key run one at a time
// in submission order.
type Dispatcher interface {
	Dispatch(key string, task func(ctx context.Context))
}
