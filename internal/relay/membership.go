package relay

import (
	"context"

	"relaybot/pkg/logx"
)

// MembershipChange is a join or leave seen by the transport.
type MembershipChange struct {
	// ActorIsBot is true when the member that changed is this bot.
	ActorIsBot      bool
	Joined          bool
	Destination     DestinationID
	OriginIsChannel bool
}

// Tracker keeps the Registry in step with the bot's own memberships.
type Tracker struct {
	registry *Registry
	queue    *FailureQueue
	log      logx.Logger
}

func NewTracker(registry *Registry, queue *FailureQueue, log logx.Logger) *Tracker {
	return &Tracker{registry: registry, queue: queue, log: log.With(logx.String("comp", "relay.membership"))}
}

// Handle applies one membership change. Channels are ignored and so are
// members other than the bot. On removal the registry entry goes first and
// the queue purge second.
func (t *Tracker) Handle(ctx context.Context, ch MembershipChange) {
	if ch.OriginIsChannel || !ch.ActorIsBot {
		return
	}
	dest := Normalize(int64(ch.Destination))
	if ch.Joined {
		if t.registry.Add(ctx, dest) {
			t.log.Info("bot added to group", logx.Int64("dest", dest.Int64()))
		}
		return
	}

	t.registry.Remove(ctx, dest)
	purged := t.queue.Purge(dest)
	t.log.Info("bot removed from group", logx.Int64("dest", dest.Int64()), logx.Int("purged", purged))
}
