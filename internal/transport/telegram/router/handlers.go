package router

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"relaybot/internal/relay"
	"relaybot/pkg/logx"
)

// Rules binds the built-in commands to their authorization rules. ping and
// help are not gated.
func Rules(sources []int64) map[string]relay.Rule {
	official := relay.ChannelAllowlist(sources...)
	return map[string]relay.Rule{
		"channelid":    relay.AnyChannel(),
		"start":        relay.AnyChannel(),
		"listgroups":   official,
		"listchannels": official,
		"resetgroup":   official,
		"pending":      official,
		"register":     relay.NonChannelOnly(),
		"unregister":   relay.NonChannelOnly(),
	}
}

// Builtins returns the relay command set.
func Builtins(d Deps) []Command {
	return []Command{
		{
			Name:        "channelid",
			Description: "Show this channel's id",
			Handle: func(ctx context.Context, req *Request) error {
				id := relay.Normalize(req.Chat.ID)
				req.Logger.Info("reported channel id", logx.Int64("channel_id", id.Int64()))
				return req.Reply(ctx, "The ID of this channel is: "+id.String())
			},
		},
		{
			Name:        "start",
			Description: "Welcome message",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, fmt.Sprintf("Welcome! Use `/channelid` in any of the official channels to get its ID. [%s]", d.Version))
			},
		},
		{
			Name:        "listgroups",
			Description: "List groups in the broadcast list",
			Handle: func(ctx context.Context, req *Request) error {
				ids := d.Registry.List()
				req.Logger.Info("listed groups", logx.Int("count", len(ids)))
				if len(ids) == 0 {
					return req.Reply(ctx, "No groups in broadcast list.")
				}
				return req.Reply(ctx, "Groups in broadcast list:\n"+joinIDs(ids))
			},
		},
		{
			Name:        "listchannels",
			Description: "List official broadcast channels",
			Handle: func(ctx context.Context, req *Request) error {
				lines := make([]string, 0, len(d.Sources))
				for _, id := range d.Sources {
					lines = append(lines, strconv.FormatInt(id, 10))
				}
				return req.Reply(ctx, "Official broadcast channels:\n"+strings.Join(lines, "\n"))
			},
		},
		{
			Name:        "resetgroup",
			Description: "Unregister all groups",
			Handle: func(ctx context.Context, req *Request) error {
				removed := d.Registry.Clear(ctx)
				purged := 0
				for _, id := range removed {
					purged += d.Queue.Purge(id)
				}
				req.Logger.Info("unregistered all groups", logx.Int("removed", len(removed)), logx.Int("purged", purged))
				return req.Reply(ctx, "All groups have been unregistered from broadcasts.")
			},
		},
		{
			Name:        "pending",
			Description: "Show deliveries waiting for retry",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, pendingSummary(d.Queue.Snapshot()))
			},
		},
		{
			Name:        "register",
			Description: "Register this group for broadcasts",
			Handle: func(ctx context.Context, req *Request) error {
				id := relay.Normalize(req.Chat.ID)
				if !d.Registry.Add(ctx, id) {
					req.Logger.Info("group already registered", logx.Int64("dest", id.Int64()))
					return req.Reply(ctx, "This group is already registered for broadcasts.")
				}
				req.Logger.Info("group registered", logx.Int64("dest", id.Int64()))
				return req.Reply(ctx, "This group has been registered for broadcasts.")
			},
		},
		{
			Name:        "unregister",
			Description: "Unregister this group from broadcasts",
			Handle: func(ctx context.Context, req *Request) error {
				id := relay.Normalize(req.Chat.ID)
				if !d.Registry.Remove(ctx, id) {
					req.Logger.Info("group not registered", logx.Int64("dest", id.Int64()))
					return req.Reply(ctx, "This group is not registered for broadcasts.")
				}
				purged := d.Queue.Purge(id)
				req.Logger.Info("group unregistered", logx.Int64("dest", id.Int64()), logx.Int("purged", purged))
				return req.Reply(ctx, "This group has been unregistered from broadcasts.")
			},
		},
		{
			Name:        "ping",
			Description: "Check the bot is alive",
			Handle: func(ctx context.Context, req *Request) error {
				return req.Reply(ctx, fmt.Sprintf("Pong! [%s]", d.Version))
			},
		},
	}
}

func joinIDs(ids []relay.DestinationID) string {
	var b strings.Builder
	for i, id := range ids {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(id.String())
	}
	return b.String()
}

func pendingSummary(items []relay.PendingDelivery) string {
	if len(items) == 0 {
		return "No deliveries pending retry."
	}
	perDest := map[relay.DestinationID]int{}
	order := []relay.DestinationID{}
	for _, p := range items {
		if _, seen := perDest[p.Destination]; !seen {
			order = append(order, p.Destination)
		}
		perDest[p.Destination]++
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Deliveries pending retry: %d", len(items))
	for _, id := range order {
		fmt.Fprintf(&b, "\n%s: %d", id, perDest[id])
	}
	return b.String()
}
