package node

import (
	"context"
	"log/slog"

	"github.com/rat-data/ratd-core/internal/domain"
	"github.com/rat-data/ratd-core/internal/messenger"
)

// runWorker is the communication worker (long-poll loop) described in
// spec.md §4.2. It owns Status=false on exit and is the only writer of
// that transition besides a successful Stop().
func (c *Controller) runWorker(ctx context.Context, session *Session) {
	responses := []comResponse{}
	triggerEvent := false

loop:
	for {
		if session.interrupted() || c.processInterrupt.Load() {
			break
		}

		select {
		case <-ctx.Done():
			break loop
		default:
		}

		resp, err := c.transport.Com(ctx, session.NodeIP, session.NodePort, session.ID.String(), session.NodeKey, responses)
		if err != nil {
			slog.Error("lost connection with node server", "session", session.Name, "error", err)
			triggerEvent = true
			break
		}

		switch {
		case resp.statusCode == 200:
			calls, err := decodeCalls(resp.body)
			if err != nil {
				slog.Error("node server com thread call failed", "session", session.Name, "error", err)
				responses = nil
				continue
			}

			responses = make([]comResponse, 0, len(calls))
			for _, call := range calls {
				result, err := c.dispatch(ctx, session, call)
				if err != nil {
					slog.Error("node server com thread call failed",
						"session", session.Name, "call_id", call.ID, "call_command", call.Command, "error", err)
					continue
				}
				responses = append(responses, comResponse{ID: call.ID, Response: result})
			}

		case resp.statusCode == 410:
			break loop

		default:
			slog.Error("error with node server connection occurred",
				"session", session.Name, "status_code", resp.statusCode, "reason", string(resp.body))
			triggerEvent = true
			break loop
		}
	}

	session.setStatus(false)

	if triggerEvent {
		if err := c.msgr.Publish(context.Background(), messenger.ChannelServersUpdated, domain.ServersUpdatedPayload{ServerID: session.ID.String()}); err != nil {
			slog.Warn("node: failed to publish servers_updated", "server_id", session.ID, "error", err)
		}
		slog.Info("stopped server", "session", session.Name)
	}
}

// dispatch looks up call.Command in the command table and invokes it.
// Unknown commands are rejected with a logged error, per DESIGN NOTES §9
// (no reflection over method names).
func (c *Controller) dispatch(ctx context.Context, session *Session, call comCall) (interface{}, error) {
	handler, ok := commandTable[call.Command]
	if !ok {
		return nil, errUnknownCommand(call.Command)
	}
	return handler(ctx, c, session, call.Args)
}
