package node

import (
	"context"
	"log/slog"

	"github.com/rat-data/ratd-core/internal/domain"
	"github.com/rat-data/ratd-core/internal/messenger"
)

// OrgUserLookup resolves organizations and users for the remote-callable
// command dispatch table. *orgtree.PostgresStore satisfies this.
type OrgUserLookup interface {
	GetOrg(ctx context.Context, orgID string) (domain.Organization, bool, error)
	GetUser(ctx context.Context, orgID, userID string) (domain.User, bool, error)
	VerifyOTP(user domain.User, code string) bool
}

// commandHandler dispatches one remote call against a session. Args are
// positional, matching node_server.py's *call['args'] convention. The
// returned value becomes the call's JSON response; some commands
// (client_connect/client_disconnect) return nil, which still produces a
// {id, response: null} entry in the next /com batch.
type commandHandler func(ctx context.Context, c *Controller, s *Session, args []interface{}) (interface{}, error)

var commandTable = map[string]commandHandler{
	"tls_verify":        handleTLSVerify,
	"otp_verify":        handleOTPVerify,
	"client_connect":    handleClientConnect,
	"client_disconnect": handleClientDisconnect,
	"update_clients":    handleUpdateClients,
}

func argString(args []interface{}, i int) string {
	if i >= len(args) {
		return ""
	}
	s, _ := args[i].(string)
	return s
}

func handleTLSVerify(ctx context.Context, c *Controller, s *Session, args []interface{}) (interface{}, error) {
	orgID, userID := argString(args, 0), argString(args, 1)

	org, ok, err := c.lookup.GetOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Warn("user failed authentication, invalid organization", "session", s.Name, "org_id", orgID)
		return false, nil
	}
	_ = org

	user, ok, err := c.lookup.GetUser(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Warn("user failed authentication, invalid user", "session", s.Name, "user_id", userID)
		return false, nil
	}
	_ = user

	return true, nil
}

func handleOTPVerify(ctx context.Context, c *Controller, s *Session, args []interface{}) (interface{}, error) {
	orgID, userID, otp := argString(args, 0), argString(args, 1), argString(args, 2)

	org, ok, err := c.lookup.GetOrg(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Warn("user failed authentication, invalid organization", "session", s.Name, "org_id", orgID)
		return false, nil
	}
	_ = org

	user, ok, err := c.lookup.GetUser(ctx, orgID, userID)
	if err != nil {
		return nil, err
	}
	if !ok {
		slog.Warn("user failed authentication, invalid user", "session", s.Name, "user_id", userID)
		return false, nil
	}

	if !c.lookup.VerifyOTP(user, otp) {
		slog.Warn("user failed two-step authentication", "session", s.Name, "user", user.Name)
		return false, nil
	}

	return true, nil
}

func handleClientConnect(ctx context.Context, c *Controller, s *Session, args []interface{}) (interface{}, error) {
	orgID, userID := argString(args, 0), argString(args, 1)

	if _, ok, err := c.lookup.GetOrg(ctx, orgID); err != nil {
		return nil, err
	} else if !ok {
		slog.Warn("user failed authentication, invalid organization", "session", s.Name, "org_id", orgID)
		return nil, nil
	}
	if _, ok, err := c.lookup.GetUser(ctx, orgID, userID); err != nil {
		return nil, err
	} else if !ok {
		slog.Warn("user failed authentication, invalid user", "session", s.Name, "user_id", userID)
		return nil, nil
	}

	return nil, nil
}

func handleClientDisconnect(ctx context.Context, c *Controller, s *Session, args []interface{}) (interface{}, error) {
	return handleClientConnect(ctx, c, s, args)
}

func handleUpdateClients(ctx context.Context, c *Controller, s *Session, args []interface{}) (interface{}, error) {
	raw, _ := args[0].([]interface{})
	clients := make([]domain.ClientEntry, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		entry := domain.ClientEntry{}
		if v, ok := m["org_id"].(string); ok {
			entry.OrgID = v
		}
		if v, ok := m["user_id"].(string); ok {
			entry.UserID = v
		}
		if v, ok := m["real_address"].(string); ok {
			entry.RealAddr = v
		}
		if v, ok := m["virtual_address"].(string); ok {
			entry.VirtAddr = v
		}
		clients = append(clients, entry)
	}

	s.mu.Lock()
	previousCount := len(s.Clients)
	running := s.Status
	s.Clients = clients
	s.mu.Unlock()

	if running && previousCount != len(clients) {
		seenOrgs := make(map[string]bool)
		for _, client := range clients {
			if client.OrgID == "" || seenOrgs[client.OrgID] {
				continue
			}
			seenOrgs[client.OrgID] = true
			if err := c.msgr.Publish(ctx, messenger.ChannelUsersUpdated, domain.UsersUpdatedPayload{OrgID: client.OrgID}); err != nil {
				slog.Warn("node: failed to publish users_updated", "org_id", client.OrgID, "error", err)
			}
		}
		if err := c.msgr.Publish(ctx, messenger.ChannelServersUpdated, domain.ServersUpdatedPayload{ServerID: s.ID.String()}); err != nil {
			slog.Warn("node: failed to publish servers_updated", "server_id", s.ID, "error", err)
		}
	}

	return nil, nil
}
