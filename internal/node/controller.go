package node

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/rat-data/ratd-core/internal/domain"
	"github.com/rat-data/ratd-core/internal/messenger"
)

// ConfigRenderer produces the OpenVPN server configuration for a server.
// Rendering the template itself is out of scope (spec.md §1 names it an
// external collaborator) — Controller only needs the rendered text.
type ConfigRenderer interface {
	RenderOvpnConf(ctx context.Context, server domain.Server) (string, error)
}

// Controller drives the start/command-exchange/stop lifecycle of node
// sessions (spec.md §4.2). One Controller serves every session owned by
// this replica; each Session gets its own long-poll worker goroutine.
type Controller struct {
	transport *Transport
	lookup    OrgUserLookup
	msgr      messenger.Messenger
	renderer  ConfigRenderer
	serverVer string

	processInterrupt atomic.Bool

	mu       sync.Mutex
	sessions map[string]*Session // server id -> session
	workers  map[string]context.CancelFunc
}

// NewController builds a Controller. serverVer is sent as server_ver in
// the start handshake (NODE_SERVER_VER).
func NewController(transport *Transport, lookup OrgUserLookup, msgr messenger.Messenger, renderer ConfigRenderer, serverVer string) *Controller {
	return &Controller{
		transport: transport,
		lookup:    lookup,
		msgr:      msgr,
		renderer:  renderer,
		serverVer: serverVer,
		sessions:  make(map[string]*Session),
		workers:   make(map[string]context.CancelFunc),
	}
}

// Interrupt sets the process-wide cooperative stop flag, observed by every
// session's communication worker on its next iteration.
func (c *Controller) Interrupt() {
	c.processInterrupt.Store(true)
}

// RunningCount returns how many sessions this Controller currently
// reports as running.
func (c *Controller) RunningCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, s := range c.sessions {
		if s.IsRunning() {
			n++
		}
	}
	return n
}

// Snapshot returns a point-in-time copy of server's session state, for API
// responses that must not leak the live session's mutex.
func (c *Controller) Snapshot(server domain.Server) domain.NodeSession {
	return c.Session(server).Snapshot()
}

// Session returns the session for a server id, creating one if absent.
func (c *Controller) Session(server domain.Server) *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[server.ID.String()]
	if !ok {
		s = NewSession(server)
		c.sessions[server.ID.String()] = s
	}
	return s
}

// Start implements spec.md §4.2's start(silent). Idempotent on a running
// session.
func (c *Controller) Start(ctx context.Context, server domain.Server, silent bool) error {
	session := c.Session(server)

	if session.IsRunning() {
		return nil
	}

	if len(server.OrgIDs) == 0 {
		return errMissingOrg(server.ID.String())
	}

	ovpnConf, err := c.renderer.RenderOvpnConf(ctx, server)
	if err != nil {
		return fmt.Errorf("render ovpn conf: %w", err)
	}

	resp, err := c.transport.Start(ctx, server.NodeIP, server.NodePort, server.ID.String(), server.NodeKey, StartRequest{
		Network:       server.Network,
		LocalNetworks: nil,
		OvpnConf:      ovpnConf,
		ServerVer:     c.serverVer,
	})
	if err != nil {
		return errConnection(server.ID.String(), err)
	}

	switch {
	case resp.statusCode == 401:
		return errInvalidAPIKey(server.ID.String(), resp.statusCode, string(resp.body))
	case resp.statusCode < 200 || resp.statusCode >= 300:
		return errStart(server.ID.String(), resp.statusCode, string(resp.body))
	}

	session.setInterrupt(false)
	session.stampStartTime()
	session.setStatus(true)

	c.spawnWorker(session)

	if !silent {
		c.publishServersUpdated(ctx, server.ID.String())
		slog.Info("started server", "session", session.Name)
	}
	return nil
}

// Stop implements spec.md §4.2's stop(silent). Idempotent on a stopped
// session.
func (c *Controller) Stop(ctx context.Context, server domain.Server, silent bool) error {
	session := c.Session(server)

	if !session.IsRunning() {
		return nil
	}

	session.setInterrupt(true)

	resp, err := c.transport.Stop(ctx, server.NodeIP, server.NodePort, server.ID.String(), server.NodeKey)
	if err != nil {
		return errConnection(server.ID.String(), err)
	}
	if resp.statusCode < 200 || resp.statusCode >= 300 {
		return errStop(server.ID.String(), resp.statusCode, string(resp.body))
	}

	session.setStatus(false)

	if !silent {
		c.publishServersUpdated(ctx, server.ID.String())
		slog.Info("stopped server", "session", session.Name)
	}
	return nil
}

// ForceStop is behaviorally identical to Stop in this core — retained as a
// distinct method per spec.md's Open Question (c), a hook for a future
// divergence point.
func (c *Controller) ForceStop(ctx context.Context, server domain.Server, silent bool) error {
	return c.Stop(ctx, server, silent)
}

func (c *Controller) publishServersUpdated(ctx context.Context, serverID string) {
	if err := c.msgr.Publish(ctx, messenger.ChannelServersUpdated, domain.ServersUpdatedPayload{ServerID: serverID}); err != nil {
		slog.Warn("node: failed to publish servers_updated", "server_id", serverID, "error", err)
	}
}

func (c *Controller) spawnWorker(session *Session) {
	ctx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.workers[session.ID.String()] = cancel
	c.mu.Unlock()

	go c.runWorker(ctx, session)
}
