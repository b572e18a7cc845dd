package api

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rat-data/ratd-core/internal/domain"
)

// ArchiveExporter produces a full data-directory archive. Implemented by
// *archive.Exporter.
type ArchiveExporter interface {
	Export(ctx context.Context) (filename string, r io.Reader, cleanup func(), err error)
}

// OrgTreeReader is the subset of orgtree.Store the API needs to resolve a
// server by id before delegating to the node controller.
type OrgTreeReader interface {
	GetServer(ctx context.Context, serverID string) (domain.Server, bool, error)
}

// NodeController drives node session lifecycle. Implemented by *node.Controller.
type NodeController interface {
	Start(ctx context.Context, server domain.Server, silent bool) error
	Stop(ctx context.Context, server domain.Server, silent bool) error
	ForceStop(ctx context.Context, server domain.Server, silent bool) error
	Snapshot(server domain.Server) domain.NodeSession
	RunningCount() int
}

// QueueEnqueuer submits work to the queue engine. Implemented by *queue.Engine.
type QueueEnqueuer interface {
	Enqueue(ctx context.Context, queueType string, priority int, payload []byte) (uuid.UUID, error)
}

// resolveServer looks up serverID via OrgTree, writing a structured error
// response and returning ok=false if it cannot be resolved.
func (s *Server) resolveServer(w http.ResponseWriter, r *http.Request) (domain.Server, bool) {
	if s.OrgTree == nil {
		errorJSON(w, "org tree not configured", "UNAVAILABLE", http.StatusServiceUnavailable)
		return domain.Server{}, false
	}

	serverID := chi.URLParam(r, "serverID")
	server, found, err := s.OrgTree.GetServer(r.Context(), serverID)
	if err != nil {
		internalError(w, "failed to look up server", err)
		return domain.Server{}, false
	}
	if !found {
		errorJSON(w, "server not found", ErrorTypeNotFound, http.StatusNotFound)
		return domain.Server{}, false
	}
	return server, true
}

// HandleServerStatus returns the in-memory session snapshot for a server.
func (s *Server) HandleServerStatus(w http.ResponseWriter, r *http.Request) {
	if s.NodeController == nil {
		errorJSON(w, "node controller not configured", "UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}
	server, ok := s.resolveServer(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.NodeController.Snapshot(server))
}

// HandleServerStart starts a node session.
func (s *Server) HandleServerStart(w http.ResponseWriter, r *http.Request) {
	s.handleNodeCommand(w, r, func(ctx context.Context, server domain.Server, silent bool) error {
		return s.NodeController.Start(ctx, server, silent)
	})
}

// HandleServerStop stops a node session.
func (s *Server) HandleServerStop(w http.ResponseWriter, r *http.Request) {
	s.handleNodeCommand(w, r, func(ctx context.Context, server domain.Server, silent bool) error {
		return s.NodeController.Stop(ctx, server, silent)
	})
}

// HandleServerForceStop force-stops a node session.
func (s *Server) HandleServerForceStop(w http.ResponseWriter, r *http.Request) {
	s.handleNodeCommand(w, r, func(ctx context.Context, server domain.Server, silent bool) error {
		return s.NodeController.ForceStop(ctx, server, silent)
	})
}

func (s *Server) handleNodeCommand(w http.ResponseWriter, r *http.Request, cmd func(context.Context, domain.Server, bool) error) {
	if s.NodeController == nil {
		errorJSON(w, "node controller not configured", "UNAVAILABLE", http.StatusServiceUnavailable)
		return
	}
	server, ok := s.resolveServer(w, r)
	if !ok {
		return
	}
	if err := cmd(r.Context(), server, false); err != nil {
		internalError(w, "node command failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
