package node

import (
	"context"
	"errors"

	"github.com/rat-data/ratd-core/internal/domain"
)

// ErrNoRenderer is returned by NoopRenderer.
var ErrNoRenderer = errors.New("no ConfigRenderer configured")

// NoopRenderer is a placeholder ConfigRenderer. The OpenVPN configuration
// template is explicitly out of scope (spec.md §1 names it an external
// collaborator) — a real deployment supplies its own ConfigRenderer
// wired from the certificate-authority and server-template subsystems
// this module does not implement.
type NoopRenderer struct{}

func (NoopRenderer) RenderOvpnConf(ctx context.Context, server domain.Server) (string, error) {
	return "", ErrNoRenderer
}
