// Package orgtree is the read model the archive exporter and node command
// dispatch need: restartable iterators over organizations, users, and
// servers, per SPEC_FULL.md §7 (supplemental depth beyond spec.md §3's
// minimal "modeled only to the depth the three core subsystems need").
package orgtree

import (
	"context"

	"github.com/rat-data/ratd-core/internal/domain"
)

// Store is the org/user/server read model's persistence contract.
// PostgresStore in this package is the production implementation.
type Store interface {
	// IterOrgs returns every organization, in no particular order.
	IterOrgs(ctx context.Context) ([]domain.Organization, error)

	// IterUsers returns every user belonging to orgID.
	IterUsers(ctx context.Context, orgID string) ([]domain.User, error)

	// IterServers returns every server, in no particular order.
	IterServers(ctx context.Context) ([]domain.Server, error)

	// GetOrg looks up a single organization by id.
	GetOrg(ctx context.Context, orgID string) (domain.Organization, bool, error)

	// GetUser looks up a single user by org id and user id.
	GetUser(ctx context.Context, orgID, userID string) (domain.User, bool, error)

	// GetServer looks up a single server by id.
	GetServer(ctx context.Context, serverID string) (domain.Server, bool, error)
}
