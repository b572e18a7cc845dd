package orgtree

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rat-data/ratd-core/internal/domain"
)

// PostgresStore is the Postgres-backed Store implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a connection pool as an orgtree.Store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) IterOrgs(ctx context.Context) ([]domain.Organization, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM organizations`)
	if err != nil {
		return nil, fmt.Errorf("iter orgs: %w", err)
	}
	defer rows.Close()

	var orgs []domain.Organization
	for rows.Next() {
		var org domain.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan org: %w", err)
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}

func (s *PostgresStore) IterUsers(ctx context.Context, orgID string) ([]domain.User, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, org_id, name, otp_secret, disabled, created_at
		FROM users WHERE org_id = $1
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("iter users for org %s: %w", orgID, err)
	}
	defer rows.Close()

	var users []domain.User
	for rows.Next() {
		var user domain.User
		if err := rows.Scan(&user.ID, &user.OrgID, &user.Name, &user.OTPSecret, &user.Disabled, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *PostgresStore) IterServers(ctx context.Context) ([]domain.Server, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT s.id, s.name, s.node_ip, s.node_port, s.node_key, s.network, s.created_at,
		       COALESCE(array_agg(so.org_id) FILTER (WHERE so.org_id IS NOT NULL), '{}')
		FROM servers s
		LEFT JOIN server_organizations so ON so.server_id = s.id
		GROUP BY s.id
	`)
	if err != nil {
		return nil, fmt.Errorf("iter servers: %w", err)
	}
	defer rows.Close()

	var servers []domain.Server
	for rows.Next() {
		var server domain.Server
		var orgIDs []uuid.UUID
		if err := rows.Scan(&server.ID, &server.Name, &server.NodeIP, &server.NodePort,
			&server.NodeKey, &server.Network, &server.CreatedAt, &orgIDs); err != nil {
			return nil, fmt.Errorf("scan server: %w", err)
		}
		server.OrgIDs = orgIDs
		servers = append(servers, server)
	}
	return servers, rows.Err()
}

func (s *PostgresStore) GetOrg(ctx context.Context, orgID string) (domain.Organization, bool, error) {
	var org domain.Organization
	err := s.pool.QueryRow(ctx, `SELECT id, name, created_at FROM organizations WHERE id = $1`, orgID).
		Scan(&org.ID, &org.Name, &org.CreatedAt)
	if err == pgx.ErrNoRows {
		return domain.Organization{}, false, nil
	}
	if err != nil {
		return domain.Organization{}, false, fmt.Errorf("get org %s: %w", orgID, err)
	}
	return org, true, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, orgID, userID string) (domain.User, bool, error) {
	var user domain.User
	err := s.pool.QueryRow(ctx, `
		SELECT id, org_id, name, otp_secret, disabled, created_at
		FROM users WHERE org_id = $1 AND id = $2
	`, orgID, userID).Scan(&user.ID, &user.OrgID, &user.Name, &user.OTPSecret, &user.Disabled, &user.CreatedAt)
	if err == pgx.ErrNoRows {
		return domain.User{}, false, nil
	}
	if err != nil {
		return domain.User{}, false, fmt.Errorf("get user %s/%s: %w", orgID, userID, err)
	}
	return user, true, nil
}

func (s *PostgresStore) GetServer(ctx context.Context, serverID string) (domain.Server, bool, error) {
	var server domain.Server
	var orgIDs []uuid.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT s.id, s.name, s.node_ip, s.node_port, s.node_key, s.network, s.created_at,
		       COALESCE(array_agg(so.org_id) FILTER (WHERE so.org_id IS NOT NULL), '{}')
		FROM servers s
		LEFT JOIN server_organizations so ON so.server_id = s.id
		WHERE s.id = $1
		GROUP BY s.id
	`, serverID).Scan(&server.ID, &server.Name, &server.NodeIP, &server.NodePort,
		&server.NodeKey, &server.Network, &server.CreatedAt, &orgIDs)
	if err == pgx.ErrNoRows {
		return domain.Server{}, false, nil
	}
	if err != nil {
		return domain.Server{}, false, fmt.Errorf("get server %s: %w", serverID, err)
	}
	server.OrgIDs = orgIDs
	return server, true, nil
}
