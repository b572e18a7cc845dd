// Package domain defines the core business types shared across ratd.
// These types represent the control-plane's data model — not HTTP or
// transport specifics.
package domain

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyExists indicates a create operation conflicted with an existing resource.
var ErrAlreadyExists = errors.New("resource already exists")

// ErrNotFound indicates a lookup found no matching resource.
var ErrNotFound = errors.New("resource not found")

// QueueState is the lifecycle state of a QueueDocument.
type QueueState string

const (
	QueuePending   QueueState = "PENDING"
	QueueCommitted QueueState = "COMMITTED"
	QueueRollback  QueueState = "ROLLBACK"
)

// ValidQueueState reports whether s names a known QueueState.
func ValidQueueState(s string) bool {
	switch QueueState(s) {
	case QueuePending, QueueCommitted, QueueRollback:
		return true
	}
	return false
}

// Queue priority bands. Smaller values are scanned first.
const (
	PriorityHigh   = 0
	PriorityNormal = 50
	PriorityLow    = 100
)

// QueueDocument is a persistent record of a unit of deferred work. It is
// claimed by at most one runner at a time via a conditional update on
// RunnerID, executed through task/post_task/rollback_task, and removed on
// completion.
type QueueDocument struct {
	ID           uuid.UUID  `json:"id"`
	QueueType    string     `json:"queue_type"`
	State        QueueState `json:"state"`
	Priority     int        `json:"priority"`
	Attempts     int        `json:"attempts"`
	TTLSeconds   int        `json:"ttl"`
	TTLTimestamp *time.Time `json:"ttl_timestamp,omitempty"`
	RunnerID     *string    `json:"runner_id,omitempty"`
	Payload      []byte     `json:"payload,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// NodeSession is the in-memory, per-replica state for one remote VPN node
// daemon. Status/Interrupt/Clients are owned exclusively by the session
// controller and its communication worker — see internal/node for the
// mutation rules.
type NodeSession struct {
	ID       uuid.UUID
	Name     string
	NodeIP   string
	NodePort int
	NodeKey  string

	Status    bool
	Interrupt bool
	Clients   []ClientEntry
}

// ClientEntry describes one connected VPN client as reported by a node's
// update_clients command.
type ClientEntry struct {
	OrgID    string `json:"org_id"`
	UserID   string `json:"user_id"`
	RealAddr string `json:"real_address,omitempty"`
	VirtAddr string `json:"virtual_address,omitempty"`
}

// Organization is a tenant grouping of CA material, users, and servers.
type Organization struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// OrganizationPaths enumerates the absolute paths the archive exporter may
// pull for one organization. Any path may be absent on disk — absence is
// not an error.
type OrganizationPaths struct {
	Base       string
	TempDir    string
	Doc        string
	CACertReq  string
	CACertKey  string
	CACertCert string
	CACertDoc  string
}

// Paths returns this organization's absolute on-disk paths: its document
// file and its CA's request/key/cert/document files.
func (o Organization) Paths(dataRoot string) OrganizationPaths {
	base := filepath.Join(dataRoot, o.ID.String())
	return OrganizationPaths{
		Base:       base,
		TempDir:    filepath.Join(base, "temp"),
		Doc:        filepath.Join(base, "org.json"),
		CACertReq:  filepath.Join(base, "ca.req"),
		CACertKey:  filepath.Join(base, "ca_key.pem"),
		CACertCert: filepath.Join(base, "ca_cert.pem"),
		CACertDoc:  filepath.Join(base, "ca_cert.json"),
	}
}

// User is a member of an Organization, identified by a client certificate.
type User struct {
	ID        uuid.UUID `json:"id"`
	OrgID     uuid.UUID `json:"org_id"`
	Name      string    `json:"name"`
	OTPSecret string    `json:"-"`
	Disabled  bool      `json:"disabled"`
	CreatedAt time.Time `json:"created_at"`
}

// UserPaths enumerates the absolute paths the archive exporter may pull
// for one user.
type UserPaths struct {
	Req  string
	Key  string
	Cert string
	Doc  string
}

// Paths returns this user's absolute on-disk paths: request/key/cert/
// document files, rooted under the owning organization's directory.
func (u User) Paths(dataRoot string) UserPaths {
	orgBase := filepath.Join(dataRoot, u.OrgID.String())
	base := filepath.Join(orgBase, u.ID.String())
	return UserPaths{
		Req:  base + ".req",
		Key:  base + "_key.pem",
		Cert: base + "_cert.pem",
		Doc:  base + ".json",
	}
}

// Server represents one managed OpenVPN server definition, bound to a
// remote node daemon.
type Server struct {
	ID        uuid.UUID   `json:"id"`
	Name      string      `json:"name"`
	NodeIP    string      `json:"node_ip"`
	NodePort  int         `json:"node_port"`
	NodeKey   string      `json:"-"`
	Network   string      `json:"network"`
	OrgIDs    []uuid.UUID `json:"org_ids"`
	CreatedAt time.Time   `json:"created_at"`
}

// ServerPaths enumerates the absolute paths the archive exporter may pull
// for one server.
type ServerPaths struct {
	Base       string
	TempDir    string
	DHParams   string
	IPPool     string
	Doc        string
	NodeMarker string
}

// Paths returns this server's absolute on-disk paths: DH-param file,
// IP-pool file, document file, and node-server marker, plus the temp
// placeholder directory.
func (s Server) Paths(dataRoot string) ServerPaths {
	base := filepath.Join(dataRoot, "servers", s.ID.String())
	return ServerPaths{
		Base:       base,
		TempDir:    filepath.Join(base, "temp"),
		DHParams:   filepath.Join(base, "dh.pem"),
		IPPool:     filepath.Join(base, "ip_pool.json"),
		Doc:        filepath.Join(base, "server.json"),
		NodeMarker: filepath.Join(base, "node_server"),
	}
}

// DataRootPaths enumerates the top-level, data-root-relative files the
// exporter includes unconditionally when present: auth log, database file,
// server TLS cert/key, and version marker.
type DataRootPaths struct {
	AuthLog    string
	DBFile     string
	ServerCert string
	ServerKey  string
	VersionTag string
}

// DefaultDataRootPaths returns the conventional file names at the root of
// a data directory.
func DefaultDataRootPaths(dataRoot string) DataRootPaths {
	return DataRootPaths{
		AuthLog:    filepath.Join(dataRoot, "auth.log"),
		DBFile:     filepath.Join(dataRoot, "pritunl.db"),
		ServerCert: filepath.Join(dataRoot, "server_cert.pem"),
		ServerKey:  filepath.Join(dataRoot, "server_key.pem"),
		VersionTag: filepath.Join(dataRoot, "version"),
	}
}

// EventType names the events the node session controller and queue engine
// emit through the Messenger.
type EventType string

const (
	EventServersUpdated EventType = "servers_updated"
	EventUsersUpdated   EventType = "users_updated"
	EventQueueUpdate    EventType = "queue_update"
)

// ServersUpdatedPayload is the JSON payload carried by a servers_updated event.
type ServersUpdatedPayload struct {
	ServerID string `json:"server_id"`
}

// UsersUpdatedPayload is the JSON payload carried by a users_updated event.
type UsersUpdatedPayload struct {
	OrgID string `json:"org_id"`
}

// QueueUpdatePayload is the JSON payload carried by a queue_update event.
// It is advisory only — scanners re-read state from the persistence
// gateway rather than trusting the payload.
type QueueUpdatePayload struct {
	DocumentID string `json:"document_id"`
}
