package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rat-data/ratd-core/internal/api"
	"github.com/rat-data/ratd-core/internal/domain"
)

type fakeOrgTreeReader struct {
	server domain.Server
	found  bool
	err    error
}

func (f *fakeOrgTreeReader) GetServer(_ context.Context, _ string) (domain.Server, bool, error) {
	return f.server, f.found, f.err
}

type fakeNodeController struct {
	startErr, stopErr, forceStopErr error
	snapshot                        domain.NodeSession
	runningCount                    int
}

func (f *fakeNodeController) Start(context.Context, domain.Server, bool) error     { return f.startErr }
func (f *fakeNodeController) Stop(context.Context, domain.Server, bool) error      { return f.stopErr }
func (f *fakeNodeController) ForceStop(context.Context, domain.Server, bool) error { return f.forceStopErr }
func (f *fakeNodeController) Snapshot(domain.Server) domain.NodeSession            { return f.snapshot }
func (f *fakeNodeController) RunningCount() int                                   { return f.runningCount }

type fakeQueueEnqueuer struct {
	id  uuid.UUID
	err error
}

func (f *fakeQueueEnqueuer) Enqueue(context.Context, string, int, []byte) (uuid.UUID, error) {
	return f.id, f.err
}

var testServerID = uuid.New()

func TestHandleServerStatus_NotConfigured_Returns503(t *testing.T) {
	router := api.NewRouter(&api.Server{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers/"+testServerID.String()+"/status", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleServerStatus_ServerNotFound_Returns404(t *testing.T) {
	srv := &api.Server{
		OrgTree:        &fakeOrgTreeReader{found: false},
		NodeController: &fakeNodeController{},
	}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers/"+testServerID.String()+"/status", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleServerStatus_Found_ReturnsSnapshot(t *testing.T) {
	wantSnapshot := domain.NodeSession{ID: testServerID, Name: "test-server", Status: true}
	srv := &api.Server{
		OrgTree:        &fakeOrgTreeReader{found: true, server: domain.Server{ID: testServerID}},
		NodeController: &fakeNodeController{snapshot: wantSnapshot},
	}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers/"+testServerID.String()+"/status", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.NodeSession
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, wantSnapshot.Name, got.Name)
	assert.True(t, got.Status)
}

func TestHandleServerStart_Success(t *testing.T) {
	srv := &api.Server{
		OrgTree:        &fakeOrgTreeReader{found: true, server: domain.Server{ID: testServerID}},
		NodeController: &fakeNodeController{},
	}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/servers/"+testServerID.String()+"/start", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleServerStart_ControllerError_Returns500(t *testing.T) {
	srv := &api.Server{
		OrgTree:        &fakeOrgTreeReader{found: true, server: domain.Server{ID: testServerID}},
		NodeController: &fakeNodeController{startErr: errors.New("connection refused")},
	}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/servers/"+testServerID.String()+"/start", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHandleServerStop_NodeControllerMissing_Returns503(t *testing.T) {
	srv := &api.Server{
		OrgTree: &fakeOrgTreeReader{found: true, server: domain.Server{ID: testServerID}},
	}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/servers/"+testServerID.String()+"/stop", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleServerForceStop_Success(t *testing.T) {
	srv := &api.Server{
		OrgTree:        &fakeOrgTreeReader{found: true, server: domain.Server{ID: testServerID}},
		NodeController: &fakeNodeController{},
	}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/servers/"+testServerID.String()+"/force_stop", http.NoBody)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleQueueEnqueue_NotConfigured_Returns503(t *testing.T) {
	router := api.NewRouter(&api.Server{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queue/task", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandleQueueEnqueue_Success_ReturnsID(t *testing.T) {
	wantID := uuid.New()
	srv := &api.Server{QueueEngine: &fakeQueueEnqueuer{id: wantID}}
	router := api.NewRouter(srv)

	body, err := json.Marshal(map[string]any{"priority": 0, "payload": json.RawMessage(`{"foo":"bar"}`)})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queue/task", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var got map[string]string
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&got))
	assert.Equal(t, wantID.String(), got["id"])
}

func TestHandleQueueEnqueue_InvalidJSON_Returns400(t *testing.T) {
	srv := &api.Server{QueueEngine: &fakeQueueEnqueuer{}}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queue/task", bytes.NewReader([]byte(`not json`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQueueEnqueue_EngineError_Returns500(t *testing.T) {
	srv := &api.Server{QueueEngine: &fakeQueueEnqueuer{err: errors.New("enqueue failed")}}
	router := api.NewRouter(srv)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/queue/task", bytes.NewReader([]byte(`{}`)))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
