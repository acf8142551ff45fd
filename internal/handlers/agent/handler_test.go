package agent

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/models"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/resource"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/services"
	"github.com/ZerkerEOD/krakenhashes/coordinator/internal/testutil"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func post(t *testing.T, handler http.HandlerFunc, body interface{}, agentHeader string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/agent", bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	if agentHeader != "" {
		req.Header.Set("X-Agent-ID", agentHeader)
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func checkIn(t *testing.T, h *Handler, agentID int) *services.CheckInResponse {
	t.Helper()
	w := post(t, h.CheckIn, testutil.CheckIn(agentID), "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp services.CheckInResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return &resp
}

func TestCheckInAssignsChunk(t *testing.T) {
	env := testutil.NewEnv(t)
	h := NewHandler(env.Engine, nil)

	resp := checkIn(t, h, 1)
	assert.Equal(t, services.ActionNoWork, resp.Action)

	_, attack := env.SeedMaskCampaign(t, 400)
	resp = checkIn(t, h, 1)
	require.Equal(t, services.ActionAssign, resp.Action)
	require.NotNil(t, resp.Chunk)
	assert.Equal(t, attack.ID, resp.Chunk.AttackID)
	assert.Equal(t, "400", resp.Chunk.KeyspaceLimit.String())
}

func TestCheckInAgentIDFromHeader(t *testing.T) {
	env := testutil.NewEnv(t)
	h := NewHandler(env.Engine, nil)

	req := testutil.CheckIn(0)
	w := post(t, h.CheckIn, req, "11")
	require.Equal(t, http.StatusOK, w.Code)

	agents, err := env.Engine.Campaigns.ListAgents(env.Ctx)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, 11, agents[0].ID)
}

func TestCheckInRejectsBadAgentIDs(t *testing.T) {
	env := testutil.NewEnv(t)
	h := NewHandler(env.Engine, nil)

	tests := []struct {
		name   string
		body   services.CheckInRequest
		header string
	}{
		{name: "missing", body: testutil.CheckIn(0)},
		{name: "mismatch", body: testutil.CheckIn(2), header: "3"},
		{name: "malformed header", body: testutil.CheckIn(0), header: "agent-3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(t, h.CheckIn, tt.body, tt.header)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, w.Body.String(), "INVALID_AGENT_ID")
		})
	}
}

func TestCheckInRejectsUnknownFields(t *testing.T) {
	env := testutil.NewEnv(t)
	h := NewHandler(env.Engine, nil)

	w := post(t, h.CheckIn, map[string]interface{}{"agent_id": 1, "jobs": []int{1}}, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_REQUEST")
}

func TestProgressAndCracks(t *testing.T) {
	env := testutil.NewEnv(t)
	h := NewHandler(env.Engine, nil)
	env.SeedMaskCampaign(t, 400, "5f4dcc3b5aa765d61d8327deb882cf99")

	chunk := checkIn(t, h, 1).Chunk
	require.NotNil(t, chunk)

	w := post(t, h.Progress, services.ProgressReport{TaskID: chunk.TaskID, AgentID: 1, GuessesCompleted: models.NewKeyspace(400)}, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var ack services.ProgressAck
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	assert.Equal(t, models.TaskStateCompleted, ack.State)

	w = post(t, h.Cracks, services.CrackBatch{
		TaskID: chunk.TaskID,
		Cracks: []services.CrackedHash{{HashValue: "5f4dcc3b5aa765d61d8327deb882cf99", Plaintext: "password"}},
	}, "1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result services.CrackBatchResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, 1, result.NewlyCracked)
	assert.True(t, result.HashListCompleted)
}

func TestProgressFromNonHolderConflicts(t *testing.T) {
	env := testutil.NewEnv(t)
	h := NewHandler(env.Engine, nil)
	env.SeedMaskCampaign(t, 400)

	chunk := checkIn(t, h, 1).Chunk
	require.NotNil(t, chunk)

	w := post(t, h.Progress, services.ProgressReport{TaskID: chunk.TaskID, AgentID: 2, GuessesCompleted: models.NewKeyspace(10)}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestOfflineReclaimsLease(t *testing.T) {
	env := testutil.NewEnv(t)
	h := NewHandler(env.Engine, nil)
	_, attack := env.SeedMaskCampaign(t, 400)
	require.NotNil(t, checkIn(t, h, 1).Chunk)

	w := post(t, h.Offline, OfflineRequest{AgentID: 1, Reason: "maintenance"}, "")
	require.Equal(t, http.StatusNoContent, w.Code)

	tasks, err := env.Engine.Campaigns.ListTasks(env.Ctx, attack.ID)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, models.TaskStatePending, tasks[0].State)
	assert.Equal(t, "maintenance", tasks[0].ErrorMessage)
}

func TestFileDownload(t *testing.T) {
	env := testutil.NewEnv(t)
	dir := t.TempDir()
	files, err := resource.NewFileStore(dir, "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, resource.WordlistsDir, "tiny.txt"), []byte("a\nb\n"), 0o644))

	router := mux.NewRouter()
	router.HandleFunc("/api/agent/files/{path:.+}", NewHandler(env.Engine, files).File).Methods(http.MethodGet)

	req := httptest.NewRequest(http.MethodGet, "/api/agent/files/wordlists/tiny.txt", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "a\nb\n", w.Body.String())
	assert.Equal(t, "dd8c6a395b5dd36c56d23275028f526c", w.Header().Get("X-Checksum-MD5"))

	req = httptest.NewRequest(http.MethodGet, "/api/agent/files/wordlists/missing.txt", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestFileDownloadDisabled(t *testing.T) {
	env := testutil.NewEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/api/agent/files/x", nil)
	w := httptest.NewRecorder()
	NewHandler(env.Engine, nil).File(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
