package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"subgate.io/subgate/internal/api/middleware"
	"subgate.io/subgate/internal/events"
	"subgate.io/subgate/internal/ratelimit"
	"subgate.io/subgate/internal/service"
	"subgate.io/subgate/internal/storage/storagetest"
)

const (
	testSecret = "secret-should-be-long-enough-123456"
	testAdmin  = "admin-token-0123456789abcdef"
	ssConfig   = `{"cipher":"aes-256-gcm","password":"s3cret","server_key":"operator-key"}`
)

type testServer struct {
	t      *testing.T
	router *Router
}

func newTestServer(t *testing.T, policy service.OverQuotaPolicy) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := storagetest.NewDB(t)
	logger := zap.NewNop()
	bus := events.NewBus(logger)

	services := NewServices(ServicesConfig{
		DB:        db,
		Logger:    logger,
		Bus:       bus,
		Secret:    testSecret,
		OverQuota: policy,
		Ingest:    service.DefaultIngestConfig(),
	})
	router := SetupRouter(&RouterConfig{
		DB:         db,
		Logger:     logger,
		Services:   services,
		AdminToken: testAdmin,
		RateLimit:  ratelimit.DefaultConfig(),
		Version:    "test",
	})
	t.Cleanup(router.Close)
	return &testServer{t: t, router: router}
}

func (s *testServer) call(method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	s.t.Helper()

	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		require.NoError(s.t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *testServer) admin(method, path string, body any) gjson.Result {
	s.t.Helper()
	w := s.call(method, path, body, map[string]string{middleware.HeaderAdminToken: testAdmin})
	require.Less(s.t, w.Code, 300, "%s %s: %s", method, path, w.Body.String())
	return gjson.Parse(w.Body.String())
}

// provision creates a group, a node in it and a subscribed user 1.
// It returns the subscription token and the node token.
func (s *testServer) provision(transfer int64) (subToken, nodeToken string) {
	s.t.Helper()

	group := s.admin(http.MethodPost, "/api/v1/admin/groups", map[string]any{"name": "premium"})
	groupID := group.Get("data.id").Int()

	node := s.admin(http.MethodPost, "/api/v1/admin/nodes", map[string]any{
		"name":        "Tokyo 01",
		"protocol":    "shadowsocks",
		"host":        "tokyo.example.com",
		"port":        "443",
		"server_port": 8443,
		"visible":     true,
		"group_ids":   []int64{groupID},
		"config":      json.RawMessage(ssConfig),
	})
	nodeToken = node.Get("data.node_token").String()
	require.NotEmpty(s.t, nodeToken)

	plan := s.admin(http.MethodPost, "/api/v1/admin/plans", map[string]any{"name": "monthly", "transfer_bytes": transfer})
	s.admin(http.MethodPut, "/api/v1/admin/users/1/plan", map[string]any{"plan_id": plan.Get("data.id").Int()})
	s.admin(http.MethodPut, "/api/v1/admin/users/1/groups", map[string]any{"group_ids": []int64{groupID}})

	issued := s.admin(http.MethodPost, "/api/v1/admin/users/1/subscription", nil)
	subToken = issued.Get("data.token").String()
	require.NotEmpty(s.t, subToken)
	return subToken, nodeToken
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, service.OverQuotaList)

	w := s.call(http.MethodGet, "/health/live", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", gjson.Get(w.Body.String(), "data.status").String())

	w = s.call(http.MethodGet, "/health/ready", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "connected", gjson.Get(w.Body.String(), "data.database").String())

	assert.Equal(t, http.StatusOK, s.call(http.MethodGet, "/metrics", nil, nil).Code)
}

func TestAdminRequiresToken(t *testing.T) {
	s := newTestServer(t, service.OverQuotaList)

	w := s.call(http.MethodGet, "/api/v1/admin/nodes", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", gjson.Get(w.Body.String(), "error").String())

	w = s.call(http.MethodGet, "/api/v1/admin/nodes", nil, map[string]string{middleware.HeaderAdminToken: "nope"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, gjson.Get(w.Body.String(), "request_id").String())
}

func TestAdminErrorMapping(t *testing.T) {
	s := newTestServer(t, service.OverQuotaList)
	h := map[string]string{middleware.HeaderAdminToken: testAdmin}

	w := s.call(http.MethodGet, "/api/v1/admin/nodes/99", nil, h)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "Node not found", gjson.Get(w.Body.String(), "message").String())

	w = s.call(http.MethodGet, "/api/v1/admin/nodes/abc", nil, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.call(http.MethodPost, "/api/v1/admin/groups", `{"name":`, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	s.admin(http.MethodPost, "/api/v1/admin/groups", map[string]any{"name": "dup"})
	w = s.call(http.MethodPost, "/api/v1/admin/groups", map[string]any{"name": "dup"}, h)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.call(http.MethodPost, "/api/v1/admin/nodes", map[string]any{
		"name": "bad", "protocol": "shadowsocks", "host": "h.example.com", "port": "443",
		"server_port": 1, "config": json.RawMessage(`{"cipher":"aes-256-gcm"}`),
	}, h)
	assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())

	w = s.call(http.MethodPost, "/api/v1/admin/users/5/subscription/reset", map[string]any{"confirm": false}, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "confirmation_required", gjson.Get(w.Body.String(), "error").String())
}

func TestSubscriptionDelivery(t *testing.T) {
	s := newTestServer(t, service.OverQuotaList)
	subToken, _ := s.provision(1 << 30)

	// Clash clients read the quota header without being asked
	w := s.call(http.MethodGet, "/s/"+subToken+"?flag=clash", nil, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "yaml")
	assert.Contains(t, w.Body.String(), "Tokyo 01")
	assert.NotContains(t, w.Body.String(), "operator-key")
	assert.Equal(t, "upload=0; download=0; total=1073741824; expire=0", w.Header().Get(middleware.HeaderSubscriptionUserinfo))

	// Plain output only carries the header when asked
	w = s.call(http.MethodGet, "/api/v1/client/subscribe?token="+subToken, nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get(middleware.HeaderSubscriptionUserinfo))
	raw, err := base64.StdEncoding.DecodeString(w.Body.String())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(raw), "ss://"), string(raw))

	w = s.call(http.MethodGet, "/api/v1/client/subscribe?token="+subToken+"&quota=1", nil, nil)
	assert.NotEmpty(t, w.Header().Get(middleware.HeaderSubscriptionUserinfo))

	// sing-box detected from the User-Agent
	w = s.call(http.MethodGet, "/s/"+subToken, nil, map[string]string{"User-Agent": "SFA/1.9.0 (sing-box 1.9.0)"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Tokyo 01", gjson.Get(w.Body.String(), `outbounds.#(type=="shadowsocks").tag`).String())

	w = s.call(http.MethodGet, "/s/sub_doesnotexist", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBannedAndOverQuotaResponses(t *testing.T) {
	s := newTestServer(t, service.OverQuotaReject)
	subToken, nodeToken := s.provision(100)

	w := s.call(http.MethodPost, "/api/v1/node/traffic",
		map[string]any{"entries": []map[string]any{{"user_id": 1, "u": 60, "d": 40}}},
		map[string]string{middleware.HeaderNodeToken: nodeToken})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.call(http.MethodGet, "/s/"+subToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "quota_exceeded", gjson.Get(w.Body.String(), "error").String())

	s.admin(http.MethodPut, "/api/v1/admin/users/1/ban", map[string]any{"banned": true})
	w = s.call(http.MethodGet, "/s/"+subToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "banned", gjson.Get(w.Body.String(), "error").String())
}

func TestNodeAgentFlow(t *testing.T) {
	s := newTestServer(t, service.OverQuotaList)
	_, nodeToken := s.provision(1 << 30)
	h := map[string]string{middleware.HeaderNodeToken: nodeToken}

	w := s.call(http.MethodGet, "/api/v1/node/config", nil, h)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "operator-key", gjson.Get(w.Body.String(), "data.config.server_key").String())
	assert.Equal(t, int64(8443), gjson.Get(w.Body.String(), "data.server_port").Int())

	w = s.call(http.MethodGet, "/api/v1/node/users", nil, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "[1]", gjson.Get(w.Body.String(), "data.users.#.user_id").Raw)

	report := map[string]any{"report_id": "r-1", "entries": []map[string]any{{"user_id": 1, "u": 1024, "d": 2048}}}
	w = s.call(http.MethodPost, "/api/v1/node/traffic", report, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, int64(1), gjson.Get(w.Body.String(), "data.applied").Int())

	w = s.call(http.MethodPost, "/api/v1/node/traffic", report, h)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, gjson.Get(w.Body.String(), "data.duplicate").Bool())

	status := s.admin(http.MethodGet, "/api/v1/admin/users/1/subscription", nil)
	assert.Equal(t, int64(3072), status.Get("data.usage.used").Int())
	assert.Equal(t, "3.0 KiB", status.Get("data.human.used").String())

	w = s.call(http.MethodPost, "/api/v1/node/traffic",
		map[string]any{"entries": []map[string]any{{"user_id": 404, "u": 1, "d": 1}}}, h)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.call(http.MethodGet, "/api/v1/node/config", nil, map[string]string{middleware.HeaderNodeToken: "node_invalid"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestUserSelfService(t *testing.T) {
	s := newTestServer(t, service.OverQuotaList)
	subToken, _ := s.provision(1 << 30)
	bearer := map[string]string{"Authorization": "Bearer " + subToken}

	w := s.call(http.MethodGet, "/api/v1/user/subscription", nil, bearer)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "active", gjson.Get(w.Body.String(), "data.status").String())
	assert.False(t, gjson.Get(w.Body.String(), "data.token_hash").Exists())

	w = s.call(http.MethodPost, "/api/v1/user/subscription/reset", map[string]any{}, bearer)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.call(http.MethodPost, "/api/v1/user/subscription/reset", map[string]any{"confirm": true}, bearer)
	require.Equal(t, http.StatusOK, w.Code)
	newToken := gjson.Get(w.Body.String(), "data.token").String()
	require.NotEmpty(t, newToken)
	assert.NotEqual(t, subToken, newToken)

	assert.Equal(t, http.StatusUnauthorized, s.call(http.MethodGet, "/s/"+subToken, nil, nil).Code)
	assert.Equal(t, http.StatusOK, s.call(http.MethodGet, "/s/"+newToken, nil, nil).Code)
	assert.Equal(t, http.StatusUnauthorized, s.call(http.MethodGet, "/api/v1/user/subscription", nil, bearer).Code)
}

func TestRegistryEditsReachSubscribers(t *testing.T) {
	s := newTestServer(t, service.OverQuotaList)
	subToken, _ := s.provision(1 << 30)

	nodes := s.admin(http.MethodGet, "/api/v1/admin/nodes", nil)
	nodeID := nodes.Get("data.0.id").Int()

	dup := s.admin(http.MethodPost, "/api/v1/admin/nodes/"+itoa(nodeID)+"/duplicate", map[string]any{"name": "Tokyo 02"})
	dupID := dup.Get("data.node.id").Int()
	assert.NotEqual(t, nodeID, dupID)
	assert.False(t, dup.Get("data.node.visible").Bool())

	// copies start hidden
	w := s.call(http.MethodGet, "/s/"+subToken+"?flag=singbox", nil, nil)
	tags := gjson.Get(w.Body.String(), `outbounds.#(type=="shadowsocks")#.tag`).Array()
	require.Len(t, tags, 1)
	assert.Equal(t, "Tokyo 01", tags[0].String())

	s.admin(http.MethodPatch, "/api/v1/admin/nodes/"+itoa(dupID), map[string]any{"visible": true})
	w = s.call(http.MethodGet, "/s/"+subToken+"?flag=singbox", nil, nil)
	tags = gjson.Get(w.Body.String(), `outbounds.#(type=="shadowsocks")#.tag`).Array()
	assert.Len(t, tags, 2)

	s.admin(http.MethodPatch, "/api/v1/admin/nodes/"+itoa(nodeID), map[string]any{"visible": false})
	w = s.call(http.MethodGet, "/s/"+subToken+"?flag=singbox", nil, nil)
	assert.Equal(t, "Tokyo 02", gjson.Get(w.Body.String(), `outbounds.#(type=="shadowsocks").tag`).String())

	route := s.admin(http.MethodPost, "/api/v1/admin/routes", map[string]any{
		"remarks": "ads", "match": []string{"domain:ads.example.com"}, "action": "block",
	})
	assert.Equal(t, "block", route.Get("data.action").String())

	w = s.call(http.MethodDelete, "/api/v1/admin/nodes/"+itoa(nodeID), nil, map[string]string{middleware.HeaderAdminToken: testAdmin})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
