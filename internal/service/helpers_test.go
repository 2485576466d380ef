package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"subgate.io/subgate/internal/events"
	"subgate.io/subgate/internal/storage/storagetest"
	"subgate.io/subgate/models"
)

const testSecret = "secret-should-be-long-enough-123456"

const (
	ssConfig     = `{"cipher":"aes-256-gcm","password":"s3cret","server_key":"operator-key"}`
	vmessConfig  = `{"uuid":"5a1b3c4d-1111-2222-3333-444455556666","alter_id":0,"security":"auto","network":"tcp","tls":true,"tls_settings":{"key":"PRIVATE"}}`
	trojanConfig = `{"password":"tr0jan","sni":"edge.example.com","cert_file":"/etc/ssl/c.pem"}`
)

type testEnv struct {
	db     *sql.DB
	bus    *events.Bus
	nodes  *NodeService
	groups *GroupService
	routes *RouteService
	dir    *SQLDirectory
	tokens *TokenService
	ledger *Ledger
	ingest *IngestService
	cache  *SnapshotCache
	subs   *SubscriptionService
	agent  *AgentService
}

func newTestEnv(t testing.TB) *testEnv {
	t.Helper()
	return newTestEnvWithPolicy(t, OverQuotaList)
}

func newTestEnvWithPolicy(t testing.TB, policy OverQuotaPolicy) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	db := storagetest.NewDB(t)
	bus := events.NewBus(logger)

	e := &testEnv{db: db, bus: bus}
	e.nodes = NewNodeService(db, logger, testSecret, bus)
	e.groups = NewGroupService(db, logger, bus)
	e.routes = NewRouteService(db, logger, bus)
	e.dir = NewSQLDirectory(db, logger)
	e.tokens = NewTokenService(db, logger, testSecret, e.dir, bus)
	e.ledger = NewLedger(db, logger, bus)
	e.ingest = NewIngestService(db, logger, bus, DefaultIngestConfig())
	e.cache = NewSnapshotCache(e.nodes, e.groups, e.routes, time.Minute, logger, bus)
	e.subs = NewSubscriptionService(e.tokens, e.dir, e.cache, policy, logger)
	e.agent = NewAgentService(e.cache, e.dir, e.ledger, logger)
	return e
}

func (e *testEnv) createGroup(t testing.TB, name string) int64 {
	t.Helper()
	g, err := e.groups.CreateGroup(context.Background(), &models.GroupRequest{Name: name})
	if err != nil {
		t.Fatalf("CreateGroup(%q) failed: %v", name, err)
	}
	return g.ID
}

func (e *testEnv) createNode(t testing.TB, name, proto, config string, visible bool, groups ...int64) *models.NodeCredentials {
	t.Helper()
	creds, err := e.nodes.CreateNode(context.Background(), &models.NodeCreateRequest{
		Name:       name,
		Protocol:   proto,
		Host:       "node.example.com",
		Port:       "443",
		ServerPort: 8443,
		Visible:    visible,
		GroupIDs:   groups,
		Config:     json.RawMessage(config),
	})
	if err != nil {
		t.Fatalf("CreateNode(%q) failed: %v", name, err)
	}
	return creds
}

// issue gives userID a plan with transfer bytes, puts it in groups and
// returns its subscription token.
func (e *testEnv) issue(t testing.TB, userID, transfer int64, groups ...int64) string {
	t.Helper()
	ctx := context.Background()

	plan, err := e.dir.CreatePlan(ctx, &models.PlanRequest{Name: fmt.Sprintf("plan-%d", userID), TransferBytes: transfer})
	if err != nil {
		t.Fatalf("CreatePlan failed: %v", err)
	}
	if _, err := e.dir.SetUserPlan(ctx, userID, &models.UserPlanRequest{PlanID: plan.ID}); err != nil {
		t.Fatalf("SetUserPlan failed: %v", err)
	}
	if _, err := e.dir.SetUserGroups(ctx, userID, groups); err != nil {
		t.Fatalf("SetUserGroups failed: %v", err)
	}
	issued, err := e.tokens.IssueToken(ctx, userID)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	return issued.Token
}

func nopLogger() *zap.Logger { return zap.NewNop() }
