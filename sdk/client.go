// Package sdk is a Go client for the Subgate node agent API.
//
// A node agent authenticates with its node token, pulls its own protocol
// configuration and the list of users it should accept, and reports per-user
// traffic back:
//
//	client, err := sdk.NewClient(sdk.ClientConfig{
//		BaseURLs:  []string{"https://panel.example.com"},
//		NodeToken: os.Getenv("SUBGATE_NODE_TOKEN"),
//	})
//	cfg, err := client.FetchConfig(ctx)
//	users, err := client.FetchUsers(ctx)
//
// Reporter batches traffic deltas and delivers them with a stable report id so
// a retried batch is never charged twice.
package sdk

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// Client talks to the node agent API of one or more Subgate servers.
type Client struct {
	baseURLs      []string
	nodeToken     string
	httpClient    *http.Client
	retryAttempts int
	retryWaitMin  time.Duration
	retryWaitMax  time.Duration
	userAgent     string
}

// NewClient creates a new SDK client with the given configuration.
func NewClient(config ClientConfig) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		baseURLs:      config.BaseURLs,
		nodeToken:     config.NodeToken,
		httpClient:    config.HTTPClient,
		retryAttempts: config.RetryAttempts,
		retryWaitMin:  config.RetryWaitMin,
		retryWaitMax:  config.RetryWaitMax,
		userAgent:     config.UserAgent,
	}, nil
}

// FetchConfig returns this node's unredacted protocol configuration and its
// route rules.
func (c *Client) FetchConfig(ctx context.Context) (*NodeConfig, error) {
	var cfg NodeConfig
	if err := c.do(ctx, http.MethodGet, "/api/v1/node/config", nil, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FetchUsers returns the users currently allowed to connect to this node.
func (c *Client) FetchUsers(ctx context.Context) ([]NodeUser, error) {
	var resp struct {
		Users []NodeUser `json:"users"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/node/users", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Users, nil
}

// ReportTraffic submits one batch of traffic deltas. The server applies the
// batch atomically; a report id it has already seen yields Duplicate=true.
func (c *Client) ReportTraffic(ctx context.Context, report *TrafficReport) (*TrafficResult, error) {
	if report == nil {
		return nil, errors.New("report is nil")
	}
	var result TrafficResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/node/traffic", report, &result); err != nil {
		return nil, err
	}
	return &result, nil
}
