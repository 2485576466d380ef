package sdk

import (
	"encoding/json"

	"subgate.io/subgate/models"
)

// Wire types shared with the server.
type (
	NodeConfig    = models.NodeConfigResponse
	RouteRule     = models.RouteRule
	NodeUser      = models.NodeUser
	TrafficEntry  = models.TrafficEntry
	TrafficReport = models.TrafficReport
	TrafficResult = models.TrafficResult
)

// envelope is the success wrapper every JSON endpoint responds with.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message,omitempty"`
}
