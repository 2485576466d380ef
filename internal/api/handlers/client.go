package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"subgate.io/subgate/internal/api/middleware"
	"subgate.io/subgate/internal/logging"
	"subgate.io/subgate/internal/service"
	"subgate.io/subgate/models"
	"subgate.io/subgate/pkg/subscription"
)

// profileUpdateHours is advertised to clients that honour
// profile-update-interval.
const profileUpdateHours = "24"

// ClientHandler serves subscription documents and the user self-service API.
type ClientHandler struct {
	subscriptions *service.SubscriptionService
	tokens        *service.TokenService
}

// NewClientHandler creates a new ClientHandler.
func NewClientHandler(subscriptions *service.SubscriptionService, tokens *service.TokenService) *ClientHandler {
	return &ClientHandler{subscriptions: subscriptions, tokens: tokens}
}

// Subscribe handles GET /api/v1/client/subscribe?token=...&flag=...&quota=1
// and GET /s/:token.
//
// The format comes from flag, falling back to the User-Agent. The
// subscription-userinfo header is sent when quota=1 or the client is known
// to read it.
func (h *ClientHandler) Subscribe(c *gin.Context) {
	subToken := c.Param("token")
	if subToken == "" {
		subToken = c.Query("token")
	}
	if subToken == "" {
		respondError(c, http.StatusUnauthorized, "unauthorized", "Authentication failed")
		return
	}

	client := subscription.Detect(c.Query("flag"), c.Request.UserAgent())

	delivery, err := h.subscriptions.Fetch(c.Request.Context(), subToken, client)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	if wantsQuota(c.Query("quota"), client) {
		c.Header(middleware.HeaderSubscriptionUserinfo, delivery.Quota.String())
	}
	c.Header("Profile-Update-Interval", profileUpdateHours)
	c.Header("Cache-Control", "no-store")

	middleware.GetLogger(c).Debug("subscription served",
		zap.String(logging.FieldFormat, string(delivery.Format)),
		zap.Int("nodes", delivery.Nodes),
	)
	c.Data(http.StatusOK, delivery.ContentType, delivery.Body)
}

func wantsQuota(param string, client subscription.Client) bool {
	switch strings.ToLower(param) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return client.QuotaByDefault
	}
}

// GetOwnSubscription handles GET /api/v1/user/subscription.
// Banned and expired users still see their status.
func (h *ClientHandler) GetOwnSubscription(c *gin.Context) {
	ent := middleware.GetEntitlement(c)
	if ent == nil {
		respondError(c, http.StatusUnauthorized, "unauthorized", "Authentication failed")
		return
	}

	respondSuccess(c, http.StatusOK, statusView(h.subscriptions.Status(ent)))
}

// ResetOwnToken handles POST /api/v1/user/subscription/reset.
//
// Request body:
//
//	{"confirm": true}
//
// The bearer token stops working once the new token is returned.
func (h *ClientHandler) ResetOwnToken(c *gin.Context) {
	raw := middleware.GetSubscriptionToken(c)
	if raw == "" {
		respondError(c, http.StatusUnauthorized, "unauthorized", "Authentication failed")
		return
	}

	var req models.ResetRequest
	if !bindJSON(c, &req) {
		return
	}

	issued, err := h.tokens.ResetByToken(c.Request.Context(), raw, req.Confirm)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, issued)
}
