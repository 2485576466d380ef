package handlers

import (
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"

	"subgate.io/subgate/internal/service"
	"subgate.io/subgate/models"
)

// UserHandler handles the operator's per-user endpoints: plans, group
// membership, subscription tokens, traffic and bans.
type UserHandler struct {
	tokens        *service.TokenService
	ledger        *service.Ledger
	directory     *service.SQLDirectory
	subscriptions *service.SubscriptionService
}

// NewUserHandler creates a new UserHandler.
func NewUserHandler(tokens *service.TokenService, ledger *service.Ledger, directory *service.SQLDirectory, subscriptions *service.SubscriptionService) *UserHandler {
	return &UserHandler{
		tokens:        tokens,
		ledger:        ledger,
		directory:     directory,
		subscriptions: subscriptions,
	}
}

// StatusView is the subscription status with human readable byte counts.
type StatusView struct {
	*models.SubscriptionStatus
	Human HumanUsage `json:"human"`
}

// HumanUsage renders usage counters in IEC units, e.g. "15 GiB".
type HumanUsage struct {
	Used      string `json:"used"`
	Remaining string `json:"remaining"`
	Total     string `json:"total"`
}

func statusView(s *models.SubscriptionStatus) StatusView {
	return StatusView{
		SubscriptionStatus: s,
		Human: HumanUsage{
			Used:      humanize.IBytes(uint64(s.Usage.Used)),
			Remaining: humanize.IBytes(uint64(s.Usage.Remaining)),
			Total:     humanize.IBytes(uint64(max(0, s.TotalBytes))),
		},
	}
}

// CreatePlan handles POST /api/v1/admin/plans.
func (h *UserHandler) CreatePlan(c *gin.Context) {
	var req models.PlanRequest
	if !bindJSON(c, &req) {
		return
	}

	plan, err := h.directory.CreatePlan(c.Request.Context(), &req)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusCreated, plan)
}

// ListPlans handles GET /api/v1/admin/plans.
func (h *UserHandler) ListPlans(c *gin.Context) {
	plans, err := h.directory.ListPlans(c.Request.Context())
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, plans)
}

// SetPlan handles PUT /api/v1/admin/users/:id/plan.
// An existing subscription takes the new quota and expiry immediately.
func (h *UserHandler) SetPlan(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.UserPlanRequest
	if !bindJSON(c, &req) {
		return
	}

	assignment, err := h.directory.SetUserPlan(c.Request.Context(), userID, &req)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, assignment)
}

// GetGroups handles GET /api/v1/admin/users/:id/groups.
func (h *UserHandler) GetGroups(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}

	groupIDs, err := h.directory.GroupsForUser(c.Request.Context(), userID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, models.UserGroupsRequest{GroupIDs: nonNil(groupIDs)})
}

// SetGroups handles PUT /api/v1/admin/users/:id/groups.
//
// Request body:
//
//	{"group_ids": [1, 2]}
//
// The list replaces the user's membership; an empty list clears it.
func (h *UserHandler) SetGroups(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.UserGroupsRequest
	if !bindJSON(c, &req) {
		return
	}

	groupIDs, err := h.directory.SetUserGroups(c.Request.Context(), userID, req.GroupIDs)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, models.UserGroupsRequest{GroupIDs: nonNil(groupIDs)})
}

// IssueSubscription handles POST /api/v1/admin/users/:id/subscription.
// The user must have a plan. The token is shown only in this response.
func (h *UserHandler) IssueSubscription(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}

	issued, err := h.tokens.IssueToken(c.Request.Context(), userID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusCreated, issued)
}

// GetSubscription handles GET /api/v1/admin/users/:id/subscription.
func (h *UserHandler) GetSubscription(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}

	ent, err := h.tokens.GetSubscription(c.Request.Context(), userID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, statusView(h.subscriptions.Status(ent)))
}

// ResetSubscription handles POST /api/v1/admin/users/:id/subscription/reset.
//
// Request body:
//
//	{"confirm": true}
func (h *UserHandler) ResetSubscription(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.ResetRequest
	if !bindJSON(c, &req) {
		return
	}

	issued, err := h.tokens.ResetToken(c.Request.Context(), userID, req.Confirm)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, issued)
}

// ResetTraffic handles POST /api/v1/admin/users/:id/traffic/reset.
func (h *UserHandler) ResetTraffic(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}

	ent, err := h.ledger.ResetTraffic(c.Request.Context(), userID)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, statusView(h.subscriptions.Status(ent)))
}

// SetBan handles PUT /api/v1/admin/users/:id/ban.
//
// Request body:
//
//	{"banned": true}
func (h *UserHandler) SetBan(c *gin.Context) {
	userID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req models.BanRequest
	if !bindJSON(c, &req) {
		return
	}

	ent, err := h.ledger.SetBanned(c.Request.Context(), userID, req.Banned)
	if err != nil {
		mapErrorToResponse(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, statusView(h.subscriptions.Status(ent)))
}

func nonNil(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
