package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/dvloznov/subscription-tracker/internal/api/middleware"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/logger"
	"github.com/dvloznov/subscription-tracker/internal/scheduler"
)

// SubscriptionService is the engine surface the HTTP layer needs.
type SubscriptionService interface {
	RunDetection(ctx context.Context, userID string) ([]domain.Subscription, error)
	List(ctx context.Context, userID string) ([]domain.Subscription, error)
	DueSoon(ctx context.Context, userID string, days int) ([]domain.Subscription, error)
	RefreshAndDueSoon(ctx context.Context, userID string, days int) ([]domain.Subscription, error)
	Ignore(ctx context.Context, subscriptionID, userID string) (*domain.Subscription, error)
	AuditLog(ctx context.Context, userID string, limit int) ([]domain.AuditEntry, error)
}

// SubscriptionsHandler handles subscription endpoints.
type SubscriptionsHandler struct {
	svc SubscriptionService
}

// NewSubscriptionsHandler creates a new subscriptions handler.
func NewSubscriptionsHandler(svc SubscriptionService) *SubscriptionsHandler {
	return &SubscriptionsHandler{svc: svc}
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		middleware.WriteError(w, http.StatusUnauthorized, "User ID is required")
	}
	return userID, ok
}

func fail(w http.ResponseWriter, r *http.Request, userID, op string, err error) {
	log := logger.ForUser(r.Context(), userID, op)
	if middleware.StatusFor(err) >= http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	} else {
		log.Debug().Err(err).Msg("request rejected")
	}
	middleware.WriteDomainError(w, err)
}

// Detect handles POST /api/subscriptions/detect
func (h *SubscriptionsHandler) Detect(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	subs, err := h.svc.RunDetection(r.Context(), userID)
	if err != nil {
		fail(w, r, userID, "runDetection", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, subs)
}

// List handles GET /api/subscriptions
func (h *SubscriptionsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	subs, err := h.svc.List(r.Context(), userID)
	if err != nil {
		fail(w, r, userID, "list", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, subs)
}

// DueSoon handles GET /api/subscriptions/due-soon?days=N[&refresh=true]
func (h *SubscriptionsHandler) DueSoon(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	query := r.URL.Query()
	days := scheduler.DefaultDays
	if raw := query.Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "days must be an integer")
			return
		}
		days = n
	}

	refresh, _ := strconv.ParseBool(query.Get("refresh"))

	var (
		subs []domain.Subscription
		err  error
	)
	if refresh {
		subs, err = h.svc.RefreshAndDueSoon(r.Context(), userID, days)
	} else {
		subs, err = h.svc.DueSoon(r.Context(), userID, days)
	}
	if err != nil {
		fail(w, r, userID, "dueSoon", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, subs)
}

// Ignore handles PUT /api/subscriptions/{id}/ignore
func (h *SubscriptionsHandler) Ignore(w http.ResponseWriter, r *http.Request, subscriptionID string) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	sub, err := h.svc.Ignore(r.Context(), subscriptionID, userID)
	if err != nil {
		fail(w, r, userID, "ignore", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sub)
}

// Audit handles GET /api/subscriptions/audit?limit=N
func (h *SubscriptionsHandler) Audit(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "limit must be an integer")
			return
		}
		limit = n
	}

	entries, err := h.svc.AuditLog(r.Context(), userID, limit)
	if err != nil {
		fail(w, r, userID, "auditLog", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// ParseIgnorePath extracts the id from /api/subscriptions/{id}/ignore.
func ParseIgnorePath(path string) (string, bool) {
	rest := strings.TrimPrefix(path, "/api/subscriptions/")
	if rest == path {
		return "", false
	}
	id, ok := strings.CutSuffix(rest, "/ignore")
	if !ok || id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}
