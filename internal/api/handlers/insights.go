package handlers

import (
	"context"
	"net/http"

	"github.com/dvloznov/subscription-tracker/internal/api/middleware"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/insights"
)

// Summarizer produces an insights summary for a subscription list.
type Summarizer interface {
	Summarize(ctx context.Context, userID string, subs []domain.Subscription) (*insights.Summary, error)
}

// InsightsHandler handles GET /api/subscriptions/insights.
type InsightsHandler struct {
	subs       SubscriptionService
	summarizer Summarizer
}

// NewInsightsHandler creates an insights handler. A nil summarizer makes the
// endpoint answer 503.
func NewInsightsHandler(subs SubscriptionService, summarizer Summarizer) *InsightsHandler {
	return &InsightsHandler{subs: subs, summarizer: summarizer}
}

// Get handles GET /api/subscriptions/insights
func (h *InsightsHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if h.summarizer == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Insights are not configured")
		return
	}

	subs, err := h.subs.List(r.Context(), userID)
	if err != nil {
		fail(w, r, userID, "insights", err)
		return
	}

	summary, err := h.summarizer.Summarize(r.Context(), userID, subs)
	if err != nil {
		fail(w, r, userID, "insights", err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, summary)
}
