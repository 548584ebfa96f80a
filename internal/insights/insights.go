// Package insights turns a user's subscriptions into a short natural-language
// spending summary using a generative model.
package insights

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/dvloznov/subscription-tracker/internal/domain"
	"github.com/dvloznov/subscription-tracker/internal/logger"
	"github.com/shopspring/decimal"
)

// ErrDisabled is returned when no model provider is configured.
var ErrDisabled = errors.New("insights disabled")

// Summarizer sends a prompt to a model and returns its text answer.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Summary is the answer returned to callers.
type Summary struct {
	UserID       string          `json:"user_id"`
	Provider     string          `json:"provider"`
	Text         string          `json:"text"`
	ActiveCount  int             `json:"active_count"`
	MonthlyTotal decimal.Decimal `json:"monthly_total"`
	Cached       bool            `json:"cached"`
	GeneratedAt  time.Time       `json:"generated_at"`
}

// Service caches model answers by the hash of their prompt, so a summary is
// reused until the subscriptions it describes change.
type Service struct {
	summarizer Summarizer
	cache      *ristretto.Cache
	now        func() time.Time
}

// NewService creates a Service whose cache holds up to maxCost bytes of text.
func NewService(summarizer Summarizer, maxCost int64) (*Service, error) {
	if summarizer == nil {
		return nil, ErrDisabled
	}
	if maxCost <= 0 {
		maxCost = 1 << 20
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("NewService: creating cache: %w", err)
	}
	return &Service{summarizer: summarizer, cache: cache, now: time.Now}, nil
}

// Close releases the cache.
func (s *Service) Close() {
	s.cache.Close()
}

// Summarize describes the user's ACTIVE subscriptions.
func (s *Service) Summarize(ctx context.Context, userID string, subs []domain.Subscription) (*Summary, error) {
	log := logger.ForUser(ctx, userID, "insights")

	active := activeSorted(subs)
	summary := &Summary{
		UserID:       userID,
		Provider:     s.summarizer.Name(),
		ActiveCount:  len(active),
		MonthlyTotal: MonthlyTotal(active),
		GeneratedAt:  s.now().UTC(),
	}
	if len(active) == 0 {
		summary.Text = "No active subscriptions."
		return summary, nil
	}

	prompt := BuildPrompt(active)
	key := cacheKey(s.summarizer.Name(), prompt)
	if v, ok := s.cache.Get(key); ok {
		if text, ok := v.(string); ok {
			log.Debug().Msg("insights cache hit")
			summary.Text = text
			summary.Cached = true
			return summary, nil
		}
	}

	text, err := s.summarizer.Summarize(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("Summarize: %s: %w", s.summarizer.Name(), err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("Summarize: %s: empty response from model", s.summarizer.Name())
	}

	s.cache.Set(key, text, int64(len(text)))
	s.cache.Wait()

	log.Info().Str("provider", s.summarizer.Name()).Int("active", len(active)).Msg("insights generated")
	summary.Text = text
	return summary, nil
}

// MonthlyTotal sums the average amounts of subs.
func MonthlyTotal(subs []domain.Subscription) decimal.Decimal {
	total := decimal.Zero
	for _, s := range subs {
		total = total.Add(s.AvgAmount)
	}
	return total
}

// BuildPrompt renders the model prompt for a list of ACTIVE subscriptions.
func BuildPrompt(active []domain.Subscription) string {
	var b strings.Builder
	b.WriteString("You are a personal finance assistant.\n")
	b.WriteString("The user has the following recurring monthly charges:\n\n")
	for _, s := range active {
		fmt.Fprintf(&b, "- %s: %s per month, last paid %s, next due %s\n",
			s.Merchant, s.AvgAmount.StringFixed(2), s.LastPaidDate, s.NextDueDate)
	}
	fmt.Fprintf(&b, "\nTotal: %s per month.\n\n", MonthlyTotal(active).StringFixed(2))
	b.WriteString("In at most four sentences, summarize this spending, point out the largest ")
	b.WriteString("charges and anything due in the next week, and suggest one saving. ")
	b.WriteString("Reply with plain text only.")
	return b.String()
}

func activeSorted(subs []domain.Subscription) []domain.Subscription {
	out := make([]domain.Subscription, 0, len(subs))
	for _, s := range subs {
		if s.IsActive() {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].NextDueDate.Compare(out[j].NextDueDate); c != 0 {
			return c < 0
		}
		return out[i].MerchantKey() < out[j].MerchantKey()
	})
	return out
}

func cacheKey(provider, prompt string) string {
	sum := sha256.Sum256([]byte(provider + "\n" + prompt))
	return hex.EncodeToString(sum[:])
}
