package oracle

import (
	"context"

	"github.com/perpmind/perpmind/internal/models"
)

// Oracle proposes trading decisions from a full state snapshot. Its output
// is untrusted: every decision is revalidated before execution.
type Oracle interface {
	Decide(ctx context.Context, req *DecideRequest) (*DecisionSet, error)
}

// DecideRequest is the state snapshot handed to the oracle each cycle.
type DecideRequest struct {
	Account   *models.AccountInfo        `json:"account"`
	Market    []models.MarketData        `json:"market"`
	Feedback  *models.HistoricalFeedback `json:"feedback"`
	Positions []models.Position          `json:"positions"`
}

// DecisionSet is the oracle's answer: zero or more proposed decisions plus
// the raw reasoning text that produced them.
type DecisionSet struct {
	Decisions      []models.TradingDecision `json:"decisions"`
	ChainOfThought string                   `json:"chain_of_thought,omitempty"`
}
