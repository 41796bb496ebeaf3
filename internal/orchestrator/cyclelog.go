package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/perpmind/perpmind/internal/models"
	"github.com/perpmind/perpmind/internal/risk"
)

// ExecutionRecord captures what happened to one proposed decision.
type ExecutionRecord struct {
	Decision models.TradingDecision  `json:"decision"`
	Admitted bool                    `json:"admitted"`
	Skipped  string                  `json:"skipped,omitempty"`
	Result   *models.ExecutionResult `json:"result,omitempty"`
}

// CycleReport is the structured artifact written at the end of every cycle.
type CycleReport struct {
	CycleID        string                   `json:"cycle_id"`
	StartedAt      time.Time                `json:"started_at"`
	FinishedAt     time.Time                `json:"finished_at"`
	Aborted        bool                     `json:"aborted,omitempty"`
	AbortReason    string                   `json:"abort_reason,omitempty"`
	Account        *models.AccountInfo      `json:"account,omitempty"`
	Market         []models.MarketData      `json:"market,omitempty"`
	Decisions      []models.TradingDecision `json:"decisions,omitempty"`
	ChainOfThought string                   `json:"chain_of_thought,omitempty"`
	Executions     []ExecutionRecord        `json:"executions,omitempty"`
	GateMetrics    risk.GateMetrics         `json:"gate_metrics"`
}

// writeCycleReport persists the report as one JSON file per cycle. An empty
// dir disables the artifact.
func writeCycleReport(dir string, report *CycleReport) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cycle log directory: %w", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cycle report: %w", err)
	}

	name := fmt.Sprintf("cycle_%s_%s.json", report.StartedAt.UTC().Format("20060102T150405"), report.CycleID[:8])
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write cycle report: %w", err)
	}
	return nil
}
