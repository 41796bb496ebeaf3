package orchestrator

import "sync"

// Metrics tracks cycle outcomes
type Metrics struct {
	mu                 sync.RWMutex
	CyclesRun          int64 `json:"cycles_run"`
	CyclesAborted      int64 `json:"cycles_aborted"`
	DecisionsProposed  int64 `json:"decisions_proposed"`
	DecisionsRejected  int64 `json:"decisions_rejected"`
	OrdersExecuted     int64 `json:"orders_executed"`
	OrderFailures      int64 `json:"order_failures"`
	SafetyNetCloses    int64 `json:"safety_net_closes"`
	OracleFailures     int64 `json:"oracle_failures"`
}

func (m *Metrics) IncrementCycles() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CyclesRun++
}

func (m *Metrics) IncrementAborted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CyclesAborted++
}

func (m *Metrics) AddProposed(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DecisionsProposed += int64(n)
}

func (m *Metrics) IncrementRejected() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DecisionsRejected++
}

func (m *Metrics) IncrementExecuted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OrdersExecuted++
}

func (m *Metrics) IncrementOrderFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OrderFailures++
}

func (m *Metrics) IncrementSafetyNetCloses() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SafetyNetCloses++
}

func (m *Metrics) IncrementOracleFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OracleFailures++
}

func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		CyclesRun:         m.CyclesRun,
		CyclesAborted:     m.CyclesAborted,
		DecisionsProposed: m.DecisionsProposed,
		DecisionsRejected: m.DecisionsRejected,
		OrdersExecuted:    m.OrdersExecuted,
		OrderFailures:     m.OrderFailures,
		SafetyNetCloses:   m.SafetyNetCloses,
		OracleFailures:    m.OracleFailures,
	}
}
