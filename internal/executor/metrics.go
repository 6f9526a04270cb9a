package executor

// Metrics is a point-in-time snapshot of pool health, shaped for periodic
// scraping.
type Metrics struct {
	PoolSize         int     `json:"pool_size"`
	ActiveWorkflows  int     `json:"active_workflows"`
	AvailableSlots   int     `json:"available_slots"`
	TotalProcessed   int64   `json:"total_workflows_processed"`
	TotalSucceeded   int64   `json:"total_workflows_succeeded"`
	TotalFailed      int64   `json:"total_workflows_failed"`
	AvgWorkflowDurMS float64 `json:"avg_workflow_duration_ms"`
	SuccessRate      float64 `json:"success_rate"`
}

// GetMetrics returns a consistent snapshot of the pool's counters. The
// average duration covers completed workflows only; the success rate is 0
// until the first workflow finishes.
func (p *Pool) GetMetrics() Metrics {
	p.mu.Lock()
	defer p.mu.Unlock()

	m := Metrics{
		PoolSize:        p.cfg.Size(),
		ActiveWorkflows: p.active,
		AvailableSlots:  p.cfg.Size() - p.active,
		TotalProcessed:  p.processed,
		TotalSucceeded:  p.succeeded,
		TotalFailed:     p.failed,
	}
	if p.processed > 0 {
		m.AvgWorkflowDurMS = float64(p.totalDuration.Milliseconds()) / float64(p.processed)
		m.SuccessRate = float64(p.succeeded) / float64(p.processed)
	}
	return m
}
