package metrics

import (
	"sync"

	"github.com/gateway-fm/stps/pkg/types"
)

// RunState is the current run as served by the HTTP API. Writers are the CLI
// command driving the run; readers are HTTP handlers.
type RunState struct {
	mu   sync.RWMutex
	resp types.StatusResponse
	prom *PrometheusMetrics
}

// NewRunState returns an idle state. prom may be nil.
func NewRunState(prom *PrometheusMetrics) *RunState {
	s := &RunState{resp: types.StatusResponse{Status: types.StatusIdle}, prom: prom}
	if prom != nil {
		prom.SetRunStatus(types.StatusIdle)
	}
	return s
}

// Begin starts tracking a new run.
func (s *RunState) Begin(runID string, target uint64) {
	s.mu.Lock()
	s.resp = types.StatusResponse{RunID: runID, Status: types.StatusIdle, Target: target}
	s.mu.Unlock()
}

// SetStatus moves the run to status.
func (s *RunState) SetStatus(status types.RunStatus) {
	s.mu.Lock()
	s.resp.Status = status
	s.mu.Unlock()
	if s.prom != nil {
		s.prom.SetRunStatus(status)
	}
}

// SetProgress records the latest submission progress sample.
func (s *RunState) SetProgress(p types.ProgressSample) {
	s.mu.Lock()
	s.resp.Progress = &p
	s.mu.Unlock()
}

// SetMetrics records the final submission metrics.
func (s *RunState) SetMetrics(m types.RunMetrics) {
	s.mu.Lock()
	s.resp.Metrics = &m
	s.mu.Unlock()
}

// SetSummary records the throughput summary.
func (s *RunState) SetSummary(sum types.TPSSummary) {
	s.mu.Lock()
	s.resp.Summary = &sum
	s.mu.Unlock()
}

// Fail moves the run to the error status with err.
func (s *RunState) Fail(err error) {
	s.mu.Lock()
	s.resp.Error = err.Error()
	s.mu.Unlock()
	s.SetStatus(types.StatusError)
}

// Status returns a snapshot of the run.
func (s *RunState) Status() types.StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()
	resp := s.resp
	if resp.Progress != nil {
		p := *resp.Progress
		resp.Progress = &p
	}
	if resp.Metrics != nil {
		m := *resp.Metrics
		resp.Metrics = &m
	}
	if resp.Summary != nil {
		sum := *resp.Summary
		resp.Summary = &sum
	}
	return resp
}
