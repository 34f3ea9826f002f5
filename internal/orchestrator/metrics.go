package orchestrator

import (
	"sync"
	"time"

	"github.com/hyperjump/kotae/internal/models"
)

// metrics keeps running counters. Averages cover successful queries and are
// updated incrementally: avg = (avg*(n-1) + v) / n.
type metrics struct {
	mu sync.Mutex
	m  models.PerformanceMetrics
}

func newMetrics(start time.Time) *metrics {
	return &metrics{m: models.PerformanceMetrics{StartTime: start}}
}

func (m *metrics) recordSuccess(at time.Time, processingMs int64, confidence float64, tokens int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m.TotalQueries++
	m.m.SuccessfulQueries++
	m.m.TotalTokensUsed += int64(tokens)
	n := float64(m.m.SuccessfulQueries)
	m.m.AverageProcessingTime = (m.m.AverageProcessingTime*(n-1) + float64(processingMs)) / n
	m.m.AverageConfidence = (m.m.AverageConfidence*(n-1) + confidence) / n
	m.m.LastQueryTime = at
}

func (m *metrics) recordFailure(at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m.TotalQueries++
	m.m.FailedQueries++
	m.m.LastQueryTime = at
}

func (m *metrics) snapshot() models.PerformanceMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m
}

func (m *metrics) reset(start time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.m = models.PerformanceMetrics{StartTime: start}
}
