package models

import "time"

// PerformanceMetrics are process-wide running counters. Averages cover successful queries.
type PerformanceMetrics struct {
	TotalQueries          int64     `json:"total_queries"`
	SuccessfulQueries     int64     `json:"successful_queries"`
	FailedQueries         int64     `json:"failed_queries"`
	TotalTokensUsed       int64     `json:"total_tokens_used"`
	AverageProcessingTime float64   `json:"average_processing_time_ms"`
	AverageConfidence     float64   `json:"average_confidence"`
	LastQueryTime         time.Time `json:"last_query_time,omitempty"`
	StartTime             time.Time `json:"start_time"`
}

// EmbeddingStats reports embedding cache and provider usage.
type EmbeddingStats struct {
	Provider      string `json:"provider"`
	CacheSize     int    `json:"cache_size"`
	CacheCapacity int    `json:"cache_capacity"`
	CacheHits     int64  `json:"cache_hits"`
	CacheMisses   int64  `json:"cache_misses"`
	ProviderCalls int64  `json:"provider_calls"`
}

// Stats is the aggregate snapshot returned to callers.
type Stats struct {
	Metrics       PerformanceMetrics `json:"metrics"`
	UptimeSeconds float64            `json:"uptime_seconds"`
	SuccessRate   float64            `json:"success_rate"`
	HistorySize   int                `json:"history_size"`
	HistoryCap    int                `json:"history_cap"`
	Embedding     EmbeddingStats     `json:"embedding"`
	Fragments     int                `json:"fragments"`
}
