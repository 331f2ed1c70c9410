package domain

// EngineMetrics is the cumulative view served by GET /api/v1/metrics/engine.
type EngineMetrics struct {
	Evaluations         int64                        `json:"evaluations"`
	PartialEvaluations  int64                        `json:"partial_evaluations"`
	MandatesEvaluated   int64                        `json:"mandates_evaluated"`
	MandatesRejected    int64                        `json:"mandates_rejected"`
	AvgEvaluationMs     float64                      `json:"avg_evaluation_ms"`
	Recommendations     map[RecommendationKind]int64 `json:"recommendations"`
	CacheHitRate        float64                      `json:"cache_hit_rate"`
	StoreErrors         int64                        `json:"store_errors"`
	CollectionsRecorded int64                        `json:"collections_recorded"`
	Period              string                       `json:"period"`
}
