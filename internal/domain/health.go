package domain

// ============================================================
// Health & Metrics API Responses
// ============================================================

// HealthStatus is returned by GET /healthz.
type HealthStatus struct {
	Status   string          `json:"status"` // healthy, degraded, unhealthy
	Services []ServiceHealth `json:"services"`
}

// ServiceHealth represents the health of an individual dependency.
type ServiceHealth struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	LatencyMs   int64  `json:"latencyMs"`
	LastChecked string `json:"lastChecked"`
}

// RegistrationMetrics is returned by GET /v1/admin/metrics.
type RegistrationMetrics struct {
	MembersRegistered   int64 `json:"membersRegistered"`
	FriendsRegistered   int64 `json:"friendsRegistered"`
	RegistrationsFailed int64 `json:"registrationsFailed"`
	DuplicatesSame      int64 `json:"duplicatesSameCampaign"`
	DuplicatesCross     int64 `json:"duplicatesCrossCampaign"`
	CapacityRejected    int64 `json:"capacityRejected"`
	ReconcileOK         int64 `json:"reconcileOk"`
	ReconcileFailed     int64 `json:"reconcileFailed"`
}

// ============================================================
// Generic API Response wrappers
// ============================================================

// ListResponse wraps paginated list results.
type ListResponse[T any] struct {
	Data     []T  `json:"data"`
	Total    int  `json:"total"`
	Page     int  `json:"page"`
	PageSize int  `json:"page_size"`
	HasMore  bool `json:"has_more"`
}

// SuccessResponse wraps a successful single-entity response.
type SuccessResponse struct {
	Message string `json:"message"`
	ID      string `json:"id,omitempty"`
}
