package models

// RunReport is the outcome of one scrape run. The orchestrator always
// returns one, whether the run succeeded, degraded or aborted.
type RunReport struct {
	// RunID identifies the run in logs and webhook events.
	RunID string `json:"run_id"`

	// Success is true when the listing was extracted and persisted, even
	// if it is empty.
	Success bool `json:"success"`

	// Chain is the chain the run targeted.
	Chain string `json:"chain"`

	// TargetURL is the listing URL built from the request.
	TargetURL string `json:"target_url"`

	// FinalURL is the document URL at extraction time.
	FinalURL string `json:"final_url,omitempty"`

	// Output is the persistence target the contracts were written to.
	Output string `json:"output"`

	// Contracts is the deduplicated, sorted list of contract identifiers.
	Contracts []string `json:"contracts"`

	// ChallengeState is the terminal state of the challenge resolver:
	// "none", "resolved" or "unresolved".
	ChallengeState string `json:"challenge_state"`

	// ManualFallback is true when the run waited for operator confirmation.
	ManualFallback bool `json:"manual_fallback,omitempty"`

	// FetchMethod records how the page was obtained: "browser" or "http".
	FetchMethod string `json:"fetch_method"`

	// Warnings lists soft conditions (load timeout, release failure...).
	Warnings []ErrorDetail `json:"warnings,omitempty"`

	// Timing provides duration breakdowns for the run.
	Timing TimingInfo `json:"timing"`

	// CacheStatus indicates whether the report was served from cache.
	// Values: "hit", "miss", or empty (caching not requested).
	CacheStatus string `json:"cache_status,omitempty"`

	// Error is populated only when Success is false.
	Error *ErrorDetail `json:"error,omitempty"`
}

// Warn records a soft condition on the report.
func (r *RunReport) Warn(code, message string) {
	r.Warnings = append(r.Warnings, ErrorDetail{Code: code, Message: message})
}

// Fail marks the run as failed with err.
func (r *RunReport) Fail(err *ScrapeError) {
	r.Success = false
	r.Error = err.ToDetail()
}

// TimingInfo breaks down the time spent in each phase.
type TimingInfo struct {
	// TotalMs is the end-to-end duration in milliseconds.
	TotalMs int64 `json:"total_ms"`

	// LoadMs is the time spent navigating and waiting for the ready signal.
	LoadMs int64 `json:"load_ms"`

	// ChallengeMs is the time spent in the challenge resolver, including
	// any manual wait.
	ChallengeMs int64 `json:"challenge_ms"`
}

// ChallengeStatusResponse is the response for GET /api/v1/challenge.
type ChallengeStatusResponse struct {
	// Pending is true while a run is suspended waiting for the operator.
	Pending bool `json:"pending"`

	// Prompt is the message shown to the operator for the pending challenge.
	Prompt string `json:"prompt,omitempty"`

	// Since is the RFC 3339 time the wait started.
	Since string `json:"since,omitempty"`

	Error *ErrorDetail `json:"error,omitempty"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status     string `json:"status"` // "idle" or "running"
	Uptime     string `json:"uptime"`
	RunsServed int64  `json:"runs_served"`
	Version    string `json:"version"`
}

// ErrorResponse is returned when a request is rejected before any run
// starts (authentication, rate limiting, malformed body).
type ErrorResponse struct {
	Success bool         `json:"success"`
	Error   *ErrorDetail `json:"error"`
}
