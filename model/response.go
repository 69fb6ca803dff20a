package model

import "time"

// LimitInfo describes the sliding window that denied a request
type LimitInfo struct {
	Max           int `json:"max" example:"15"`
	WindowMinutes int `json:"windowMinutes" example:"15"`
}

// QuotaInfo describes the cumulative quota that denied a request
type QuotaInfo struct {
	Used         int    `json:"used" example:"20"`
	Limit        int    `json:"limit" example:"20"`
	ContactEmail string `json:"contactEmail" example:"support@airivu.com"`
}

// ErrorResponse is the body of every error. The window and quota fields are
// set only on the matching denial.
type ErrorResponse struct {
	Error             string     `json:"error" example:"rate_limit_exceeded"`
	Message           string     `json:"message,omitempty"`
	RetryAfterSeconds int        `json:"retryAfterSeconds,omitempty" example:"900"`
	Limit             *LimitInfo `json:"limit,omitempty"`
	ErrorCode         string     `json:"errorCode,omitempty" example:"QUOTA_EXCEEDED"`
	Quota             *QuotaInfo `json:"quota,omitempty"`
}

// SuccessResponse represents a generic success message
type SuccessResponse struct {
	Message string `json:"message" example:"Operation completed successfully"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string        `json:"status" example:"ok"`
	Redis     string        `json:"redis" example:"connected"`
	Backend   string        `json:"backend" example:"file+redis"`
	LastFlush time.Time     `json:"lastFlush,omitempty"`
	LastError string        `json:"lastError,omitempty"`
	Pending   int           `json:"pendingEvents"`
	Mirror    *MirrorHealth `json:"mirror,omitempty"`
	Cache     *CacheHealth  `json:"cache,omitempty"`
}

// MirrorHealth reports the secondary backend of a mirror
type MirrorHealth struct {
	Degraded bool `json:"degraded"`
	Backlog  int  `json:"backlog"`
}

// CacheHealth reports analytics cache performance
type CacheHealth struct {
	Hits     uint64  `json:"hits" example:"1234"`
	Misses   uint64  `json:"misses" example:"56"`
	HitRatio float64 `json:"hitRatio" example:"0.957"`
}
