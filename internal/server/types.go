package server

import (
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/models"
	"github.com/aman-zulfiqar/solana-privacy-benchmark/internal/realtime"
)

// ErrorResponse represents a standardized error response format
type ErrorResponse struct {
	Error   string `json:"error"`             // Human-readable error message
	Code    int    `json:"code"`              // HTTP status code
	Details any    `json:"details,omitempty"` // Additional error details (dev mode only)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	OK     bool              `json:"ok"`               // Service health status
	Checks map[string]string `json:"checks,omitempty"` // Per-dependency status
}

// MatchesRecentResponse lists the newest reported matches
type MatchesRecentResponse struct {
	Items []*models.Match `json:"items"`
}

// ProtocolsResponse lists per-protocol analyzer statistics
type ProtocolsResponse struct {
	Items []realtime.ProtocolStats `json:"items"`
}

// DepositsResponse lists indexed deposits sharing one amount
type DepositsResponse struct {
	Protocol string           `json:"protocol"`
	Amount   uint64           `json:"amount"`
	Count    int              `json:"count"`
	Items    []models.Deposit `json:"items"`
}

// FlagUpsertRequest represents a request to create or update a detector flag
type FlagUpsertRequest struct {
	Key   string `json:"key"`   // Flag key: "<protocol>.<match type>", "<protocol>" or "<match type>"
	Value bool   `json:"value"` // Whether the detector runs
}

// FlagUpdateRequest represents a request to update an existing detector flag
type FlagUpdateRequest struct {
	Value bool `json:"value"` // New flag value
}
