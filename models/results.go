package models

import "time"

// ExecutionStatus is the terminal state of one (market, source) execution.
type ExecutionStatus string

const (
	ExecutionStatusSuccess ExecutionStatus = "Success"
	ExecutionStatusError   ExecutionStatus = "Error"
)

// ScraperResults summarizes one source run against one market.
// Invariant once finalized: TotalVehicles == ValidVehicles + SkippedVehicles.
type ScraperResults struct {
	Success          bool             `json:"success"`
	ExecutionStatus  ExecutionStatus  `json:"executionStatus"`
	ExecutionMessage string           `json:"executionMessage"`
	TotalVehicles    int              `json:"totalVehicles"`
	SkippedVehicles  int              `json:"skippedVehicles"`
	ValidVehicles    int              `json:"validVehicles"`
	Results          []ScrapedVehicle `json:"results"`
}

// ErrorResults builds a failed ScraperResults preserving the triggering
// error message.
func ErrorResults(err error) ScraperResults {
	return ScraperResults{
		Success:          false,
		ExecutionStatus:  ExecutionStatusError,
		ExecutionMessage: err.Error(),
		Results:          []ScrapedVehicle{},
	}
}

// ExecutionResult is one row per (market, source) pair, accumulated by the
// run orchestrator and returned to the caller for reporting and upload.
type ExecutionResult struct {
	ExecutionID      int             `json:"executionId"`
	MarketID         int             `json:"marketId"`
	Script           string          `json:"script"`
	Success          bool            `json:"success"`
	StartedAt        time.Time       `json:"startedAt"`
	EndedAt          time.Time       `json:"endedAt"`
	ExecutionStatus  ExecutionStatus `json:"executionStatus"`
	ExecutionMessage string          `json:"executionMessage"`
	TotalVehicles    int             `json:"totalVehicles"`
	SkippedVehicles  int             `json:"skippedVehicles"`
	ValidVehicles    int             `json:"validVehicles"`
	ResultsLink      string          `json:"resultsLink"`
}
