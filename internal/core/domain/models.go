package domain

import (
	"strings"
	"time"
)

// DefaultSourceTag is attached to submissions when no trial tag is configured.
const DefaultSourceTag = "pc_feed"

// Submission is one URL queued for interpretation.
type Submission struct {
	URL  string   `json:"url"`
	Tags []string `json:"tags"`
}

// InterpretationRequest is the body sent to the interpretation endpoint.
type InterpretationRequest struct {
	URL                   string   `json:"url"`
	GetScreenshot         bool     `json:"getScreenshot"`
	AllDestinationDetails bool     `json:"allDestinationDetails"`
	Tags                  []string `json:"tags"`
}

// NewInterpretationRequest builds the request body for a submission.
func NewInterpretationRequest(s Submission) InterpretationRequest {
	return InterpretationRequest{
		URL:                   s.URL,
		GetScreenshot:         true,
		AllDestinationDetails: true,
		Tags:                  s.Tags,
	}
}

// IdentifierRecord is one line of the intermediate identifier file.
type IdentifierRecord struct {
	RequestID string `json:"request_id"`
}

// Status is the readiness of a remote interpretation, derived from a single poll.
type Status int

const (
	StatusUnknown Status = iota
	StatusInProgress
	StatusComplete
	StatusFailed
)

// ParseStatus maps the remote status string.
func ParseStatus(s string) Status {
	switch strings.TrimSpace(s) {
	case "Complete":
		return StatusComplete
	case "In Progress":
		return StatusInProgress
	case "Failed":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "complete"
	case StatusInProgress:
		return "in_progress"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Check returns a *RemoteStatusError for anything other than Complete or In Progress.
// raw is the status string as the API reported it.
func (s Status) Check(requestID, raw string) error {
	switch s {
	case StatusComplete, StatusInProgress:
		return nil
	default:
		return &RemoteStatusError{RequestID: requestID, Status: raw}
	}
}

// Ready reports whether the result can be fetched.
func (s Status) Ready() bool { return s == StatusComplete }

// ItemFailure records why one line or identifier was dropped.
type ItemFailure struct {
	Item string
	Err  error
}

// SubmitSummary holds the outcome of a submission run.
type SubmitSummary struct {
	RunID       string
	Accepted    int // lines that looked like URLs
	Skipped     int // lines rejected by input validation
	Submitted   int // submissions that returned 200
	Failed      int
	RateLimited int
	FinalDelay  time.Duration
	Failures    []ItemFailure
	StartedAt   time.Time
	CompletedAt time.Time
}

// SaveSummary holds the outcome of a result-retrieval run.
type SaveSummary struct {
	RunID       string
	Total       int
	Saved       int
	Failed      int
	Malformed   int
	Exhausted   int
	Failures    []ItemFailure
	StartedAt   time.Time
	CompletedAt time.Time
}
