package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"baysebatch/internal/core/domain"
	"baysebatch/internal/core/ports"
	"baysebatch/internal/metrics"
)

// RetrieverConfig controls result polling.
type RetrieverConfig struct {
	// SleepTime is the wait before each re-poll.
	SleepTime time.Duration
	// MaxRetries is the number of re-polls after the first status check.
	MaxRetries int
}

// Retriever polls for completed interpretations and appends their results to sink.
type Retriever struct {
	api     ports.Interpreter
	sink    ports.LineSink
	sleeper ports.Sleeper
	metrics *metrics.Recorder
	logger  *log.Logger
	cfg     RetrieverConfig
}

// NewRetriever creates a new Retriever.
func NewRetriever(
	api ports.Interpreter,
	sink ports.LineSink,
	sleeper ports.Sleeper,
	rec *metrics.Recorder,
	logger *log.Logger,
	cfg RetrieverConfig,
) *Retriever {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Retriever{
		api:     api,
		sink:    sink,
		sleeper: sleeper,
		metrics: rec,
		logger:  logger,
		cfg:     cfg,
	}
}

// ParseIdentifier extracts request_id from one identifier-file line.
func ParseIdentifier(line string) (string, error) {
	var rec domain.IdentifierRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		return "", &domain.MalformedInputError{Input: line, Err: err}
	}
	id := strings.TrimSpace(rec.RequestID)
	if id == "" {
		return "", &domain.MalformedInputError{Input: line, Err: errors.New("missing request_id")}
	}
	return id, nil
}

// Run saves the result for every identifier in lines, in order.
// Per-identifier failures are logged and counted; only context cancellation stops the run early.
func (r *Retriever) Run(ctx context.Context, lines []string) (*domain.SaveSummary, error) {
	runID := uuid.New().String()
	summary := &domain.SaveSummary{RunID: runID, StartedAt: time.Now().UTC()}
	logger := r.logger.With("run", runID)
	defer func() { summary.CompletedAt = time.Now().UTC() }()

	for i, line := range lines {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		summary.Total++

		id, err := ParseIdentifier(line)
		if err != nil {
			logger.Error("Failed to read request id. Skipping", "line", i+1, "err", err)
			r.metrics.SkippedLine("save")
			summary.Malformed++
			summary.Failures = append(summary.Failures, domain.ItemFailure{Item: line, Err: err})
			continue
		}

		logger.Info("Attempting to save", "request_id", id)
		err = r.SaveResult(ctx, id)
		if err == nil {
			summary.Saved++
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return summary, ctxErr
		}

		logger.Error("Failed to save result. Skipping", "request_id", id, "err", err)
		summary.Failures = append(summary.Failures, domain.ItemFailure{Item: id, Err: err})
		var exhausted *domain.RetryExhaustedError
		if errors.As(err, &exhausted) {
			summary.Exhausted++
		} else {
			summary.Failed++
		}
	}

	logger.Info("Finished batch saving results",
		"saved", summary.Saved, "failed", summary.Failed, "exhausted", summary.Exhausted, "malformed", summary.Malformed)
	return summary, nil
}

// SaveResult waits for requestID to complete, then appends its result as one JSON line.
// The first status check is followed by at most MaxRetries re-polls spaced SleepTime apart.
// Any status error ends polling immediately and nothing is fetched.
func (r *Retriever) SaveResult(ctx context.Context, requestID string) error {
	logger := r.logger.With("request_id", requestID)

	status, err := r.poll(ctx, requestID)
	if err != nil {
		return err
	}

	checks := 1
	for retries := 0; !status.Ready() && retries < r.cfg.MaxRetries; retries++ {
		if err := r.sleeper.Sleep(ctx, r.cfg.SleepTime); err != nil {
			return err
		}
		status, err = r.poll(ctx, requestID)
		checks++
		if err != nil {
			return err
		}
		if !status.Ready() {
			logger.Info("Result not yet ready", "retry_in", r.cfg.SleepTime, "retries_left", r.cfg.MaxRetries-retries-1)
		}
	}
	if !status.Ready() {
		return &domain.RetryExhaustedError{RequestID: requestID, Attempts: checks}
	}

	body, err := r.api.FetchResult(ctx, requestID)
	if err != nil {
		return fmt.Errorf("fetch result: %w", err)
	}

	var line bytes.Buffer
	if err := json.Compact(&line, body); err != nil {
		return &domain.MalformedInputError{Input: requestID, Err: fmt.Errorf("decode result: %w", err)}
	}
	if err := r.sink.WriteLine(line.Bytes()); err != nil {
		return fmt.Errorf("save result: %w", err)
	}

	r.metrics.ResultSaved()
	logger.Info("Saved result")
	return nil
}

func (r *Retriever) poll(ctx context.Context, requestID string) (domain.Status, error) {
	status, err := r.api.CheckStatus(ctx, requestID)
	if err == nil {
		err = status.Check(requestID, status.String())
	}

	var remoteErr *domain.RemoteStatusError
	if err == nil || errors.As(err, &remoteErr) {
		r.metrics.StatusPoll(status)
	} else {
		r.metrics.PollError()
	}
	if err != nil {
		return status, fmt.Errorf("check status: %w", err)
	}
	r.logger.Debug("Polled status", "request_id", requestID, "status", status)
	return status, nil
}
