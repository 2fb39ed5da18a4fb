// Package service runs the two batch flows: submitting URLs and saving finished results.
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

const previewSize = 5

// SubmitterConfig holds the tagging and pacing settings for a submission run.
type SubmitterConfig struct {
	DefaultTags []string
	// SourceTag is appended to DefaultTags; empty means domain.DefaultSourceTag.
	SourceTag       string
	PacingDelay     time.Duration
	PacingIncrement time.Duration
	RateLimitPause  time.Duration
}

// Submitter sends URLs to the interpretation endpoint one at a time.
type Submitter struct {
	api     ports.Interpreter
	sink    ports.LineSink
	sleeper ports.Sleeper
	metrics *metrics.Recorder
	logger  *log.Logger
	cfg     SubmitterConfig
}

// NewSubmitter creates a new Submitter. Raw response bodies go to sink.
func NewSubmitter(
	api ports.Interpreter,
	sink ports.LineSink,
	sleeper ports.Sleeper,
	rec *metrics.Recorder,
	logger *log.Logger,
	cfg SubmitterConfig,
) *Submitter {
	return &Submitter{
		api:     api,
		sink:    sink,
		sleeper: sleeper,
		metrics: rec,
		logger:  logger,
		cfg:     cfg,
	}
}

// FilterURLs keeps lines that start with "http". Blank lines are dropped silently;
// every other rejected line comes back as a *domain.MalformedInputError naming its line number.
func FilterURLs(lines []string) ([]string, []domain.ItemFailure) {
	var urls []string
	var skipped []domain.ItemFailure
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "http") {
			skipped = append(skipped, domain.ItemFailure{
				Item: line,
				Err:  &domain.MalformedInputError{Input: line, Err: fmt.Errorf("line %d is not a url", i+1)},
			})
			continue
		}
		urls = append(urls, line)
	}
	return urls, skipped
}

// Tags returns the tag set attached to every submission of the run.
func (s *Submitter) Tags() []string {
	tag := strings.TrimSpace(s.cfg.SourceTag)
	if tag == "" {
		tag = domain.DefaultSourceTag
	}
	tags := make([]string, 0, len(s.cfg.DefaultTags)+1)
	tags = append(tags, s.cfg.DefaultTags...)
	return append(tags, tag)
}

// Run validates lines and submits each accepted URL exactly once.
// Per-URL failures are logged and counted; only context cancellation stops the run early.
func (s *Submitter) Run(ctx context.Context, lines []string) (*domain.SubmitSummary, error) {
	runID := uuid.New().String()
	summary := &domain.SubmitSummary{RunID: runID, StartedAt: time.Now().UTC()}
	tags := s.Tags()
	logger := s.logger.With("run", runID)

	urls, skipped := FilterURLs(lines)
	for _, f := range skipped {
		logger.Warn("Skipping line due to incorrect format", "line", f.Item, "err", f.Err)
		s.metrics.SkippedLine("submit")
	}
	summary.Accepted = len(urls)
	summary.Skipped = len(skipped)
	summary.Failures = append(summary.Failures, skipped...)

	logger.Info("Processing URLs", "count", len(urls), "tags", tags)
	if len(urls) > 0 {
		logger.Info("First inputs to process", "urls", urls[:min(previewSize, len(urls))])
	}

	pacer := NewPacer(s.cfg.PacingDelay, s.cfg.PacingIncrement)
	s.metrics.Delay(pacer.Delay())
	defer func() {
		summary.FinalDelay = pacer.Delay()
		summary.CompletedAt = time.Now().UTC()
	}()

	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		if err := s.submitOne(ctx, logger, pacer, domain.Submission{URL: u, Tags: tags}, summary); err != nil {
			return summary, err
		}

		if i == len(urls)-1 {
			break
		}
		if err := s.sleeper.Sleep(ctx, pacer.Delay()); err != nil {
			return summary, err
		}
	}

	logger.Info("Finished batch processing URLs",
		"submitted", summary.Submitted, "failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

// submitOne only returns an error when the run must stop.
func (s *Submitter) submitOne(
	ctx context.Context,
	logger *log.Logger,
	pacer *Pacer,
	sub domain.Submission,
	summary *domain.SubmitSummary,
) error {
	logger = logger.With("url", sub.URL)
	logger.Info("Processing")

	body, err := s.api.Submit(ctx, sub)
	if err == nil {
		if werr := s.sink.WriteLine(oneLine(body)); werr != nil {
			logger.Error("Failed to record request id", "err", werr)
			s.fail(summary, sub.URL, werr, "write_error")
			return nil
		}
		summary.Submitted++
		s.metrics.Submission("ok")
		return nil
	}

	var httpErr *domain.HTTPError
	if !errors.As(err, &httpErr) {
		logger.Error("Issue with submission. Skipping", "err", err)
		s.fail(summary, sub.URL, err, "transport_error")
		return nil
	}

	logger.Error("Submission FAILED", "status", httpErr.StatusCode, "body", httpErr.Body)
	s.fail(summary, sub.URL, err, "http_error")
	if !httpErr.RateLimited() {
		return nil
	}

	summary.RateLimited++
	s.metrics.RateLimit()
	logger.Warn("Rate limited, pausing to give the API a break", "pause", s.cfg.RateLimitPause)
	if err := s.sleeper.Sleep(ctx, s.cfg.RateLimitPause); err != nil {
		return err
	}
	delay := pacer.Backoff()
	s.metrics.Delay(delay)
	logger.Info("Increased pacing delay", "delay", delay)
	return nil
}

// oneLine compacts a JSON body onto a single line. Anything else has its line breaks
// folded into spaces so the record still occupies exactly one line.
func oneLine(body []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err == nil {
		return buf.Bytes()
	}
	folded := bytes.TrimSpace(body)
	folded = bytes.ReplaceAll(folded, []byte("\r\n"), []byte(" "))
	folded = bytes.ReplaceAll(folded, []byte("\n"), []byte(" "))
	return bytes.ReplaceAll(folded, []byte("\r"), []byte(" "))
}

func (s *Submitter) fail(summary *domain.SubmitSummary, item string, err error, outcome string) {
	summary.Failed++
	summary.Failures = append(summary.Failures, domain.ItemFailure{Item: item, Err: err})
	s.metrics.Submission(outcome)
}
