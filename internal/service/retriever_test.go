package service

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"baysebatch/internal/adapters/localstorage"
	"baysebatch/internal/core/domain"
	"baysebatch/internal/logging"
	"baysebatch/internal/metrics"
)

var (
	inProgress = statusReply{status: domain.StatusInProgress}
	complete   = statusReply{status: domain.StatusComplete}
	failed     = statusReply{
		status: domain.StatusFailed,
		err:    &domain.RemoteStatusError{RequestID: "abc", Status: "Failed"},
	}
)

func newTestRetriever(api *fakeAPI, sink *memSink, sleeper *recordingSleeper) *Retriever {
	return NewRetriever(api, sink, sleeper, nil, logging.Discard(), RetrieverConfig{
		SleepTime:  10 * time.Second,
		MaxRetries: 8,
	})
}

func TestParseIdentifier(t *testing.T) {
	id, err := ParseIdentifier(`{"request_id": "abc", "extra": 1}`)
	if err != nil || id != "abc" {
		t.Fatalf("ParseIdentifier = %q, %v", id, err)
	}

	for _, line := range []string{`not json`, `{"request_id": ""}`, `{"id": "abc"}`} {
		_, err := ParseIdentifier(line)
		var malformed *domain.MalformedInputError
		if !errors.As(err, &malformed) {
			t.Fatalf("ParseIdentifier(%q) error = %v, want *domain.MalformedInputError", line, err)
		}
	}
}

func TestSaveResult_ReadyOnFirstCheck(t *testing.T) {
	api := &fakeAPI{statuses: []statusReply{complete}}
	sink := &memSink{}
	sleeper := &recordingSleeper{}

	if err := newTestRetriever(api, sink, sleeper).SaveResult(context.Background(), "abc"); err != nil {
		t.Fatalf("SaveResult returned error: %v", err)
	}
	if len(api.statusCalls) != 1 || len(api.fetchCalls) != 1 || len(sink.lines) != 1 {
		t.Fatalf("status=%d fetch=%d lines=%d, want 1/1/1", len(api.statusCalls), len(api.fetchCalls), len(sink.lines))
	}
	if sink.lines[0] != `{"request_id":"abc"}` {
		t.Fatalf("line = %q, want compact JSON", sink.lines[0])
	}
	if len(sleeper.slept) != 0 {
		t.Fatalf("slept = %v, want no sleeps", sleeper.slept)
	}
}

func TestSaveResult_PollsUntilReady(t *testing.T) {
	api := &fakeAPI{statuses: []statusReply{inProgress, inProgress, complete}}
	sink := &memSink{}
	sleeper := &recordingSleeper{}

	if err := newTestRetriever(api, sink, sleeper).SaveResult(context.Background(), "abc"); err != nil {
		t.Fatalf("SaveResult returned error: %v", err)
	}
	if len(api.statusCalls) != 3 || len(api.fetchCalls) != 1 || len(sink.lines) != 1 {
		t.Fatalf("status=%d fetch=%d lines=%d, want 3/1/1", len(api.statusCalls), len(api.fetchCalls), len(sink.lines))
	}
	if len(sleeper.slept) != 2 || sleeper.slept[0] != 10*time.Second {
		t.Fatalf("slept = %v, want two 10s sleeps", sleeper.slept)
	}
}

func TestSaveResult_ErrorNeverFetches(t *testing.T) {
	cases := map[string][]statusReply{
		"first check":   {failed},
		"after retries": {inProgress, inProgress, failed},
		"http error": {{
			status: domain.StatusUnknown,
			err:    &domain.HTTPError{Op: "check status", StatusCode: http.StatusBadGateway, Body: "bad gateway"},
		}},
		"transport error": {{
			status: domain.StatusUnknown,
			err:    &domain.TransportError{Op: "check status", Err: errors.New("reset")},
		}},
		"unknown without error": {{status: domain.StatusUnknown}},
	}
	for name, replies := range cases {
		t.Run(name, func(t *testing.T) {
			api := &fakeAPI{statuses: replies}
			sink := &memSink{}

			err := newTestRetriever(api, sink, &recordingSleeper{}).SaveResult(context.Background(), "abc")
			if err == nil {
				t.Fatalf("SaveResult returned nil error")
			}
			if len(api.fetchCalls) != 0 || len(sink.lines) != 0 {
				t.Fatalf("fetch=%d lines=%d, want none", len(api.fetchCalls), len(sink.lines))
			}
			if len(api.statusCalls) != len(replies) {
				t.Fatalf("status calls = %d, want %d", len(api.statusCalls), len(replies))
			}
		})
	}
}

func TestSaveResult_ExhaustsRetries(t *testing.T) {
	api := &fakeAPI{statuses: []statusReply{inProgress}}
	sink := &memSink{}
	sleeper := &recordingSleeper{}
	rec := metrics.NewRecorder(prometheus.NewRegistry())
	r := NewRetriever(api, sink, sleeper, rec, logging.Discard(), RetrieverConfig{SleepTime: time.Second, MaxRetries: 8})

	err := r.SaveResult(context.Background(), "abc")
	var exhausted *domain.RetryExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("SaveResult error = %v, want *domain.RetryExhaustedError", err)
	}
	if exhausted.Attempts != 9 {
		t.Fatalf("Attempts = %d, want 9", exhausted.Attempts)
	}
	if len(api.statusCalls) != 9 || len(sleeper.slept) != 8 {
		t.Fatalf("status calls = %d, sleeps = %d, want 9 and 8", len(api.statusCalls), len(sleeper.slept))
	}
	if len(api.fetchCalls) != 0 || len(sink.lines) != 0 {
		t.Fatalf("fetch=%d lines=%d, want none", len(api.fetchCalls), len(sink.lines))
	}
	if got := testutil.ToFloat64(rec.StatusPolls.WithLabelValues("in_progress")); got != 9 {
		t.Fatalf("in_progress polls = %v, want 9", got)
	}
}

func TestSaveResult_PollMetricsSeparateErrorsFromStatuses(t *testing.T) {
	rec := metrics.NewRecorder(prometheus.NewRegistry())
	api := &fakeAPI{statuses: []statusReply{{
		status: domain.StatusUnknown,
		err:    &domain.TransportError{Op: "check status", Err: errors.New("reset")},
	}}}
	r := NewRetriever(api, &memSink{}, &recordingSleeper{}, rec, logging.Discard(), RetrieverConfig{MaxRetries: 8})
	if err := r.SaveResult(context.Background(), "abc"); err == nil {
		t.Fatalf("SaveResult returned nil error")
	}

	api.statuses = []statusReply{failed}
	api.statusCalls = nil
	if err := r.SaveResult(context.Background(), "abc"); err == nil {
		t.Fatalf("SaveResult returned nil error")
	}

	if got := testutil.ToFloat64(rec.StatusPolls.WithLabelValues("error")); got != 1 {
		t.Fatalf("error polls = %v, want 1", got)
	}
	if got := testutil.ToFloat64(rec.StatusPolls.WithLabelValues("unknown")); got != 0 {
		t.Fatalf("unknown polls = %v, want 0", got)
	}
	if got := testutil.ToFloat64(rec.StatusPolls.WithLabelValues("failed")); got != 1 {
		t.Fatalf("failed polls = %v, want 1", got)
	}
}

func TestSaveResult_FetchFailureWritesNothing(t *testing.T) {
	api := &fakeAPI{resultErr: &domain.HTTPError{Op: "fetch result", StatusCode: http.StatusInternalServerError}}
	sink := &memSink{}

	if err := newTestRetriever(api, sink, &recordingSleeper{}).SaveResult(context.Background(), "abc"); err == nil {
		t.Fatalf("SaveResult returned nil error")
	}
	if len(sink.lines) != 0 {
		t.Fatalf("lines = %q, want none", sink.lines)
	}
}

func TestSaveResult_UndecodableResult(t *testing.T) {
	api := &fakeAPI{result: []byte("<html>")}
	sink := &memSink{}

	err := newTestRetriever(api, sink, &recordingSleeper{}).SaveResult(context.Background(), "abc")
	var malformed *domain.MalformedInputError
	if !errors.As(err, &malformed) {
		t.Fatalf("SaveResult error = %v, want *domain.MalformedInputError", err)
	}
	if len(sink.lines) != 0 {
		t.Fatalf("lines = %q, want none", sink.lines)
	}
}

func TestRetrieverRun_SingleRecordScenario(t *testing.T) {
	api := &fakeAPI{statuses: []statusReply{inProgress, inProgress, complete}}
	sink := &memSink{}

	summary, err := newTestRetriever(api, sink, &recordingSleeper{}).Run(context.Background(), []string{`{"request_id": "abc"}`})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(api.statusCalls) != 3 || len(api.fetchCalls) != 1 || len(sink.lines) != 1 {
		t.Fatalf("status=%d fetch=%d lines=%d, want 3/1/1", len(api.statusCalls), len(api.fetchCalls), len(sink.lines))
	}
	if summary.Saved != 1 || summary.Total != 1 {
		t.Fatalf("summary = %+v", summary)
	}
}

func TestRetrieverRun_ClassifiesFailures(t *testing.T) {
	api := &fakeAPI{statuses: []statusReply{inProgress}}
	sink := &memSink{}
	r := NewRetriever(api, sink, &recordingSleeper{}, nil, logging.Discard(), RetrieverConfig{MaxRetries: 1})

	lines := []string{"", `garbage`, `{"request_id": "slow"}`, "   "}
	summary, err := r.Run(context.Background(), lines)
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if summary.Total != 2 || summary.Malformed != 1 || summary.Exhausted != 1 || summary.Saved != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if len(summary.Failures) != 2 {
		t.Fatalf("failures = %v, want 2", summary.Failures)
	}
}

func TestRetrieverRun_StopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	api := &fakeAPI{statuses: []statusReply{inProgress}}
	sleeper := &recordingSleeper{cancel: cancel, cancelAt: 0}

	summary, err := newTestRetriever(api, &memSink{}, sleeper).Run(ctx, []string{`{"request_id":"a"}`, `{"request_id":"b"}`})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if len(api.statusCalls) != 1 || summary.Failed != 0 {
		t.Fatalf("status calls = %d, summary = %+v", len(api.statusCalls), summary)
	}
}

func TestRetrieverRun_AppendsAcrossRuns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.json")

	for _, ids := range [][]string{{`{"request_id":"a"}`}, {`{"request_id":"b"}`, `{"request_id":"c"}`}} {
		sink, err := localstorage.OpenAppend(path)
		if err != nil {
			t.Fatalf("OpenAppend returned error: %v", err)
		}
		r := NewRetriever(&fakeAPI{}, sink, &recordingSleeper{}, nil, logging.Discard(), RetrieverConfig{MaxRetries: 8})
		if _, err := r.Run(context.Background(), ids); err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
		if err := sink.Close(); err != nil {
			t.Fatalf("Close returned error: %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	got := strings.Split(strings.TrimSpace(string(data)), "\n")
	want := []string{`{"request_id":"a"}`, `{"request_id":"b"}`, `{"request_id":"c"}`}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("results = %q, want %q", got, want)
	}
}

func TestContextSleeper(t *testing.T) {
	var s ContextSleeper
	if err := s.Sleep(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("Sleep returned error: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Sleep(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("Sleep on cancelled ctx = %v, want context.Canceled", err)
	}
}
