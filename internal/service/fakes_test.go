package service

import (
	"context"
	"sync"
	"time"

	"baysebatch/internal/core/domain"
)

type statusReply struct {
	status domain.Status
	err    error
}

// fakeAPI replays canned replies in order and records every call.
type fakeAPI struct {
	mu sync.Mutex

	submitErrs  []error // indexed by call; missing or nil means 200
	submitBody  []byte  // returned on 200 when set
	submitCalls []domain.Submission

	statuses    []statusReply // replayed in order; the last reply repeats
	statusCalls []string

	result     []byte
	resultErr  error
	fetchCalls []string
}

func (f *fakeAPI) Submit(_ context.Context, s domain.Submission) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.submitCalls)
	f.submitCalls = append(f.submitCalls, s)
	if n < len(f.submitErrs) && f.submitErrs[n] != nil {
		return nil, f.submitErrs[n]
	}
	if f.submitBody != nil {
		return f.submitBody, nil
	}
	return []byte(`{"request_id":"` + s.URL + `"}` + "\n"), nil
}

func (f *fakeAPI) CheckStatus(_ context.Context, requestID string) (domain.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, requestID)
	if len(f.statuses) == 0 {
		return domain.StatusComplete, nil
	}
	idx := min(len(f.statusCalls)-1, len(f.statuses)-1)
	reply := f.statuses[idx]
	return reply.status, reply.err
}

func (f *fakeAPI) FetchResult(_ context.Context, requestID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls = append(f.fetchCalls, requestID)
	if f.resultErr != nil {
		return nil, f.resultErr
	}
	if f.result != nil {
		return f.result, nil
	}
	return []byte("{\n  \"request_id\": \"" + requestID + "\"\n}"), nil
}

type memSink struct {
	lines  []string
	err    error
	closed bool
}

func (m *memSink) WriteLine(line []byte) error {
	if m.err != nil {
		return m.err
	}
	m.lines = append(m.lines, string(line))
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

// recordingSleeper returns immediately and remembers each requested duration.
type recordingSleeper struct {
	slept []time.Duration
	// cancel, when set, is called on the sleep whose index equals cancelAt.
	cancel   context.CancelFunc
	cancelAt int
}

func (r *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	r.slept = append(r.slept, d)
	if r.cancel != nil && len(r.slept)-1 == r.cancelAt {
		r.cancel()
	}
	return ctx.Err()
}
