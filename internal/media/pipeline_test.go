package media

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryArtifactStore struct {
	mu        sync.Mutex
	artifacts map[uuid.UUID]*Artifact
	// rejectCanceled makes every call fail on an already-canceled context,
	// the way pgx does.
	rejectCanceled bool
}

func newMemoryArtifactStore(artifacts ...*Artifact) *memoryArtifactStore {
	s := &memoryArtifactStore{artifacts: make(map[uuid.UUID]*Artifact)}
	for _, a := range artifacts {
		s.artifacts[a.ID] = a
	}
	return s
}

func (s *memoryArtifactStore) ClaimPending(ctx context.Context, limit int) ([]Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectCanceled && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var claimed []Artifact
	for _, a := range s.artifacts {
		if len(claimed) >= limit {
			break
		}
		if a.Status == StatusPending {
			a.Status = StatusProcessing
			claimed = append(claimed, *a)
		}
	}
	return claimed, nil
}

func (s *memoryArtifactStore) MarkDone(ctx context.Context, id uuid.UUID, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectCanceled && ctx.Err() != nil {
		return ctx.Err()
	}
	a, ok := s.artifacts[id]
	if !ok || a.Status != StatusProcessing {
		return ErrNotProcessing
	}
	a.Status = StatusDone
	a.Content = content
	return nil
}

func (s *memoryArtifactStore) MarkFailure(ctx context.Context, id uuid.UUID, errMsg string, maxAttempts int) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rejectCanceled && ctx.Err() != nil {
		return "", ctx.Err()
	}
	a, ok := s.artifacts[id]
	if !ok || a.Status != StatusProcessing {
		return "", ErrNotProcessing
	}
	a.AttemptCount++
	a.LastError = errMsg
	if a.AttemptCount >= maxAttempts {
		a.Status = StatusFailed
	} else {
		a.Status = StatusPending
	}
	return a.Status, nil
}

func (s *memoryArtifactStore) get(id uuid.UUID) Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.artifacts[id]
}

type fakeTranscriber struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, _ []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return "", errors.New("stt backend unavailable")
	}
	return "hello from voice note", nil
}

type staticFetcher struct{ data []byte }

func (f staticFetcher) Fetch(_ context.Context, _ string) ([]byte, error) {
	return f.data, nil
}

func pendingArtifact(kind Kind) *Artifact {
	return &Artifact{
		ID:        uuid.New(),
		MessageID: "msg-1",
		Kind:      kind,
		Location:  "s3://media/blob",
		Status:    StatusPending,
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatal("condition not reached in time")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestPipelineProcessesVoice(t *testing.T) {
	a := pendingArtifact(KindVoice)
	store := newMemoryArtifactStore(a)

	p := NewPipeline(store, staticFetcher{data: []byte("ogg bytes")}, nil).
		WithTranscriber(&fakeTranscriber{}).
		WithInterval(10 * time.Millisecond).
		WithMaxAttempts(3)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Wait() }()

	waitFor(t, 2*time.Second, func() bool { return store.get(a.ID).Status == StatusDone })
	assert.Equal(t, "hello from voice note", string(store.get(a.ID).Content))
}

func TestPipelineRetriesThenSucceeds(t *testing.T) {
	a := pendingArtifact(KindVoice)
	store := newMemoryArtifactStore(a)
	transcriber := &fakeTranscriber{failures: 2}

	p := NewPipeline(store, staticFetcher{}, nil).
		WithTranscriber(transcriber).
		WithInterval(10 * time.Millisecond).
		WithMaxAttempts(5)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Wait() }()

	waitFor(t, 2*time.Second, func() bool { return store.get(a.ID).Status == StatusDone })
	got := store.get(a.ID)
	assert.Equal(t, 2, got.AttemptCount)
}

func TestPipelineFailsPermanentlyAtMaxAttempts(t *testing.T) {
	a := pendingArtifact(KindVoice)
	store := newMemoryArtifactStore(a)
	transcriber := &fakeTranscriber{failures: 100}

	p := NewPipeline(store, staticFetcher{}, nil).
		WithTranscriber(transcriber).
		WithInterval(10 * time.Millisecond).
		WithMaxAttempts(3)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Wait() }()

	waitFor(t, 2*time.Second, func() bool { return store.get(a.ID).Status == StatusFailed })
	got := store.get(a.ID)
	assert.Equal(t, 3, got.AttemptCount)
	assert.Contains(t, got.LastError, "stt backend unavailable")

	// Terminal: no further transitions even if the loop keeps polling.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StatusFailed, store.get(a.ID).Status)
	assert.Equal(t, 3, store.get(a.ID).AttemptCount)
}

// blockingTranscriber holds its artifact until the context is canceled,
// standing in for an extraction interrupted by shutdown mid-batch.
type blockingTranscriber struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingTranscriber) Transcribe(ctx context.Context, _ []byte) (string, error) {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return "", ctx.Err()
}

func TestPipelineFinishesClaimedArtifactAfterCancel(t *testing.T) {
	a := pendingArtifact(KindVoice)
	store := newMemoryArtifactStore(a)
	store.rejectCanceled = true
	transcriber := &blockingTranscriber{started: make(chan struct{})}

	p := NewPipeline(store, staticFetcher{}, nil).
		WithTranscriber(transcriber).
		WithInterval(10 * time.Millisecond).
		WithMaxAttempts(3)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	select {
	case <-transcriber.started:
	case <-time.After(time.Second):
		t.Fatal("artifact was never claimed")
	}
	cancel()
	p.Wait()

	// The claimed artifact must leave processing even though the shutdown
	// context can no longer carry a store write; here it reverts to pending
	// for a retry on the next run.
	got := store.get(a.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 1, got.AttemptCount)
	assert.Contains(t, got.LastError, "context canceled")
}

func TestPipelineMissingHandlerFails(t *testing.T) {
	a := pendingArtifact(KindImage)
	store := newMemoryArtifactStore(a)

	p := NewPipeline(store, staticFetcher{}, nil).
		WithInterval(10 * time.Millisecond).
		WithMaxAttempts(1)

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	defer func() { cancel(); p.Wait() }()

	waitFor(t, 2*time.Second, func() bool { return store.get(a.ID).Status == StatusFailed })
	require.Contains(t, store.get(a.ID).LastError, "no vision analyzer")
}
