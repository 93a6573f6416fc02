package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowdesk/referral-pipeline/internal/pipeline/domain"
)

type fakePublisher struct {
	err       error
	published [][]byte
}

func (f *fakePublisher) Publish(_ context.Context, body []byte, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, body)
	return nil
}

type fakeDeadLetterStore struct {
	nextID    int64
	letters   map[int64]domain.AnalyticsDeadLetter
	insertErr error
}

func newFakeDeadLetterStore() *fakeDeadLetterStore {
	return &fakeDeadLetterStore{letters: map[int64]domain.AnalyticsDeadLetter{}}
}

func (f *fakeDeadLetterStore) InsertDeadLetter(_ context.Context, eventType, payload string) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.nextID++
	f.letters[f.nextID] = domain.AnalyticsDeadLetter{ID: f.nextID, EventType: eventType, Payload: payload}
	return nil
}

func (f *fakeDeadLetterStore) ListOldestDeadLetters(_ context.Context, limit int) ([]domain.AnalyticsDeadLetter, error) {
	var out []domain.AnalyticsDeadLetter
	for id := int64(1); id <= f.nextID && len(out) < limit; id++ {
		if letter, ok := f.letters[id]; ok {
			out = append(out, letter)
		}
	}
	return out, nil
}

func (f *fakeDeadLetterStore) DeleteDeadLetter(_ context.Context, id int64) error {
	delete(f.letters, id)
	return nil
}

func newTestRecorder(pub *fakePublisher, store *fakeDeadLetterStore) *Recorder {
	return NewRecorder(pub, store, slog.New(slog.DiscardHandler))
}

func TestRecordPublishes(t *testing.T) {
	pub := &fakePublisher{}
	store := newFakeDeadLetterStore()
	r := newTestRecorder(pub, store)

	r.Record(context.Background(), "friend_reward_issued", map[string]string{"correlation_id": "booking_created:bk-1"})

	require.Len(t, pub.published, 1)
	assert.Empty(t, store.letters)

	var env envelope
	require.NoError(t, json.Unmarshal(pub.published[0], &env))
	assert.Equal(t, "friend_reward_issued", env.EventType)
	assert.False(t, env.RecordedAt.IsZero())
}

func TestRecordFallsBackToDeadLetter(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker unreachable")}
	store := newFakeDeadLetterStore()
	r := newTestRecorder(pub, store)

	r.Record(context.Background(), "booking_attributed", map[string]string{"booking_id": "bk-1"})

	require.Len(t, store.letters, 1)
	assert.Equal(t, "booking_attributed", store.letters[1].EventType)
	assert.Contains(t, store.letters[1].Payload, "bk-1")
}

func TestReplayDeletesDeliveredLeavesFailed(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	store := newFakeDeadLetterStore()
	r := newTestRecorder(pub, store)

	for i := 0; i < 3; i++ {
		r.Record(context.Background(), "customer_ingested", map[string]int{"n": i})
	}
	require.Len(t, store.letters, 3)

	// Broker still down: nothing delivered, nothing lost.
	delivered, err := r.Replay(context.Background(), 10)
	require.NoError(t, err)
	assert.Zero(t, delivered)
	assert.Len(t, store.letters, 3)

	// Broker back: the backlog drains and the rows go away.
	pub.err = nil
	delivered, err = r.Replay(context.Background(), 10)
	require.NoError(t, err)
	assert.Equal(t, 3, delivered)
	assert.Empty(t, store.letters)
	assert.Len(t, pub.published, 3)
}

func TestReplayHonorsBatchSize(t *testing.T) {
	pub := &fakePublisher{err: errors.New("down")}
	store := newFakeDeadLetterStore()
	r := newTestRecorder(pub, store)

	for i := 0; i < 5; i++ {
		r.Record(context.Background(), "customer_ingested", map[string]int{"n": i})
	}

	pub.err = nil
	delivered, err := r.Replay(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, 2, delivered)
	assert.Len(t, store.letters, 3)
}
