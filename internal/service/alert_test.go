package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/septivank/medimind-backend/internal/apperr"
	"github.com/septivank/medimind-backend/internal/db"
	"github.com/septivank/medimind-backend/internal/mq"
	"github.com/septivank/medimind-backend/internal/repository"
	"github.com/septivank/medimind-backend/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakePublisher struct {
	mu   sync.Mutex
	err  error
	keys []string
	docs [][]byte
}

func (p *fakePublisher) PublishJSON(_ context.Context, routingKey string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.keys = append(p.keys, routingKey)
	p.docs = append(p.docs, body)
	return nil
}

func newTestAlertService(pub Publisher, store AlertStore) *AlertService {
	svc := NewAlertService(pub, store, testNamespace, zap.NewNop())
	svc.now = func() time.Time { return testNow }
	return svc
}

func TestPublishAlert_PublishesThenRecords(t *testing.T) {
	pub := &fakePublisher{}
	store := repository.NewMemoryStore()
	svc := newTestAlertService(pub, store)

	require.NoError(t, svc.PublishAlert(context.Background(), "dev1", "Time to take your medicine"))

	require.Len(t, pub.keys, 1)
	assert.Equal(t, "medibox.dev1.alert", pub.keys[0])

	var payload telemetry.AlertPayload
	require.NoError(t, json.Unmarshal(pub.docs[0], &payload))
	assert.Equal(t, "Time to take your medicine", payload.Message)
	assert.Equal(t, testNow.UnixMilli(), payload.Timestamp)

	alerts, err := store.ListAlertsByDevice(context.Background(), "dev1", 10)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Sent)
	assert.Equal(t, "Time to take your medicine", alerts[0].Message)
}

func TestPublishAlert_DisconnectedRecordsNothing(t *testing.T) {
	pub := &fakePublisher{err: mq.ErrNotConnected}
	store := repository.NewMemoryStore()
	svc := newTestAlertService(pub, store)

	err := svc.PublishAlert(context.Background(), "dev1", "hello")
	assert.ErrorIs(t, err, apperr.ErrBrokerUnavailable)
	assert.Equal(t, 0, store.AlertCount("dev1"))
}

type failingAlertStore struct {
	*repository.MemoryStore
}

func (failingAlertStore) InsertAlert(context.Context, *db.Alert) (*db.Alert, error) {
	return nil, apperr.ErrStorageUnavailable
}

func TestPublishAlert_RecordFailureAfterPublishPropagates(t *testing.T) {
	pub := &fakePublisher{}
	svc := newTestAlertService(pub, failingAlertStore{repository.NewMemoryStore()})

	err := svc.PublishAlert(context.Background(), "dev1", "hello")
	assert.ErrorIs(t, err, apperr.ErrStorageUnavailable)
	assert.Len(t, pub.keys, 1, "the device already has the alert")
}

func TestPublishAlert_RequiresDevice(t *testing.T) {
	pub := &fakePublisher{}
	svc := newTestAlertService(pub, repository.NewMemoryStore())

	err := svc.PublishAlert(context.Background(), " ", "hello")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, pub.keys)
}
