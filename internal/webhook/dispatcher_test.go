package webhook

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync"
	"testing"
	"time"

	"roadside-dispatch/internal/data/entity"
	"roadside-dispatch/pkg/metrics"
	"roadside-dispatch/pkg/utils"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeIntegrations struct {
	mu           sync.Mutex
	integrations map[Recipient]*entity.Integration
	logs         map[uuid.UUID][]*entity.DeliveryLog
	nextID       int64
}

func newFakeIntegrations() *fakeIntegrations {
	return &fakeIntegrations{
		integrations: make(map[Recipient]*entity.Integration),
		logs:         make(map[uuid.UUID][]*entity.DeliveryLog),
	}
}

func (f *fakeIntegrations) add(to Recipient, url, format string) *entity.Integration {
	f.mu.Lock()
	defer f.mu.Unlock()
	in := &entity.Integration{
		Base:          entity.NewBase(time.Now()),
		OwnerType:     to.Type,
		OwnerID:       to.ID,
		WebhookURL:    url,
		Secret:        "whsec_test",
		PayloadFormat: format,
		IsActive:      true,
	}
	f.integrations[to] = in
	return in
}

func (f *fakeIntegrations) FindActiveByOwner(_ context.Context, ownerType entity.RecipientType, ownerID uuid.UUID) (*entity.Integration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.integrations[Recipient{Type: ownerType, ID: ownerID}]
	if !ok || !in.IsActive {
		return nil, nil
	}
	return in, nil
}

func (f *fakeIntegrations) AppendLog(_ context.Context, entry *entity.DeliveryLog, keep int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	entry.ID = f.nextID
	logs := append(f.logs[entry.IntegrationID], entry)
	if len(logs) > keep {
		logs = logs[len(logs)-keep:]
	}
	f.logs[entry.IntegrationID] = logs
	return nil
}

func (f *fakeIntegrations) ListLogs(_ context.Context, integrationID uuid.UUID) ([]*entity.DeliveryLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]*entity.DeliveryLog(nil), f.logs[integrationID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func newTestDispatcher(repo *fakeIntegrations, timeout time.Duration) *Dispatcher {
	cfg := utils.WebhookConfig{Timeout: timeout, LogSize: 3, Workers: 2, ResponseExcerpt: 16}
	return NewDispatcher(repo, nil, cfg, metrics.Nop(), zap.NewNop())
}

func testTask(to Recipient) Task {
	bookingID := uuid.MustParse("7c1d1c8e-3a55-4a47-8d2e-0d5b0f5f2a11")
	return Task{
		Recipient:  to,
		Event:      "booking.created",
		BookingID:  &bookingID,
		OccurredAt: time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC),
		Data:       json.RawMessage(`{"bookingNumber":"BRK-20250301-ABC123"}`),
	}
}

type captured struct {
	header http.Header
	body   []byte
}

func captureServer(t *testing.T, status int) (*httptest.Server, <-chan captured) {
	t.Helper()
	ch := make(chan captured, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ch <- captured{header: r.Header.Clone(), body: body}
		w.WriteHeader(status)
		_, _ = w.Write([]byte("received and accepted by the receiver"))
	}))
	t.Cleanup(srv.Close)
	return srv, ch
}

func TestDeliverDefaultFormatSigned(t *testing.T) {
	repo := newFakeIntegrations()
	srv, got := captureServer(t, http.StatusOK)
	to := UserRecipient(uuid.New())
	in := repo.add(to, srv.URL, "default")

	d := newTestDispatcher(repo, time.Second)
	entry := d.Deliver(context.Background(), testTask(to))

	require.NotNil(t, entry)
	assert.True(t, entry.Success)
	assert.Equal(t, http.StatusOK, entry.StatusCode)
	assert.Len(t, entry.ResponseExcerpt, 16)

	req := <-got
	assert.Equal(t, "booking.created", req.header.Get(HeaderEvent))
	assert.True(t, VerifySignature(in.Secret, req.header.Get(HeaderTimestamp), req.body, req.header.Get(HeaderSignature)))

	var body map[string]any
	require.NoError(t, json.Unmarshal(req.body, &body))
	assert.Equal(t, "booking.created", body["event"])
	assert.Equal(t, "2025-03-01T09:30:00Z", body["timestamp"])
	assert.Equal(t, map[string]any{"bookingNumber": "BRK-20250301-ABC123"}, body["data"])

	logs, _ := repo.ListLogs(context.Background(), in.ID)
	assert.Len(t, logs, 1)
}

func TestDeliverLegacyFormat(t *testing.T) {
	repo := newFakeIntegrations()
	srv, got := captureServer(t, http.StatusAccepted)
	to := GarageRecipient(uuid.New())
	repo.add(to, srv.URL, "legacy")

	d := newTestDispatcher(repo, time.Second)
	entry := d.Deliver(context.Background(), testTask(to))
	require.NotNil(t, entry)
	assert.True(t, entry.Success)

	var body map[string]any
	require.NoError(t, json.Unmarshal((<-got).body, &body))
	assert.Equal(t, "booking.created", body["event_type"])
	assert.Equal(t, "7c1d1c8e-3a55-4a47-8d2e-0d5b0f5f2a11", body["booking_id"])
	assert.Equal(t, float64(time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC).Unix()), body["sent_at"])
	assert.NotContains(t, body, "event")
}

func TestDeliverWithoutIntegrationIsNoop(t *testing.T) {
	d := newTestDispatcher(newFakeIntegrations(), time.Second)
	assert.Nil(t, d.Deliver(context.Background(), testTask(UserRecipient(uuid.New()))))
}

func TestDeliverUnreachableEndpointIsLogged(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	repo := newFakeIntegrations()
	to := UserRecipient(uuid.New())
	in := repo.add(to, url, "default")

	d := newTestDispatcher(repo, time.Second)
	var entry *entity.DeliveryLog
	assert.NotPanics(t, func() { entry = d.Deliver(context.Background(), testTask(to)) })

	require.NotNil(t, entry)
	assert.False(t, entry.Success)
	assert.Zero(t, entry.StatusCode)
	assert.NotEmpty(t, entry.Error)

	logs, _ := repo.ListLogs(context.Background(), in.ID)
	require.Len(t, logs, 1)
	assert.False(t, logs[0].Success)
}

func TestDeliverTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	repo := newFakeIntegrations()
	to := UserRecipient(uuid.New())
	repo.add(to, srv.URL, "default")

	d := newTestDispatcher(repo, 50*time.Millisecond)
	start := time.Now()
	entry := d.Deliver(context.Background(), testTask(to))

	require.NotNil(t, entry)
	assert.False(t, entry.Success)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDeliverNon2xx(t *testing.T) {
	repo := newFakeIntegrations()
	srv, _ := captureServer(t, http.StatusInternalServerError)
	to := UserRecipient(uuid.New())
	repo.add(to, srv.URL, "default")

	entry := newTestDispatcher(repo, time.Second).Deliver(context.Background(), testTask(to))
	require.NotNil(t, entry)
	assert.False(t, entry.Success)
	assert.Equal(t, http.StatusInternalServerError, entry.StatusCode)
	assert.Contains(t, entry.Error, "500")
}

func TestDeliveryLogKeepsNewest(t *testing.T) {
	repo := newFakeIntegrations()
	srv, _ := captureServer(t, http.StatusOK)
	to := UserRecipient(uuid.New())
	in := repo.add(to, srv.URL, "default")

	d := newTestDispatcher(repo, time.Second)
	var last *entity.DeliveryLog
	for i := 0; i < 5; i++ {
		last = d.Deliver(context.Background(), testTask(to))
	}

	logs, _ := repo.ListLogs(context.Background(), in.ID)
	require.Len(t, logs, 3)
	assert.Equal(t, last.ID, logs[0].ID)
}

func TestEmitRunsThroughQueue(t *testing.T) {
	repo := newFakeIntegrations()
	srv, got := captureServer(t, http.StatusOK)
	to := UserRecipient(uuid.New())
	repo.add(to, srv.URL, "default")

	queue := NewInProcessQueue(NewWatermillLogger(zap.NewNop()))
	defer queue.Close()

	cfg := utils.WebhookConfig{Timeout: time.Second, LogSize: 3, Workers: 2, ResponseExcerpt: 64}
	d := NewDispatcher(repo, queue.Publisher, cfg, metrics.Nop(), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- d.Run(ctx, queue.Subscriber) }()

	// the in-process queue drops messages published before the subscription exists
	require.Eventually(t, func() bool {
		d.Emit(context.Background(), to, Event{Type: "booking.updated", Data: map[string]string{"status": "confirmed"}})
		select {
		case req := <-got:
			return req.header.Get(HeaderEvent) == "booking.updated"
		case <-time.After(50 * time.Millisecond):
			return false
		}
	}, 3*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-runErr:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}

func TestEmitToNilRecipientIsIgnored(t *testing.T) {
	d := newTestDispatcher(newFakeIntegrations(), time.Second)
	// nil publisher would panic if Emit tried to publish
	assert.NotPanics(t, func() {
		d.Emit(context.Background(), Recipient{Type: entity.RecipientGarage}, Event{Type: "booking.created"})
	})
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"event":"booking.created"}`)
	header := SignatureHeader("s3cret", "1700000000", body)

	assert.True(t, VerifySignature("s3cret", "1700000000", body, header))
	assert.False(t, VerifySignature("other", "1700000000", body, header))
	assert.False(t, VerifySignature("s3cret", "1700000001", body, header))
	assert.False(t, VerifySignature("s3cret", "1700000000", []byte(`{}`), header))
	assert.False(t, VerifySignature("s3cret", "1700000000", body, "md5=abc"))
	assert.False(t, VerifySignature("s3cret", "1700000000", body, "sha256=zz"))
}

func TestFormatFor(t *testing.T) {
	assert.IsType(t, LegacyFormat{}, FormatFor("legacy"))
	assert.IsType(t, DefaultFormat{}, FormatFor("default"))
	assert.IsType(t, DefaultFormat{}, FormatFor("something-else"))
}
