package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"launch-helpdesk/internal/models"
	"launch-helpdesk/internal/notify"
	"launch-helpdesk/internal/payload"
)

type fakePayload struct {
	files    []string
	cleanups int
}

func (p *fakePayload) Contact() payload.Description {
	return payload.Description{Email: "user@example.com", Phone: "+100200300", Description: "robot does not start"}
}

func (p *fakePayload) Files() ([]string, error) { return p.files, nil }

func (p *fakePayload) Path(name string) string { return "/staging/" + name }

func (p *fakePayload) Cleanup() error {
	p.cleanups++
	return nil
}

type fakeFetcher struct {
	payload *fakePayload
	err     error
}

func (f *fakeFetcher) Fetch(context.Context, string, string) (Payload, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.payload, nil
}

type attachment struct {
	id         models.TicketID
	name, path string
}

type fakeBackend struct {
	mu          sync.Mutex
	requests    []models.TicketRequest
	createErr   error
	attachErr   map[string]error
	attachments []attachment
}

func (b *fakeBackend) CreateTicket(_ context.Context, req models.TicketRequest) (models.TicketID, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, req)
	if b.createErr != nil {
		return 0, b.createErr
	}
	return 101, nil
}

func (b *fakeBackend) CreateNoteWithAttachment(_ context.Context, id models.TicketID, name, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attachments = append(b.attachments, attachment{id, name, path})
	return b.attachErr[name]
}

type capturePublisher struct {
	events []any
}

func (c *capturePublisher) Publish(_ context.Context, _ string, event any) error {
	c.events = append(c.events, event)
	return nil
}

func (c *capturePublisher) Close() error { return nil }

func newTestHandler(f Fetcher, b *fakeBackend, pub notify.Publisher) *Handler {
	return NewHandler(f, b, pub, clockwork.NewFakeClock(), 5*time.Second, nil)
}

func TestHandleAttachesAllButDescription(t *testing.T) {
	p := &fakePayload{files: []string{payload.DescriptionFile, "photo.jpg"}}
	b := &fakeBackend{}
	pub := &capturePublisher{}

	err := newTestHandler(&fakeFetcher{payload: p}, b, pub).Handle(context.Background(), "QmX", sender)
	require.NoError(t, err)

	require.Len(t, b.requests, 1)
	assert.Equal(t, models.TicketRequest{
		Email:       "user@example.com",
		AddressFrom: sender,
		Phone:       "+100200300",
		Description: "robot does not start",
	}, b.requests[0])
	assert.Equal(t, []attachment{{101, "photo.jpg", "/staging/photo.jpg"}}, b.attachments)
	assert.Equal(t, 1, p.cleanups)

	require.Len(t, pub.events, 1)
	assert.Equal(t, notify.TicketCreated{TicketID: 101, CID: "QmX", Sender: sender, Attachments: []string{"photo.jpg"}}, pub.events[0])
}

func TestHandleDescriptionOnly(t *testing.T) {
	p := &fakePayload{files: []string{payload.DescriptionFile}}
	b := &fakeBackend{}

	require.NoError(t, newTestHandler(&fakeFetcher{payload: p}, b, nil).Handle(context.Background(), "QmX", sender))
	assert.Len(t, b.requests, 1)
	assert.Empty(t, b.attachments)
	assert.Equal(t, 1, p.cleanups)
}

func TestHandleAttachmentFailureStillCleansUp(t *testing.T) {
	p := &fakePayload{files: []string{"a.log", payload.DescriptionFile, "b.log"}}
	b := &fakeBackend{attachErr: map[string]error{"a.log": errors.New("413 too large")}}

	err := newTestHandler(&fakeFetcher{payload: p}, b, nil).Handle(context.Background(), "QmX", sender)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "a.log")

	names := []string{}
	for _, a := range b.attachments {
		names = append(names, a.name)
	}
	assert.Equal(t, []string{"a.log", "b.log"}, names, "a failed upload does not stop the rest")
	assert.Equal(t, 1, p.cleanups)
}

func TestHandleFetchErrorIsNotRetried(t *testing.T) {
	b := &fakeBackend{}
	fetchErr := &payload.FetchError{CID: "QmX", Err: errors.New("timeout")}

	err := newTestHandler(&fakeFetcher{err: fetchErr}, b, nil).Handle(context.Background(), "QmX", sender)
	var fe *payload.FetchError
	require.ErrorAs(t, err, &fe)
	assert.Empty(t, b.requests)
}

func TestHandleTicketCancelledCleansUp(t *testing.T) {
	p := &fakePayload{files: []string{payload.DescriptionFile, "photo.jpg"}}
	b := &fakeBackend{createErr: errors.New("odoo down")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := newTestHandler(&fakeFetcher{payload: p}, b, nil).Handle(ctx, "QmX", sender)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, b.attachments)
	assert.Equal(t, 1, p.cleanups)
}

func TestBundlesAdapter(t *testing.T) {
	dir := t.TempDir()
	bundle := &payload.Bundle{Dir: dir}
	p := Bundles(stubBundleFetcher{b: bundle})

	got, err := p.Fetch(context.Background(), "QmX", sender)
	require.NoError(t, err)
	assert.Same(t, bundle, got)

	_, err = Bundles(stubBundleFetcher{err: errors.New("nope")}).Fetch(context.Background(), "QmX", sender)
	assert.Error(t, err)
}

type stubBundleFetcher struct {
	b   *payload.Bundle
	err error
}

func (s stubBundleFetcher) Fetch(context.Context, string, string) (*payload.Bundle, error) {
	return s.b, s.err
}
