package bus

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	channel string
	data    []byte
	err     error
}

func (p *recordingPublisher) Publish(_ context.Context, channel string, data []byte) (string, error) {
	p.channel = channel
	p.data = data
	if p.err != nil {
		return "", p.err
	}
	return "msg-1", nil
}

func TestPublishMarshalsPayload(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	d := NewDispatcher(pub, zap.NewNop())

	payload := struct {
		JobID string `json:"jobId"`
	}{JobID: "job-1"}
	require.NoError(t, d.Publish(context.Background(), "crawl-book-list", payload))

	require.Equal(t, "crawl-book-list", pub.channel)
	var got map[string]string
	require.NoError(t, json.Unmarshal(pub.data, &got))
	require.Equal(t, "job-1", got["jobId"])
}

func TestPublishSurfacesTransportError(t *testing.T) {
	t.Parallel()

	boom := errors.New("transport down")
	d := NewDispatcher(&recordingPublisher{err: boom}, zap.NewNop())

	err := d.Publish(context.Background(), "crawl-book-list", struct{}{})
	require.ErrorIs(t, err, boom)
}

func TestPublishRejectsUnmarshalablePayload(t *testing.T) {
	t.Parallel()

	pub := &recordingPublisher{}
	d := NewDispatcher(pub, zap.NewNop())

	err := d.Publish(context.Background(), "crawl-book-list", func() {})
	require.Error(t, err)
	require.Empty(t, pub.channel)
}
