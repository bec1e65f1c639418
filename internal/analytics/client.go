package analytics

import (
	"context"
	"time"

	"github.com/posthog/posthog-go"
)

// Client is the fire-and-forget sink. Publish must never block its caller
// for more than the underlying transport's enqueue, and must never return an
// error that the caller is required to act on — components log failures and
// move on.
type Client interface {
	Publish(ctx context.Context, distinctID, event string, properties map[string]any)
	Close() error
}

// nopClient drops every event; used when no PostHog API key is configured.
type nopClient struct{}

func (nopClient) Publish(context.Context, string, string, map[string]any) {}
func (nopClient) Close() error                                            { return nil }

// Nop returns a Client that discards all events.
func Nop() Client { return nopClient{} }

// OrNop returns client if non-nil, otherwise a discarding Client. Components
// that accept an optional analytics sink call this once at construction
// instead of nil-checking on every Publish.
func OrNop(client Client) Client {
	if client == nil {
		return Nop()
	}
	return client
}

const defaultHost = "https://app.posthog.com"

type postHogClient struct {
	client posthog.Client
}

// NewPostHogClient builds a Client backed by github.com/posthog/posthog-go,
// the same analytics transport the teacher repository uses.
func NewPostHogClient(apiKey, host string) (Client, error) {
	if apiKey == "" {
		return Nop(), nil
	}
	endpoint := host
	if endpoint == "" {
		endpoint = defaultHost
	}
	c, err := posthog.NewWithConfig(apiKey, posthog.Config{Endpoint: endpoint})
	if err != nil {
		return nil, err
	}
	return &postHogClient{client: c}, nil
}

func (c *postHogClient) Publish(_ context.Context, distinctID, event string, properties map[string]any) {
	if c == nil || c.client == nil {
		return
	}
	if distinctID == "" {
		distinctID = "server"
	}
	props := posthog.NewProperties()
	for k, v := range properties {
		props = props.Set(k, v)
	}
	// Enqueue is non-blocking in the posthog client; errors here are
	// transport-level and not actionable by session/checkpoint callers.
	_ = c.client.Enqueue(posthog.Capture{
		DistinctId: distinctID,
		Event:      event,
		Properties: props,
		Timestamp:  time.Now(),
	})
}

func (c *postHogClient) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}
