package analytics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPostHogClientWithoutKeyReturnsNop(t *testing.T) {
	c, err := NewPostHogClient("", "")
	require.NoError(t, err)
	require.Equal(t, Nop(), c)
}

func TestNopClientNeverBlocksOrErrors(t *testing.T) {
	c := Nop()
	c.Publish(context.Background(), "sess-1", EventSessionCreated, map[string]any{"k": "v"})
	require.NoError(t, c.Close())
}
