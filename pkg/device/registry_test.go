package device

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	var got OpenConfig
	Register("test-backend", func(ctx context.Context, cfg OpenConfig) (Session, error) {
		got = cfg
		return nil, nil
	})
	assert.Contains(t, Backends(), "test-backend")
	assert.Panics(t, func() { Register("test-backend", nil) })

	_, err := Open(context.Background(), "test-backend", OpenConfig{Path: "/dev/video3"})
	require.NoError(t, err)
	assert.Equal(t, "/dev/video3", got.Path)

	_, err = Open(context.Background(), "nope", OpenConfig{})
	assert.ErrorIs(t, err, ErrUnknownBackend)
}

func TestParseChannelID(t *testing.T) {
	id, err := ParseChannelID("exposure")
	require.NoError(t, err)
	assert.Equal(t, Exposure, id)

	_, err = ParseChannelID("focus")
	assert.Error(t, err)
}
