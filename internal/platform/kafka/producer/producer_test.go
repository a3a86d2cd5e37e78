package producer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pointdist/internal/platform/config"
)

func TestNewWithoutBrokersIsDisabled(t *testing.T) {
	p, err := New(context.Background(), config.KafkaConfig{Topic: "pointdist.distributions"})
	require.NoError(t, err)
	assert.Nil(t, p)
}
