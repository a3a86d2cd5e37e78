package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHasCode(t *testing.T) {
	t.Run("matches direct error", func(t *testing.T) {
		err := New(CodeSumMismatch, "Sum of points different than 100")
		assert.True(t, HasCode(err, CodeSumMismatch))
		assert.False(t, HasCode(err, CodePointConflict))
	})

	t.Run("matches through fmt wrapping", func(t *testing.T) {
		err := fmt.Errorf("finalize: %w", New(CodeAlreadyFinal, "already final"))
		assert.True(t, HasCode(err, CodeAlreadyFinal))
	})

	t.Run("plain errors carry no code", func(t *testing.T) {
		assert.False(t, HasCode(errors.New("boom"), CodeInternal))
	})
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(cause, CodeInternal, "failed to load distribution")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "failed to load distribution: connection reset", err.Error())
}

func TestToHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeStaleWeek, http.StatusBadRequest},
		{CodeMissingSubmitter, http.StatusBadRequest},
		{CodeDuplicateScore, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeAlreadyFinal, http.StatusConflict},
		{CodeDirectoryUnavailable, http.StatusBadGateway},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeInternal, http.StatusInternalServerError},
		{Code("unknown"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, ToHTTPStatus(tt.code))
		})
	}
}
