package types

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusDetected.Terminal())
	assert.False(t, StatusConfirming.Terminal())
	assert.True(t, StatusConfirmed.Terminal())
	assert.True(t, StatusExpired.Terminal())
	assert.True(t, StatusInvalid.Terminal())
}

func TestPaymentRequestExpired(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	req := &PaymentRequest{ExpiresAt: now}

	assert.False(t, req.Expired(now)) // boundary is inclusive
	assert.False(t, req.Expired(now.Add(-time.Second)))
	assert.True(t, req.Expired(now.Add(time.Second)))
}

func TestCodeOf(t *testing.T) {
	err := NewError(ErrRequestExpired, "request %s expired", "r1")
	assert.Equal(t, ErrRequestExpired, CodeOf(err))
	assert.Equal(t, "request r1 expired", err.Error())

	// Wrapped errors still carry their code.
	wrapped := fmt.Errorf("check status: %w", err)
	assert.Equal(t, ErrRequestExpired, CodeOf(wrapped))

	assert.Empty(t, CodeOf(errors.New("plain")))
	assert.Empty(t, CodeOf(nil))
}
