package mqtt

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLossBeforeEstablishFailsDial(t *testing.T) {
	var calls int
	tr := &lossTracker{onLost: func(error) { calls++ }}

	tr.lost(errors.New("connection reset"))
	err := tr.establish()

	require.ErrorIs(t, err, ErrBrokerConnect)
	assert.Contains(t, err.Error(), "connection reset")
	assert.True(t, tr.closed.Load())
	assert.Zero(t, calls, "the loss is reported by Dial, not the handler")

	tr.lost(errors.New("again"))
	assert.Zero(t, calls)
}

func TestLossBeforeEstablishWithoutDetail(t *testing.T) {
	tr := &lossTracker{}
	tr.lost(nil)
	assert.ErrorIs(t, tr.establish(), ErrBrokerConnect)
}

func TestLossAfterEstablishReportedOnce(t *testing.T) {
	var got []error
	tr := &lossTracker{onLost: func(err error) { got = append(got, err) }}
	require.NoError(t, tr.establish())

	first := errors.New("keepalive timeout")
	tr.lost(first)
	tr.lost(errors.New("second"))

	require.Len(t, got, 1)
	assert.Equal(t, first, got[0])
	assert.True(t, tr.closed.Load())
}

func TestLossAfterCloseIgnored(t *testing.T) {
	var calls int
	tr := &lossTracker{onLost: func(error) { calls++ }}
	require.NoError(t, tr.establish())

	tr.closed.Store(true)
	tr.lost(errors.New("late"))
	assert.Zero(t, calls)
}
