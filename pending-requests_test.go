package torrent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingRequestsIncDec(t *testing.T) {
	var p pendingRequests
	p.Init()

	p.Inc(1)
	p.Inc(1)
	p.Inc(2)
	assert.Equal(t, 2, p.Get(1))
	assert.Equal(t, 1, p.Get(2))

	p.Dec(2)
	assert.Equal(t, 0, p.Get(2))

	p.Dec(1)
	assert.Equal(t, 1, p.Get(1))
	p.Dec(1)
	assert.Equal(t, 0, p.Get(1))

	p.AssertEmpty()
}

func TestPendingRequestsDecBelowZeroPanics(t *testing.T) {
	var p pendingRequests
	p.Init()
	require.Panics(t, func() {
		p.Dec(1)
	})
}
