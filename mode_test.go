package torrent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModeCanceledReflectsDispose(t *testing.T) {
	m := NewMode(context.Background(), StateDownloading)
	assert.False(t, m.Canceled())
	m.Dispose()
	assert.True(t, m.Canceled())
	// Dispose must be idempotent.
	assert.NotPanics(t, func() { m.Dispose() })
}

func TestSetModeDisposesPriorMode(t *testing.T) {
	tr, _, _, _ := newTestTorrent(t, 1, defaultChunkSize)
	prior := tr.CurrentMode()
	assert.False(t, prior.Canceled())

	next := NewMode(context.Background(), StateSeeding)
	tr.SetMode(next)

	assert.True(t, prior.Canceled())
	assert.False(t, next.Canceled())
	assert.Same(t, next, tr.CurrentMode())
}

func TestProgressForIsPerPieceAndClearable(t *testing.T) {
	m := NewMode(context.Background(), StateDownloading)
	p0 := m.progressFor(0)
	p0.blocksWritten = 3

	assert.Same(t, p0, m.progressFor(0), "repeated progressFor on the same piece returns the same record")

	m.clearProgress(0)
	p0Again := m.progressFor(0)
	assert.NotSame(t, p0, p0Again)
	assert.Equal(t, 0, p0Again.blocksWritten)
}
