package torrent

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBep40Priority(t *testing.T) {
	a := netip.AddrPortFrom(netip.MustParseAddr("123.213.32.10"), 0)
	b := netip.AddrPortFrom(netip.MustParseAddr("98.76.54.32"), 0)

	p1, err := bep40Priority(a, b)
	require.NoError(t, err)
	assert.EqualValues(t, 0xec2d7224, p1)

	p2, err := bep40Priority(b, a)
	require.NoError(t, err)
	assert.EqualValues(t, 0xec2d7224, p2, "priority must be symmetric")

	c := netip.AddrPortFrom(netip.MustParseAddr("123.213.32.10"), 0)
	d := netip.AddrPortFrom(netip.MustParseAddr("123.213.32.234"), 0)
	p3, err := bep40Priority(c, d)
	require.NoError(t, err)
	assert.Equal(t, peerPriority(0x99568189), p3)

	same := netip.AddrPortFrom(netip.MustParseAddr("123.213.32.234"), 0)
	bs, err := bep40PriorityBytes(same, same)
	require.NoError(t, err)
	assert.EqualValues(t, "\x00\x00\x00\x00", bs)
}

func TestBep40PriorityIPv6(t *testing.T) {
	a := netip.AddrPortFrom(netip.MustParseAddr("2001:db8::1"), 0)
	b := netip.AddrPortFrom(netip.MustParseAddr("2001:db8::2"), 0)
	_, err := bep40Priority(a, b)
	require.NoError(t, err)
}
