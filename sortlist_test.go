package asyncdns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetSortlist(t *testing.T) {
	h := newHarness(t, Options{Servers: []string{srv1}})

	require.NoError(t, h.ch.SetSortlist("130.155.160.0/255.255.240.0 130.155.0.0/16 10.0.0.1"))
	prefixes := h.ch.Sortlist()
	require.Len(t, prefixes, 3)
	assert.Equal(t, "130.155.160.0/20", prefixes[0].String(), "dotted-quad netmask converts")
	assert.Equal(t, "130.155.0.0/16", prefixes[1].String())
	assert.Equal(t, "10.0.0.1/32", prefixes[2].String(), "bare address means host prefix")

	require.NoError(t, h.ch.SetSortlist("2001:db8::/32,fe80::1"))
	prefixes = h.ch.Sortlist()
	require.Len(t, prefixes, 2)
	assert.Equal(t, "2001:db8::/32", prefixes[0].String())
	assert.Equal(t, "fe80::1/128", prefixes[1].String())

	require.NoError(t, h.ch.SetSortlist(""))
	assert.Empty(t, h.ch.Sortlist())

	assert.Error(t, h.ch.SetSortlist("junk"))
	assert.Error(t, h.ch.SetSortlist("10.0.0.0/255.0.255.0"), "non-contiguous masks are rejected")
	assert.Error(t, h.ch.SetSortlist("10.0.0.0/99"))

	// The accessor hands out a copy
	require.NoError(t, h.ch.SetSortlist("10.0.0.1"))
	got := h.ch.Sortlist()
	got[0] = got[0].Masked()
	assert.Equal(t, "10.0.0.1/32", h.ch.Sortlist()[0].String())
}
