package asyncdns

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, time.Second*2, opts.Timeout)
	assert.Equal(t, 3, opts.Tries)
	assert.Equal(t, 1, opts.NDots)
	assert.Equal(t, "/etc/resolv.conf", opts.ResolvConfPath)
	assert.Equal(t, uint16(1232), opts.EDNSPayloadSize)
	assert.Equal(t, time.Hour, opts.QueryCacheMaxTTL)
	assert.Equal(t, 0.1, opts.ServerFailoverRetryChance)
	assert.Equal(t, time.Second*5, opts.ServerFailoverRetryDelay)
	assert.NotNil(t, opts.SocketFunctions)
}

func TestOptionsNDotsNegative(t *testing.T) {
	opts := Options{NDots: -3}.withDefaults()
	assert.Equal(t, 0, opts.NDots, "negative ndots clamps to zero")
}

func TestOptionsCopySlices(t *testing.T) {
	orig := Options{Servers: []string{"a"}, SearchDomains: []string{"d"}}
	snap := orig.copySlices()
	snap.Servers[0] = "b"
	snap.SearchDomains[0] = "e"
	assert.Equal(t, "a", orig.Servers[0])
	assert.Equal(t, "d", orig.SearchDomains[0])
}

func TestDialAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"8.8.8.8", "8.8.8.8:53", true},
		{"8.8.8.8:5353", "8.8.8.8:5353", true},
		{"[2001:db8::1]:53", "[2001:db8::1]:53", true},
		{"2001:db8::1", "[2001:db8::1]:53", true},
		{"nonsense value", "", false},
		{"300.300.300.300", "", false},
	}
	for _, tc := range cases {
		got, err := dialAddress(tc.in)
		if tc.ok {
			assert.NoError(t, err, tc.in)
			assert.Equal(t, tc.want, got, tc.in)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}
