package ifops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticFlush(t *testing.T) {
	lo := Interface{Index: 1, Name: "lo"}
	eth0 := Interface{Index: 2, Name: "eth0"}
	eth1 := Interface{Index: 3, Name: "eth1"}
	s := NewStatic(eth1, lo, eth0)

	s.SetMeta(eth0, "binding")
	s.Sets = nil

	require.NoError(t, s.Flush(nil))

	require.Len(t, s.Sets, 3)
	assert.Equal(t, []Interface{lo, eth0, eth1}, []Interface{s.Sets[0].Iface, s.Sets[1].Iface, s.Sets[2].Iface})
	assert.Nil(t, s.Sets[0].Prev)
	assert.Equal(t, "binding", s.Sets[1].Prev)
	for _, c := range s.Sets {
		assert.Nil(t, c.Meta)
	}
}

func TestStaticLookupAndRemove(t *testing.T) {
	s := NewStatic()
	_, ok := s.Lookup("eth0")
	assert.False(t, ok)

	eth0 := Interface{Index: 2, Name: "eth0"}
	s.Add(eth0)
	got, ok := s.Lookup("eth0")
	require.True(t, ok)
	assert.Equal(t, eth0, got)
	assert.Equal(t, "eth0", s.Name(got))
	assert.Equal(t, "eth0#2", got.String())

	s.SetMeta(eth0, 42)
	s.Remove("eth0")
	_, ok = s.Lookup("eth0")
	assert.False(t, ok)
	_, ok = s.Meta(eth0)
	assert.False(t, ok)
}
