package bufpool_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/badu/vortex/internal/bufpool"
)

func TestGetReturnsExactSize(t *testing.T) {
	p := bufpool.New(4096)
	b := p.Get()
	require.Len(t, b, 4096)
}

func TestPutThenGetReturnsExactSize(t *testing.T) {
	p := bufpool.New(64)
	b := p.Get()
	b[0] = 0xAB
	p.Put(b)

	b2 := p.Get()
	require.Len(t, b2, 64)
}

func TestPutDropsMismatchedCapacity(t *testing.T) {
	p := bufpool.New(8)
	grown := append(p.Get(), make([]byte, 100)...)
	p.Put(grown) // should be silently dropped, not pooled
	b := p.Get()
	require.Len(t, b, 8)
	require.Equal(t, 8, cap(b))
}
