package logstor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadCoalescesContiguousRunButStopsAtHole(t *testing.T) {
	dev, _ := newTestDevice(t, 16)

	a := make([]byte, SectorSize)
	copy(a, "A")
	b := make([]byte, SectorSize)
	copy(b, "B")

	require.NoError(t, dev.Write(200, a))
	// ba 201 is left unmapped, so the read below must not coalesce across it.
	require.NoError(t, dev.Write(202, b))

	out := make([]byte, SectorSize*3)
	require.NoError(t, dev.Read(200, out))

	assert.Equal(t, a, out[0:SectorSize])
	assert.Equal(t, make([]byte, SectorSize), out[SectorSize:2*SectorSize])
	assert.Equal(t, b, out[2*SectorSize:3*SectorSize])
}

func TestReadRejectsOutOfRangeBa(t *testing.T) {
	dev, _ := newTestDevice(t, 16)
	err := dev.Read(dev.BlockCount(), make([]byte, SectorSize))
	assert.Error(t, err)
}
