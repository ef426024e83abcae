package logstor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRoundTrip(t *testing.T) {
	dev, _ := newTestDevice(t, 16)

	data := make([]byte, SectorSize*4)
	for i := range data {
		data[i] = byte(i % 256)
	}
	require.NoError(t, dev.Write(100, data))

	out := make([]byte, len(data))
	require.NoError(t, dev.Read(100, out))
	assert.Equal(t, data, out)
}

func TestReadUnmappedReturnsZeroes(t *testing.T) {
	dev, _ := newTestDevice(t, 16)

	out := make([]byte, SectorSize*2)
	require.NoError(t, dev.Read(0, out))
	assert.True(t, bytes.Equal(out, make([]byte, SectorSize*2)))
}

func TestDeleteThenReadReturnsZeroes(t *testing.T) {
	dev, _ := newTestDevice(t, 16)

	data := make([]byte, SectorSize)
	copy(data, "hello")
	require.NoError(t, dev.Write(7, data))
	require.NoError(t, dev.Delete(7, 1))

	out := make([]byte, SectorSize)
	require.NoError(t, dev.Read(7, out))
	assert.True(t, bytes.Equal(out, make([]byte, SectorSize)))
}

func TestOverwriteReturnsLatestValue(t *testing.T) {
	dev, _ := newTestDevice(t, 16)

	first := make([]byte, SectorSize)
	copy(first, "first")
	second := make([]byte, SectorSize)
	copy(second, "second")

	require.NoError(t, dev.Write(3, first))
	require.NoError(t, dev.Write(3, second))

	out := make([]byte, SectorSize)
	require.NoError(t, dev.Read(3, out))
	assert.Equal(t, second, out)
}

func TestWriteRejectsUnalignedBuffer(t *testing.T) {
	dev, _ := newTestDevice(t, 16)
	err := dev.Write(0, make([]byte, SectorSize+1))
	assert.Error(t, err)
}

func TestWriteRejectsOutOfRangeBa(t *testing.T) {
	dev, _ := newTestDevice(t, 16)
	err := dev.Write(dev.BlockCount(), make([]byte, SectorSize))
	assert.Error(t, err)
}

func TestWriteRejectsMetaAddressAsBa(t *testing.T) {
	dev, _ := newTestDevice(t, 16)
	err := dev.Write(MetaBase, make([]byte, SectorSize))
	assert.Error(t, err)
}

func TestWriteAcrossLeafBlockBoundaryDoesNotAlias(t *testing.T) {
	dev, _ := newTestDevice(t, 16)
	require.Greater(t, dev.BlockCount(), uint32(EntriesPerBlock*4))

	low := make([]byte, SectorSize)
	copy(low, "low")
	high := make([]byte, SectorSize)
	copy(high, "high")

	require.NoError(t, dev.Write(0, low))
	require.NoError(t, dev.Write(EntriesPerBlock*3, high))

	outLow := make([]byte, SectorSize)
	require.NoError(t, dev.Read(0, outLow))
	outHigh := make([]byte, SectorSize)
	require.NoError(t, dev.Read(EntriesPerBlock*3, outHigh))

	assert.Equal(t, low, outLow)
	assert.Equal(t, high, outHigh)
}

func TestWriteSpanningSegmentRollover(t *testing.T) {
	dev, _ := newTestDevice(t, 16)

	// Force the hot front near the end of its segment so a multi-sector
	// write must roll over into a freshly allocated one.
	dev.ssHot.allocP = uint16(BlocksPerSeg - 2)

	data := make([]byte, SectorSize*5)
	for i := range data {
		data[i] = byte(i + 1)
	}
	require.NoError(t, dev.Write(50, data))

	out := make([]byte, len(data))
	require.NoError(t, dev.Read(50, out))
	assert.Equal(t, data, out)
}
