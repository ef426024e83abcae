package logstor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, segs uint32) (*Device, *MemBlockIO) {
	t.Helper()
	io := NewMemBlockIO(segs * SectorsPerSeg)
	dev, err := Open(io, DefaultConfig(), nil)
	require.NoError(t, err)
	return dev, io
}

func TestOpenInitializesFreshDevice(t *testing.T) {
	dev, _ := newTestDevice(t, 32)
	assert.Greater(t, dev.BlockCount(), uint32(0))

	sb := dev.SuperblockStat()
	assert.Equal(t, int32(32), sb.SegCount)
	assert.Less(t, sb.SegFreeCount, sb.SegCount)
}

func TestOpenReopenPreservesState(t *testing.T) {
	dev, io := newTestDevice(t, 32)
	data := make([]byte, SectorSize)
	copy(data, "persisted")
	require.NoError(t, dev.Write(5, data))
	require.NoError(t, dev.Close())

	reopened, err := Open(io, DefaultConfig(), nil)
	require.NoError(t, err)

	out := make([]byte, SectorSize)
	require.NoError(t, reopened.Read(5, out))
	assert.Equal(t, data, out)
}

func TestConfigWithDefaultsClampsInvalidValues(t *testing.T) {
	cfg := Config{FbufRatio: 0, CleanWindow: 0, CleanAgeLimit: 0}.withDefaults()
	assert.Equal(t, 1.0, cfg.FbufRatio)
	assert.Equal(t, CleanWindow, cfg.CleanWindow)
	assert.Equal(t, CleanAgeLimit, cfg.CleanAgeLimit)
}

func TestStatsTrackDataWrites(t *testing.T) {
	dev, _ := newTestDevice(t, 32)
	data := make([]byte, SectorSize*3)
	require.NoError(t, dev.Write(0, data))

	stats := dev.Stats()
	assert.Equal(t, uint64(3), stats.DataWriteCount)
}

func TestMemBlockIOValidatesRange(t *testing.T) {
	io := NewMemBlockIO(4 * SectorsPerSeg)
	buf := make([]byte, SectorSize)
	err := io.Read(io.MediaSectors(), buf, 1)
	assert.Error(t, err)
}
