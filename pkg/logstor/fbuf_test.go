package logstor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFbufCacheInitializesCircularQueue(t *testing.T) {
	fc := newFbufCache(8)
	assert.Len(t, fc.buf, 8)
	count := 0
	idx := fc.cirHead
	for {
		assert.True(t, fc.buf[idx].onCirQueue)
		idx = fc.buf[idx].cqNext
		count++
		if idx == fc.cirHead {
			break
		}
	}
	assert.Equal(t, 8, count)
}

func TestHashInsertSearchRemove(t *testing.T) {
	fc := newFbufCache(4)
	ma := newLeafAddr(FDActive, 7)

	fc.hashRemove(0)
	fc.buf[0].ma = ma
	fc.hashInsert(0, uint32(ma))

	assert.Equal(t, fbufIndex(0), fc.search(ma))
	assert.Equal(t, uint64(1), fc.hit)

	other := newLeafAddr(FDActive, 8)
	assert.Equal(t, nilFbuf, fc.search(other))
	assert.Equal(t, uint64(1), fc.miss)

	fc.hashRemove(0)
	assert.Equal(t, nilFbuf, fc.search(ma))
}

func TestFbufGetCachesRepeatedLookups(t *testing.T) {
	dev, _ := newTestDevice(t, 16)

	data := make([]byte, SectorSize)
	require.NoError(t, dev.Write(10, data))

	statsBefore := dev.Stats()
	_, err := dev.fileRead4Byte(FDActive, 10)
	require.NoError(t, err)
	_, err = dev.fileRead4Byte(FDActive, 10)
	require.NoError(t, err)
	statsAfter := dev.Stats()

	assert.Greater(t, statsAfter.FbufHit, statsBefore.FbufHit)
}

func TestFbufEvictionFlushesDirtyVictims(t *testing.T) {
	io := NewMemBlockIO(64 * SectorsPerSeg)
	cfg := DefaultConfig()
	cfg.FbufRatio = 1.0
	dev, err := Open(io, cfg, nil)
	require.NoError(t, err)
	// Replace the pool sized from the device with a tiny one.
	dev.fc = newFbufCache(8)

	// Touch enough distinct leaf blocks to force the tiny cache pool to
	// recycle entries (and flush dirty ones) well before Close.
	for i := uint32(0); i < 64; i++ {
		ba := i * EntriesPerBlock
		if ba >= dev.BlockCount() {
			break
		}
		buf := make([]byte, SectorSize)
		buf[0] = byte(i + 1)
		require.NoError(t, dev.Write(ba, buf))
	}
	require.NoError(t, dev.Close())

	reopened, err := Open(io, cfg, nil)
	require.NoError(t, err)
	out := make([]byte, SectorSize)
	require.NoError(t, reopened.Read(0, out))
	assert.Equal(t, byte(1), out[0])
}
