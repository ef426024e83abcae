package logstor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSuperblockEncodeDecodeRoundTrip(t *testing.T) {
	sb := &superblock{
		sig:         sigLogstor,
		verMajor:    verMajor,
		verMinor:    verMinor,
		gen:         7,
		maxBlockCnt: 1234,
		segCnt:      10,
		segFreeCnt:  8,
		segAllocP:   1,
		segReclaimP: 1,
		ftab:        [FDCount]uint32{1, 2, 3},
		segAge:      make([]uint8, 10),
	}
	sb.segAge[3] = 9

	buf := sb.encode()
	require.Len(t, buf, SectorSize)

	decoded, err := decodeSuperblock(buf)
	require.NoError(t, err)
	assert.Equal(t, sb.sig, decoded.sig)
	assert.Equal(t, sb.gen, decoded.gen)
	assert.Equal(t, sb.maxBlockCnt, decoded.maxBlockCnt)
	assert.Equal(t, sb.segCnt, decoded.segCnt)
	assert.Equal(t, sb.segFreeCnt, decoded.segFreeCnt)
	assert.Equal(t, sb.ftab, decoded.ftab)
	assert.Equal(t, sb.segAge, decoded.segAge)
}

func TestDecodeSuperblockRejectsBadSignature(t *testing.T) {
	buf := make([]byte, SectorSize)
	_, err := decodeSuperblock(buf)
	assert.Error(t, err)
	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, KindCorrupt, lerr.Kind)
}

func TestSuperblockInitSizing(t *testing.T) {
	sb, err := superblockInit(100 * SectorsPerSeg)
	require.NoError(t, err)

	assert.Equal(t, int32(100), sb.segCnt)
	assert.Equal(t, sb.segCnt-SegDataStart, sb.segFreeCnt)
	assert.Equal(t, int32(SegDataStart), sb.segAllocP)
	assert.Equal(t, int32(SegDataStart), sb.segReclaimP)
	assert.Greater(t, sb.maxBlockCnt, uint32(0))
	assert.Len(t, sb.segAge, int(sb.segCnt))
	assert.Equal(t, uint32(0), sb.sbSA)
}

func TestSuperblockInitRejectsTinyDevice(t *testing.T) {
	_, err := superblockInit(SectorsPerSeg) // exactly one segment
	assert.Error(t, err)
}

func TestSuperblockReadFollowsGenerationChain(t *testing.T) {
	io := NewMemBlockIO(4 * SectorsPerSeg)

	sb, err := superblockInit(io.MediaSectors())
	require.NoError(t, err)
	require.NoError(t, sb.writeInitial(io)) // sector 0, gen unchanged

	// Simulate two more close-time rotations: sector 1 (gen+1), sector 2 (gen+2).
	require.NoError(t, sb.write(io))
	require.NoError(t, sb.write(io))

	reread, err := superblockRead(io)
	require.NoError(t, err)
	assert.Equal(t, sb.gen, reread.gen)
	assert.Equal(t, uint32(2), reread.sbSA)
}

func TestSuperblockWriteRotatesAndWraps(t *testing.T) {
	io := NewMemBlockIO(4 * SectorsPerSeg)
	sb, err := superblockInit(io.MediaSectors())
	require.NoError(t, err)
	require.NoError(t, sb.writeInitial(io))

	sb.sbSA = SectorsPerSeg - 1
	startGen := sb.gen
	require.NoError(t, sb.write(io))
	assert.Equal(t, uint32(0), sb.sbSA)
	assert.Equal(t, startGen+1, sb.gen)
}
