package logstor

import (
	"bytes"
	"encoding/binary"
	"math/rand"
	"time"
)

// superblock is the logical, singleton device superblock. Physically it
// rotates through sector positions 0..SectorsPerSeg-1 of segment 0 for
// crash safety; sbSA tracks the sector it currently lives in.
type superblock struct {
	sig         uint32
	verMajor    uint8
	verMinor    uint8
	gen         uint16
	maxBlockCnt uint32
	segCnt      int32
	segFreeCnt  int32
	segAllocP   int32
	segReclaimP int32
	ftab        [FDCount]uint32

	segAge []uint8 // one entry per segment; 0 == clean/allocatable

	sbSA     uint32 // sector currently holding the live superblock
	modified bool
}

// superblockFixedSize is the byte size of every field up to (not
// including) segAge; the format asserts this plus segCnt fits in one
// sector, matching the original's compile-time assertion.
const superblockFixedSize = 4 + 1 + 1 + 2 + 4 + 4 + 4 + 4 + 4 + FDCount*4

func (sb *superblock) encode() []byte {
	if superblockFixedSize+int(sb.segCnt) >= SectorSize {
		panic("logstor: superblock does not fit in one sector")
	}
	buf := new(bytes.Buffer)
	buf.Grow(SectorSize)
	_ = binary.Write(buf, binary.LittleEndian, sb.sig)
	_ = binary.Write(buf, binary.LittleEndian, sb.verMajor)
	_ = binary.Write(buf, binary.LittleEndian, sb.verMinor)
	_ = binary.Write(buf, binary.LittleEndian, sb.gen)
	_ = binary.Write(buf, binary.LittleEndian, sb.maxBlockCnt)
	_ = binary.Write(buf, binary.LittleEndian, sb.segCnt)
	_ = binary.Write(buf, binary.LittleEndian, sb.segFreeCnt)
	_ = binary.Write(buf, binary.LittleEndian, sb.segAllocP)
	_ = binary.Write(buf, binary.LittleEndian, sb.segReclaimP)
	for _, f := range sb.ftab {
		_ = binary.Write(buf, binary.LittleEndian, f)
	}
	buf.Write(sb.segAge)
	out := make([]byte, SectorSize)
	copy(out, buf.Bytes())
	return out
}

func decodeSuperblock(sector []byte) (*superblock, error) {
	if len(sector) < SectorSize {
		return nil, corruptf("short superblock sector (%d bytes)", len(sector))
	}
	r := bytes.NewReader(sector)
	sb := &superblock{}
	_ = binary.Read(r, binary.LittleEndian, &sb.sig)
	if sb.sig != sigLogstor {
		return nil, corruptf("bad superblock signature %#x", sb.sig)
	}
	_ = binary.Read(r, binary.LittleEndian, &sb.verMajor)
	_ = binary.Read(r, binary.LittleEndian, &sb.verMinor)
	_ = binary.Read(r, binary.LittleEndian, &sb.gen)
	_ = binary.Read(r, binary.LittleEndian, &sb.maxBlockCnt)
	_ = binary.Read(r, binary.LittleEndian, &sb.segCnt)
	_ = binary.Read(r, binary.LittleEndian, &sb.segFreeCnt)
	_ = binary.Read(r, binary.LittleEndian, &sb.segAllocP)
	_ = binary.Read(r, binary.LittleEndian, &sb.segReclaimP)
	for i := range sb.ftab {
		_ = binary.Read(r, binary.LittleEndian, &sb.ftab[i])
	}
	if sb.segCnt < 0 || int(sb.segCnt) >= SectorSize {
		return nil, corruptf("implausible segment count %d", sb.segCnt)
	}
	sb.segAge = make([]uint8, sb.segCnt)
	if _, err := r.Read(sb.segAge); err != nil {
		return nil, corruptf("truncated seg_age table: %v", err)
	}
	return sb, nil
}

// superblockInit computes the initial superblock for a freshly formatted
// device of the given size in sectors, per spec.md §4.1.
func superblockInit(sectorCnt uint32) (*superblock, error) {
	segCnt := sectorCnt / SectorsPerSeg
	if segCnt <= SegDataStart {
		return nil, corruptf("device too small: %d segments", segCnt)
	}
	if superblockFixedSize+int(segCnt) >= SectorSize {
		return nil, corruptf("device too large: %d segments does not fit the superblock's seg_age table in one sector", segCnt)
	}

	sb := &superblock{
		sig:      sigLogstor,
		verMajor: verMajor,
		verMinor: verMinor,
		//nolint:gosec // not security sensitive; only seeds generation rotation
		gen:         uint16(rand.New(rand.NewSource(time.Now().UnixNano())).Uint32()),
		segCnt:      int32(segCnt),
		segAllocP:   SegDataStart,
		segReclaimP: SegDataStart,
	}
	sb.segFreeCnt = sb.segCnt - SegDataStart

	forwardMapOverhead := (sectorCnt / EntriesPerBlock) * FDCount
	usableBlocks := uint32(sb.segFreeCnt) * BlocksPerSeg
	if usableBlocks <= forwardMapOverhead {
		return nil, corruptf("device too small to hold the forward map")
	}
	sb.maxBlockCnt = uint32(float64(usableBlocks-forwardMapOverhead) * 0.9)

	for i := range sb.ftab {
		sb.ftab[i] = SectorNull
	}
	sb.segAge = make([]uint8, sb.segCnt)
	sb.sbSA = 0
	sb.modified = false
	return sb, nil
}

// superblockRead probes sectors 0..SectorsPerSeg-1 of the first segment and
// returns the superblock with the largest contiguous generation chain
// starting from sector 0, per spec.md §4.1.
func superblockRead(io BlockIO) (*superblock, error) {
	buf := make([]byte, SectorSize)
	if err := io.Read(0, buf, 1); err != nil {
		return nil, wrapIo(err, "reading superblock sector 0")
	}
	first, err := decodeSuperblock(buf)
	if err != nil {
		return nil, err
	}
	if int32(first.segAllocP) >= first.segCnt || int32(first.segReclaimP) >= first.segCnt {
		return nil, corruptf("superblock pointers out of range")
	}

	best := first
	bestSA := uint32(0)
	prevGen := first.gen
	for sa := uint32(1); sa < SectorsPerSeg; sa++ {
		if err := io.Read(sa, buf, 1); err != nil {
			return nil, wrapIo(err, "reading superblock sector %d", sa)
		}
		sb, err := decodeSuperblock(buf)
		if err != nil {
			break
		}
		if sb.gen != prevGen+1 {
			break
		}
		prevGen = sb.gen
		best = sb
		bestSA = sa
	}

	if int32(best.segAllocP) >= best.segCnt || int32(best.segReclaimP) >= best.segCnt {
		return nil, corruptf("superblock pointers out of range")
	}
	best.sbSA = bestSA
	best.modified = false
	return best, nil
}

// write rotates sbSA forward (wrapping within the segment), bumps the
// generation number, and persists the superblock. Note that superblockInit
// leaves sbSA at 0 and Open writes it there via writeInitial, so the very
// first write call issued afterwards (logstor_close's rotate-then-write)
// lands on sector 1, not sector 0 — this is the documented quirk from
// DESIGN.md's Open Question #2.
func (sb *superblock) write(io BlockIO) error {
	sb.gen++
	sb.sbSA++
	if sb.sbSA >= SectorsPerSeg {
		sb.sbSA = 0
	}
	if err := io.Write(sb.sbSA, sb.encode(), 1); err != nil {
		return wrapIo(err, "writing superblock sector %d", sb.sbSA)
	}
	sb.modified = false
	return nil
}

// writeInitial persists the superblock at its current sbSA (sector 0 for a
// freshly initialized device) without rotating or bumping the generation;
// used by Open right after superblockInit.
func (sb *superblock) writeInitial(io BlockIO) error {
	if err := io.Write(sb.sbSA, sb.encode(), 1); err != nil {
		return wrapIo(err, "writing initial superblock")
	}
	sb.modified = false
	return nil
}
