package logstor

import (
	"bytes"
	"encoding/binary"
)

// segSum is a segment summary: the reverse map occupying the trailing
// SegSumSectors sectors of a segment, plus the soft (non-persisted) state tracked for the
// segment while it is an active write front or reclaim candidate.
type segSum struct {
	rm      [BlocksPerSeg]uint32 // reverse map: BA/MA written at each data sector
	gen     uint16               // snapshot of sb.gen at flush time
	allocP  uint16               // count of populated rm slots

	sega      uint32 // segment address (not persisted)
	liveCount int    // live blocks, computed by segLiveCount (not persisted)
}

// segSumBytes is the on-disk size of an encoded segment summary, spanning
// SegSumSectors whole sectors.
const segSumBytes = SegSumSectors * SectorSize

func (ss *segSum) encode() []byte {
	buf := new(bytes.Buffer)
	buf.Grow(segSumBytes)
	for _, ba := range ss.rm {
		_ = binary.Write(buf, binary.LittleEndian, ba)
	}
	_ = binary.Write(buf, binary.LittleEndian, ss.gen)
	_ = binary.Write(buf, binary.LittleEndian, ss.allocP)
	if buf.Len() > segSumBytes {
		panic("logstor: segment summary does not fit in SegSumSectors sectors")
	}
	out := make([]byte, segSumBytes)
	copy(out, buf.Bytes())
	return out
}

func decodeSegSum(sector []byte, sega uint32) (*segSum, error) {
	if len(sector) < segSumBytes {
		return nil, corruptf("short segment summary (%d bytes)", len(sector))
	}
	ss := &segSum{sega: sega}
	r := bytes.NewReader(sector)
	for i := range ss.rm {
		_ = binary.Read(r, binary.LittleEndian, &ss.rm[i])
	}
	_ = binary.Read(r, binary.LittleEndian, &ss.gen)
	_ = binary.Read(r, binary.LittleEndian, &ss.allocP)
	if ss.allocP > BlocksPerSeg {
		return nil, corruptf("impossible ss_alloc_p %d in segment %d", ss.allocP, sega)
	}
	return ss, nil
}

// segSumRead loads the segment summary for sega from the backing device.
func segSumRead(io BlockIO, sega uint32) (*segSum, error) {
	buf := make([]byte, segSumBytes)
	sa := sega2sa(sega) + SegSumOff
	if err := io.Read(sa, buf, SegSumSectors); err != nil {
		return nil, wrapIo(err, "reading segment summary for segment %d", sega)
	}
	return decodeSegSum(buf, sega)
}

// segSumReadInto loads the segment summary for sega in place, reusing ss's
// storage (and queue identity) rather than allocating a fresh struct; used
// by the cleaner's reclaim candidates, which are a fixed arena reused
// across passes.
func segSumReadInto(io BlockIO, ss *segSum, sega uint32) error {
	buf := make([]byte, segSumBytes)
	sa := sega2sa(sega) + SegSumOff
	if err := io.Read(sa, buf, SegSumSectors); err != nil {
		return wrapIo(err, "reading segment summary for segment %d", sega)
	}
	decoded, err := decodeSegSum(buf, sega)
	if err != nil {
		return err
	}
	*ss = *decoded
	return nil
}

// segSumWrite persists the segment summary in the trailing SegSumSectors
// sectors of its segment, stamping the current superblock generation.
func segSumWrite(io BlockIO, ss *segSum, gen uint16) error {
	ss.gen = gen
	sa := sega2sa(ss.sega) + SegSumOff
	if err := io.Write(sa, ss.encode(), SegSumSectors); err != nil {
		return wrapIo(err, "writing segment summary for segment %d", ss.sega)
	}
	return nil
}
