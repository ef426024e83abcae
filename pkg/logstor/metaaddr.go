package logstor

// metaAddr is a tagged 32-bit address identifying a node in the forward-map
// indirect-block tree. It is never aliased with a client block address:
// callers must go through newMetaAddr / isMetaAddr to cross the namespace
// boundary.
//
// Bit layout (matches the original union meta_addr bitfield, LSB first):
//
//	bits [19:0]  index  - index into the indirect tree at this depth
//	bits [21:20] depth  - 0 (root), 1 (inner), 2 (leaf)
//	bits [23:22] fd     - FDBase / FDActive / FDDelta
//	bits [29:24] resv   - reserved, always zero
//	bits [31:30] meta   - always 0b11 for a metadata address
type metaAddr uint32

const (
	maIndexBits = 20
	maIndexMask = 1<<maIndexBits - 1
	maDepthShift = 20
	maDepthMask  = 0x3
	maFdShift    = 22
	maFdMask     = 0x3
)

// newMetaAddr builds the root-tagged metaAddr for file descriptor fd
// (index and depth both zero).
func newMetaAddr(fd uint8) metaAddr {
	return metaAddr(MetaBase) | metaAddr(uint32(fd)<<maFdShift)
}

// newLeafAddr builds the leaf (depth 2) metaAddr addressing the indirect
// block that covers BAs index*EntriesPerBlock onward (byte offset
// index*SectorSize) within file fd's flat SA array, i.e. ma.index() == index.
func newLeafAddr(fd uint8, index uint32) metaAddr {
	ma := newMetaAddr(fd)
	ma = ma.withDepth(MetaLeafDepth)
	ma = ma.withIndex(index)
	return ma
}

func (ma metaAddr) uint32() uint32 { return uint32(ma) }

func (ma metaAddr) fd() uint8 {
	return uint8((uint32(ma) >> maFdShift) & maFdMask)
}

func (ma metaAddr) depth() uint8 {
	return uint8((uint32(ma) >> maDepthShift) & maDepthMask)
}

func (ma metaAddr) index() uint32 {
	return uint32(ma) & maIndexMask
}

func (ma metaAddr) withFd(fd uint8) metaAddr {
	return metaAddr((uint32(ma) &^ (maFdMask << maFdShift)) | (uint32(fd) << maFdShift))
}

func (ma metaAddr) withDepth(depth uint8) metaAddr {
	return metaAddr((uint32(ma) &^ (maDepthMask << maDepthShift)) | (uint32(depth) << maDepthShift))
}

func (ma metaAddr) withIndex(index uint32) metaAddr {
	return metaAddr((uint32(ma) &^ maIndexMask) | (index & maIndexMask))
}

// indexAt returns the 10-bit selector used to pick a child at tree level
// depth (0 or 1) on the path down to ma: depth 0 uses the high 10 bits of
// the 20-bit index, depth 1 uses the low 10 bits.
func (ma metaAddr) indexAt(depth uint8) uint32 {
	switch depth {
	case 0:
		return (ma.index() >> 10) & 0x3ff
	case 1:
		return ma.index() & 0x3ff
	default:
		panic("logstor: indexAt called below leaf depth")
	}
}

// withIndexAt returns ma with the selector at tree level depth replaced by
// index (0..1023).
func (ma metaAddr) withIndexAt(depth uint8, index uint32) metaAddr {
	index &= 0x3ff
	switch depth {
	case 0:
		return ma.withIndex((index << 10) | (ma.index() & 0x3ff))
	case 1:
		return ma.withIndex((ma.index() &^ 0x3ff) | index)
	default:
		panic("logstor: withIndexAt called below leaf depth")
	}
}
