package logstor

// Sizes and fixed addresses for the on-disk layout: changing any of them
// changes the disk format.
const (
	// SectorSize is the unit of all I/O against the backing device.
	SectorSize = 512

	// SegSize is the size in bytes of one segment (4 MiB).
	SegSize = 0x400000

	// SectorsPerSeg is the number of sectors in one segment.
	SectorsPerSeg = SegSize / SectorSize

	// SegSumSectors is the number of trailing sectors a segment summary
	// occupies. A summary holds one 4-byte reverse-map entry per data
	// sector plus a 4-byte gen/allocP trailer, so its size depends on
	// BlocksPerSeg, which in turn depends on how many sectors it reserves
	// for itself. 64 is the smallest N solving
	// (SectorsPerSeg-N)*4+4 <= N*SectorSize for SectorsPerSeg=8192 (see
	// DESIGN.md's sizing note); N=8 only solves it for the spec's literal,
	// internally-inconsistent SectorsPerSeg=1024.
	SegSumSectors = 64

	// SegSumOff is the offset, within a segment, of the first sector of
	// the segment summary (the trailing SegSumSectors sectors).
	SegSumOff = SectorsPerSeg - SegSumSectors

	// BlocksPerSeg is the number of data sectors available per segment.
	BlocksPerSeg = SectorsPerSeg - SegSumSectors

	// SegDataStart is the first segment address available for data; segment
	// 0 is reserved for superblock rotation.
	SegDataStart = 1

	// FDCount is the number of forward-map file descriptors.
	FDCount = 3

	// Forward-map file descriptors.
	FDBase   = 0 // base map
	FDActive = 1 // active map
	FDDelta  = 2 // delta map, reserved for future snapshot support

	// MetaBase tags a 32-bit address as a metadata address: bits [31:30] == 0b11.
	MetaBase = 0xC0000000

	// MetaLeafDepth is the depth of a leaf indirect block in the forward-map tree.
	MetaLeafDepth = 2

	// EntriesPerBlock is the number of 4-byte SA entries per sector-sized
	// indirect block (SectorSize / 4).
	EntriesPerBlock = SectorSize / 4

	// FileBucketCount is the number of hash buckets backing the fbuf cache.
	FileBucketCount = 12899

	// SectorNull marks an unmapped BA.
	SectorNull = 0

	// SectorDelete marks an explicitly deleted BA; reads return zeroes.
	SectorDelete = 2

	// CleanWindow is the number of reclaim candidates the cleaner keeps in
	// flight at once.
	CleanWindow = 6

	// CleanAgeLimit is the number of reclaim-pointer passes a segment may
	// survive uncleaned before it is cleaned unconditionally.
	CleanAgeLimit = 4

	sigLogstor = 0x4C4F4753 // "LOGS"
	verMajor   = 0
	verMinor   = 1
)

// isMetaAddr reports whether x is tagged as a metadata address (bits
// [31:30] == 0b11).
func isMetaAddr(x uint32) bool {
	return x&MetaBase == MetaBase
}

// sega2sa converts a segment address to the sector address of its first
// data sector.
func sega2sa(sega uint32) uint32 {
	return sega * SectorsPerSeg
}
