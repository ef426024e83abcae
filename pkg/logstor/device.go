package logstor

import (
	"os"
	"sync"

	"github.com/vorteil/logstor/pkg/elog"
)

// BlockIO is the synchronous sector-granular interface the core consumes
// from its backing device. Implementations are assumed durable on a
// successful Write return and are never called concurrently with
// themselves for the same Device (the caller's mutex enforces this).
type BlockIO interface {
	Read(sa uint32, buf []byte, sectors uint32) error
	Write(sa uint32, buf []byte, sectors uint32) error
	MediaSectors() uint32
}

// Config carries the tunables spec.md leaves as named constants but which
// tests and real deployments need to vary: a tiny FbufRatio/CleanWindow
// lets a test force eviction and cleaning without a multi-gigabyte device.
type Config struct {
	// FbufRatio scales the metadata cache pool beyond the minimum one slot
	// per forward-map leaf entry group; must be >= 1.0.
	FbufRatio float64
	// CleanWindow is the number of reclaim candidates kept in flight.
	CleanWindow int
	// CleanAgeLimit is the number of reclaim-pointer passes a segment
	// survives uncleaned before it is cleaned unconditionally.
	CleanAgeLimit int
}

// DefaultConfig returns the tunables matching spec.md's literal constants.
func DefaultConfig() Config {
	return Config{
		FbufRatio:     1.0,
		CleanWindow:   CleanWindow,
		CleanAgeLimit: CleanAgeLimit,
	}
}

func (c Config) withDefaults() Config {
	if c.FbufRatio < 1.0 {
		c.FbufRatio = 1.0
	}
	if c.CleanWindow <= 0 {
		c.CleanWindow = CleanWindow
	}
	if c.CleanAgeLimit <= 0 {
		c.CleanAgeLimit = CleanAgeLimit
	}
	return c
}

// Stats is a point-in-time snapshot of the counters spec.md §6 names plus
// the cleaner activity counters this expansion adds, since the cleaner is
// otherwise entirely unobservable from outside the package.
type Stats struct {
	DataWriteCount  uint64
	OtherWriteCount uint64
	FbufHit         uint64
	FbufMiss        uint64
	CleanerRuns     uint64
	SegmentsCleaned uint64
}

// SuperblockStat surfaces the live superblock fields for the CLI's stat
// verb and for tests, without exposing the mutable internal struct.
type SuperblockStat struct {
	SegCount      int32
	SegFreeCount  int32
	MaxBlockCount uint32
	Generation    uint16
}

// Device is an open log-structured store: the superblock, the hot and
// cold segment write fronts, the metadata cache, and the backing device.
// Every exported method takes the device-level lock, matching the single
// exclusive-lock concurrency model of spec.md §5.
type Device struct {
	mu  sync.Mutex
	io  BlockIO
	log elog.Logger
	cfg Config

	sb     *superblock
	ssHot  *segSum
	ssCold *segSum
	fc     *fbufCache

	cleanCandidates []segSum
	cleanerDisabled int

	dataWriteCount  uint64
	otherWriteCount uint64
	cleanerRuns     uint64
	segmentsCleaned uint64
}

// Open reads (or initializes) the superblock, allocates the cold and hot
// write fronts, and builds the metadata cache. A nil logger is replaced
// with elog.Discard.
func Open(io BlockIO, cfg Config, log elog.Logger) (*Device, error) {
	if log == nil {
		log = elog.Discard
	}
	cfg = cfg.withDefaults()

	sb, err := superblockRead(io)
	if err != nil {
		log.Warnf("superblock read failed (%v); reinitializing device", err)
		sb, err = superblockInit(io.MediaSectors())
		if err != nil {
			return nil, err
		}
		if err := sb.writeInitial(io); err != nil {
			return nil, err
		}
	}
	log.Infof("opened device: seg_cnt=%d seg_free_cnt=%d max_block_cnt=%d gen=%d",
		sb.segCnt, sb.segFreeCnt, sb.maxBlockCnt, sb.gen)

	d := &Device{
		io:              io,
		log:             log,
		cfg:             cfg,
		sb:              sb,
		ssCold:          &segSum{},
		ssHot:           &segSum{},
		cleanCandidates: make([]segSum, cfg.CleanWindow),
	}

	if err := d.segAlloc(d.ssCold); err != nil {
		return nil, err
	}
	if err := d.segAlloc(d.ssHot); err != nil {
		return nil, err
	}
	log.Debugf("allocated write fronts: cold=%d hot=%d", d.ssCold.sega, d.ssHot.sega)

	fbufCount := int(float64(sb.maxBlockCnt) / EntriesPerBlock * cfg.FbufRatio)
	if fbufCount < FDCount {
		fbufCount = FDCount
	}
	d.fc = newFbufCache(fbufCount)
	log.Debugf("metadata cache pool size: %d", fbufCount)

	return d, nil
}

// Close flushes every modified fbuf through the hot front, persists both
// segment summaries even if partial, and rewrites the superblock.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.fileModFlush(); err != nil {
		return err
	}
	if err := segSumWrite(d.io, d.ssHot, d.sb.gen); err != nil {
		return err
	}
	if err := segSumWrite(d.io, d.ssCold, d.sb.gen); err != nil {
		return err
	}
	if err := d.sb.write(d.io); err != nil {
		return err
	}
	d.log.Debugf("superblock rotation: sbSA=%d gen=%d", d.sb.sbSA, d.sb.gen)
	d.log.Infof("closed device: gen=%d", d.sb.gen)
	return nil
}

// BlockCount returns the maximum client block address accepted, exclusive.
func (d *Device) BlockCount() uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sb.maxBlockCnt
}

// Stats returns a snapshot of the engine's activity counters.
func (d *Device) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		DataWriteCount:  d.dataWriteCount,
		OtherWriteCount: d.otherWriteCount,
		FbufHit:         d.fc.hit,
		FbufMiss:        d.fc.miss,
		CleanerRuns:     d.cleanerRuns,
		SegmentsCleaned: d.segmentsCleaned,
	}
}

// SuperblockStat returns the live superblock fields for diagnostics.
func (d *Device) SuperblockStat() SuperblockStat {
	d.mu.Lock()
	defer d.mu.Unlock()
	return SuperblockStat{
		SegCount:      d.sb.segCnt,
		SegFreeCount:  d.sb.segFreeCnt,
		MaxBlockCount: d.sb.maxBlockCnt,
		Generation:    d.sb.gen,
	}
}

// FileBlockIO is a BlockIO backed by an *os.File, sector-validating every
// read/write offset and length.
type FileBlockIO struct {
	f       *os.File
	sectors uint32
}

// NewFileBlockIO opens (or creates, truncated to mediaSectors*SectorSize)
// the backing file at path. When opening an existing file with
// mediaSectors == 0, the size is derived from the file's current length.
func NewFileBlockIO(path string, create bool, mediaSectors uint32) (*FileBlockIO, error) {
	flags := os.O_RDWR
	if create {
		flags |= os.O_CREATE | os.O_TRUNC
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return nil, wrapIo(err, "opening backing file %s", path)
	}
	if create {
		if err := f.Truncate(int64(mediaSectors) * SectorSize); err != nil {
			return nil, wrapIo(err, "truncating backing file %s", path)
		}
	} else if mediaSectors == 0 {
		info, err := f.Stat()
		if err != nil {
			return nil, wrapIo(err, "statting backing file %s", path)
		}
		mediaSectors = uint32(info.Size() / SectorSize)
	}
	return &FileBlockIO{f: f, sectors: mediaSectors}, nil
}

func (b *FileBlockIO) Read(sa uint32, buf []byte, sectors uint32) error {
	if err := validateIO(sa, len(buf), sectors, b.sectors); err != nil {
		return err
	}
	_, err := b.f.ReadAt(buf[:sectors*SectorSize], int64(sa)*SectorSize)
	return err
}

func (b *FileBlockIO) Write(sa uint32, buf []byte, sectors uint32) error {
	if err := validateIO(sa, len(buf), sectors, b.sectors); err != nil {
		return err
	}
	_, err := b.f.WriteAt(buf[:sectors*SectorSize], int64(sa)*SectorSize)
	return err
}

func (b *FileBlockIO) MediaSectors() uint32 { return b.sectors }

// Close closes the underlying file.
func (b *FileBlockIO) Close() error { return b.f.Close() }

// MemBlockIO is an in-memory BlockIO used by tests; it never touches disk.
type MemBlockIO struct {
	data    []byte
	sectors uint32
}

// NewMemBlockIO allocates a zeroed in-memory device of the given size.
func NewMemBlockIO(mediaSectors uint32) *MemBlockIO {
	return &MemBlockIO{
		data:    make([]byte, uint64(mediaSectors)*SectorSize),
		sectors: mediaSectors,
	}
}

func (b *MemBlockIO) Read(sa uint32, buf []byte, sectors uint32) error {
	if err := validateIO(sa, len(buf), sectors, b.sectors); err != nil {
		return err
	}
	off := uint64(sa) * SectorSize
	copy(buf[:sectors*SectorSize], b.data[off:off+uint64(sectors)*SectorSize])
	return nil
}

func (b *MemBlockIO) Write(sa uint32, buf []byte, sectors uint32) error {
	if err := validateIO(sa, len(buf), sectors, b.sectors); err != nil {
		return err
	}
	off := uint64(sa) * SectorSize
	copy(b.data[off:off+uint64(sectors)*SectorSize], buf[:sectors*SectorSize])
	return nil
}

func (b *MemBlockIO) MediaSectors() uint32 { return b.sectors }

func validateIO(sa uint32, bufLen int, sectors uint32, mediaSectors uint32) error {
	if bufLen < int(sectors)*SectorSize {
		return invalidArgf("buffer too short for %d sectors", sectors)
	}
	if uint64(sa)+uint64(sectors) > uint64(mediaSectors) {
		return invalidArgf("sector range [%d, %d) exceeds device size %d", sa, sa+sectors, mediaSectors)
	}
	return nil
}
