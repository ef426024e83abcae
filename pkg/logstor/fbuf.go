package logstor

import "encoding/binary"

// fbufIndex is an arena handle into Device.fc.buf. Using an index instead of
// a pointer lets the parent/child/queue graph live in plain slices: the
// owning relation is the array itself, and every link (parent, circular
// queue, indirect list, hash bucket) is just another index. nilFbuf plays
// the role of a nil pointer.
type fbufIndex int32

const nilFbuf fbufIndex = -1

// metaInvalid tags a pool slot that has never been hashed against a real
// tree address. Pool initialization hashes slots by their pool index
// instead (for even initial bucket distribution), so the exact value here
// only matters as a placeholder.
const metaInvalid = metaAddr(0xFFFFFFFF)

// fbuf is one cached metadata sector: either an indirect block (interpreted
// as EntriesPerBlock little-endian uint32 child SAs) or, at the leaf level,
// raw forward-map entries addressed by fileAccess.
type fbuf struct {
	ma       metaAddr
	data     [SectorSize]byte
	sa       uint32 // sector this data was last read from or written to
	parent   fbufIndex
	refCnt   int
	modified bool
	accessed bool

	onCirQueue bool
	cqNext     fbufIndex
	cqPrev     fbufIndex

	ilNext fbufIndex
	ilPrev fbufIndex

	hBucket uint32
	hNext   fbufIndex
	hPrev   fbufIndex
}

func (b *fbuf) uint32At(index uint32) uint32 {
	return binary.LittleEndian.Uint32(b.data[index*4:])
}

func (b *fbuf) setUint32At(index uint32, v uint32) {
	binary.LittleEndian.PutUint32(b.data[index*4:], v)
}

// fbufCache is the arena of fbuf slots backing the forward-map tree: a
// circular queue of evictable buffers, two indirect lists holding pinned
// ancestors (depths 0 and 1; leaves never have children so are never
// promoted), and a hash index keyed by metaAddr for fbufSearch.
type fbufCache struct {
	buf        []fbuf
	bucketHead []fbufIndex
	cirHead    fbufIndex
	indirHead  [MetaLeafDepth]fbufIndex

	hit, miss       uint64
	modifiedCount   int
}

// newFbufCache builds a pool of count fbufs, all initially free on the
// circular queue and distributed across hash buckets by pool index, per
// spec.md §4.5's "place each in a hash bucket keyed by index".
func newFbufCache(count int) *fbufCache {
	if count < 1 {
		count = 1
	}
	fc := &fbufCache{
		buf:        make([]fbuf, count),
		bucketHead: make([]fbufIndex, FileBucketCount),
	}
	for i := range fc.bucketHead {
		fc.bucketHead[i] = nilFbuf
	}
	for i := range fc.buf {
		b := &fc.buf[i]
		b.cqNext = fbufIndex((i + 1) % count)
		b.cqPrev = fbufIndex((i - 1 + count) % count)
		b.parent = nilFbuf
		b.onCirQueue = true
		b.ma = metaInvalid
		fc.hashInsert(fbufIndex(i), uint32(i))
	}
	fc.cirHead = 0
	fc.indirHead[0] = nilFbuf
	fc.indirHead[1] = nilFbuf
	return fc
}

func (fc *fbufCache) hashInsert(idx fbufIndex, key uint32) {
	h := key % FileBucketCount
	b := &fc.buf[idx]
	b.hBucket = h
	b.hNext = fc.bucketHead[h]
	b.hPrev = nilFbuf
	if fc.bucketHead[h] != nilFbuf {
		fc.buf[fc.bucketHead[h]].hPrev = idx
	}
	fc.bucketHead[h] = idx
}

func (fc *fbufCache) hashRemove(idx fbufIndex) {
	b := &fc.buf[idx]
	if b.hPrev != nilFbuf {
		fc.buf[b.hPrev].hNext = b.hNext
	} else {
		fc.bucketHead[b.hBucket] = b.hNext
	}
	if b.hNext != nilFbuf {
		fc.buf[b.hNext].hPrev = b.hPrev
	}
}

// search scans the bucket for ma, returning nilFbuf on a miss. Every call
// (including the ones made internally by fbufGet while walking the tree)
// counts toward hit/miss stats, matching the original's fbuf_search.
func (fc *fbufCache) search(ma metaAddr) fbufIndex {
	h := uint32(ma) % FileBucketCount
	for idx := fc.bucketHead[h]; idx != nilFbuf; idx = fc.buf[idx].hNext {
		if fc.buf[idx].ma == ma {
			fc.hit++
			return idx
		}
	}
	fc.miss++
	return nilFbuf
}

func (fc *fbufCache) cirQueueInsert(idx fbufIndex) {
	head := fc.cirHead
	prev := fc.buf[head].cqPrev
	fc.buf[head].cqPrev = idx
	fc.buf[idx].cqNext = head
	fc.buf[idx].cqPrev = prev
	fc.buf[prev].cqNext = idx
	fc.buf[idx].onCirQueue = true
}

// cirQueueRemove must only be called when the queue holds at least two
// elements, mirroring the original's precondition.
func (fc *fbufCache) cirQueueRemove(idx fbufIndex) {
	if idx == fc.cirHead {
		fc.cirHead = fc.buf[idx].cqNext
	}
	prev, next := fc.buf[idx].cqPrev, fc.buf[idx].cqNext
	fc.buf[prev].cqNext = next
	fc.buf[next].cqPrev = prev
	fc.buf[idx].onCirQueue = false
}

func (fc *fbufCache) indirInsertHead(depth uint8, idx fbufIndex) {
	head := fc.indirHead[depth]
	fc.buf[idx].ilNext = head
	fc.buf[idx].ilPrev = nilFbuf
	if head != nilFbuf {
		fc.buf[head].ilPrev = idx
	}
	fc.indirHead[depth] = idx
}

func (fc *fbufCache) indirRemove(depth uint8, idx fbufIndex) {
	prev, next := fc.buf[idx].ilPrev, fc.buf[idx].ilNext
	if prev != nilFbuf {
		fc.buf[prev].ilNext = next
	} else {
		fc.indirHead[depth] = next
	}
	if next != nilFbuf {
		fc.buf[next].ilPrev = prev
	}
}

// fbufAlloc picks an eviction victim with the second-chance (clock)
// algorithm: walk the circular queue from its head, clearing accessed bits,
// until one is found already unaccessed. The victim is flushed via the hot
// front if dirty and detached from its parent; if that drops the parent's
// ref_cnt to zero the parent returns to the circular queue, eligible for
// its own eviction on a future pass.
func (d *Device) fbufAlloc() (fbufIndex, error) {
	fc := d.fc
	idx := fc.cirHead
	for {
		if !fc.buf[idx].accessed {
			break
		}
		fc.buf[idx].accessed = false
		idx = fc.buf[idx].cqNext
		if idx == fc.cirHead {
			break
		}
	}
	fc.cirHead = fc.buf[idx].cqNext

	if fc.buf[idx].modified {
		if err := d.fbufFlush(idx, d.ssHot); err != nil {
			return nilFbuf, err
		}
	}

	pidx := fc.buf[idx].parent
	fc.buf[idx].parent = nilFbuf
	if pidx != nilFbuf {
		fc.buf[pidx].refCnt--
		if fc.buf[pidx].refCnt == 0 {
			fc.indirRemove(fc.buf[pidx].ma.depth(), pidx)
			fc.cirQueueInsert(pidx)
			fc.buf[pidx].accessed = false
		}
	}
	return idx, nil
}

// fbufReadAndHash evicts a victim via fbufAlloc, fills it from sa (or
// zeroes it when sa is unmapped), and re-hashes it under ma.
func (d *Device) fbufReadAndHash(sa uint32, ma metaAddr) (fbufIndex, error) {
	idx, err := d.fbufAlloc()
	if err != nil {
		return nilFbuf, err
	}
	b := &d.fc.buf[idx]
	if sa == SectorNull {
		b.data = [SectorSize]byte{}
	} else if err := d.io.Read(sa, b.data[:], 1); err != nil {
		return nilFbuf, wrapIo(err, "reading metadata sector %d", sa)
	}
	d.fc.hashRemove(idx)
	b.ma = ma
	b.sa = sa
	d.fc.hashInsert(idx, uint32(ma))
	return idx, nil
}

// fbufGet returns the cache entry for ma, materializing every ancestor
// along the way on a miss. The parent of each newly read ancestor is
// pre-emptively ref-counted before the next level is read, since reading it
// runs fbufAlloc's eviction and could otherwise select the ancestor itself
// for reuse.
func (d *Device) fbufGet(ma metaAddr) (fbufIndex, error) {
	fc := d.fc
	if idx := fc.search(ma); idx != nilFbuf {
		return idx, nil
	}

	sa := d.sb.ftab[ma.fd()]
	pidx := nilFbuf
	tma := newMetaAddr(ma.fd())
	var idx fbufIndex

	for depth := uint8(0); ; depth++ {
		tma = tma.withDepth(depth)
		if found := fc.search(tma); found != nilFbuf {
			idx = found
			if pidx != nilFbuf {
				fc.buf[pidx].refCnt--
			}
		} else {
			var err error
			idx, err = d.fbufReadAndHash(sa, tma)
			if err != nil {
				return nilFbuf, err
			}
			fc.buf[idx].parent = pidx
		}

		if depth == ma.depth() {
			break
		}

		if fc.buf[idx].onCirQueue {
			fc.cirQueueRemove(idx)
			fc.indirInsertHead(depth, idx)
			fc.buf[idx].refCnt = 0
		}
		fc.buf[idx].refCnt++

		index := ma.indexAt(depth)
		tma = tma.withIndexAt(depth, index)
		sa = fc.buf[idx].uint32At(index)
		pidx = idx
	}
	return idx, nil
}

// fbufWrite appends buf's data to ss's write front, recording the reverse
// map entry, and rolls the front over to a freshly allocated segment when
// it fills.
func (d *Device) fbufWrite(idx fbufIndex, ss *segSum) (uint32, error) {
	b := &d.fc.buf[idx]
	if ss.allocP >= SegSumOff {
		return 0, corruptf("segment summary already full at write time")
	}
	sa := sega2sa(ss.sega) + uint32(ss.allocP)

	if err := d.io.Write(sa, b.data[:], 1); err != nil {
		return 0, wrapIo(err, "writing metadata sector %d", sa)
	}
	b.modified = false
	d.fc.modifiedCount--
	d.otherWriteCount++

	ss.rm[ss.allocP] = b.ma.uint32()
	ss.allocP++

	if ss.allocP == SegSumOff {
		if err := segSumWrite(d.io, ss, d.sb.gen); err != nil {
			return 0, err
		}
		if err := d.segAlloc(ss); err != nil {
			return 0, err
		}
		// Segment cleaning is never triggered from inside an fbuf flush:
		// clean_check only runs from the user write path (spec.md §4.3).
	}
	return sa, nil
}

// fbufFlush writes a dirty fbuf out through the given front and threads the
// resulting sector address up to its parent (or, for a root, into the
// superblock's file table).
func (d *Device) fbufFlush(idx fbufIndex, ss *segSum) error {
	b := &d.fc.buf[idx]
	if !b.modified {
		return invalidArgf("fbufFlush called on a clean buffer")
	}
	sa, err := d.fbufWrite(idx, ss)
	if err != nil {
		return err
	}
	b.sa = sa

	pidx := b.parent
	if pidx != nilFbuf {
		pindex := b.ma.indexAt(b.ma.depth() - 1)
		d.fc.buf[pidx].setUint32At(pindex, sa)
		if !d.fc.buf[pidx].modified {
			d.fc.buf[pidx].modified = true
			d.fc.modifiedCount++
		}
	} else {
		d.sb.ftab[b.ma.fd()] = sa
		d.sb.modified = true
	}
	return nil
}

// fbufMa2sa resolves ma to the sector address currently recorded for it,
// without taking a reference: a root address reads straight out of the
// superblock's file table, deeper addresses fetch the fbuf (bringing in its
// ancestors) and read its parent's slot.
func (d *Device) fbufMa2sa(ma metaAddr) (uint32, error) {
	if ma.depth() == 0 {
		return d.sb.ftab[ma.fd()], nil
	}
	idx, err := d.fbufGet(ma)
	if err != nil {
		return 0, err
	}
	b := &d.fc.buf[idx]
	pidx := b.parent
	pindex := ma.indexAt(ma.depth() - 1)
	return d.fc.buf[pidx].uint32At(pindex), nil
}

// fileAccess returns the fbuf holding the forward-map entry at byte offset
// within fd's flat SA array, along with the offset within that fbuf's
// sector-sized data. Marks the fbuf accessed, and on a write access marks
// it modified (first transition only, for accurate modifiedCount bookkeeping).
func (d *Device) fileAccess(fd uint8, offset uint32, write bool) (fbufIndex, uint32, error) {
	bufOff := offset & (SectorSize - 1)
	ma := newLeafAddr(fd, offset/SectorSize)
	idx, err := d.fbufGet(ma)
	if err != nil {
		return nilFbuf, 0, err
	}
	b := &d.fc.buf[idx]
	b.accessed = true
	if !b.modified && write {
		b.modified = true
		d.fc.modifiedCount++
	}
	return idx, bufOff, nil
}

// fileRead4Byte returns the SA currently mapped to ba in file fd.
func (d *Device) fileRead4Byte(fd uint8, ba uint32) (uint32, error) {
	idx, off, err := d.fileAccess(fd, ba<<2, false)
	if err != nil {
		return 0, err
	}
	return d.fc.buf[idx].uint32At(off / 4), nil
}

// fileWrite4Byte maps ba to sa in file fd.
func (d *Device) fileWrite4Byte(fd uint8, ba uint32, sa uint32) error {
	idx, off, err := d.fileAccess(fd, ba<<2, true)
	if err != nil {
		return err
	}
	d.fc.buf[idx].setUint32At(off/4, sa)
	return nil
}

// fileModFlush flushes every modified fbuf via the hot front: the circular
// queue first, then the indirect lists from leaf-most to root-most so that
// a child's flush has already updated its parent's slot before the parent
// itself is written out.
func (d *Device) fileModFlush() error {
	fc := d.fc
	start := fc.cirHead
	idx := start
	for {
		if fc.buf[idx].modified {
			if err := d.fbufFlush(idx, d.ssHot); err != nil {
				return err
			}
		}
		idx = fc.buf[idx].cqNext
		if idx == start {
			break
		}
	}

	for depth := int(MetaLeafDepth) - 1; depth >= 0; depth-- {
		for idx := fc.indirHead[depth]; idx != nilFbuf; idx = fc.buf[idx].ilNext {
			if fc.buf[idx].modified {
				if err := d.fbufFlush(idx, d.ssHot); err != nil {
					return err
				}
			}
		}
	}
	return nil
}
