package logstor

// Write stores data (a whole number of sectors) starting at logical block
// address ba. Runs of sectors are appended to the hot write front; the
// reverse map entry is always recorded (in the front's in-memory summary,
// which is persisted when the segment fills or at Close) before the forward
// map entry that makes the sector visible.
func (d *Device) Write(ba uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.validateRange(ba, data)
	if err != nil {
		return err
	}
	for i := uint32(0); i < n; {
		freeInSeg := uint32(SegSumOff) - uint32(d.ssHot.allocP)
		count := n - i
		if count > freeInSeg {
			count = freeInSeg
		}
		if err := d.writeRun(ba+i, data[i*SectorSize:(i+count)*SectorSize], count); err != nil {
			return err
		}
		i += count
	}
	return nil
}

// writeRun writes count contiguous sectors into the hot front in a single
// backing-device call, records the reverse map, rolls the front over if it
// fills, runs the cleaner if that drops free space low, and only then
// updates the forward map for each sector in the run.
func (d *Device) writeRun(ba uint32, data []byte, count uint32) error {
	ss := d.ssHot
	sa := sega2sa(ss.sega) + uint32(ss.allocP)

	if err := d.io.Write(sa, data, count); err != nil {
		return wrapIo(err, "writing %d sectors at ba=%d", count, ba)
	}
	d.dataWriteCount += uint64(count)

	for i := uint32(0); i < count; i++ {
		ss.rm[uint32(ss.allocP)+i] = ba + i
	}
	ss.allocP += uint16(count)

	if uint32(ss.allocP) == SegSumOff {
		if err := segSumWrite(d.io, ss, d.sb.gen); err != nil {
			return err
		}
		if err := d.segAlloc(ss); err != nil {
			return err
		}
		if err := d.cleanCheck(); err != nil {
			return err
		}
	}

	for i := uint32(0); i < count; i++ {
		if err := d.fileWrite4Byte(FDActive, ba+i, sa+i); err != nil {
			return err
		}
	}
	return nil
}

// writeOne is the single-sector write helper used by the cleaner to
// migrate a live user-data sector to the given front (cold, during
// cleaning). When the front fills it persists the summary and allocates a
// fresh segment for it, but unlike Write it never runs cleanCheck.
func (d *Device) writeOne(ba uint32, data []byte, ss *segSum) error {
	sa := sega2sa(ss.sega) + uint32(ss.allocP)
	if err := d.io.Write(sa, data, 1); err != nil {
		return wrapIo(err, "cleaner migrating ba=%d", ba)
	}
	d.dataWriteCount++
	ss.rm[ss.allocP] = ba
	ss.allocP++
	if uint32(ss.allocP) == SegSumOff {
		if err := segSumWrite(d.io, ss, d.sb.gen); err != nil {
			return err
		}
		if err := d.segAlloc(ss); err != nil {
			return err
		}
	}
	return d.fileWrite4Byte(FDActive, ba, sa)
}

// Delete marks n sectors starting at ba as explicitly unmapped; no segment
// write occurs, and subsequent reads of these BAs return zeroed sectors.
func (d *Device) Delete(ba uint32, n uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.validateBaRange(ba, n); err != nil {
		return err
	}
	for i := uint32(0); i < n; i++ {
		if err := d.fileWrite4Byte(FDActive, ba+i, SectorDelete); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) validateRange(ba uint32, data []byte) (uint32, error) {
	if len(data)%SectorSize != 0 {
		return 0, invalidArgf("buffer length %d is not sector-aligned", len(data))
	}
	n := uint32(len(data) / SectorSize)
	if err := d.validateBaRange(ba, n); err != nil {
		return 0, err
	}
	return n, nil
}

func (d *Device) validateBaRange(ba uint32, n uint32) error {
	if n == 0 {
		return invalidArgf("zero-length request")
	}
	if isMetaAddr(ba) || uint64(ba)+uint64(n) > uint64(d.sb.maxBlockCnt) {
		return invalidArgf("ba range [%d, %d) exceeds block_count=%d", ba, ba+n, d.sb.maxBlockCnt)
	}
	return nil
}
