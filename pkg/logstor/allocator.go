package logstor

// segAlloc binds target to a freshly chosen free segment, walking the
// superblock's allocation pointer forward and skipping any candidate that
// is the other active write front or still aged. Termination is guaranteed
// by the cleaner keeping seg_free_cnt above the low-water mark; a full
// sweep with nothing free is reported as NoSpace.
func (d *Device) segAlloc(target *segSum) error {
	other := d.otherFront(target)

	start := d.sb.segAllocP
	var sega int32
	for {
		sega = d.sb.segAllocP
		d.sb.segAllocP++
		if d.sb.segAllocP >= d.sb.segCnt {
			d.sb.segAllocP = SegDataStart
		}
		if sega != other && d.sb.segAge[sega] == 0 {
			break
		}
		if d.sb.segAllocP == start {
			return noSpacef("no free segment available (seg_free_cnt=%d)", d.sb.segFreeCnt)
		}
	}

	target.sega = uint32(sega)
	target.allocP = 0
	for i := range target.rm {
		target.rm[i] = SectorNull
	}
	d.sb.segFreeCnt--
	d.sb.modified = true
	d.log.Debugf("segment alloc: sega=%d seg_free_cnt=%d", sega, d.sb.segFreeCnt)
	return nil
}

// otherFront returns the sega of whichever write front is not target, so
// segAlloc never binds both fronts to the same segment.
func (d *Device) otherFront(target *segSum) int32 {
	if target == d.ssHot {
		return int32(d.ssCold.sega)
	}
	return int32(d.ssHot.sega)
}
