package logstor

// cleanLowWater is the seg_free_cnt threshold below which clean_check
// kicks off a cleaning pass.
func (d *Device) cleanLowWater() int32 { return 2 * int32(d.cfg.CleanWindow) }

// cleanHighWater is the seg_free_cnt the cleaner tries to restore before
// stopping.
func (d *Device) cleanHighWater() int32 { return 4 * int32(d.cfg.CleanWindow) }

// cleanerEnable and cleanerDisable form a re-entrancy guard: metadata
// writes performed while the cleaner itself is running must not recurse
// back into clean_check.
func (d *Device) cleanerEnable()  { d.cleanerDisabled-- }
func (d *Device) cleanerDisable() { d.cleanerDisabled++ }

// cleanCheck runs the cleaner if free space has dropped to the low-water
// mark and it is not already running.
func (d *Device) cleanCheck() error {
	if d.sb.segFreeCnt > d.cleanLowWater() || d.cleanerDisabled != 0 {
		return nil
	}
	d.log.Debugf("cleaner pass starting: seg_free_cnt=%d low_water=%d", d.sb.segFreeCnt, d.cleanLowWater())
	d.cleanerDisable()
	d.cleanerRuns++
	err := d.runCleaner()
	d.cleanerEnable()
	d.log.Debugf("cleaner pass done: seg_free_cnt=%d segments_cleaned=%d", d.sb.segFreeCnt, d.segmentsCleaned)
	return err
}

// segReclaimInit advances the reclaim pointer to the next candidate
// segment (skipping the hot and cold write fronts), pinning it with an age bump so the allocator cannot hand it out
// mid-cleaning, then either cleans it immediately (if it has survived
// CleanAgeLimit passes) or computes its live count. sega == 0 signals the
// sentinel "reached the high-water mark, stop populating" condition from
// spec.md §4.6.
func (d *Device) segReclaimInit(seg *segSum) error {
	segaCold := d.ssCold.sega
	segaHot := d.ssHot.sega
	for {
		sega := d.sb.segReclaimP
		d.sb.segReclaimP++
		if d.sb.segReclaimP == d.sb.segCnt {
			d.sb.segReclaimP = SegDataStart
		}
		if uint32(sega) == segaHot || uint32(sega) == segaCold {
			continue
		}

		d.sb.segAge[sega]++
		seg.sega = uint32(sega)
		if err := segSumReadInto(d.io, seg, uint32(sega)); err != nil {
			return err
		}

		if int(d.sb.segAge[sega]) >= d.cfg.CleanAgeLimit {
			if err := d.segClean(seg); err != nil {
				return err
			}
			if d.sb.segFreeCnt > d.cleanHighWater() {
				seg.sega = 0
				return nil
			}
			continue
		}

		return d.segLiveCount(seg)
	}
}

// segLiveCount scans a reclaim candidate's reverse map and counts slots
// that are still live: for metadata, only entries whose cached fbuf is
// neither modified nor accessed are counted (the rest will be rewritten by
// other mechanisms regardless of whether this segment is cleaned).
func (d *Device) segLiveCount(seg *segSum) error {
	segSa := sega2sa(seg.sega)
	live := 0
	for i := 0; i < int(seg.allocP); i++ {
		ba := seg.rm[i]
		if isMetaAddr(ba) {
			sa, err := d.fbufMa2sa(metaAddr(ba))
			if err != nil {
				return err
			}
			if sa != segSa+uint32(i) {
				continue
			}
			idx, err := d.fbufGet(metaAddr(ba))
			if err != nil {
				return err
			}
			b := &d.fc.buf[idx]
			if !b.modified && !b.accessed {
				live++
			}
		} else {
			sa, err := d.fileRead4Byte(FDActive, ba)
			if err != nil {
				return err
			}
			if sa == segSa+uint32(i) {
				live++
			}
		}
	}
	seg.liveCount = live
	return nil
}

// segClean migrates every live sector out of seg through the cold front:
// live metadata is marked modified (and flushed immediately through cold
// if it is not also pinned by a pending access); live user data is read
// and rewritten via writeOne. The segment is then marked fully free.
func (d *Device) segClean(seg *segSum) error {
	segSa := sega2sa(seg.sega)
	data := make([]byte, SectorSize)
	for i := 0; i < int(seg.allocP); i++ {
		ba := seg.rm[i]
		if isMetaAddr(ba) {
			sa, err := d.fbufMa2sa(metaAddr(ba))
			if err != nil {
				return err
			}
			if sa != segSa+uint32(i) {
				continue
			}
			idx, err := d.fbufGet(metaAddr(ba))
			if err != nil {
				return err
			}
			b := &d.fc.buf[idx]
			if b.modified {
				continue
			}
			b.modified = true
			d.fc.modifiedCount++
			if !b.accessed {
				if err := d.fbufFlush(idx, d.ssCold); err != nil {
					return err
				}
			}
		} else {
			sa, err := d.fileRead4Byte(FDActive, ba)
			if err != nil {
				return err
			}
			if sa != segSa+uint32(i) {
				continue
			}
			if err := d.io.Read(segSa+uint32(i), data, 1); err != nil {
				return wrapIo(err, "cleaner reading live sector %d", segSa+uint32(i))
			}
			if err := d.writeOne(ba, data, d.ssCold); err != nil {
				return err
			}
		}
	}
	d.sb.segAge[seg.sega] = 0
	d.sb.segFreeCnt++
	d.sb.modified = true
	d.segmentsCleaned++
	return nil
}

func removeCandidate(queue []int, val int) []int {
	for i, v := range queue {
		if v == val {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	return queue
}

// runCleaner is the clean-window algorithm of spec.md §4.6, a direct
// translation of the original's goto-driven state machine: populate up to
// CleanWindow candidates, repeatedly clean the coldest (least-live) one and
// refill, with an anti-starvation check on the queue's head once it has
// survived a full pass without being selected: it is aged and replaced if its
// live count is at or above the mean of the others, and cleaned otherwise.
func (d *Device) runCleaner() error {
	queue := make([]int, 0, len(d.cleanCandidates))
	for i := range d.cleanCandidates {
		seg := &d.cleanCandidates[i]
		if err := d.segReclaimInit(seg); err != nil {
			return err
		}
		if seg.sega == 0 {
			return d.cleanExit(queue)
		}
		queue = append(queue, i)
	}

	var (
		segToClean   int
		liveCountAvg int
		headFlag     bool
		prevHead     = -1
		curHead      int
	)

top:
	{
		liveMin := -1
		sum := 0
		for _, ci := range queue {
			lc := d.cleanCandidates[ci].liveCount
			sum += lc
			if liveMin == -1 || lc < liveMin {
				liveMin = lc
				segToClean = ci
			}
		}
		if len(queue) > 1 {
			liveCountAvg = (sum - liveMin) / (len(queue) - 1)
		} else {
			liveCountAvg = 0
		}
	}
	headFlag = false

clean:
	queue = removeCandidate(queue, segToClean)
	if err := d.segClean(&d.cleanCandidates[segToClean]); err != nil {
		return err
	}
	if d.sb.segFreeCnt > d.cleanHighWater() {
		return d.cleanExit(queue)
	}

reclaimInit:
	if err := d.segReclaimInit(&d.cleanCandidates[segToClean]); err != nil {
		return err
	}
	if d.cleanCandidates[segToClean].sega == 0 {
		return d.cleanExit(queue)
	}
	queue = append(queue, segToClean)

	if headFlag {
		goto top
	}

	curHead = queue[0]
	if curHead == prevHead {
		if len(queue) > 1 {
			prevHead = queue[1]
		} else {
			prevHead = curHead
		}
		if d.cleanCandidates[curHead].liveCount >= liveCountAvg {
			d.sb.segAge[d.cleanCandidates[curHead].sega]++
			segToClean = curHead
			queue = removeCandidate(queue, segToClean)
			headFlag = true
			goto reclaimInit
		}
		segToClean = curHead
		headFlag = true
		goto clean
	}
	prevHead = curHead
	goto top
}

// cleanExit is the final sweep run on every cleaner exit path: any
// remaining candidate that is mostly dead gets cleaned immediately rather
// than left to age out on its own.
func (d *Device) cleanExit(queue []int) error {
	for _, ci := range queue {
		if float64(d.cleanCandidates[ci].liveCount) < float64(BlocksPerSeg)*0.5 {
			if err := d.segClean(&d.cleanCandidates[ci]); err != nil {
				return err
			}
		}
	}
	return nil
}
