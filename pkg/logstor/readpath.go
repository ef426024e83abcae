package logstor

// Read fills data (a whole number of sectors) with the content mapped at
// logical block address ba. Consecutive BAs whose SAs are themselves
// consecutive are coalesced into a single backing-device read; an unmapped
// or deleted run is filled with zeroes without touching the device.
func (d *Device) Read(ba uint32, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	n, err := d.validateRange(ba, data)
	if err != nil {
		return err
	}

	sas := make([]uint32, n)
	for i := uint32(0); i < n; i++ {
		sa, err := d.fileRead4Byte(FDActive, ba+i)
		if err != nil {
			return err
		}
		sas[i] = sa
	}

	for i := uint32(0); i < n; {
		j := i + 1
		unmapped := sas[i] == SectorNull || sas[i] == SectorDelete
		if !unmapped {
			for j < n && sas[j] == sas[j-1]+1 {
				j++
			}
		}
		run := data[i*SectorSize : j*SectorSize]
		if unmapped {
			for k := range run {
				run[k] = 0
			}
		} else if err := d.io.Read(sas[i], run, j-i); err != nil {
			return wrapIo(err, "reading %d sectors at ba=%d", j-i, ba+i)
		}
		i = j
	}
	return nil
}
