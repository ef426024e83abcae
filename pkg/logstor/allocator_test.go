package logstor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegAllocSkipsOtherFrontAndAgedSegments(t *testing.T) {
	dev, _ := newTestDevice(t, 16)

	assert.NotEqual(t, dev.ssHot.sega, dev.ssCold.sega)

	// Age the segment the allocation pointer would hand out next.
	aged := dev.sb.segAllocP
	dev.sb.segAge[aged] = 1

	target := &segSum{}
	require.NoError(t, dev.segAlloc(target))
	assert.NotEqual(t, uint32(aged), target.sega)
	assert.NotEqual(t, dev.ssHot.sega, target.sega)
	assert.NotEqual(t, dev.ssCold.sega, target.sega)
	assert.Equal(t, uint16(0), target.allocP)
	for _, v := range target.rm {
		assert.Equal(t, uint32(SectorNull), v)
	}
}

func TestSegAllocReturnsNoSpaceWhenExhausted(t *testing.T) {
	dev, _ := newTestDevice(t, 4) // SegDataStart=1, so only 3 data segments total
	dev.sb.segFreeCnt = 0
	for i := range dev.sb.segAge {
		dev.sb.segAge[i] = 1
	}

	target := &segSum{}
	err := dev.segAlloc(target)
	assert.Error(t, err)
	var lerr *Error
	require.True(t, errors.As(err, &lerr))
	assert.Equal(t, KindNoSpace, lerr.Kind)
}

func TestOtherFront(t *testing.T) {
	dev, _ := newTestDevice(t, 16)
	assert.Equal(t, int32(dev.ssCold.sega), dev.otherFront(dev.ssHot))
	assert.Equal(t, int32(dev.ssHot.sega), dev.otherFront(dev.ssCold))
}
