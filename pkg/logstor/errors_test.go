package logstor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	err := corruptf("bad thing at sector %d", 5)
	assert.True(t, errors.Is(err, ErrCorrupt))
	assert.False(t, errors.Is(err, ErrNoSpace))
}

func TestErrorAsRecoversKindAndMessage(t *testing.T) {
	err := invalidArgf("ba %d out of range", 42)
	var lerr *Error
	assert.True(t, errors.As(err, &lerr))
	assert.Equal(t, KindInvalidArgument, lerr.Kind)
	assert.Contains(t, lerr.Msg, "42")
}

func TestWrapIoPreservesCause(t *testing.T) {
	cause := errors.New("disk on fire")
	err := wrapIo(cause, "reading sector %d", 9)
	assert.True(t, errors.Is(err, ErrIo))

	var lerr *Error
	assert.True(t, errors.As(err, &lerr))
	assert.Contains(t, lerr.Err.Error(), "disk on fire")
}

func TestWrapIoNilReturnsNil(t *testing.T) {
	assert.NoError(t, wrapIo(nil, "unused"))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "corrupt", KindCorrupt.String())
	assert.Equal(t, "no space", KindNoSpace.String())
	assert.Equal(t, "io", KindIo.String())
	assert.Equal(t, "invalid argument", KindInvalidArgument.String())
}
