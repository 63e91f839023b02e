package fsck

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSpaceAccountStartsAllFree(t *testing.T) {
	s := newSpaceAccount(16)
	assert.EqualValues(t, 16, s.FreeBlocks())
}

func TestSpaceAccountMarkUnmark(t *testing.T) {
	s := newSpaceAccount(16)

	doubles := s.Mark(0, 4)
	assert.EqualValues(t, 0, doubles)
	assert.EqualValues(t, 12, s.FreeBlocks())

	doubles = s.Mark(2, 4)
	assert.EqualValues(t, 2, doubles, "blocks 2-3 were already marked used")

	doubles = s.Unmark(0, 2)
	assert.EqualValues(t, 0, doubles)
	assert.EqualValues(t, 12, s.FreeBlocks())

	doubles = s.Unmark(0, 2)
	assert.EqualValues(t, 2, doubles, "blocks 0-1 were already free")
}

func TestSpaceAccountMarkOutOfRangeIgnored(t *testing.T) {
	s := newSpaceAccount(8)
	s.Mark(6, 10) // extends past numBits; should not panic or wrap
	assert.EqualValues(t, 6, s.FreeBlocks())
}

func TestSpaceAccountEqual(t *testing.T) {
	s := newSpaceAccount(8)
	s.Mark(0, 3)

	recorded := []byte{0b11111000}
	assert.True(t, s.Equal(recorded))

	recorded[0] = 0xFF
	assert.False(t, s.Equal(recorded))

	assert.False(t, s.Equal([]byte{0x00, 0x00}))
}
