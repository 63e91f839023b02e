package fsck

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/udfsck/udfsck/internal/udf"
)

func TestGetCorrectPrefersMainWhenClean(t *testing.T) {
	main := &vdsCopy{}
	reserve := &vdsCopy{pdErr: udf.ECRC}

	useMain, ok := getCorrect(main, reserve, kindPD)
	assert.True(t, ok)
	assert.True(t, useMain)
}

func TestGetCorrectFallsBackToReserve(t *testing.T) {
	main := &vdsCopy{pdErr: udf.EChecksum}
	reserve := &vdsCopy{}

	useMain, ok := getCorrect(main, reserve, kindPD)
	assert.True(t, ok)
	assert.False(t, useMain)
}

func TestGetCorrectBothBad(t *testing.T) {
	main := &vdsCopy{pdErr: udf.EWrongDesc}
	reserve := &vdsCopy{pdErr: udf.ECRC}

	_, ok := getCorrect(main, reserve, kindPD)
	assert.False(t, ok)
}

func TestGetCorrectIgnoresNonStructuralErrors(t *testing.T) {
	// EPosition alone is a warning, not disqualifying.
	main := &vdsCopy{pdErr: udf.EPosition}
	reserve := &vdsCopy{}

	useMain, ok := getCorrect(main, reserve, kindPD)
	assert.True(t, ok)
	assert.True(t, useMain)
}

func TestSlotErrorsStructuralErrorsAny(t *testing.T) {
	clean := SlotErrors{}
	assert.False(t, clean.StructuralErrorsAny())

	dirty := SlotErrors{LVD: udf.ECRC}
	assert.True(t, dirty.StructuralErrorsAny())
}
