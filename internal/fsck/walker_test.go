package fsck

import (
	"bytes"
	"encoding/binary"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/udfsck/udfsck/internal/medium"
	"github.com/udfsck/udfsck/internal/udf"
)

func newTestChecker(t *testing.T, size int64) *Checker {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "udfsck-medium-*")
	require.NoError(t, err)
	require.NoError(t, f.Truncate(size))
	require.NoError(t, f.Close())

	med, err := medium.Open(f.Name(), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = med.Close() })

	return &Checker{
		cfg:              RunConfig{},
		med:              med,
		sectorSize:       2048,
		logicalBlockSize: 2048,
		partitionBase:    0,
	}
}

func TestCollectExtentsShortADTerminatesAtZeroLength(t *testing.T) {
	c := newTestChecker(t, 1<<20)

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, udf.ShortAD{
		ExtLength:   udf.EncodeExtLength(4096, udf.ExtRecorded),
		ExtPosition: 10,
	})
	_ = binary.Write(buf, binary.LittleEndian, udf.ShortAD{
		ExtLength:   udf.EncodeExtLength(2048, udf.ExtAllocatedNotRecorded),
		ExtPosition: 20,
	})
	_ = binary.Write(buf, binary.LittleEndian, udf.ShortAD{}) // terminator

	extents, err := c.collectExtents(buf.Bytes(), udf.ADShort)
	require.NoError(t, err)
	require.Len(t, extents, 2)
	assert.EqualValues(t, 10, extents[0].LBN)
	assert.Equal(t, udf.ExtRecorded, extents[0].Type)
	assert.EqualValues(t, 20, extents[1].LBN)
	assert.Equal(t, udf.ExtAllocatedNotRecorded, extents[1].Type)
}

func TestAccountExtentsMarksRecordedAndAllocatedNotRecorded(t *testing.T) {
	c := newTestChecker(t, 1<<20)
	space := newSpaceAccount(64)

	extents := []udf.Extent{
		{Length: 2048, Type: udf.ExtRecorded, LBN: 0},
		{Length: 2048, Type: udf.ExtAllocatedNotRecorded, LBN: 1},
		{Length: 2048, Type: udf.ExtNotAllocated, LBN: 2},
	}
	c.accountExtents(space, extents, c.newAccumulator())

	assert.EqualValues(t, 62, space.FreeBlocks(), "blocks 0 and 1 marked used, block 2 left free")
}

func TestAEDChainTooLongIsBounded(t *testing.T) {
	c := newTestChecker(t, 1<<20)

	// A long_ad whose extent type is ExtNextExtent, pointing at an LBN that
	// doesn't actually hold a valid AED: readAED will fail immediately, which
	// is sufficient to prove collectExtents doesn't loop forever chasing it.
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, udf.LongAD{
		ExtLength:      udf.EncodeExtLength(2048, udf.ExtNextExtent),
		ExtLocationLBN: 5,
	})

	_, err := c.collectExtents(buf.Bytes(), udf.ADLong)
	assert.Error(t, err)
}

func TestFidNameDecodesRaw8(t *testing.T) {
	field := udf.EncodeDstring(udf.DstringCompRaw8Alt, []byte("hello.txt"), 32)
	assert.Equal(t, "hello.txt", fidName(field))
}
