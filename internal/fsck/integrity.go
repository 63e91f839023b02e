package fsck

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/udfsck/udfsck/internal/udf"
)

// lvidInfo is a parsed Logical Volume Integrity Descriptor together with
// its variable-length per-partition tables and implementation-use tail
//.
type lvidInfo struct {
	offset         int64
	lvid           udf.LVID
	freeSpaceTable []uint32
	sizeTable      []uint32
	implUse        udf.LVIDImplUse
	err            udf.ErrFlag
}

// loadLVID locates the LVID at extent (LVD.IntegritySeqExt) and validates
// it. A missing or structurally invalid LVID is flagged but not fatal — the
// repair driver rebuilds it.
func (c *Checker) loadLVID(extent udf.ExtentAD) (*lvidInfo, error) {
	if extent.Length == 0 {
		return &lvidInfo{err: udf.EWrongDesc}, nil
	}

	offset := int64(extent.Location) * int64(c.sectorSize)
	if offset+int64(c.sectorSize) > c.med.Size() {
		return &lvidInfo{offset: offset, err: udf.EWrongDesc}, nil
	}

	raw, err := c.med.MapRaw(offset, int64(c.sectorSize))
	if err != nil {
		return nil, fmt.Errorf("reading LVID: %w", err)
	}

	var lvid udf.LVID
	fixedSize := binaryFixedSize(lvid)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &lvid); err != nil {
		return nil, err
	}

	if lvid.Tag.Ident != udf.TagIdentLVID {
		return &lvidInfo{offset: offset, lvid: lvid, err: udf.EWrongDesc}, nil
	}

	tableBytes := int(lvid.NumPartitions) * 4 * 2
	total := fixedSize + tableBytes + int(lvid.ImplementationUseLen)

	full := raw
	if total > len(full) {
		full, err = c.med.MapRaw(offset, int64(total))
		if err != nil {
			return nil, fmt.Errorf("reading LVID tables: %w", err)
		}
	}

	info := &lvidInfo{offset: offset, lvid: lvid}
	info.err = udf.VerifyDescriptor(lvid.Tag, full, uint32(extent.Location), udf.TagIdentLVID)

	r := bytes.NewReader(full[fixedSize:])
	info.freeSpaceTable = make([]uint32, lvid.NumPartitions)
	_ = binary.Read(r, binary.LittleEndian, &info.freeSpaceTable)
	info.sizeTable = make([]uint32, lvid.NumPartitions)
	_ = binary.Read(r, binary.LittleEndian, &info.sizeTable)
	_ = binary.Read(r, binary.LittleEndian, &info.implUse)

	return info, nil
}

const fsdProbeSize = 512

// loadFSD locates and decodes the File Set Descriptor addressed by icb
// (a long_ad expressed in LBN within the single supported partition),
// yielding the root directory ICB and optional stream directory ICB
//.
func (c *Checker) loadFSD(icb udf.LongAD) (*udf.FSD, error) {
	lsn := c.partitionBase + icb.ExtLocationLBN
	offset := int64(lsn) * int64(c.sectorSize)

	if offset+fsdProbeSize > c.med.Size() {
		return nil, fmt.Errorf("fsd location out of bounds: lsn=%d", lsn)
	}

	raw, err := c.med.MapRaw(offset, fsdProbeSize)
	if err != nil {
		return nil, fmt.Errorf("reading FSD: %w", err)
	}

	var fsd udf.FSD
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &fsd); err != nil {
		return nil, err
	}

	mask := udf.VerifyDescriptor(fsd.Tag, raw, uint32(lsn), udf.TagIdentFSD)
	if mask&(udf.EChecksum|udf.ECRC|udf.EWrongDesc) != 0 {
		return nil, fmt.Errorf("%w: FSD at lsn %d failed validation (mask=%v)", ErrBadVRS, lsn, mask)
	}

	return &fsd, nil
}
