package fsck

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/udfsck/udfsck/internal/udf"
)

// vdsCopy is one independently-loaded main/reserve Volume Descriptor
// Sequence, with the slot position and error mask recorded per
// descriptor kind so verify_vds and get_correct can operate on it later.
type vdsCopy struct {
	extent udf.ExtentAD // location (LSN) + length (bytes) of this copy

	pvd    *udf.PVD
	pvdErr udf.ErrFlag
	pvdPos int

	lvd    *udf.LVD
	lvdErr udf.ErrFlag
	lvdPos int
	lvdPartitionMaps []byte

	pd    *udf.PD
	pdErr udf.ErrFlag
	pdPos int

	usd       *udf.USD
	usdErr    udf.ErrFlag
	usdPos    int
	usdExtents []udf.ExtentAD

	iuvd    *udf.IUVD
	iuvdErr udf.ErrFlag
	iuvdPos int

	td    *udf.TD
	tdErr udf.ErrFlag
	tdPos int
}

func (v *vdsCopy) errors() SlotErrors {
	return SlotErrors{PVD: v.pvdErr, LVD: v.lvdErr, PD: v.pdErr, USD: v.usdErr, IUVD: v.iuvdErr, TD: v.tdErr}
}

const maxVDSDescriptors = 256

// loadVDS reads up to 256 descriptors sequentially at sectorSize stride
// starting at extent.Location. LVD and USD tails are read with
// MapRaw since they are variable-length.
func (c *Checker) loadVDS(extent udf.ExtentAD) (*vdsCopy, error) {
	v := &vdsCopy{extent: extent}
	seen := map[uint16]bool{}

	for i := 0; i < maxVDSDescriptors; i++ {
		lsn := extent.Location + uint32(i)
		offset := int64(lsn) * int64(c.sectorSize)
		if offset+int64(c.sectorSize) > c.med.Size() {
			break
		}

		raw, err := c.med.MapRaw(offset, int64(c.sectorSize))
		if err != nil {
			return nil, fmt.Errorf("reading VDS slot %d: %w", i, err)
		}

		tag, err := udf.ReadTag(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("reading VDS tag at slot %d: %w", i, err)
		}

		if tag.Ident == 0 {
			break
		}

		if tag.Ident != udf.TagIdentTD && seen[tag.Ident] {
			return nil, fmt.Errorf("%w: duplicate descriptor (ident %d) in VDS", ErrBadVRS, tag.Ident)
		}
		seen[tag.Ident] = true

		switch tag.Ident {
		case udf.TagIdentPVD:
			var pvd udf.PVD
			if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &pvd); err != nil {
				return nil, err
			}
			v.pvd = &pvd
			v.pvdPos = i
			v.pvdErr = udf.VerifyDescriptor(tag, raw, lsn, udf.TagIdentPVD)

		case udf.TagIdentIUVD:
			var iuvd udf.IUVD
			if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &iuvd); err != nil {
				return nil, err
			}
			v.iuvd = &iuvd
			v.iuvdPos = i
			v.iuvdErr = udf.VerifyDescriptor(tag, raw, lsn, udf.TagIdentIUVD)

		case udf.TagIdentPD:
			var pd udf.PD
			if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &pd); err != nil {
				return nil, err
			}
			v.pd = &pd
			v.pdPos = i
			v.pdErr = udf.VerifyDescriptor(tag, raw, lsn, udf.TagIdentPD)

		case udf.TagIdentLVD:
			var lvd udf.LVD
			fixedSize := binaryFixedSize(lvd)
			if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &lvd); err != nil {
				return nil, err
			}
			total := fixedSize + int(lvd.MapTableLength)
			full := raw
			if total > len(full) {
				full, err = c.med.MapRaw(offset, int64(total))
				if err != nil {
					return nil, fmt.Errorf("reading LVD map table: %w", err)
				}
			}
			v.lvd = &lvd
			v.lvdPos = i
			v.lvdErr = udf.VerifyDescriptor(tag, full, lsn, udf.TagIdentLVD)
			if fixedSize < len(full) {
				v.lvdPartitionMaps = append([]byte(nil), full[fixedSize:]...)
			}

		case udf.TagIdentUSD:
			var usd udf.USD
			fixedSize := binaryFixedSize(usd)
			if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &usd); err != nil {
				return nil, err
			}
			total := fixedSize + int(usd.NumAllocDescs)*8
			full := raw
			if total > len(full) {
				full, err = c.med.MapRaw(offset, int64(total))
				if err != nil {
					return nil, fmt.Errorf("reading USD alloc descs: %w", err)
				}
			}
			v.usd = &usd
			v.usdPos = i
			v.usdErr = udf.VerifyDescriptor(tag, full, lsn, udf.TagIdentUSD)
			v.usdExtents = make([]udf.ExtentAD, usd.NumAllocDescs)
			r := bytes.NewReader(full[fixedSize:])
			for j := range v.usdExtents {
				_ = binary.Read(r, binary.LittleEndian, &v.usdExtents[j])
			}

		case udf.TagIdentTD:
			var td udf.TD
			if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &td); err != nil {
				return nil, err
			}
			v.td = &td
			v.tdPos = i
			v.tdErr = udf.VerifyDescriptor(tag, raw, lsn, udf.TagIdentTD)
			return v, nil

		default:
			return nil, fmt.Errorf("%w: unrecognized tag ident %d at VDS slot %d", ErrBadVRS, tag.Ident, i)
		}
	}

	return v, nil
}

// binaryFixedSize returns the encoded size of a fixed-layout struct as
// binary.Read would consume it.
func binaryFixedSize(v interface{}) int {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, v)
	return buf.Len()
}

// verifyDstrings checks the dstring-encoded fields of a structurally-sound
// VDS copy.
func (v *vdsCopy) verifyDstrings() udf.ErrFlag {
	var e udf.ErrFlag
	if v.pvd != nil && !v.pvdErr.StructuralErrors() {
		e |= udf.ValidateDstring(v.pvd.VolIdent[:])
		e |= udf.ValidateDstring(v.pvd.VolSetIdent[:])
	}
	if v.lvd != nil && !v.lvdErr.StructuralErrors() {
		e |= udf.ValidateDstring(v.lvd.LogicalVolIdent[:])
	}
	return e
}

// getCorrect picks the usable copy of a VDS descriptor: prefer main if it
// has no checksum/CRC/wrong-descriptor error for the requested kind, else
// prefer reserve on the same test, else report failure.
type vdsKind int

const (
	kindPVD vdsKind = iota
	kindLVD
	kindPD
	kindUSD
	kindIUVD
	kindTD
)

func kindErr(v *vdsCopy, k vdsKind) udf.ErrFlag {
	switch k {
	case kindPVD:
		return v.pvdErr
	case kindLVD:
		return v.lvdErr
	case kindPD:
		return v.pdErr
	case kindUSD:
		return v.usdErr
	case kindIUVD:
		return v.iuvdErr
	case kindTD:
		return v.tdErr
	}
	return 0
}

// getCorrect returns which copy ("main" or "reserve") should be used to
// read the descriptor of kind k, or ok=false if neither qualifies.
func getCorrect(main, reserve *vdsCopy, k vdsKind) (useMain bool, ok bool) {
	if !kindErr(main, k).StructuralErrors() {
		return true, true
	}
	if !kindErr(reserve, k).StructuralErrors() {
		return false, true
	}
	return false, false
}
