package fsck

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/udfsck/udfsck/internal/elog"
	"github.com/udfsck/udfsck/internal/udf"
)

// maxAEDChainDepth bounds the allocation-extent-descriptor continuation
// chain so a corrupt, cyclic chain cannot loop forever — a
// supplement named in SPEC_FULL.md, since the source gives no bound.
const maxAEDChainDepth = 1024

// maxWalkDepth bounds directory recursion; ECMA-167 path-length limits make
// deep recursion implausible on a real volume, but a corrupt medium could
// otherwise recurse forever.
const maxWalkDepth = 100

// walkAccumulator collects counts and extrema derived purely from the walk,
// independent of whatever the LVID/SBD happen to record.
type walkAccumulator struct {
	maxUID         uint32
	numFiles       int
	numDirs        int
	minUDFReadRev  uint16
	minUDFWriteRev uint16
	maxUDFWriteRev uint16
	lateTimestamp  bool
	uncorrected    bool
	crossLinked    uint32 // blocks claimed by more than one extent
	fixes          []Fix

	progress elog.Progress // nil unless the caller wants per-entry progress
}

// bump reports one more FE/EFE visited to the accumulator's progress
// tracker, if any.
func (acc *walkAccumulator) bump() {
	if acc.progress != nil {
		acc.progress.Increment(1)
	}
}

func (c *Checker) newAccumulator() *walkAccumulator {
	return &walkAccumulator{
		minUDFReadRev:  c.minUDFReadRev,
		minUDFWriteRev: udf.MinUDFRev200,
		maxUDFWriteRev: udf.MinUDFRev200,
	}
}

// feInfo is a resolved, in-memory File Entry or Extended File Entry,
// normalized to the fields the walker needs regardless of which on-disk
// encoding it came from.
type feInfo struct {
	extended bool
	tag      udf.Tag
	icbTag   udf.ICBTag
	uid      uint64
	modTime  udf.Timestamp
	allocRaw []byte // extendedAttrAndAllocDescs, with the extended-attr prefix already skipped
	lsn      uint32
	valid    bool // false if checksum/CRC validation failed
}

// resolveFE loads and validates the FE/EFE addressed by icb.
func (c *Checker) resolveFE(icb udf.LongAD) (*feInfo, error) {
	lsn := c.partitionBase + icb.ExtLocationLBN
	offset := int64(lsn) * int64(c.sectorSize)
	if offset+int64(c.sectorSize) > c.med.Size() {
		return nil, fmt.Errorf("fe location out of bounds: lsn=%d", lsn)
	}

	raw, err := c.med.MapRaw(offset, int64(c.sectorSize))
	if err != nil {
		return nil, fmt.Errorf("reading FE at lsn %d: %w", lsn, err)
	}

	tag, err := udf.ReadTag(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}

	info := &feInfo{tag: tag, lsn: lsn}

	switch tag.Ident {
	case udf.TagIdentFE:
		var fe udf.FE
		fixed := binaryFixedSize(fe)
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &fe); err != nil {
			return nil, err
		}
		total := fixed + int(fe.LengthExtendedAttr) + int(fe.LengthAllocDescs)
		full := raw
		if total > len(full) {
			full, err = c.med.MapRaw(offset, int64(total))
			if err != nil {
				return nil, fmt.Errorf("reading FE tail: %w", err)
			}
		}
		mask := udf.VerifyDescriptor(tag, full, lsn, udf.TagIdentFE)
		info.icbTag = fe.ICBTag
		info.uid = fe.UniqueID
		info.modTime = fe.ModificationTime
		info.valid = mask&(udf.EChecksum|udf.ECRC) == 0
		info.allocRaw = full[fixed+int(fe.LengthExtendedAttr):]

	case udf.TagIdentEFE:
		var efe udf.EFE
		fixed := binaryFixedSize(efe)
		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &efe); err != nil {
			return nil, err
		}
		total := fixed + int(efe.LengthExtendedAttr) + int(efe.LengthAllocDescs)
		full := raw
		if total > len(full) {
			full, err = c.med.MapRaw(offset, int64(total))
			if err != nil {
				return nil, fmt.Errorf("reading EFE tail: %w", err)
			}
		}
		mask := udf.VerifyDescriptor(tag, full, lsn, udf.TagIdentEFE)
		info.extended = true
		info.icbTag = efe.ICBTag
		info.uid = efe.UniqueID
		info.modTime = efe.ModificationTime
		info.valid = mask&(udf.EChecksum|udf.ECRC) == 0
		info.allocRaw = full[fixed+int(efe.LengthExtendedAttr):]

	default:
		return nil, fmt.Errorf("%w: ICB at lsn %d is neither FE nor EFE (ident %d)", ErrBadVRS, lsn, tag.Ident)
	}

	return info, nil
}

// readAED locates, validates, and returns the allocation-descriptor bytes
// continued from an AED at lbn.
func (c *Checker) readAED(lbn uint32) ([]byte, error) {
	lsn := c.partitionBase + lbn
	offset := int64(lsn) * int64(c.sectorSize)
	if offset+int64(c.sectorSize) > c.med.Size() {
		return nil, fmt.Errorf("aed location out of bounds: lsn=%d", lsn)
	}

	raw, err := c.med.MapRaw(offset, int64(c.sectorSize))
	if err != nil {
		return nil, err
	}

	var aed udf.AED
	fixed := binaryFixedSize(aed)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &aed); err != nil {
		return nil, err
	}

	if aed.Tag.Ident != udf.TagIdentAED {
		return nil, fmt.Errorf("%w: expected AED at lsn %d, found ident %d", ErrBadVRS, lsn, aed.Tag.Ident)
	}

	total := fixed + int(aed.LengthAllocDescs)
	full := raw
	if total > len(full) {
		full, err = c.med.MapRaw(offset, int64(total))
		if err != nil {
			return nil, err
		}
	}

	mask := udf.VerifyDescriptor(aed.Tag, full, lsn, udf.TagIdentAED)
	if mask&(udf.EChecksum|udf.ECRC) != 0 {
		return nil, fmt.Errorf("%w: AED at lsn %d failed validation", ErrBadVRS, lsn)
	}

	return full[fixed:], nil
}

// collectExtents dereferences an FE/EFE's allocation-descriptor area into a
// flat list of concrete extents, transparently following any AED
// continuation chain.
func (c *Checker) collectExtents(raw []byte, adKind int) ([]udf.Extent, error) {
	var out []udf.Extent
	chainDepth := 0
	i := 0

	for i < len(raw) {
		var stride int
		switch adKind {
		case udf.ADShort:
			stride = 8
		case udf.ADLong:
			stride = 16
		case udf.ADExtended:
			stride = 20
		default:
			return out, nil
		}

		if i+stride > len(raw) {
			break
		}

		r := bytes.NewReader(raw[i : i+stride])

		var length uint32
		var extType int
		var lbn uint32
		var partRef uint16

		switch adKind {
		case udf.ADShort:
			var ad udf.ShortAD
			_ = binary.Read(r, binary.LittleEndian, &ad)
			length, extType = udf.DecodeExtLength(ad.ExtLength)
			lbn = ad.ExtPosition
		case udf.ADLong:
			var ad udf.LongAD
			_ = binary.Read(r, binary.LittleEndian, &ad)
			length, extType = udf.DecodeExtLength(ad.ExtLength)
			lbn = ad.ExtLocationLBN
			partRef = ad.PartitionRefNum
		case udf.ADExtended:
			var hdrLen, recLen, locLBN uint32
			var locPart uint16
			_ = binary.Read(r, binary.LittleEndian, &hdrLen)
			_ = binary.Read(r, binary.LittleEndian, &recLen)
			_ = binary.Read(r, binary.LittleEndian, &locLBN)
			_ = binary.Read(r, binary.LittleEndian, &locPart)
			length, extType = udf.DecodeExtLength(hdrLen)
			lbn = locLBN
			partRef = locPart
		}

		if length == 0 {
			break
		}

		if extType == udf.ExtNextExtent {
			chainDepth++
			if chainDepth > maxAEDChainDepth {
				return nil, ErrAEDChainTooLong
			}
			tail, err := c.readAED(lbn)
			if err != nil {
				return nil, err
			}
			raw = tail
			i = 0
			continue
		}

		out = append(out, udf.Extent{Length: length, Type: extType, LBN: lbn, PartRef: partRef})
		i += stride
	}

	return out, nil
}

// accountExtents marks every "recorded" or "allocated-not-recorded" extent
// as used in the partition bitmap, accumulating any double-marked (i.e.
// cross-linked) blocks onto acc. Type-1 extents
// are accounted as used without contributing readable bytes — see
// DESIGN.md for the Open-Question resolution.
func (c *Checker) accountExtents(space *spaceAccount, extents []udf.Extent, acc *walkAccumulator) {
	if space == nil {
		return
	}
	for _, e := range extents {
		if e.Type != udf.ExtRecorded && e.Type != udf.ExtAllocatedNotRecorded {
			continue
		}
		blocks := (e.Length + uint32(c.logicalBlockSize) - 1) / uint32(c.logicalBlockSize)
		if doubled := space.Mark(e.LBN, blocks); doubled > 0 {
			acc.crossLinked += doubled
			acc.uncorrected = true
		}
	}
}

// contentExtent records where a run of bytes in a directory's concatenated
// content stream physically lives, so a FID fix can be written back to the
// medium instead of staying an in-memory edit.
type contentExtent struct {
	start  int64 // offset of this extent's first byte within the content stream
	lsn    uint32
	length int64
}

// readExtentData concatenates the bytes of every "recorded" extent:
// allocated-not-recorded and not-allocated extents contribute nothing to
// the content stream. The returned layout maps stream offsets back to their
// physical location for later write-back.
func (c *Checker) readExtentData(extents []udf.Extent) ([]byte, []contentExtent, error) {
	buf := new(bytes.Buffer)
	var layout []contentExtent
	for _, e := range extents {
		if e.Type != udf.ExtRecorded {
			continue
		}
		lsn := c.partitionBase + e.LBN
		offset := int64(lsn) * int64(c.sectorSize)
		data, err := c.med.MapRaw(offset, int64(e.Length))
		if err != nil {
			return nil, nil, fmt.Errorf("reading recorded extent at lsn %d: %w", lsn, err)
		}
		layout = append(layout, contentExtent{start: int64(buf.Len()), lsn: lsn, length: int64(e.Length)})
		buf.Write(data)
	}
	return buf.Bytes(), layout, nil
}

// writeContentBytes writes data back to the physical extent(s) underlying
// the logical range [pos, pos+len(data)) of a directory's content stream,
// splitting the write across extent boundaries if necessary, and syncs
// each touched region.
func (c *Checker) writeContentBytes(layout []contentExtent, pos int, data []byte) error {
	offset := int64(pos)
	for len(data) > 0 {
		var ce *contentExtent
		for i := range layout {
			if offset >= layout[i].start && offset < layout[i].start+layout[i].length {
				ce = &layout[i]
				break
			}
		}
		if ce == nil {
			return fmt.Errorf("writeContentBytes: offset %d not covered by any recorded extent", offset)
		}

		within := offset - ce.start
		avail := ce.length - within
		n := int64(len(data))
		if n > avail {
			n = avail
		}

		physOffset := int64(ce.lsn)*int64(c.sectorSize) + within
		if err := c.med.WriteAt(physOffset, data[:n]); err != nil {
			return fmt.Errorf("writing content at lsn %d: %w", ce.lsn, err)
		}
		if err := c.med.Sync(physOffset); err != nil {
			return fmt.Errorf("syncing content at lsn %d: %w", ce.lsn, err)
		}

		data = data[n:]
		offset += n
	}
	return nil
}

// walkEntry resolves the FE/EFE at icb, accounts its blocks, and — if it is
// a directory — parses and recurses into its FIDs. It returns the
// entry's unique ID (for the caller's FID/FE reconciliation) and whether
// the caller should treat the owning FID as pointing at an unreadable
// target.
func (c *Checker) walkEntry(icb udf.LongAD, depth int, acc *walkAccumulator, apply bool, space *spaceAccount) (uniqueID uint64, isDir bool, deleteRequested bool, err error) {
	if depth > maxWalkDepth {
		return 0, false, false, fmt.Errorf("directory recursion exceeded depth %d", maxWalkDepth)
	}

	fe, err := c.resolveFE(icb)
	if err != nil {
		c.log.Warnf("unresolvable ICB at lbn %d: %v", icb.ExtLocationLBN, err)
		acc.uncorrected = true
		return 0, false, true, nil
	}
	if !fe.valid {
		c.log.Warnf("FE/EFE at lsn %d failed checksum/CRC validation", fe.lsn)
		acc.uncorrected = true
		return fe.uid, fe.icbTag.IsDirectory(), true, nil
	}

	if fe.extended && acc.minUDFReadRev < udf.MinUDFRev200 {
		acc.minUDFReadRev = udf.MinUDFRev200
	}

	if fe.icbTag.IsDirectory() {
		acc.numDirs++
	} else {
		acc.numFiles++
	}
	acc.bump()

	if uint32(fe.uid) > acc.maxUID {
		acc.maxUID = uint32(fe.uid)
	}

	if fe.modTime.Time().After(c.lvidRecordingTime) {
		acc.lateTimestamp = true
	}

	adKind := fe.icbTag.ADKind()

	switch adKind {
	case udf.ADInICB:
		// Contents embedded in the FE/EFE itself; no extent accounting.

	case udf.ADShort, udf.ADLong, udf.ADExtended:
		if adKind == udf.ADExtended && !fe.icbTag.IsDirectory() {
			acc.uncorrected = true
			break
		}

		extents, cerr := c.collectExtents(fe.allocRaw, adKind)
		if cerr != nil {
			return fe.uid, fe.icbTag.IsDirectory(), false, cerr
		}
		c.accountExtents(space, extents, acc)

		if fe.icbTag.IsDirectory() {
			contents, layout, rerr := c.readExtentData(extents)
			if rerr != nil {
				return fe.uid, true, false, rerr
			}
			if werr := c.walkDirectoryContents(icb, contents, layout, depth, acc, apply, space); werr != nil {
				return fe.uid, true, false, werr
			}
		}

	default:
		acc.uncorrected = true
	}

	return fe.uid, fe.icbTag.IsDirectory(), false, nil
}

// walkDirectoryContents parses a concatenated directory byte stream into
// FIDs and recurses into each non-trivial child.
func (c *Checker) walkDirectoryContents(parentICB udf.LongAD, contents []byte, layout []contentExtent, depth int, acc *walkAccumulator, apply bool, space *spaceAccount) error {
	pos := 0

	for pos+udf.FIDFixedSize <= len(contents) {
		var fid udf.FID
		r := bytes.NewReader(contents[pos:])
		if err := binary.Read(r, binary.LittleEndian, &fid); err != nil {
			break
		}

		if !fid.Tag.ChecksumValid() {
			acc.uncorrected = true
			break
		}

		recLen := udf.FIDRecordLength(int(fid.LengthOfImplUse), int(fid.LengthFileIdent))
		if pos+recLen > len(contents) {
			acc.uncorrected = true
			break
		}
		record := contents[pos : pos+recLen]

		mask := udf.VerifyDescriptor(fid.Tag, record, fid.Tag.TagLocation, udf.TagIdentFID)
		if mask&udf.ECRC != 0 {
			acc.uncorrected = true
		}

		if fid.IsDeleted() {
			identOff := udf.FIDFixedSize + int(fid.LengthOfImplUse)
			ident := record[identOff : identOff+int(fid.LengthFileIdent)]
			acc.fixErrors(udf.ValidateDstring(ident))
			pos += recLen
			continue
		}

		isSelfOrParent := fid.IsParent() ||
			fid.ICB.ExtLocationLBN == parentICB.ExtLocationLBN ||
			fid.ICB.ExtLocationLBN == c.fsd.RootDirectoryICB.ExtLocationLBN

		if isSelfOrParent {
			pos += recLen
			continue
		}

		if c.avdpSerialOK && fid.Tag.SerialNum != c.avdpSerial {
			acc.uncorrected = true
			if apply {
				fid.Tag.SerialNum = c.avdpSerial
				if werr := c.rewriteFID(layout, contents, pos, fid, record); werr != nil {
					return werr
				}
				acc.fixes = append(acc.fixes, Fix{Site: "FID.tagSerialNum", Applied: true})
			}
		}

		uuid := udf.FIDUniqueID(fid.ICB)
		if uuid > acc.maxUID {
			acc.maxUID = uuid
		}
		if uuid == 0 && acc.minUDFReadRev > udf.MinUDFRev200 {
			acc.uncorrected = true
			if apply {
				c.nextUIDCounter++
				udf.SetFIDUniqueID(&fid.ICB, c.nextUIDCounter)
				if werr := c.rewriteFID(layout, contents, pos, fid, record); werr != nil {
					return werr
				}
				acc.fixes = append(acc.fixes, Fix{Site: "FID.uuid", Applied: true})
			}
		}

		childUID, _, deleteRequested, err := c.walkEntry(fid.ICB, depth+1, acc, apply, space)
		if err != nil {
			return err
		}

		if uint32(childUID) != uuid && uuid != 0 {
			acc.uncorrected = true
			if apply {
				udf.SetFIDUniqueID(&fid.ICB, uint32(childUID))
				if werr := c.rewriteFID(layout, contents, pos, fid, record); werr != nil {
					return werr
				}
				acc.fixes = append(acc.fixes, Fix{Site: "FID.uuid-reconcile", Applied: true})
			}
		}

		if deleteRequested && apply {
			fid.FileCharacteristics |= udf.FIDCharDeleted
			fid.ICB = udf.LongAD{}
			if werr := c.rewriteFID(layout, contents, pos, fid, record); werr != nil {
				return werr
			}
			acc.fixes = append(acc.fixes, Fix{Site: "FID.delete-incomplete", Applied: true})
			acc.uncorrected = false
		}

		pos += recLen
	}

	return nil
}

// fixErrors merges dstring validation bits into the run's uncorrected flag.
func (acc *walkAccumulator) fixErrors(mask udf.ErrFlag) {
	if mask != 0 {
		acc.uncorrected = true
	}
}

// rewriteFID re-encodes fid into record (mutating contents in place for
// callers that hold it across multiple fixes in the same pass) and writes
// the corrected record back to the medium at its physical location in
// layout, so a later run observes the fix.
func (c *Checker) rewriteFID(layout []contentExtent, contents []byte, pos int, fid udf.FID, record []byte) error {
	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, fid.Tag)
	_ = binary.Write(buf, binary.LittleEndian, fid.FileVersionNum)
	buf.WriteByte(fid.FileCharacteristics)
	buf.WriteByte(fid.LengthFileIdent)
	_ = binary.Write(buf, binary.LittleEndian, fid.ICB)
	_ = binary.Write(buf, binary.LittleEndian, fid.LengthOfImplUse)
	tail := record[udf.FIDFixedSize:]
	buf.Write(tail)

	body := buf.Bytes()
	newTag := udf.RebuildTag(fid.Tag, body[udf.TagSize:], fid.Tag.TagLocation)
	binary.LittleEndian.PutUint16(body[0:2], newTag.Ident)
	body[4] = newTag.Checksum
	binary.LittleEndian.PutUint16(body[8:10], newTag.DescCRC)
	binary.LittleEndian.PutUint16(body[10:12], newTag.DescCRCLen)

	copy(contents[pos:pos+len(body)], body)

	if err := c.writeContentBytes(layout, pos, body); err != nil {
		return err
	}
	c.log.Debugf("rewrote FID at content offset %d", pos)
	return nil
}
