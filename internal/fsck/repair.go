package fsck

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/udfsck/udfsck/internal/udf"
)

// runRepairs drives every repair in turn, each gated by cfg.Mode and the
// active Prompter.
func (c *Checker) runRepairs(mainVDS, reserveVDS *vdsCopy, lvd *udf.LVD, lvid *lvidInfo, primary udf.AVDP, cands []avdpCandidate, space *spaceAccount, apply bool) error {
	if err := c.fixVDS(mainVDS, reserveVDS, apply); err != nil {
		return err
	}
	if err := c.fixAVDP(cands, apply); err != nil {
		return err
	}
	return c.fixLVID(lvd, lvid, space, apply)
}

// vdsSlotLength returns the byte span occupied by descriptor kind k within
// copy v, covering the variable-length tail for LVD/USD.
func vdsSlotLength(v *vdsCopy, k vdsKind) (pos int, length int, ok bool) {
	switch k {
	case kindPVD:
		if v.pvd == nil {
			return 0, 0, false
		}
		return v.pvdPos, binaryFixedSize(*v.pvd), true
	case kindPD:
		if v.pd == nil {
			return 0, 0, false
		}
		return v.pdPos, binaryFixedSize(*v.pd), true
	case kindIUVD:
		if v.iuvd == nil {
			return 0, 0, false
		}
		return v.iuvdPos, binaryFixedSize(*v.iuvd), true
	case kindTD:
		if v.td == nil {
			return 0, 0, false
		}
		return v.tdPos, binaryFixedSize(*v.td), true
	case kindLVD:
		if v.lvd == nil {
			return 0, 0, false
		}
		return v.lvdPos, binaryFixedSize(*v.lvd) + len(v.lvdPartitionMaps), true
	case kindUSD:
		if v.usd == nil {
			return 0, 0, false
		}
		return v.usdPos, binaryFixedSize(*v.usd) + len(v.usdExtents)*8, true
	}
	return 0, 0, false
}

// copyDescriptor copies a descriptor from a good slot to a bad one: read
// the source bytes, rewrite the embedded tag's tagLocation for the
// destination LSN, recompute the checksum, and write the unchanged
// payload (and thus unchanged, still-valid CRC) to the destination.
func (c *Checker) copyDescriptor(srcExtent udf.ExtentAD, srcPos int, dstExtent udf.ExtentAD, dstPos, length int) error {
	srcLSN := srcExtent.Location + uint32(srcPos)
	dstLSN := dstExtent.Location + uint32(dstPos)

	srcOffset := int64(srcLSN) * int64(c.sectorSize)
	dstOffset := int64(dstLSN) * int64(c.sectorSize)

	raw, err := c.med.MapRaw(srcOffset, int64(length))
	if err != nil {
		return fmt.Errorf("copy_descriptor read: %w", err)
	}

	body := append([]byte(nil), raw...)
	tag, err := udf.ReadTag(bytes.NewReader(body))
	if err != nil {
		return err
	}
	tag.TagLocation = dstLSN
	tag.Checksum = tag.CalculateChecksum()

	buf := new(bytes.Buffer)
	_ = binary.Write(buf, binary.LittleEndian, tag)
	copy(body[:udf.TagSize], buf.Bytes())

	return c.med.WriteRaw(dstOffset, body)
}

// fixVDS applies the per-slot VDS repair table: a clean main copy patches a
// damaged reserve copy and vice versa.
func (c *Checker) fixVDS(mainVDS, reserveVDS *vdsCopy, apply bool) error {
	prompter := c.cfg.prompter()

	for _, k := range []vdsKind{kindPVD, kindLVD, kindPD, kindUSD, kindIUVD, kindTD} {
		mainErr := kindErr(mainVDS, k).StructuralErrors()
		reserveErr := kindErr(reserveVDS, k).StructuralErrors()

		var site string
		switch k {
		case kindPVD:
			site = "VDS.PVD"
		case kindLVD:
			site = "VDS.LVD"
		case kindPD:
			site = "VDS.PD"
		case kindUSD:
			site = "VDS.USD"
		case kindIUVD:
			site = "VDS.IUVD"
		case kindTD:
			site = "VDS.TD"
		}

		switch {
		case !mainErr && !reserveErr:
			continue

		case mainErr && reserveErr:
			c.result.addStatus(udf.EstatusUncorrectedErrors)
			continue

		case mainErr && !reserveErr:
			srcPos, length, ok := vdsSlotLength(reserveVDS, k)
			if !ok {
				continue
			}
			if !apply || !prompter.Confirm(site) {
				c.result.addStatus(udf.EstatusUncorrectedErrors)
				continue
			}
			dstPos, _, _ := vdsSlotLength(mainVDS, k)
			if err := c.copyDescriptor(reserveVDS.extent, srcPos, mainVDS.extent, dstPos, length); err != nil {
				return fmt.Errorf("%s: %w", site, err)
			}
			c.log.Infof("repaired %s from reserve copy", site)
			c.result.Fixes = append(c.result.Fixes, Fix{Site: site, Applied: true, Detail: "reserve -> main"})
			c.result.addStatus(udf.EstatusCorrectedErrors)

		case !mainErr && reserveErr:
			srcPos, length, ok := vdsSlotLength(mainVDS, k)
			if !ok {
				continue
			}
			if !apply || !prompter.Confirm(site) {
				c.result.addStatus(udf.EstatusUncorrectedErrors)
				continue
			}
			dstPos, _, _ := vdsSlotLength(reserveVDS, k)
			if err := c.copyDescriptor(mainVDS.extent, srcPos, reserveVDS.extent, dstPos, length); err != nil {
				return fmt.Errorf("%s: %w", site, err)
			}
			c.log.Infof("repaired %s from main copy", site)
			c.result.Fixes = append(c.result.Fixes, Fix{Site: site, Applied: true, Detail: "main -> reserve"})
			c.result.addStatus(udf.EstatusCorrectedErrors)
		}
	}

	return nil
}

// fixAVDP duplicates a good AVDP copy into the missing/invalid well-known
// slots, and reconciles the main/reserve VDS extent lengths recorded by
// whichever AVDP remains.
func (c *Checker) fixAVDP(cands []avdpCandidate, apply bool) error {
	if len(cands) == 0 {
		return nil
	}
	source := cands[0]

	wantSlots := map[string]int64{
		"FIRST":  int64(udf.AVDPFirstSector) * int64(c.sectorSize),
		"SECOND": c.med.Size() - int64(c.sectorSize),
		"THIRD":  c.med.Size() - int64(udf.AVDPThirdFromEndCount)*int64(c.sectorSize),
	}
	have := map[string]bool{}
	for _, cand := range cands {
		have[cand.slot] = true
	}

	prompter := c.cfg.prompter()

	for slot, offset := range wantSlots {
		if have[slot] {
			continue
		}
		site := "AVDP[" + slot + "]"
		c.result.addStatus(udf.EstatusUncorrectedErrors)
		if !apply || !prompter.Confirm(site) {
			continue
		}

		dstLSN := uint32(offset / int64(c.sectorSize))

		raw, err := c.med.MapRaw(source.offset, int64(avdpBodySize))
		if err != nil {
			return err
		}
		body := append([]byte(nil), raw...)
		tag, err := udf.ReadTag(bytes.NewReader(body))
		if err != nil {
			return err
		}
		tag.TagLocation = dstLSN
		tag.Checksum = tag.CalculateChecksum()
		buf := new(bytes.Buffer)
		_ = binary.Write(buf, binary.LittleEndian, tag)
		copy(body[:udf.TagSize], buf.Bytes())

		if err := c.med.WriteRaw(offset, body); err != nil {
			return err
		}
		c.log.Infof("duplicated %s from %s", site, source.slot)
		c.result.Fixes = append(c.result.Fixes, Fix{Site: site, Applied: true, Detail: "duplicated from " + source.slot})
		c.result.addStatus(udf.EstatusCorrectedErrors)
	}

	minLen := uint32(udf.MinAVDPExtentSectors) * uint32(c.sectorSize)
	main, reserve := source.avdp.MainVDS, source.avdp.ReserveVDS
	want := main.Length
	if reserve.Length > want {
		want = reserve.Length
	}
	if want < minLen {
		want = minLen
	}

	if main.Length != want || reserve.Length != want {
		site := "AVDP.extentLength"
		c.result.addStatus(udf.EstatusUncorrectedErrors)
		if apply && prompter.Confirm(site) {
			avdp := source.avdp
			avdp.MainVDS.Length = want
			avdp.ReserveVDS.Length = want

			buf := new(bytes.Buffer)
			_ = binary.Write(buf, binary.LittleEndian, avdp.MainVDS)
			_ = binary.Write(buf, binary.LittleEndian, avdp.ReserveVDS)
			avdp.Tag = udf.RebuildTag(avdp.Tag, buf.Bytes(), avdp.Tag.TagLocation)

			out := new(bytes.Buffer)
			_ = binary.Write(out, binary.LittleEndian, avdp)
			if err := c.med.WriteRaw(source.offset, out.Bytes()); err != nil {
				return err
			}
			c.result.Fixes = append(c.result.Fixes, Fix{Site: site, Applied: true})
			c.result.addStatus(udf.EstatusCorrectedErrors)
		}
	}

	return nil
}

// lvidImplIdent identifies this tool as the LVID's implementation-use writer.
var lvidImplIdent = [32]byte{}

func init() {
	copy(lvidImplIdent[:], "*udfsck")
}

// fixLVID rewrites the LVID when its error mask contains a structural error
// or the walk found a file modification time later than the LVID's
// recording time. Either way it writes a freshly built descriptor carrying
// the walk's counts, nextUID, free space, closed state and the current time.
// Counts or free space that differ from the recorded LVID do not by
// themselves cause a rewrite.
func (c *Checker) fixLVID(lvd *udf.LVD, lvid *lvidInfo, space *spaceAccount, apply bool) error {
	site := "LVID"
	needsRebuild := lvid.err.StructuralErrors()

	if !needsRebuild && !c.result.addressesTimestampOrCounters() {
		return nil
	}

	if !apply || !c.cfg.prompter().Confirm(site) {
		if needsRebuild {
			c.result.addStatus(udf.EstatusUncorrectedErrors)
		}
		return nil
	}

	version := uint16(2)
	if c.minUDFReadRev >= udf.MinUDFRev200 {
		version = 3
	}

	newLVID := udf.LVID{
		Tag:                  udf.Tag{Ident: udf.TagIdentLVID, Version: version, TagLocation: uint32(lvid.offset / int64(c.sectorSize))},
		RecordingDateAndTime: udf.NewTimestamp(c.cfg.now()),
		IntegrityType:        udf.IntegrityClose,
		NumPartitions:        1,
		ImplementationUseLen: uint32(binaryFixedSize(udf.LVIDImplUse{})),
	}
	binary.LittleEndian.PutUint64(newLVID.LogicalVolContentsUse[0:8], uint64(c.nextUIDCounter)+1)

	impl := udf.LVIDImplUse{
		ImplementationIdent: lvidImplIdent,
		NumFiles:            uint32(c.result.NumFiles),
		NumDirs:             uint32(c.result.NumDirs),
		MinUDFReadRev:       c.result.MinUDFReadRev,
		MinUDFWriteRev:      c.result.MinUDFWriteRev,
		MaxUDFWriteRev:      c.result.MaxUDFWriteRev,
	}

	freeSpaceTable := []uint32{space.FreeBlocks()}
	sizeTable := []uint32{c.partitionLen}

	body := new(bytes.Buffer)
	_ = binary.Write(body, binary.LittleEndian, newLVID.RecordingDateAndTime)
	_ = binary.Write(body, binary.LittleEndian, newLVID.IntegrityType)
	_ = binary.Write(body, binary.LittleEndian, newLVID.NextIntegrityExt)
	_ = binary.Write(body, binary.LittleEndian, newLVID.LogicalVolContentsUse)
	_ = binary.Write(body, binary.LittleEndian, newLVID.NumPartitions)
	_ = binary.Write(body, binary.LittleEndian, newLVID.ImplementationUseLen)
	_ = binary.Write(body, binary.LittleEndian, freeSpaceTable)
	_ = binary.Write(body, binary.LittleEndian, sizeTable)
	_ = binary.Write(body, binary.LittleEndian, impl)

	newLVID.Tag = udf.RebuildTag(newLVID.Tag, body.Bytes(), newLVID.Tag.TagLocation)

	out := new(bytes.Buffer)
	_ = binary.Write(out, binary.LittleEndian, newLVID.Tag)
	out.Write(body.Bytes())

	offset := lvid.offset
	if offset == 0 {
		offset = int64(lvd.IntegritySeqExt.Location) * int64(c.sectorSize)
	}

	if err := c.med.WriteRaw(offset, out.Bytes()); err != nil {
		return fmt.Errorf("rewriting LVID: %w", err)
	}

	c.log.Infof("rewrote LVID (rebuild=%v)", needsRebuild)
	c.result.Fixes = append(c.result.Fixes, Fix{Site: site, Applied: true})
	c.result.addStatus(udf.EstatusCorrectedErrors)
	c.result.NextUID = c.nextUIDCounter + 1

	return nil
}

// addressesTimestampOrCounters reports whether the run observed a
// condition fix_lvid must still clear even without a structural LVID
// error: a later-than-recorded FE modification time.
func (r *RunResult) addressesTimestampOrCounters() bool {
	return r.LVIDErrors&udf.ETimestamp != 0
}

// readSBDBitmap loads the full recorded bitmap for an SBD located at ext.
func (c *Checker) readSBDBitmap(ext udf.ExtentAD) ([]byte, error) {
	offset := int64(ext.Location) * int64(c.sectorSize)
	raw, err := c.med.MapRaw(offset, int64(binaryFixedSize(udf.SBD{})))
	if err != nil {
		return nil, err
	}
	var sbd udf.SBD
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &sbd); err != nil {
		return nil, err
	}
	if sbd.Tag.Ident != udf.TagIdentSBD {
		return nil, fmt.Errorf("%w: expected SBD at lsn %d, found ident %d", ErrBadVRS, ext.Location, sbd.Tag.Ident)
	}
	fixed := binaryFixedSize(sbd)
	return c.med.MapRaw(offset+int64(fixed), int64(sbd.NumOfBytes))
}

// writeSBDBitmap overwrites an SBD's bitmap field with the derived
// space-account bitmap and recomputes its tag.
func (c *Checker) writeSBDBitmap(ext udf.ExtentAD, space *spaceAccount) error {
	offset := int64(ext.Location) * int64(c.sectorSize)
	raw, err := c.med.MapRaw(offset, int64(binaryFixedSize(udf.SBD{})))
	if err != nil {
		return err
	}
	var sbd udf.SBD
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &sbd); err != nil {
		return err
	}

	bitmap := append([]byte(nil), space.bitmap...)
	if len(bitmap) > int(sbd.NumOfBytes) {
		bitmap = bitmap[:sbd.NumOfBytes]
	}
	for len(bitmap) < int(sbd.NumOfBytes) {
		bitmap = append(bitmap, 0xFF)
	}

	// The tag's CRC covers everything after the tag: NumOfBits, NumOfBytes,
	// and the bitmap itself, not the bitmap alone.
	fullBody := new(bytes.Buffer)
	_ = binary.Write(fullBody, binary.LittleEndian, sbd.NumOfBits)
	_ = binary.Write(fullBody, binary.LittleEndian, sbd.NumOfBytes)
	fullBody.Write(bitmap)

	sbd.Tag = udf.RebuildTag(sbd.Tag, fullBody.Bytes(), sbd.Tag.TagLocation)

	out := new(bytes.Buffer)
	_ = binary.Write(out, binary.LittleEndian, sbd)
	out.Write(bitmap)

	return c.med.WriteRaw(offset, out.Bytes())
}
