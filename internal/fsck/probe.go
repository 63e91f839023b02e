package fsck

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/udfsck/udfsck/internal/udf"
)

// Sentinel operational errors: the probe
// could not even agree the medium holds a UDF volume.
var (
	ErrNotUDF        = errors.New("fsck: volume recognition sequence does not identify a UDF volume")
	ErrBadVRS        = errors.New("fsck: malformed volume recognition sequence")
	ErrBadAnchor     = errors.New("fsck: no valid anchor volume descriptor pointer found")
	ErrAEDChainTooLong = errors.New("fsck: allocation extent descriptor chain exceeds maximum depth")
)

const vrsSectorSize = 2048

// maxVRSDescriptors bounds the Volume Recognition Sequence scan so a
// corrupt medium with no TEA01 terminator cannot loop forever.
const maxVRSDescriptors = 64

// scanVRS walks the Volume Recognition Sequence starting at byte offset
// 16*2048, recording the minimum UDF revision implied by whichever
// NSR identifier it finds.
func (c *Checker) scanVRS() error {
	offset := int64(16) * vrsSectorSize
	sawBEA := false
	sawNSR := false

	for i := 0; i < maxVRSDescriptors; i++ {
		if offset+7 > c.med.Size() {
			break
		}

		buf, err := c.med.MapRaw(offset, 7)
		if err != nil {
			return fmt.Errorf("scanning volume recognition sequence: %w", err)
		}

		ident := string(buf[1:6])

		switch ident {
		case "BEA01":
			sawBEA = true
		case "NSR02":
			sawNSR = true
			c.minUDFReadRev = udf.MinUDFRev100
		case "NSR03":
			sawNSR = true
			c.minUDFReadRev = udf.MinUDFRev200
		case "TEA01":
			if sawNSR {
				return nil
			}
			return fmt.Errorf("%w: terminator reached without an NSR descriptor", ErrNotUDF)
		case "BOOT2":
			if !sawBEA {
				return fmt.Errorf("%w: BOOT2 descriptor outside the extended area", ErrBadVRS)
			}
		case "CDW02":
			return fmt.Errorf("%w: CDW02 volume structure descriptor present", ErrBadVRS)
		default:
			if !sawBEA && !sawNSR {
				// Leading CD001/BEA01-adjacent descriptors we don't
				// otherwise recognize (e.g. a plain ISO 9660 "CD001") are
				// tolerated before the extended area begins.
				break
			}
		}

		offset += vrsSectorSize
	}

	if sawNSR {
		return nil
	}
	return ErrNotUDF
}

// avdpCandidate is one located, structurally valid AVDP copy.
type avdpCandidate struct {
	avdp   udf.AVDP
	offset int64
	slot   string
}

const avdpBodySize = udf.TagSize + 16 // tag + MainVDS + ReserveVDS extent_ads

// tryReadAVDP attempts to decode and validate an AVDP at offset, assuming
// sectorSize. It returns ok=false if the tag doesn't structurally validate
// as an AVDP at that position.
func (c *Checker) tryReadAVDP(offset int64, sectorSize int) (udf.AVDP, bool) {
	if offset < 0 || offset+int64(avdpBodySize) > c.med.Size() {
		return udf.AVDP{}, false
	}

	raw, err := c.med.MapRaw(offset, int64(avdpBodySize))
	if err != nil {
		return udf.AVDP{}, false
	}

	var avdp udf.AVDP
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &avdp); err != nil {
		return udf.AVDP{}, false
	}

	actualLSN := uint32(offset / int64(sectorSize))
	mask := udf.VerifyDescriptor(avdp.Tag, raw, actualLSN, udf.TagIdentAVDP)
	if mask&(udf.EChecksum|udf.ECRC|udf.EWrongDesc|udf.EPosition) != 0 {
		return udf.AVDP{}, false
	}

	return avdp, true
}

// probeAVDPs tries each trial sector size in turn, at each size
// probing FIRST/SECOND/THIRD, falling back to the "unclosed disc" position
// (stored into the FIRST slot) if nothing else validates.
func (c *Checker) probeAVDPs() ([]avdpCandidate, int, error) {
	sizes := udf.TrialSectorSizes
	if c.cfg.ForceSectorSize != 0 {
		sizes = []int{c.cfg.ForceSectorSize}
	}

	for _, ss := range sizes {
		var found []avdpCandidate

		type slotDef struct {
			name   string
			offset int64
		}
		slots := []slotDef{
			{"FIRST", int64(udf.AVDPFirstSector) * int64(ss)},
			{"SECOND", c.med.Size() - int64(ss)},
			{"THIRD", c.med.Size() - int64(udf.AVDPThirdFromEndCount)*int64(ss)},
		}

		for _, s := range slots {
			if a, ok := c.tryReadAVDP(s.offset, ss); ok {
				found = append(found, avdpCandidate{avdp: a, offset: s.offset, slot: s.name})
			}
		}

		if len(found) == 0 {
			unclosed := int64(udf.AVDPUnclosedSector) * int64(ss)
			if a, ok := c.tryReadAVDP(unclosed, ss); ok {
				found = append(found, avdpCandidate{avdp: a, offset: unclosed, slot: "FIRST"})
			}
		}

		if len(found) > 0 {
			return found, ss, nil
		}
	}

	return nil, 0, ErrBadAnchor
}

// checkSerialConsistency reports whether every candidate shares one
// tagSerialNum; divergence disables serial-number-based recovery.
func checkSerialConsistency(cands []avdpCandidate) (uint16, bool) {
	if len(cands) == 0 {
		return 0, false
	}
	serial := cands[0].avdp.Tag.SerialNum
	for _, c := range cands[1:] {
		if c.avdp.Tag.SerialNum != serial {
			return 0, false
		}
	}
	return serial, true
}
