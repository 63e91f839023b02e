package fsck

import (
	"fmt"
	"time"

	"github.com/udfsck/udfsck/internal/medium"
	"github.com/udfsck/udfsck/internal/udf"
)

// Checker is the single stateful object a run threads through the probe,
// descriptor, integrity, and walker stages: one value passed (by
// reference) to every stage instead of a scattered collection of globals.
type Checker struct {
	cfg RunConfig
	log View
	med *medium.Medium

	sectorSize       int
	logicalBlockSize int
	minUDFReadRev    uint16

	partitionBase uint32 // LBN -> LSN offset of the single supported partition
	partitionLen  uint32

	fsd *udf.FSD

	avdpSerial   uint16
	avdpSerialOK bool

	lvidRecordingTime time.Time
	nextUIDCounter    uint32

	result RunResult
}

// NewChecker constructs a Checker bound to an already-open medium.
func NewChecker(cfg RunConfig, log View, med *medium.Medium) *Checker {
	return &Checker{cfg: cfg, log: log, med: med}
}

// Run executes a full check (and, depending on cfg.Mode, repair) pass and
// returns the structured result.
func (c *Checker) Run() (RunResult, error) {
	c.log.Infof("scanning volume recognition sequence")
	if err := c.scanVRS(); err != nil {
		c.result.addStatus(udf.EstatusOperationalError)
		return c.result, err
	}

	cands, sectorSize, err := c.probeAVDPs()
	if err != nil {
		c.result.addStatus(udf.EstatusOperationalError)
		return c.result, err
	}
	c.sectorSize = sectorSize
	c.result.SectorSize = sectorSize
	c.log.Infof("probed %d AVDP candidate(s), sector size %d", len(cands), sectorSize)

	c.avdpSerial, c.avdpSerialOK = checkSerialConsistency(cands)
	primary := cands[0].avdp

	mainVDS, err := c.loadVDS(primary.MainVDS)
	if err != nil {
		c.result.addStatus(udf.EstatusOperationalError)
		return c.result, fmt.Errorf("loading main VDS: %w", err)
	}
	reserveVDS, err := c.loadVDS(primary.ReserveVDS)
	if err != nil {
		c.result.addStatus(udf.EstatusOperationalError)
		return c.result, fmt.Errorf("loading reserve VDS: %w", err)
	}

	c.result.MainErrors = mainVDS.errors()
	c.result.ReserveErrors = reserveVDS.errors()
	if c.result.MainErrors.StructuralErrorsAny() || c.result.ReserveErrors.StructuralErrorsAny() {
		c.log.Warnf("structural error in main or reserve VDS copy")
		c.result.addStatus(udf.EstatusCorrectedErrors)
	}

	c.result.DstringErrors |= mainVDS.verifyDstrings() | reserveVDS.verifyDstrings()
	if c.result.DstringErrors != 0 {
		c.log.Warnf("dstring validation failed in VDS identifiers: mask %v", c.result.DstringErrors)
		c.result.addStatus(udf.EstatusUncorrectedErrors)
	}

	useMainPD, ok := getCorrect(mainVDS, reserveVDS, kindPD)
	if !ok {
		c.result.addStatus(udf.EstatusOperationalError)
		return c.result, fmt.Errorf("%w: neither VDS copy has a valid PD", ErrBadVRS)
	}
	pd := reserveVDS.pd
	if useMainPD {
		pd = mainVDS.pd
	}
	c.partitionBase = pd.PartitionStartingLocation
	c.partitionLen = pd.PartitionLength

	useMainLVD, ok := getCorrect(mainVDS, reserveVDS, kindLVD)
	if !ok {
		c.result.addStatus(udf.EstatusOperationalError)
		return c.result, fmt.Errorf("%w: neither VDS copy has a valid LVD", ErrBadVRS)
	}
	lvd := reserveVDS.lvd
	if useMainLVD {
		lvd = mainVDS.lvd
	}
	c.logicalBlockSize = int(lvd.LogicalBlockSize)
	c.result.PartitionBlocks = c.partitionLen

	lvid, err := c.loadLVID(lvd.IntegritySeqExt)
	if err != nil {
		c.result.addStatus(udf.EstatusOperationalError)
		return c.result, fmt.Errorf("loading LVID: %w", err)
	}
	c.result.LVIDErrors = lvid.err
	if lvid.err.StructuralErrors() {
		c.log.Warnf("LVID failed structural validation")
		c.result.addStatus(udf.EstatusUncorrectedErrors)
	} else {
		c.lvidRecordingTime = lvid.lvid.RecordingDateAndTime.Time()
		if lvid.implUse.MinUDFReadRev > c.minUDFReadRev {
			c.minUDFReadRev = lvid.implUse.MinUDFReadRev
		}
	}

	fsd, err := c.loadFSD(lvd.LogicalVolContentsUse)
	if err != nil {
		c.result.addStatus(udf.EstatusOperationalError)
		return c.result, fmt.Errorf("loading FSD: %w", err)
	}
	c.fsd = fsd

	fsdDstringErrors := udf.ValidateDstring(fsd.LogicalVolIdent[:]) | udf.ValidateDstring(fsd.FileSetIdent[:])
	c.result.DstringErrors |= fsdDstringErrors
	if fsdDstringErrors != 0 {
		c.log.Warnf("dstring validation failed in FSD identifiers: mask %v", fsdDstringErrors)
		c.result.addStatus(udf.EstatusUncorrectedErrors)
	}

	space := newSpaceAccount(c.partitionLen)

	pre := c.newAccumulator()
	discoveryProgress := c.log.NewProgress("discovery walk", 0)
	pre.progress = discoveryProgress
	if err := c.walkFromFSD(pre, false, nil); err != nil {
		discoveryProgress.Finish(false)
		c.result.addStatus(udf.EstatusOperationalError)
		return c.result, fmt.Errorf("walking file tree (discovery pass): %w", err)
	}
	discoveryProgress.Finish(true)
	c.nextUIDCounter = pre.maxUID
	c.log.Debugf("discovery pass found %d file(s), %d dir(s), max UID %d", pre.numFiles, pre.numDirs, pre.maxUID)

	final := c.newAccumulator()
	applyFixes := c.cfg.Mode != udf.ModeCheck
	repairProgress := c.log.NewProgress("file tree walk", 0)
	final.progress = repairProgress
	if err := c.walkFromFSD(final, applyFixes, space); err != nil {
		repairProgress.Finish(false)
		c.result.addStatus(udf.EstatusOperationalError)
		return c.result, fmt.Errorf("walking file tree: %w", err)
	}
	repairProgress.Finish(true)

	c.result.NumFiles = final.numFiles
	c.result.NumDirs = final.numDirs
	c.result.NextUID = c.nextUIDCounter + 1
	c.result.MinUDFReadRev = final.minUDFReadRev
	c.result.MinUDFWriteRev = final.minUDFWriteRev
	c.result.MaxUDFWriteRev = final.maxUDFWriteRev
	c.result.FreeSpaceBlocks = space.FreeBlocks()
	c.result.CrossLinkedBlocks = final.crossLinked
	c.result.Fixes = append(c.result.Fixes, final.fixes...)

	if final.crossLinked > 0 {
		c.log.Warnf("found %d cross-linked block(s)", final.crossLinked)
		c.result.SBDErrors |= udf.ECrossLinked
	}

	if final.uncorrected {
		if applyFixes {
			c.result.addStatus(udf.EstatusCorrectedErrors)
		} else {
			c.result.addStatus(udf.EstatusUncorrectedErrors)
		}
	}
	if final.lateTimestamp {
		c.log.Warnf("found file modification time later than LVID recording time")
		c.result.LVIDErrors |= udf.ETimestamp
	}

	if err := c.reconcileSpaceAccounting(space, pd, lvd, applyFixes); err != nil {
		return c.result, err
	}

	if err := c.runRepairs(mainVDS, reserveVDS, lvd, lvid, primary, cands, space, applyFixes); err != nil {
		return c.result, err
	}

	c.log.Infof("run complete: status %v", c.result.Status)
	return c.result, nil
}

// walkFromFSD walks the root directory tree and, if present, the stream
// directory tree rooted at the FSD.
func (c *Checker) walkFromFSD(acc *walkAccumulator, apply bool, space *spaceAccount) error {
	if _, _, _, err := c.walkEntry(c.fsd.RootDirectoryICB, 0, acc, apply, space); err != nil {
		return err
	}
	if c.fsd.StreamDirectoryICB.ExtLocationLBN != 0 {
		if _, _, _, err := c.walkEntry(c.fsd.StreamDirectoryICB, 0, acc, apply, space); err != nil {
			return err
		}
	}
	return nil
}

// StructuralErrorsAny reports whether any descriptor kind in s carries a
// disqualifying structural error.
func (s SlotErrors) StructuralErrorsAny() bool {
	return s.PVD.StructuralErrors() || s.LVD.StructuralErrors() || s.PD.StructuralErrors() ||
		s.USD.StructuralErrors() || s.IUVD.StructuralErrors() || s.TD.StructuralErrors()
}

// reconcileSpaceAccounting compares the derived bitmap against the
// recorded SBD, if any, flagging (and, in autofix/interactive mode with
// confirmation, rewriting) a mismatch.
func (c *Checker) reconcileSpaceAccounting(space *spaceAccount, pd *udf.PD, lvd *udf.LVD, apply bool) error {
	sbdExt := pd.PartitionContentsUse.UnallocatedSpaceBitmap
	if sbdExt.Length == 0 {
		return nil
	}

	recorded, err := c.readSBDBitmap(sbdExt)
	if err != nil {
		return fmt.Errorf("reading SBD bitmap: %w", err)
	}

	if !space.Equal(recorded) {
		c.log.Warnf("derived free-space bitmap does not match recorded SBD")
		c.result.SBDErrors |= udf.EFreeSpace
		c.result.addStatus(udf.EstatusUncorrectedErrors)
		if apply && c.cfg.prompter().Confirm("SBD.bitmap") {
			if err := c.writeSBDBitmap(sbdExt, space); err != nil {
				return fmt.Errorf("rewriting SBD bitmap: %w", err)
			}
			c.log.Infof("rewrote SBD bitmap")
			c.result.Fixes = append(c.result.Fixes, Fix{Site: "SBD.bitmap", Applied: true})
			c.result.addStatus(udf.EstatusCorrectedErrors)
		}
	}

	return nil
}
