// Package fsck implements the UDF consistency-checker core: the descriptor
// engine, the file-tree walker, the space accountant, and the repair
// driver.
package fsck

import (
	"time"

	"github.com/udfsck/udfsck/internal/elog"
	"github.com/udfsck/udfsck/internal/udf"
)

// Prompter asks the operator whether to apply a specific fix, used in
// ModeInteractive.
type Prompter interface {
	Confirm(site string) bool
}

// autoConfirm is the Prompter used by ModeAutofix, where every fix is
// applied without prompting.
type autoConfirm struct{}

func (autoConfirm) Confirm(string) bool { return true }

// denyAll is the Prompter used by ModeCheck, where nothing is ever written.
type denyAll struct{}

func (denyAll) Confirm(string) bool { return false }

// RunConfig is the single immutable configuration record threaded through
// every entry point, replacing the source's global mutable verbosity and
// fix-mode flags.
type RunConfig struct {
	Mode            udf.Mode
	ForceSectorSize int // 0 means auto-detect
	Verbosity       int
	Prompt          Prompter // nil: autoConfirm in ModeAutofix, denyAll otherwise (ModeInteractive included)
	Now             func() time.Time
}

func (c RunConfig) prompter() Prompter {
	if c.Prompt != nil {
		return c.Prompt
	}
	switch c.Mode {
	case udf.ModeAutofix:
		return autoConfirm{}
	default:
		return denyAll{}
	}
}

func (c RunConfig) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Fix describes one repair action the driver applied. Fixes that are found
// but not applied are not recorded as Fix values.
type Fix struct {
	Site    string // e.g. "VDS.PD", "LVID", "FID.tagSerialNum"
	Applied bool
	Detail  string
}

// SlotErrors is the per-VDS-copy, per-descriptor-kind error mask produced
// by verify_vds.
type SlotErrors struct {
	PVD  udf.ErrFlag
	LVD  udf.ErrFlag
	PD   udf.ErrFlag
	USD  udf.ErrFlag
	IUVD udf.ErrFlag
	TD   udf.ErrFlag
}

// RunResult is the structured report the core hands back to its CLI or test
// caller.
type RunResult struct {
	SectorSize int

	MinUDFReadRev  uint16
	MinUDFWriteRev uint16
	MaxUDFWriteRev uint16

	NumFiles        int
	NumDirs         int
	NextUID         uint32
	FreeSpaceBlocks uint32
	PartitionBlocks uint32

	MainErrors    SlotErrors
	ReserveErrors SlotErrors
	LVIDErrors    udf.ErrFlag
	SBDErrors     udf.ErrFlag
	DstringErrors udf.ErrFlag

	CrossLinkedBlocks uint32

	Fixes []Fix

	Status udf.ExitStatus
}

// addStatus ORs bits into the result's accumulated exit status.
func (r *RunResult) addStatus(bits udf.ExitStatus) {
	r.Status |= bits
}

// View bundles the Logger/ProgressReporter surface a run needs.
type View = elog.View
