package main

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/udfsck/udfsck/internal/elog"
	"github.com/udfsck/udfsck/internal/fsck"
	"github.com/udfsck/udfsck/internal/medium"
	"github.com/udfsck/udfsck/internal/udf"
)

var log elog.View

var (
	flagBlockSize      uint
	flagInteractive    bool
	flagAutofix        bool
	flagVerboseCounter int
	flagTree           bool
)

var rootCmd = &cobra.Command{
	Use:   "udfsck MEDIUM",
	Short: "Check and repair a UDF (ECMA-167) file system",
	Args:  cobra.ExactArgs(1),
	RunE:  runFsck,
}

func commandInit() {
	f := rootCmd.Flags()
	f.UintVarP(&flagBlockSize, "blocksize", "b", 0, "force sector size (power of two in [512, 32768])")
	f.BoolVarP(&flagInteractive, "interactive", "i", false, "interactive mode; no prompter is set, so every fix is declined")
	f.BoolVarP(&flagAutofix, "preen", "p", false, "apply every fix without prompting")
	f.CountVarP(&flagVerboseCounter, "verbose", "v", "increase verbosity (repeatable)")
	f.BoolVar(&flagTree, "tree", false, "print the file tree instead of a summary report")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := &elog.CLI{}
		logrus.SetFormatter(logger)
		logrus.SetLevel(logrus.TraceLevel)

		if flagVerboseCounter > 1 {
			logger.IsDebug = true
			logger.IsVerbose = true
		} else if flagVerboseCounter == 1 {
			logger.IsVerbose = true
		}

		log = logger
		return nil
	}
}

func modeFromFlags() (udf.Mode, error) {
	if flagInteractive && flagAutofix {
		return 0, fmt.Errorf("-i and -p are mutually exclusive")
	}
	if flagAutofix {
		return udf.ModeAutofix, nil
	}
	if flagInteractive {
		return udf.ModeInteractive, nil
	}
	return udf.ModeCheck, nil
}

func validateBlockSize(b uint) error {
	if b == 0 {
		return nil
	}
	if b < 512 || b > 32768 || b&(b-1) != 0 {
		return fmt.Errorf("-b %d: must be a power of two in [512, 32768]", b)
	}
	return nil
}

func runFsck(cmd *cobra.Command, args []string) error {
	if err := validateBlockSize(flagBlockSize); err != nil {
		return err
	}
	mode, err := modeFromFlags()
	if err != nil {
		return err
	}

	writable := mode != udf.ModeCheck
	med, err := medium.Open(args[0], writable)
	if err != nil {
		return err
	}
	defer med.Close()

	if mode == udf.ModeAutofix {
		runID := uuid.New()
		log.Infof("autofix run %s", runID)
	}

	cfg := fsck.RunConfig{
		Mode:            mode,
		ForceSectorSize: int(flagBlockSize),
		Verbosity:       flagVerboseCounter,
	}

	checker := fsck.NewChecker(cfg, log, med)

	if flagTree {
		if _, err := checker.Run(); err != nil {
			return err
		}
		return checker.Tree(log)
	}

	result, err := checker.Run()
	if err != nil {
		log.Errorf("%v", err)
		os.Exit(int(udf.EstatusOperationalError))
	}

	reportResult(result)
	os.Exit(int(result.Status))
	return nil
}

func reportResult(r fsck.RunResult) {
	log.Printf("sector size: %d", r.SectorSize)
	log.Printf("files: %d  dirs: %d  next unique id: %d", r.NumFiles, r.NumDirs, r.NextUID)
	log.Printf("free blocks: %d / %d", r.FreeSpaceBlocks, r.PartitionBlocks)

	for _, fix := range r.Fixes {
		if fix.Applied {
			log.Infof("fixed %s", fix.Site)
		} else {
			log.Warnf("would fix %s", fix.Site)
		}
	}

	switch {
	case r.Status&udf.EstatusUncorrectedErrors != 0:
		log.Warnf("uncorrected errors remain")
	case r.Status&udf.EstatusCorrectedErrors != 0:
		log.Infof("corrected errors during this run")
	default:
		log.Infof("clean")
	}
}
