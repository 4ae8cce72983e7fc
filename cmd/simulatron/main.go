// Simulatron boots a 512-byte ROM image and runs it until a clean halt,
// a fatal fault, or the terminal's force-halt chord.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aldenwood/simulatron/internal/log"
	"github.com/aldenwood/simulatron/internal/monitor"
	"github.com/aldenwood/simulatron/internal/tty"
	"github.com/aldenwood/simulatron/internal/vm"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("simulatron", flag.ContinueOnError)

	var (
		romPath   string
		diskA     string
		diskB     string
		logPath   string
		logLevel  string
		initFlags bool
	)

	fs.StringVar(&romPath, "rom", "./ROM", "boot ROM image, must be exactly 512 bytes")
	fs.StringVar(&diskA, "disk-a", "./DiskA", "disk A backing directory")
	fs.StringVar(&diskB, "disk-b", "./DiskB", "disk B backing directory")
	fs.StringVar(&logPath, "l", "", "log file path (default: stderr)")
	fs.StringVar(&logPath, "log", "", "log file path (default: stderr)")
	fs.StringVar(&logLevel, "L", "INFO", "log level: TRACE, DEBUG, or INFO")
	fs.StringVar(&logLevel, "log-level", "INFO", "log level: TRACE, DEBUG, or INFO")
	fs.BoolVar(&initFlags, "init", false, "create a skeleton directory tree and an all-zero ROM, then exit")

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if initFlags {
		if err := initSkeleton(romPath, diskA, diskB); err != nil {
			fmt.Fprintln(os.Stderr, "simulatron:", err)
			return 1
		}
		return 0
	}

	logger, closeLog, err := setupLogger(logPath, logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, "simulatron:", err)
		return 1
	}
	defer closeLog()

	romImage, err := readROM(romPath)
	if err != nil {
		logger.Error(err.Error())
		return 1
	}

	ui := make(chan vm.UICommand, 256)

	machine := vm.New(
		vm.WithROM(romImage),
		vm.WithRAM(0x8000),
		vm.WithKeyboard(),
		vm.WithDisplay(ui),
		vm.WithDiskA(diskA),
		vm.WithDiskB(diskB),
		vm.WithTimer(),
	)

	if err := monitor.InstallDefaultVectors(machine); err != nil {
		logger.Error(err.Error())
		return 1
	}

	if err := machine.Start(); err != nil {
		logger.Error(err.Error())
		return 1
	}
	defer machine.Stop()

	ctx, consoleCancel := context.WithCancel(context.Background())
	defer consoleCancel()

	ctx, _, restore := tty.ConsoleContext(ctx, machine.Keyboard, ui)
	defer restore()

	if err := machine.Run(ctx); err != nil && !errors.Is(err, vm.ErrHalted) {
		if errors.Is(context.Cause(ctx), tty.ErrForceHalt) {
			logger.Info("simulatron: force-halted")
			return 0
		}
		logger.Error(err.Error())
		return 1
	}

	return 0
}

func readROM(path string) ([]byte, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("simulatron: %w", err)
	}
	if len(image) != int(vm.ROMSize) {
		return nil, fmt.Errorf("simulatron: %s: must be exactly %d bytes, got %d", path, vm.ROMSize, len(image))
	}
	return image, nil
}

func setupLogger(path, level string) (*log.Logger, func(), error) {
	var (
		out     = os.Stderr
		closeFn = func() {}
	)

	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("simulatron: %w", err)
		}
		out = f
		closeFn = func() { f.Close() }
	}

	switch level {
	case "TRACE", "DEBUG":
		log.LogLevel.Set(log.Debug)
	case "INFO", "":
		log.LogLevel.Set(log.Info)
	default:
		closeFn()
		return nil, nil, fmt.Errorf("simulatron: unknown log level %q", level)
	}

	logger := log.NewFormattedLogger(out)
	log.SetDefault(logger)
	log.DefaultLogger = func() *log.Logger { return logger }

	return logger, closeFn, nil
}

func initSkeleton(romPath, diskA, diskB string) error {
	for _, dir := range []string{diskA, diskB} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(romPath), 0o755); err != nil {
		return err
	}

	zero := make([]byte, 512)
	return os.WriteFile(romPath, zero, 0o644)
}
