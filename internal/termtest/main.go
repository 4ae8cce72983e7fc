// Termtest is a testing tool for Unix terminal I/O. Lacking simple PTY support, running this tool
// manually is easier than writing automated tests.
package main

import (
	"context"
	"time"

	"github.com/aldenwood/simulatron/internal/log"
	"github.com/aldenwood/simulatron/internal/monitor"
	"github.com/aldenwood/simulatron/internal/tty"
	"github.com/aldenwood/simulatron/internal/vm"
)

var logger = log.DefaultLogger()

func main() {
	ctx := context.Background()

	ui := make(chan vm.UICommand, 64)
	machine := vm.New(
		vm.WithROM(monitor.DefaultBootROM()),
		vm.WithRAM(0x1000),
		vm.WithKeyboard(),
		vm.WithDisplay(ui),
	)

	if err := monitor.InstallDefaultVectors(machine); err != nil {
		logger.Error(err.Error())
		return
	}

	ctx, _, cancel := tty.ConsoleContext(ctx, machine.Keyboard, ui)
	defer cancel()

	select {
	case <-ctx.Done():
		logger.Debug("cause", context.Cause(ctx))
	default:
	}

	logger.Info("Type keys. Displayed UICommands echo to the terminal.")

	timeout := time.After(30 * time.Second)

	select {
	case <-timeout:
		cancel()
	case <-ctx.Done():
		if ctx.Err() != nil {
			logger.Error(context.Cause(ctx).Error())
		} else {
			logger.Info("Done")
		}
	}
}
