// Package tty provides terminal emulation.
package tty

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"
	"time"

	"github.com/aldenwood/simulatron/internal/vm"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// Console is a serial console for the machine simulated using Unix terminal I/O[^1]. It adapts the
// machine's (virtual) keyboard and display devices for use on contemporary systems[^2].
//
// Keys pressed on the console are posted to the keyboard device as they are read. Likewise,
// UICommands posted by the display device are rendered as ANSI
// cursor moves and truecolor escapes on the terminal.
//
// [1]: See: tty(4), termios(4).
// [2]: These systems, themselves, emulating electromechanical teletype devices, of course.
type Console struct {
	in    *os.File
	out   *term.Terminal
	fd    int
	state *term.State

	// I/O buffers.
	keyCh chan vm.KeyEvent
}

// ErrNoTTY is returned if standard input is not a terminal. In this case, asynchronous I/O is
// not supported by the console.
var ErrNoTTY error = errors.New("console: not a TTY")

// ErrForceHalt cancels the console's context when the force-halt chord is
// pressed. Most terminals report Alt as a leading ESC byte, so ESC followed
// immediately by 'Q' stands in for Alt+Shift+Q; callers should treat it the
// same as a clean halt.
var ErrForceHalt error = errors.New("console: force halt")

// ConsoleContext creates a Console context with the standard streams. Calling cancel will restore the
// terminal state and release resources.
func ConsoleContext(parent context.Context, keyboard *vm.Keyboard, ui chan vm.UICommand) (
	context.Context, *Console, context.CancelFunc,
) {
	ctx, cause := context.WithCancelCause(parent)

	console, err := NewConsole(os.Stdin, os.Stdout, os.Stderr)
	if err != nil {
		cause(err)

		return ctx, console, func() { cause(err) }
	}

	go console.readTerminal(ctx, cause)
	go console.updateKeyboard(ctx, keyboard)
	go console.updateTerminal(ctx, ui, cause)

	return ctx, console, console.Restore
}

// NewConsole creates a Console using the provided streams. If the input stream is not a terminal,
// ErrNoTTY is returned. Callers are responsible for calling [Restore] to return the terminal to its
// initial state.
func NewConsole(sin, sout, serr *os.File) (*Console, error) {
	fd := int(sin.Fd())

	if !term.IsTerminal(fd) {
		return nil, ErrNoTTY
	}

	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoTTY, err)
	}

	cons := Console{
		fd:    fd,
		in:    sin,
		out:   term.NewTerminal(sin, ""),
		state: saved,
		keyCh: make(chan vm.KeyEvent, 16),
	}

	err = cons.setTerminalParams(1, 0)
	if err != nil {
		return nil, err
	}

	return &cons, nil
}

// Press injects a key event into the input stream.
func (c Console) Press(key byte) {
	c.keyCh <- vm.KeyEvent{Code: key}
}

// Writer returns an io.Writer that writes to the terminal.
func (c Console) Writer() io.Writer {
	return c.out
}

// Restore returns the terminal to its initial state and cancels in-progress reads.
func (c *Console) Restore() {
	_ = os.Stdin.SetReadDeadline(time.Now())
	_ = term.Restore(c.fd, c.state)
}

func (c *Console) setTerminalParams(vmin, vtime byte) error {
	_ = syscall.SetNonblock(c.fd, true)

	termIO, err := unix.IoctlGetTermios(c.fd, getTermiosIoctl)
	if err != nil {
		return err
	}

	termIO.Cc[unix.VMIN] = vmin
	termIO.Cc[unix.VTIME] = vtime

	err = unix.IoctlSetTermios(c.fd, setTermiosIoctl, termIO)
	if err != nil {
		return err
	}

	_ = os.Stdin.SetReadDeadline(time.Time{})

	return nil
}

// readTerminal reads bytes from the terminal and posts key events to the key channel until the
// context is cancelled. If reading from the terminal fails, the cancel is called.
func (c Console) readTerminal(ctx context.Context, cancel context.CancelCauseFunc) {
	buf := bufio.NewReader(c.in)

	// Make terminal input block on reads.
	_ = syscall.SetNonblock(c.fd, false)

	for { // ever and ever
		select {
		case <-ctx.Done():
			return
		default:
		}

		b, err := buf.ReadByte()
		if err != nil {
			cancel(err)
			return
		}

		if b == 0x1b {
			next, err := buf.ReadByte()
			if err == nil && next == 'Q' {
				cancel(ErrForceHalt)
				return
			} else if err == nil {
				b = next
			}
		}

		select {
		case <-ctx.Done():
			return
		case c.keyCh <- vm.KeyEvent{Code: b}:
		}
	}
}

// updateKeyboard takes key events from the key channel and posts them to the keyboard device. The
// function blocks until the context is cancelled.
func (c Console) updateKeyboard(ctx context.Context, kbd *vm.Keyboard) {
	for { // you, a gift.
		select {
		case <-ctx.Done():
			return
		case e := <-c.keyCh:
			kbd.Post(e)
		}
	}
}

// updateTerminal drains the display's UI channel and renders each command as an ANSI cursor move
// plus a truecolor escape sequence, matching the device's Row/Col/RGB cell model.
func (c Console) updateTerminal(ctx context.Context, ui chan vm.UICommand, cancel context.CancelCauseFunc) {
	for {
		select {
		case cmd := <-ui:
			if err := c.render(cmd); err != nil {
				cancel(err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c Console) render(cmd vm.UICommand) error {
	// Cursor positions are 1-indexed in ANSI, 0-indexed in the device model.
	var err error
	switch cmd.Kind {
	case vm.UISetChar:
		_, err = fmt.Fprintf(c.out, "\x1b[%d;%dH%c", cmd.Row+1, cmd.Col+1, cmd.Ch)
	case vm.UISetFg:
		_, err = fmt.Fprintf(c.out, "\x1b[%d;%dH\x1b[38;2;%d;%d;%dm", cmd.Row+1, cmd.Col+1, cmd.R, cmd.G, cmd.B)
	case vm.UISetBg:
		_, err = fmt.Fprintf(c.out, "\x1b[%d;%dH\x1b[48;2;%d;%d;%dm", cmd.Row+1, cmd.Col+1, cmd.R, cmd.G, cmd.B)
	}
	return err
}
