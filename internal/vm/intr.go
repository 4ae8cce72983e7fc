package vm

// intr.go implements the interrupt latch: a fixed bitset of pending
// interrupts plus a FIFO channel peripherals post to, delivered lowest-
// numbered-first and gated by IMR.

import (
	"sync"

	"github.com/aldenwood/simulatron/internal/log"
)

// joinSentinel is the reserved channel value the CPU worker's shutdown
// path posts; the latch never confuses it with a real interrupt since it
// is outside the 0..7 interrupt-number range.
const joinSentinel = IntJoinThread

// Latch is the machine's interrupt controller. Peripherals call Raise from
// their own goroutines; the CPU calls Poll (non-blocking) or Wait
// (blocking) from its single worker goroutine.
type Latch struct {
	mu      sync.Mutex
	pending [NumInterrupts]bool
	ch      chan Interrupt

	log *log.Logger
}

// NewLatch creates an interrupt latch with a modestly-buffered channel; the
// buffer only smooths bursts; the bitset is the real home of "this
// interrupt is outstanding."
func NewLatch() *Latch {
	return &Latch{
		ch:  make(chan Interrupt, NumInterrupts),
		log: log.DefaultLogger(),
	}
}

// Raise posts an interrupt from a peripheral. It always records the
// interrupt in the bitset and wakes any waiter; the IMR is applied later,
// by Poll and Wait, which leave masked interrupts latched.
func (l *Latch) Raise(i Interrupt) {
	l.mu.Lock()
	l.pending[i] = true
	l.mu.Unlock()

	select {
	case l.ch <- i:
	default:
		// The channel only ever smooths bursts; the bitset already
		// recorded the interrupt, so a full channel drops nothing of
		// substance.
	}
}

// Join posts the CPU worker's shutdown sentinel.
func (l *Latch) Join() {
	l.ch <- joinSentinel
}

// Poll returns the highest-priority (lowest-numbered) unmasked interrupt
// outstanding, if any, without blocking. It drains queued channel entries
// into the bitset first so a just-raised interrupt is visible immediately.
func (l *Latch) Poll(imr uint16) (Interrupt, bool) {
	l.drain()

	l.mu.Lock()
	defer l.mu.Unlock()

	for i := Interrupt(0); i < NumInterrupts; i++ {
		if l.pending[i] && imr&(1<<i) != 0 {
			l.pending[i] = false
			return i, true
		}
	}

	return 0, false
}

// Wait blocks until an unmasked interrupt is outstanding or the shutdown
// sentinel arrives, used while the CPU is paused.
func (l *Latch) Wait(imr uint16) Interrupt {
	for {
		if i, ok := l.Poll(imr); ok {
			return i
		}

		i := <-l.ch
		if i == joinSentinel {
			return joinSentinel
		}

		l.mu.Lock()
		l.pending[i] = true
		l.mu.Unlock()
	}
}

func (l *Latch) drain() {
	for {
		select {
		case i := <-l.ch:
			if i == joinSentinel {
				// Put it back; Poll's caller isn't the shutdown
				// path, so let Wait observe it directly.
				l.ch <- joinSentinel
				return
			}
			l.mu.Lock()
			l.pending[i] = true
			l.mu.Unlock()
		default:
			return
		}
	}
}
