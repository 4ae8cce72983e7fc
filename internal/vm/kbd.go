package vm

// kbd.go implements the keyboard controller: a 2-byte memory-mapped buffer
// (key code, modifier bits) fed by a background listener goroutine that
// receives key events from the UI and raises the keyboard interrupt.

import "sync"

// KeyModifier bits carried in the keyboard buffer's second byte.
const (
	ModCtrl uint8 = 1 << iota
	ModAlt
	ModShift
)

// KeyEvent is what the terminal renderer posts to the keyboard's input
// channel.
type KeyEvent struct {
	Code uint8
	Mod  uint8
}

// Keyboard is the memory-mapped keyboard device: byte 0 is the key code,
// byte 1 the modifier bitfield. It is read-only from the bus; the listener
// goroutine is its only writer.
type Keyboard struct {
	mu   sync.Mutex
	code uint8
	mod  uint8

	in    chan KeyEvent
	latch *Latch
	done  chan struct{}
}

// NewKeyboard creates a keyboard device wired to latch for its interrupt.
func NewKeyboard(latch *Latch) *Keyboard {
	return &Keyboard{
		in:    make(chan KeyEvent, 16),
		latch: latch,
		done:  make(chan struct{}),
	}
}

// Start launches the listener goroutine. Stop terminates it.
func (k *Keyboard) Start() {
	go k.listen()
}

func (k *Keyboard) Stop() {
	close(k.done)
}

// Post delivers a key event from the UI; it is the terminal renderer's only
// entry point into the keyboard device.
func (k *Keyboard) Post(e KeyEvent) {
	select {
	case k.in <- e:
	case <-k.done:
	}
}

func (k *Keyboard) listen() {
	for {
		select {
		case e := <-k.in:
			k.mu.Lock()
			k.code = e.Code
			k.mod = e.Mod
			k.mu.Unlock()

			k.latch.Raise(IntKeyboard)
		case <-k.done:
			return
		}
	}
}

func (k *Keyboard) loadByte(offset uint32) (uint8, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	switch offset {
	case 0:
		return k.code, nil
	case 1:
		return k.mod, nil
	default:
		return 0, &IllegalOperation{Addr: KeyboardBase + offset, Op: "read"}
	}
}

func (k *Keyboard) storeByte(offset uint32, _ uint8) error {
	return &IllegalOperation{Addr: KeyboardBase + offset, Op: "write"}
}

func (k *Keyboard) readable() bool { return true }
func (k *Keyboard) writable() bool { return false }
