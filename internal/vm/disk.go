package vm

// disk.go implements a removable disk controller: a filesystem-watcher
// goroutine that derives the Connected flag and blocks-available count from
// a host directory's contents, and a command worker goroutine that serves
// Read/Write/ContiguousRead/ContiguousWrite against the one regular file
// the directory is expected to hold.

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/aldenwood/simulatron/internal/log"
)

const (
	// DiskBlockSize is the fixed unit of disk I/O, 4096 bytes.
	DiskBlockSize = 4096
)

// Status byte bit layout, taken from the original Rust implementation's
// disk_real.rs since spec.md names the four flags without fixing their
// bit positions.
const (
	diskStatusConnected uint8 = 1 << iota
	diskStatusFinished
	diskStatusSuccess
	diskStatusBadCommand
)

// Command byte values written to the command register.
type diskCommand uint8

const (
	diskCmdRead diskCommand = iota
	diskCmdWrite
	diskCmdContiguousRead
	diskCmdContiguousWrite
)

// diskJoin is the worker's shutdown sentinel, distinct from any valid
// diskCommand value.
const diskJoin diskCommand = 0xFF

// DiskController is one of the two memory-mapped disk controllers (A or B).
// It owns a command worker and an fsnotify watcher goroutine; CPU-visible
// state (status, blocks-available, block-to-access, the 4096-byte data
// buffer) is protected by mu and is the only state shared between them.
type DiskController struct {
	name   string
	dir    string
	intr   Interrupt
	latch  *Latch
	log    *log.Logger

	mu             sync.Mutex
	status         uint8
	blocksAvail    uint32
	blockToAccess  uint32
	data           [DiskBlockSize]byte

	cmds    chan diskCommand
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewDiskController creates a disk controller watching dir. Start launches
// its goroutines; the controller is inert (and reports Disconnected) until
// Start is called.
func NewDiskController(name, dir string, intr Interrupt, latch *Latch) *DiskController {
	return &DiskController{
		name:  name,
		dir:   dir,
		intr:  intr,
		latch: latch,
		log:   log.DefaultLogger(),
		cmds:  make(chan diskCommand, 1),
		done:  make(chan struct{}),
	}
}

// Start launches the watcher and worker goroutines and performs an initial
// connection scan.
func (d *DiskController) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("disk %s: %w", d.name, err)
	}

	if err := w.Add(d.dir); err != nil {
		w.Close()
		return fmt.Errorf("disk %s: watch %s: %w", d.name, d.dir, err)
	}

	d.watcher = w

	d.rescan()

	go d.watch()
	go d.work()

	return nil
}

// Stop terminates both goroutines.
func (d *DiskController) Stop() {
	close(d.done)
	d.cmds <- diskJoin
	if d.watcher != nil {
		d.watcher.Close()
	}
}

func (d *DiskController) watch() {
	for {
		select {
		case _, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.rescan()
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Error("disk watch error", log.String("disk", d.name), log.String("err", err.Error()))
		case <-d.done:
			return
		}
	}
}

// rescan recomputes the Connected derived property: the directory must
// contain exactly one regular file whose size is a positive multiple of
// the block size. Any change raises the controller's interrupt.
func (d *DiskController) rescan() {
	connected, blocks := d.scanDir()

	d.mu.Lock()
	was := d.status&diskStatusConnected != 0
	changed := was != connected || d.blocksAvail != blocks

	if connected {
		d.status |= diskStatusConnected
	} else {
		d.status &^= diskStatusConnected
	}
	d.blocksAvail = blocks
	d.mu.Unlock()

	if changed {
		d.latch.Raise(d.intr)
	}
}

func (d *DiskController) scanDir() (connected bool, blocks uint32) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return false, 0
	}

	var regular []os.DirEntry
	for _, e := range entries {
		if e.Type().IsRegular() {
			regular = append(regular, e)
		}
	}

	if len(regular) != 1 {
		return false, 0
	}

	info, err := regular[0].Info()
	if err != nil || info.Size() <= 0 || info.Size()%DiskBlockSize != 0 {
		return false, 0
	}

	return true, uint32(info.Size() / DiskBlockSize)
}

func (d *DiskController) file() string {
	entries, err := os.ReadDir(d.dir)
	if err != nil || len(entries) == 0 {
		return ""
	}
	for _, e := range entries {
		if e.Type().IsRegular() {
			return filepath.Join(d.dir, e.Name())
		}
	}
	return ""
}

func (d *DiskController) work() {
	for cmd := range d.cmds {
		if cmd == diskJoin {
			return
		}
		d.execute(cmd)
	}
}

func (d *DiskController) execute(cmd diskCommand) {
	d.mu.Lock()
	connected := d.status&diskStatusConnected != 0
	block := d.blockToAccess
	blocks := d.blocksAvail
	d.mu.Unlock()

	ok := connected && block < blocks

	var buf [DiskBlockSize]byte

	if ok {
		path := d.file()
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			ok = false
		} else {
			defer f.Close()

			offset := int64(block) * DiskBlockSize

			switch cmd {
			case diskCmdRead, diskCmdContiguousRead:
				_, err = f.ReadAt(buf[:], offset)
				ok = err == nil || err == io.EOF
			case diskCmdWrite, diskCmdContiguousWrite:
				d.mu.Lock()
				copy(buf[:], d.data[:])
				d.mu.Unlock()
				_, err = f.WriteAt(buf[:], offset)
				ok = err == nil
			default:
				ok = false
			}
		}
	}

	d.mu.Lock()
	if ok && (cmd == diskCmdRead || cmd == diskCmdContiguousRead) {
		d.data = buf
	}

	d.status ^= diskStatusFinished

	if ok {
		d.status |= diskStatusSuccess
		d.status &^= diskStatusBadCommand
	} else {
		d.status &^= diskStatusSuccess
		d.status |= diskStatusBadCommand
	}

	if ok && (cmd == diskCmdContiguousRead || cmd == diskCmdContiguousWrite) {
		d.blockToAccess++
	}
	d.mu.Unlock()

	d.latch.Raise(d.intr)
}

// --- memory-mapped register device: status(1) + blocksAvailable(4) +
// blockToAccess(4), matching §4.4's "status+NBA R-only,
// block-to-access R/W".

func (d *DiskController) loadByte(offset uint32) (uint8, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch {
	case offset == 0:
		return d.status, nil
	case offset >= 1 && offset < 5:
		return byteOf(d.blocksAvail, offset-1), nil
	case offset >= 5 && offset < 9:
		return byteOf(d.blockToAccess, offset-5), nil
	default:
		return 0, &IllegalOperation{Addr: offset, Op: "read"}
	}
}

func (d *DiskController) storeByte(offset uint32, b uint8) error {
	if offset < 5 {
		return &IllegalOperation{Addr: offset, Op: "write"}
	}
	if offset >= 9 {
		return &IllegalOperation{Addr: offset, Op: "write"}
	}

	d.mu.Lock()
	d.blockToAccess = setByteOf(d.blockToAccess, offset-5, b)
	d.mu.Unlock()

	return nil
}

func (d *DiskController) readable() bool { return true }
func (d *DiskController) writable() bool { return true }

// diskCommandDevice is the 1-byte write-only command register; a store
// triggers the controller's worker.
type diskCommandDevice struct {
	ctrl *DiskController
}

func (c *diskCommandDevice) loadByte(offset uint32) (uint8, error) {
	return 0, &IllegalOperation{Addr: offset, Op: "read"}
}

func (c *diskCommandDevice) storeByte(_ uint32, b uint8) error {
	// The spec doesn't define queueing depth; the command channel holds
	// one pending command, so a store blocks only while an earlier
	// command is still queued and not yet taken by the worker.
	c.ctrl.cmds <- diskCommand(b)
	return nil
}

func (c *diskCommandDevice) readable() bool { return false }
func (c *diskCommandDevice) writable() bool { return true }

// diskDataDevice is the controller's 4096-byte read/write data buffer.
type diskDataDevice struct {
	ctrl *DiskController
}

func (d *diskDataDevice) loadByte(offset uint32) (uint8, error) {
	d.ctrl.mu.Lock()
	defer d.ctrl.mu.Unlock()
	if offset >= DiskBlockSize {
		return 0, &IllegalOperation{Addr: offset, Op: "read"}
	}
	return d.ctrl.data[offset], nil
}

func (d *diskDataDevice) storeByte(offset uint32, b uint8) error {
	d.ctrl.mu.Lock()
	defer d.ctrl.mu.Unlock()
	if offset >= DiskBlockSize {
		return &IllegalOperation{Addr: offset, Op: "write"}
	}
	d.ctrl.data[offset] = b
	return nil
}

func (d *diskDataDevice) readable() bool { return true }
func (d *diskDataDevice) writable() bool { return true }

// CommandDevice and DataDevice expose the byteDevice views the Bus maps
// separately from the controller's register view.
func (d *DiskController) CommandDevice() byteDevice { return &diskCommandDevice{ctrl: d} }
func (d *DiskController) DataDevice() byteDevice     { return &diskDataDevice{ctrl: d} }

func byteOf(v uint32, i uint32) uint8 {
	return uint8(v >> (8 * (3 - i)))
}

func setByteOf(v uint32, i uint32, b uint8) uint32 {
	shift := 8 * (3 - i)
	mask := ^(uint32(0xFF) << shift)
	return v&mask | uint32(b)<<shift
}
