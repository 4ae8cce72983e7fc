package monitor

import (
	"testing"

	"github.com/aldenwood/simulatron/internal/vm"
)

func TestDefaultBootROMHalts(t *testing.T) {
	image := DefaultBootROM()

	if len(image) != int(vm.ROMSize) {
		t.Fatalf("len = %d, want %d", len(image), vm.ROMSize)
	}
	if image[0] != byte(vm.OpHalt) {
		t.Fatalf("image[0] = %#02x, want OpHalt", image[0])
	}
}

func TestInstallDefaultVectors(t *testing.T) {
	m := vm.New(vm.WithROM(DefaultBootROM()), vm.WithRAM(0x1000))

	if err := InstallDefaultVectors(m); err != nil {
		t.Fatalf("install vectors: %v", err)
	}

	for i := vm.Interrupt(0); i < vm.NumInterrupts; i++ {
		addr := vm.InterruptVectorBase + 4*uint32(i)
		v, err := m.Bus().Load(addr, vm.KindWord)
		if err != nil {
			t.Fatalf("load vector %d: %v", i, err)
		}
		if v.AsWord() != vm.ROMBase {
			t.Errorf("vector %d = %#08x, want %#08x", i, v.AsWord(), vm.ROMBase)
		}
	}
}

func TestBootstrap(t *testing.T) {
	m := vm.New(vm.WithROM(DefaultBootROM()), vm.WithRAM(0x1000))

	if err := Bootstrap(m); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
}
