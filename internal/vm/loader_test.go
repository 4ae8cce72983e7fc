package vm

import (
	"testing"

	"github.com/aldenwood/simulatron/internal/objfile"
)

func TestLoaderLoadWritesSectionsAndFindsEntry(t *testing.T) {
	m := newTestMachine(t)
	l := NewLoader(m)

	obj := &objfile.Object{
		Sections: []objfile.Section{
			{Flags: objfile.FlagRead | objfile.FlagWrite, Body: []byte{0x01, 0x02}},
			{Flags: objfile.FlagEntrypoint | objfile.FlagExecute, Body: []byte{0x03, 0x04, 0x05}},
		},
	}

	entry, err := l.Load(obj, RAMBase)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := RAMBase + 2; entry != want {
		t.Fatalf("entry = %#x, want %#x", entry, want)
	}

	for i, want := range []byte{0x01, 0x02, 0x03, 0x04, 0x05} {
		got, err := m.bus.LoadByte(RAMBase + uint32(i))
		if err != nil {
			t.Fatalf("LoadByte(%d): %v", i, err)
		}
		if got != want {
			t.Fatalf("byte %d = %#x, want %#x", i, got, want)
		}
	}
}

func TestLoaderLoadRejectsNoEntrypoint(t *testing.T) {
	m := newTestMachine(t)
	l := NewLoader(m)

	obj := &objfile.Object{
		Sections: []objfile.Section{{Flags: objfile.FlagExecute, Body: []byte{0x00}}},
	}

	if _, err := l.Load(obj, RAMBase); err == nil {
		t.Fatalf("Load: want error for object with no entrypoint section")
	}
}

func TestLoaderLoadRejectsMultipleEntrypoints(t *testing.T) {
	m := newTestMachine(t)
	l := NewLoader(m)

	obj := &objfile.Object{
		Sections: []objfile.Section{
			{Flags: objfile.FlagEntrypoint | objfile.FlagExecute, Body: []byte{0x00}},
			{Flags: objfile.FlagEntrypoint | objfile.FlagExecute, Body: []byte{0x00}},
		},
	}

	if _, err := l.Load(obj, RAMBase); err == nil {
		t.Fatalf("Load: want error for object with two entrypoint sections")
	}
}

func TestLoaderMapPagesTranslatesThroughMMU(t *testing.T) {
	m := New(WithRAM(0x20000))
	l := NewLoader(m)

	pdpr := RAMBase
	scratch := RAMBase + 0x1000
	vbase := uint32(0x00800000)
	pbase := RAMBase + 0x2000

	ranges := []PageRange{
		{VBase: vbase, PBase: pbase, Length: 8, Perm: objfile.FlagRead | objfile.FlagWrite},
	}

	if err := l.MapPages(pdpr, scratch, ranges); err != nil {
		t.Fatalf("MapPages: %v", err)
	}

	if err := m.memStore(pbase, Word(0x11223344)); err != nil {
		t.Fatalf("seed physical frame: %v", err)
	}

	got, err := m.mmu.Load(pdpr, vbase, KindWord)
	if err != nil {
		t.Fatalf("mmu.Load through mapped page: %v", err)
	}
	if got.AsWord() != 0x11223344 {
		t.Fatalf("got = %#x, want 0x11223344", got.AsWord())
	}
}

func TestLoaderMapPagesSharesTableAcrossRanges(t *testing.T) {
	m := New(WithRAM(0x20000))
	l := NewLoader(m)

	pdpr := RAMBase
	scratch := RAMBase + 0x1000

	// Two ranges that land in the same directory index (same 4 MiB
	// window) must share one second-level table rather than clobbering
	// the directory entry on the second call.
	ranges := []PageRange{
		{VBase: 0x00800000, PBase: RAMBase + 0x2000, Length: 4096, Perm: objfile.FlagRead},
		{VBase: 0x00801000, PBase: RAMBase + 0x3000, Length: 4096, Perm: objfile.FlagRead | objfile.FlagWrite},
	}

	if err := l.MapPages(pdpr, scratch, ranges); err != nil {
		t.Fatalf("MapPages: %v", err)
	}

	if err := m.memStore(RAMBase+0x2000, Word(1)); err != nil {
		t.Fatalf("seed first frame: %v", err)
	}
	if err := m.memStore(RAMBase+0x3000, Word(2)); err != nil {
		t.Fatalf("seed second frame: %v", err)
	}

	v1, err := m.mmu.Load(pdpr, 0x00800000, KindWord)
	if err != nil {
		t.Fatalf("load range 1: %v", err)
	}
	v2, err := m.mmu.Load(pdpr, 0x00801000, KindWord)
	if err != nil {
		t.Fatalf("load range 2: %v", err)
	}

	if v1.AsWord() != 1 || v2.AsWord() != 2 {
		t.Fatalf("v1=%#x v2=%#x, want 1 and 2 (both ranges must remain mapped)", v1.AsWord(), v2.AsWord())
	}

	if err := m.mmu.Store(pdpr, 0x00800000, Word(9)); err == nil {
		t.Fatalf("Store to read-only range 1: want error")
	}
	if err := m.mmu.Store(pdpr, 0x00801000, Word(9)); err != nil {
		t.Fatalf("Store to read-write range 2: %v", err)
	}
}
