package objfile

import (
	"encoding/binary"
	"io"
)

// Write serializes obj in SIMOBJ format to w.
func Write(w io.Writer, obj *Object) error {
	if _, err := w.Write([]byte(Magic)); err != nil {
		return err
	}
	if err := writeUint16(w, ABIVersion); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(obj.Symbols))); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(obj.Sections))); err != nil {
		return err
	}

	for _, sym := range obj.Symbols {
		if err := writeSymbol(w, sym); err != nil {
			return err
		}
	}

	for _, sec := range obj.Sections {
		if _, err := w.Write([]byte{byte(sec.Flags)}); err != nil {
			return err
		}
		if err := writeUint32(w, uint32(len(sec.Body))); err != nil {
			return err
		}
	}

	for _, sec := range obj.Sections {
		if _, err := w.Write(sec.Body); err != nil {
			return err
		}
	}

	return nil
}

func writeSymbol(w io.Writer, sym Symbol) error {
	if _, err := w.Write([]byte{byte(sym.Type)}); err != nil {
		return err
	}
	if err := writeUint32(w, sym.Value); err != nil {
		return err
	}
	if _, err := w.Write([]byte{byte(len(sym.Name))}); err != nil {
		return err
	}
	if _, err := w.Write([]byte(sym.Name)); err != nil {
		return err
	}
	if err := writeUint32(w, uint32(len(sym.References))); err != nil {
		return err
	}
	for _, ref := range sym.References {
		if err := writeUint32(w, ref); err != nil {
			return err
		}
	}
	return nil
}

func writeUint16(w io.Writer, v uint16) error {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	_, err := w.Write(b[:])
	return err
}

func writeUint32(w io.Writer, v uint32) error {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	_, err := w.Write(b[:])
	return err
}
