package flash

import (
	"encoding/binary"
	"math"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// WriteBytes erases the sectors covering [addr, addr+len(data)) and
// programs data byte by byte.
func (e *Engine) WriteBytes(addr uint32, data []byte) error {
	return e.writeRange(addr, UnitByte, len(data), func(n int) uint64 {
		return uint64(data[n])
	})
}

// WriteWords erases the sectors covering the words and programs them word
// by word.
func (e *Engine) WriteWords(addr uint32, words []uint32) error {
	return e.writeRange(addr, UnitWord, len(words), func(n int) uint64 {
		return uint64(words[n])
	})
}

func (e *Engine) writeRange(addr uint32, unit Unit, count int, value func(int) uint64) error {
	if count == 0 {
		return nil
	}
	if err := e.Unlock(); err != nil {
		return err
	}
	defer e.Lock()

	first, sectors, err := e.Layout.Span(addr, uint32(count)*unit.Size())
	if err != nil {
		return err
	}
	err = e.Erase(EraseRequest{
		Kind:    EraseSectors,
		Sector:  first,
		Count:   sectors,
		Voltage: e.Voltage,
	})
	if err != nil {
		return err
	}

	glog.V(2).Infof("flash: program %d x %d bytes at %#08x", count, unit.Size(), addr)
	for n := 0; n < count; n++ {
		if err = e.Program(unit, addr, value(n)); err != nil {
			return errors.Wrapf(err, "program %#08x", addr)
		}
		addr += unit.Size()
	}
	return nil
}

// ProgramWords programs words starting at addr without erasing. The target
// must already be erased.
func (e *Engine) ProgramWords(addr uint32, words []uint32) error {
	if err := e.Unlock(); err != nil {
		return err
	}
	defer e.Lock()
	for _, w := range words {
		if err := e.Program(UnitWord, addr, uint64(w)); err != nil {
			return errors.Wrapf(err, "program %#08x", addr)
		}
		addr += 4
	}
	return nil
}

// Read copies flash contents starting at addr into buf.
func (e *Engine) Read(addr uint32, buf []byte) {
	for n := range buf {
		buf[n] = e.dev.Load8(addr + uint32(n))
	}
}

// ReadWords reads len(words) words starting at addr.
func (e *Engine) ReadWords(addr uint32, words []uint32) {
	for n := range words {
		words[n] = e.dev.Load32(addr + uint32(n)*4)
	}
}

// EncodeFloat returns the in-memory bytes of v.
func EncodeFloat(v float32) (b [4]byte) {
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return
}

// DecodeFloat reinterprets four bytes as a float32.
func DecodeFloat(b [4]byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[:]))
}

// WriteFloat stores v as one word at addr, erasing its sector.
func (e *Engine) WriteFloat(addr uint32, v float32) error {
	return e.WriteWords(addr, []uint32{math.Float32bits(v)})
}

// ReadFloat reads the word at addr as a float32.
func (e *Engine) ReadFloat(addr uint32) float32 {
	return math.Float32frombits(e.dev.Load32(addr))
}
