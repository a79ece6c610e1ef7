// Package sim simulates the STM32F4 flash interface and flash array.
//
// The model follows the reference manual closely enough to catch driver
// mistakes: the control register ignores writes while locked, a wrong key
// locks the controller until Reset, programming only clears bits, and
// writes without PG, with the wrong PSIZE or while locked raise the
// corresponding status error flags.
package sim

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pkg/errors"

	"github.com/robotalks/fota.go/pkg/flash"
)

// Access is one recorded bus or register operation.
type Access struct {
	Op    string
	Addr  uint32
	Value uint32
}

// String implements fmt.Stringer.
func (a Access) String() string {
	return fmt.Sprintf("%s %#08x=%#x", a.Op, a.Addr, a.Value)
}

// Controller implements flash.Device.
type Controller struct {
	// BusyPolls is how many status reads report BSY after each operation.
	BusyPolls int
	// Stall keeps BSY set forever.
	Stall bool
	// EraseFault lists sectors whose erase fails with OPERR.
	EraseFault map[int]bool
	// Trace enables recording into Log.
	Trace bool
	Log   []Access

	ICacheResets int
	DCacheResets int
	Barriers     int

	layout   flash.Layout
	mem      []byte
	sr       uint32
	cr       uint32
	acr      uint32
	keyStage int
	keyFault bool
	busy     int
	lock     sync.Mutex
}

// New creates an erased, locked controller covering layout, with both
// caches enabled.
func New(layout flash.Layout) *Controller {
	c := &Controller{
		layout: layout,
		mem:    make([]byte, layout.Size()),
	}
	for n := range c.mem {
		c.mem[n] = 0xFF
	}
	c.Reset()
	return c
}

// Reset returns the registers to their reset values. Memory is kept.
func (c *Controller) Reset() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.sr, c.cr, c.acr = 0, flash.CRLOCK, flash.ACRICEN|flash.ACRDCEN
	c.keyStage, c.keyFault, c.busy = 0, false, 0
}

func (c *Controller) record(op string, addr, v uint32) {
	if c.Trace {
		c.Log = append(c.Log, Access{Op: op, Addr: addr, Value: v})
	}
}

func (c *Controller) offset(addr uint32, width int) (int, bool) {
	base := c.layout.Base()
	if addr < base || addr-base+uint32(width) > uint32(len(c.mem)) {
		return 0, false
	}
	return int(addr - base), true
}

func (c *Controller) complete() {
	c.busy = c.BusyPolls
	c.sr |= flash.SREOP
}

// LoadSR implements flash.Registers.
func (c *Controller) LoadSR() uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.Stall {
		return c.sr | flash.SRBSY
	}
	if c.busy > 0 {
		c.busy--
		return c.sr | flash.SRBSY
	}
	return c.sr
}

// StoreSR implements flash.Registers.
func (c *Controller) StoreSR(v uint32) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.sr &^= v & (flash.SREOP | flash.SRErrors)
}

// LoadCR implements flash.Registers.
func (c *Controller) LoadCR() uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.cr
}

// StoreCR implements flash.Registers.
func (c *Controller) StoreCR(v uint32) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.record("CR", 0, v)
	if c.cr&flash.CRLOCK != 0 {
		return
	}
	c.cr = v &^ flash.CRSTRT
	if v&flash.CRSTRT == 0 {
		return
	}
	switch {
	case v&flash.CRMER != 0:
		for n := range c.mem {
			c.mem[n] = 0xFF
		}
	case v&flash.CRSER != 0:
		sector := flash.SectorFromCR(v)
		if sector >= len(c.layout) || c.EraseFault[sector] {
			c.sr |= flash.SROPERR
			break
		}
		s := c.layout[sector]
		off, _ := c.offset(s.Start, 0)
		for n := off; n < off+int(s.Size); n++ {
			c.mem[n] = 0xFF
		}
	default:
		c.sr |= flash.SRPGSERR
	}
	c.complete()
}

// StoreKEYR implements flash.Registers.
func (c *Controller) StoreKEYR(v uint32) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.record("KEYR", 0, v)
	if c.keyFault || c.cr&flash.CRLOCK == 0 {
		c.keyFault = true
		return
	}
	switch {
	case c.keyStage == 0 && v == flash.Key1:
		c.keyStage = 1
	case c.keyStage == 1 && v == flash.Key2:
		c.keyStage = 0
		c.cr &^= flash.CRLOCK
	default:
		c.keyFault = true
	}
}

// LoadACR implements flash.Registers.
func (c *Controller) LoadACR() uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.acr
}

// StoreACR implements flash.Registers.
func (c *Controller) StoreACR(v uint32) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if v&flash.ACRICRST != 0 && c.acr&flash.ACRICRST == 0 && c.acr&flash.ACRICEN == 0 {
		c.ICacheResets++
	}
	if v&flash.ACRDCRST != 0 && c.acr&flash.ACRDCRST == 0 && c.acr&flash.ACRDCEN == 0 {
		c.DCacheResets++
	}
	c.acr = v
}

// Load8 implements flash.Memory.
func (c *Controller) Load8(addr uint32) uint8 {
	c.lock.Lock()
	defer c.lock.Unlock()
	off, ok := c.offset(addr, 1)
	if !ok {
		return 0
	}
	return c.mem[off]
}

// Load32 implements flash.Memory.
func (c *Controller) Load32(addr uint32) uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	off, ok := c.offset(addr, 4)
	if !ok {
		return 0
	}
	return binary.LittleEndian.Uint32(c.mem[off:])
}

// Store8 implements flash.Memory.
func (c *Controller) Store8(addr uint32, v uint8) {
	c.program("W8", addr, []byte{v}, flash.UnitByte)
}

// Store16 implements flash.Memory.
func (c *Controller) Store16(addr uint32, v uint16) {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	c.program("W16", addr, b[:], flash.UnitHalfWord)
}

// Store32 implements flash.Memory.
func (c *Controller) Store32(addr uint32, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	c.program("W32", addr, b[:], flash.UnitWord)
}

// Barrier implements flash.Memory.
func (c *Controller) Barrier() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.Barriers++
	c.record("ISB", 0, 0)
}

func (c *Controller) program(op string, addr uint32, data []byte, unit flash.Unit) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.record(op, addr, binary.LittleEndian.Uint32(append(data, 0, 0, 0, 0)))
	switch {
	case c.cr&flash.CRLOCK != 0:
		c.sr |= flash.SRWRPERR
		return
	case c.cr&flash.CRPG == 0:
		c.sr |= flash.SRPGSERR
		return
	}
	psize := flash.PSizeFromCR(c.cr)
	if psize != unit && !(unit == flash.UnitWord && psize == flash.UnitDoubleWord) {
		c.sr |= flash.SRPGPERR
		return
	}
	off, ok := c.offset(addr, len(data))
	if !ok || addr%uint32(len(data)) != 0 {
		c.sr |= flash.SRPGAERR
		return
	}
	for n, b := range data {
		c.mem[off+n] &= b
	}
	c.complete()
}

// Bytes returns a copy of the whole flash array.
func (c *Controller) Bytes() []byte {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]byte(nil), c.mem...)
}

// Load writes data at addr bypassing the controller, e.g. to restore a
// saved image. It returns an error if data does not fit.
func (c *Controller) Load(addr uint32, data []byte) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	off, ok := c.offset(addr, len(data))
	if !ok {
		return errors.Errorf("%d bytes at %#08x outside flash", len(data), addr)
	}
	copy(c.mem[off:], data)
	return nil
}

// Status returns the raw status register without consuming busy polls.
func (c *Controller) Status() uint32 {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.sr
}
