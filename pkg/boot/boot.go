// Package boot hands control from the updater to the installed application.
package boot

import (
	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// Erased is the value of an unprogrammed flash word.
const Erased uint32 = 0xFFFFFFFF

// ErrNoApplication indicates the vector table at the base address is erased.
var ErrNoApplication = errors.New("no application")

// Memory reads words from the boot region.
type Memory interface {
	Load32(addr uint32) uint32
}

// CPU is the processor state touched by the hand-off. Start is the only
// operation in the system that cannot be expressed safely: it loads the
// main stack pointer and branches, and never returns on hardware.
type CPU interface {
	DisableInterrupts()
	StopTick()
	ResetPeripherals()
	Start(sp, entry uint32)
}

// VectorTable is the head of an application image.
type VectorTable struct {
	StackPointer uint32
	Entry        uint32
}

// Valid reports whether the table is programmed.
func (v VectorTable) Valid() bool {
	return v.StackPointer != Erased
}

// Loader transfers execution to an application.
type Loader struct {
	cpu CPU
	mem Memory
}

// NewLoader creates a Loader.
func NewLoader(cpu CPU, mem Memory) *Loader {
	return &Loader{cpu: cpu, mem: mem}
}

// ReadVectorTable reads the vector table at base.
func (l *Loader) ReadVectorTable(base uint32) VectorTable {
	return VectorTable{
		StackPointer: l.mem.Load32(base),
		Entry:        l.mem.Load32(base + 4),
	}
}

// Jump starts the application at base. The vector table is checked before
// anything is torn down, so on ErrNoApplication the caller still owns a
// working system and may fall back. On hardware a successful Jump does not
// return.
func (l *Loader) Jump(base uint32) error {
	vt := l.ReadVectorTable(base)
	if !vt.Valid() {
		return errors.Wrapf(ErrNoApplication, "%#08x", base)
	}
	glog.Infof("boot: sp=%#08x entry=%#08x", vt.StackPointer, vt.Entry)
	glog.Flush()
	l.cpu.DisableInterrupts()
	l.cpu.StopTick()
	l.cpu.ResetPeripherals()
	l.cpu.Start(vt.StackPointer, vt.Entry)
	return nil
}
