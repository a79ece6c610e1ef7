// Package flash programs the internal flash of an STM32F4 class
// microcontroller through its flash interface registers.
//
// The Engine never touches hardware directly. It drives a Device, which is
// either the real register block (see stm32f4.go, TinyGo only) or the
// simulated controller in package sim.
package flash

import (
	"fmt"

	"github.com/pkg/errors"
)

// Status is the outcome of a flash operation.
type Status uint8

// Status codes
const (
	StatusOK Status = iota
	StatusError
	StatusBusy
	StatusTimeout
)

// Error implements error.
func (s Status) Error() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "flash error"
	case StatusBusy:
		return "flash busy"
	case StatusTimeout:
		return "flash timeout"
	}
	return fmt.Sprintf("flash status %d", uint8(s))
}

// Err returns nil for StatusOK and s otherwise.
func (s Status) Err() error {
	if s == StatusOK {
		return nil
	}
	return s
}

var (
	// ErrAddress indicates an address outside all sectors.
	ErrAddress = errors.New("address outside flash sectors")
	// ErrLocked indicates the unlock key sequence was rejected.
	ErrLocked = errors.New("flash locked")
)

// SectorError reports the sector an erase failed on.
type SectorError struct {
	Sector int
	Err    error
}

// Error implements error.
func (e *SectorError) Error() string {
	return fmt.Sprintf("erase sector %d: %v", e.Sector, e.Err)
}

// Cause implements errors causer.
func (e *SectorError) Cause() error {
	return e.Err
}

// Unit is the programming width.
type Unit uint8

// Programming units
const (
	UnitByte Unit = iota
	UnitHalfWord
	UnitWord
	UnitDoubleWord
)

// Size returns the width in bytes.
func (u Unit) Size() uint32 {
	return 1 << u
}

// VoltageRange is the supply range, which selects erase parallelism.
type VoltageRange uint8

// Voltage ranges
const (
	VoltageRange1 VoltageRange = iota // 1.8V to 2.1V
	VoltageRange2                     // 2.1V to 2.7V
	VoltageRange3                     // 2.7V to 3.6V
	VoltageRange4                     // 2.7V to 3.6V with external Vpp
)

// psize returns the PSIZE field matching the voltage range.
func (v VoltageRange) psize() uint32 {
	if v > VoltageRange4 {
		v = VoltageRange4
	}
	return uint32(v) << crPSizePos
}

// EraseKind selects sector or mass erase.
type EraseKind uint8

// Erase kinds
const (
	EraseSectors EraseKind = iota
	EraseMass
)

// EraseRequest describes one erase operation.
type EraseRequest struct {
	Kind    EraseKind
	Sector  int
	Count   int
	Voltage VoltageRange
}

// Registers is the flash interface register block.
type Registers interface {
	LoadSR() uint32
	// StoreSR clears the status flags set in v.
	StoreSR(v uint32)
	LoadCR() uint32
	StoreCR(v uint32)
	StoreKEYR(v uint32)
	LoadACR() uint32
	StoreACR(v uint32)
}

// Memory is bus access to the flash array.
type Memory interface {
	Load8(addr uint32) uint8
	Load32(addr uint32) uint32
	Store8(addr uint32, v uint8)
	Store16(addr uint32, v uint16)
	Store32(addr uint32, v uint32)
	// Barrier is an instruction synchronization barrier.
	Barrier()
}

// Device is everything the Engine needs from the hardware.
type Device interface {
	Registers
	Memory
}

// Unlock keys
const (
	Key1 uint32 = 0x45670123
	Key2 uint32 = 0xCDEF89AB
)

// Status register bits
const (
	SREOP    uint32 = 1 << 0
	SROPERR  uint32 = 1 << 1
	SRWRPERR uint32 = 1 << 4
	SRPGAERR uint32 = 1 << 5
	SRPGPERR uint32 = 1 << 6
	SRPGSERR uint32 = 1 << 7
	SRBSY    uint32 = 1 << 16

	SRErrors = SROPERR | SRWRPERR | SRPGAERR | SRPGPERR | SRPGSERR
)

// Control register bits
const (
	CRPG    uint32 = 1 << 0
	CRSER   uint32 = 1 << 1
	CRMER   uint32 = 1 << 2
	CRSNB   uint32 = 0xF << crSNBPos
	CRPSize uint32 = 3 << crPSizePos
	CRSTRT  uint32 = 1 << 16
	CRLOCK  uint32 = 1 << 31

	crSNBPos   = 3
	crPSizePos = 8
)

// CRSector returns the SNB field for sector.
func CRSector(sector int) uint32 {
	return (uint32(sector) << crSNBPos) & CRSNB
}

// SectorFromCR extracts the SNB field.
func SectorFromCR(cr uint32) int {
	return int((cr & CRSNB) >> crSNBPos)
}

// PSizeFromCR extracts the PSIZE field as a Unit.
func PSizeFromCR(cr uint32) Unit {
	return Unit((cr & CRPSize) >> crPSizePos)
}

// Access control register bits
const (
	ACRICEN  uint32 = 1 << 9
	ACRDCEN  uint32 = 1 << 10
	ACRICRST uint32 = 1 << 11
	ACRDCRST uint32 = 1 << 12
)
