//go:build tinygo && stm32f4

package flash

import (
	"device/arm"
	"device/stm32"
	"runtime/volatile"
	"unsafe"
)

// Hardware is the on-chip flash interface.
type Hardware struct{}

// LoadSR implements Registers.
func (Hardware) LoadSR() uint32 { return stm32.FLASH.SR.Get() }

// StoreSR implements Registers.
func (Hardware) StoreSR(v uint32) { stm32.FLASH.SR.Set(v) }

// LoadCR implements Registers.
func (Hardware) LoadCR() uint32 { return stm32.FLASH.CR.Get() }

// StoreCR implements Registers.
func (Hardware) StoreCR(v uint32) { stm32.FLASH.CR.Set(v) }

// StoreKEYR implements Registers.
func (Hardware) StoreKEYR(v uint32) { stm32.FLASH.KEYR.Set(v) }

// LoadACR implements Registers.
func (Hardware) LoadACR() uint32 { return stm32.FLASH.ACR.Get() }

// StoreACR implements Registers.
func (Hardware) StoreACR(v uint32) { stm32.FLASH.ACR.Set(v) }

// Load8 implements Memory.
func (Hardware) Load8(addr uint32) uint8 {
	return (*volatile.Register8)(unsafe.Pointer(uintptr(addr))).Get()
}

// Load32 implements Memory.
func (Hardware) Load32(addr uint32) uint32 {
	return (*volatile.Register32)(unsafe.Pointer(uintptr(addr))).Get()
}

// Store8 implements Memory.
func (Hardware) Store8(addr uint32, v uint8) {
	(*volatile.Register8)(unsafe.Pointer(uintptr(addr))).Set(v)
}

// Store16 implements Memory.
func (Hardware) Store16(addr uint32, v uint16) {
	(*volatile.Register16)(unsafe.Pointer(uintptr(addr))).Set(v)
}

// Store32 implements Memory.
func (Hardware) Store32(addr uint32, v uint32) {
	(*volatile.Register32)(unsafe.Pointer(uintptr(addr))).Set(v)
}

// Barrier implements Memory.
func (Hardware) Barrier() {
	arm.Asm("isb 0xF")
}
