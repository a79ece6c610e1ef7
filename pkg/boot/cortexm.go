//go:build tinygo && stm32f4

package boot

import (
	"device/arm"
	"device/stm32"
)

// CortexM is the CPU the firmware runs on.
type CortexM struct{}

// DisableInterrupts implements CPU.
func (CortexM) DisableInterrupts() {
	arm.DisableInterrupts()
}

// StopTick implements CPU.
func (CortexM) StopTick() {
	arm.SYST.SYST_CSR.Set(0)
	arm.SYST.SYST_RVR.Set(0)
	arm.SYST.SYST_CVR.Set(0)
}

// ResetPeripherals pulses the reset lines of the AHB and APB buses.
func (CortexM) ResetPeripherals() {
	stm32.RCC.AHB1RSTR.Set(0xFFFFFFFF)
	stm32.RCC.AHB1RSTR.Set(0)
	stm32.RCC.APB1RSTR.Set(0xFFFFFFFF)
	stm32.RCC.APB1RSTR.Set(0)
	stm32.RCC.APB2RSTR.Set(0xFFFFFFFF)
	stm32.RCC.APB2RSTR.Set(0)
}

// Start loads the main stack pointer and branches to entry. It does not
// return.
func (CortexM) Start(sp, entry uint32) {
	arm.AsmFull(`
		msr msp, {sp}
		bx {entry}
	`, map[string]interface{}{
		"sp":    sp,
		"entry": entry,
	})
}
