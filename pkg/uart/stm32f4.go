//go:build tinygo && stm32f4

package uart

import (
	"device/stm32"
	"runtime/interrupt"
)

// USARTBus is the register file of an on-chip USART.
type USARTBus struct {
	*stm32.USART_Type
}

// LoadSR implements USARTRegisters.
func (b USARTBus) LoadSR() uint32 { return b.SR.Get() }

// LoadDR implements USARTRegisters.
func (b USARTBus) LoadDR() uint32 { return b.DR.Get() }

// StoreDR implements USARTRegisters.
func (b USARTBus) StoreDR(v uint32) { b.DR.Set(v) }

// LoadCR1 implements USARTRegisters.
func (b USARTBus) LoadCR1() uint32 { return b.CR1.Get() }

// StoreCR1 implements USARTRegisters.
func (b USARTBus) StoreCR1(v uint32) { b.CR1.Set(v) }

// Configure sets the baud rate from the bus clock pclk and enables the
// receiver, the transmitter and the receive interrupt. The peripheral clock
// must already be on.
func (b USARTBus) Configure(baud, pclk uint32) {
	b.CR1.Set(0)
	b.BRR.Set((pclk + baud/2) / baud)
	b.CR1.Set(USARTCR1Interrupt)
}

// NewUSART returns the Peripheral of an on-chip USART.
func NewUSART(regs *stm32.USART_Type) *USART {
	return &USART{Regs: USARTBus{regs}, Critical: critical}
}

func critical(fn func()) {
	state := interrupt.Disable()
	fn()
	interrupt.Restore(state)
}
