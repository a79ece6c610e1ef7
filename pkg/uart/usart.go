package uart

// USART register bits.
const (
	USARTSROverrun    = 1 << 3
	USARTSRRXNE       = 1 << 5
	USARTSRTXE        = 1 << 7
	USARTCR1RE        = 1 << 2
	USARTCR1TE        = 1 << 3
	USARTCR1RXNEIE    = 1 << 5
	USARTCR1TXEIE     = 1 << 7
	USARTCR1UE        = 1 << 13
	USARTCR1Interrupt = USARTCR1UE | USARTCR1TE | USARTCR1RE | USARTCR1RXNEIE
)

// USARTRegisters is the register file of one USART.
type USARTRegisters interface {
	LoadSR() uint32
	LoadDR() uint32
	StoreDR(uint32)
	LoadCR1() uint32
	StoreCR1(uint32)
}

// OverrunDetector is implemented by peripherals which can tell a received
// byte was lost in hardware before the interrupt handler ran.
type OverrunDetector interface {
	// Overrun reports whether bytes were lost before the last received one.
	Overrun() bool
}

// USART is the Peripheral of an interrupt driven USART.
type USART struct {
	Regs USARTRegisters
	// Critical runs fn with interrupts masked, nil runs fn directly.
	Critical func(fn func())

	sr uint32
}

// DataReady implements Peripheral. The status read is kept so the
// following ReceiveByte clears a pending overrun.
func (u *USART) DataReady() bool {
	u.sr = u.Regs.LoadSR()
	return u.sr&USARTSRRXNE != 0
}

// ReceiveByte implements Peripheral.
func (u *USART) ReceiveByte() byte {
	return byte(u.Regs.LoadDR())
}

// Overrun implements OverrunDetector.
func (u *USART) Overrun() bool {
	return u.sr&USARTSROverrun != 0
}

// TransmitReady implements Peripheral.
func (u *USART) TransmitReady() bool {
	return u.Regs.LoadSR()&USARTSRTXE != 0
}

// TransmitByte implements Peripheral.
func (u *USART) TransmitByte(c byte) {
	u.Regs.StoreDR(uint32(c))
}

// EnableTransmitInterrupt implements Peripheral. CR1 is shared with the
// interrupt handler so the update runs in a critical section.
func (u *USART) EnableTransmitInterrupt(on bool) {
	update := func() {
		cr1 := u.Regs.LoadCR1()
		if on {
			cr1 |= USARTCR1TXEIE
		} else {
			cr1 &^= USARTCR1TXEIE
		}
		u.Regs.StoreCR1(cr1)
	}
	if u.Critical != nil {
		u.Critical(update)
		return
	}
	update()
}
