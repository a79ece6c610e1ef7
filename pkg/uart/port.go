package uart

import (
	"io"
	"sync/atomic"

	"github.com/robotalks/fota.go/pkg/ring"
)

// PortID selects one UART port.
type PortID int

// Ports
const (
	PortDebug PortID = iota
	PortModem

	NumPorts = int(PortModem) + 1
)

// String implements fmt.Stringer.
func (id PortID) String() string {
	switch id {
	case PortDebug:
		return "debug"
	case PortModem:
		return "modem"
	}
	return "unknown"
}

// Peripheral is the hardware side of a UART as seen by the interrupt handler.
type Peripheral interface {
	// DataReady reports a received byte is waiting.
	DataReady() bool
	// ReceiveByte pops the received byte.
	ReceiveByte() byte
	// TransmitReady reports the transmitter can accept a byte.
	TransmitReady() bool
	// TransmitByte hands a byte to the transmitter.
	TransmitByte(byte)
	// EnableTransmitInterrupt turns the transmit-ready interrupt on or off.
	EnableTransmitInterrupt(bool)
}

// Port is the rx/tx ring pair of one UART.
type Port struct {
	ID PortID
	RX *ring.Buffer
	TX *ring.Buffer

	periph  Peripheral
	overrun OverrunDetector
	txie    uint32
}

// Registry holds the ports, indexed by PortID.
type Registry struct {
	ports [NumPorts]Port
}

// NewRegistry creates all ports with rings of the given size.
func NewRegistry(size int) *Registry {
	r := &Registry{}
	for n := range r.ports {
		r.ports[n] = Port{
			ID: PortID(n),
			RX: ring.New(size),
			TX: ring.New(size),
		}
	}
	return r
}

// Port returns the port with id.
func (r *Registry) Port(id PortID) *Port {
	return &r.ports[id]
}

// HandleInterrupt dispatches an interrupt of the UART bound to id.
func (r *Registry) HandleInterrupt(id PortID) {
	r.ports[id].HandleInterrupt()
}

// Attach binds the peripheral serviced by this port. It must be called
// before the port's interrupt is enabled.
func (p *Port) Attach(periph Peripheral) {
	p.periph = periph
	p.overrun, _ = periph.(OverrunDetector)
}

// Peripheral returns the attached peripheral.
func (p *Port) Peripheral() Peripheral {
	return p.periph
}

// HandleInterrupt is the interrupt service routine of the port. It moves at
// most one byte in each direction and never blocks.
func (p *Port) HandleInterrupt() {
	periph := p.periph
	if periph == nil {
		return
	}
	if periph.DataReady() {
		c := periph.ReceiveByte()
		if p.overrun != nil && p.overrun.Overrun() {
			p.RX.Drop()
		}
		p.RX.Put(c)
	}
	if atomic.LoadUint32(&p.txie) != 0 && periph.TransmitReady() {
		if c, ok := p.TX.Get(); ok {
			periph.TransmitByte(c)
			return
		}
		p.enableTx(false)
		// foreground may have queued a byte after the ring was found empty
		if p.TX.Len() > 0 {
			p.enableTx(true)
		}
	}
}

func (p *Port) enableTx(on bool) {
	var v uint32
	if on {
		v = 1
	}
	atomic.StoreUint32(&p.txie, v)
	if periph := p.periph; periph != nil {
		periph.EnableTransmitInterrupt(on)
	}
}

// TransmitPending reports whether the transmit interrupt is enabled.
func (p *Port) TransmitPending() bool {
	return atomic.LoadUint32(&p.txie) != 0
}

// WriteByte queues one byte for transmission, blocking while TX is full.
func (p *Port) WriteByte(c byte) error {
	p.TX.Write(c)
	p.enableTx(true)
	return nil
}

// Send queues a string for transmission.
func (p *Port) Send(s string) {
	for i := 0; i < len(s); i++ {
		p.WriteByte(s[i])
	}
}

// Clear discards all received bytes not yet consumed.
func (p *Port) Clear() {
	p.RX.Clear()
}

// Available returns the number of received bytes waiting.
func (p *Port) Available() int {
	return p.RX.Len()
}

// Writer returns an io.Writer sending through this port.
func (p *Port) Writer() io.Writer {
	return portWriter{p}
}

type portWriter struct {
	port *Port
}

// Write implements io.Writer.
func (w portWriter) Write(b []byte) (int, error) {
	for _, c := range b {
		w.port.WriteByte(c)
	}
	return len(b), nil
}
