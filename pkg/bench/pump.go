package bench

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"
	"go.bug.st/serial"

	"github.com/robotalks/fota.go/pkg/framework"
	"github.com/robotalks/fota.go/pkg/uart"
)

// DefaultPollInterval is how often a Pump looks for bytes to transmit.
const DefaultPollInterval = time.Millisecond

// streamPeripheral is the UART seen by the interrupt handler. Everything
// but the transmit interrupt flag is touched by the Pump goroutine only.
type streamPeripheral struct {
	rx   []byte
	tx   []byte
	txie uint32
}

func (p *streamPeripheral) DataReady() bool {
	return len(p.rx) > 0
}

func (p *streamPeripheral) ReceiveByte() byte {
	c := p.rx[0]
	p.rx = p.rx[1:]
	return c
}

func (p *streamPeripheral) TransmitReady() bool {
	return true
}

func (p *streamPeripheral) TransmitByte(c byte) {
	p.tx = append(p.tx, c)
}

func (p *streamPeripheral) EnableTransmitInterrupt(on bool) {
	var v uint32
	if on {
		v = 1
	}
	atomic.StoreUint32(&p.txie, v)
}

// Pump services a uart.Port from a byte stream, standing in for the UART
// interrupt on hosts. Received bytes from R are fed through the port's
// interrupt handler, transmitted bytes are written to W.
type Pump struct {
	Port *uart.Port
	// R is optional. R is closed through Closer when the Pump stops.
	R      io.Reader
	W      io.Writer
	Closer io.Closer
	Poll   time.Duration

	periph *streamPeripheral
}

// NewStreamPump pumps both directions of a port over rw, closing rw on stop.
func NewStreamPump(port *uart.Port, rw io.ReadWriteCloser) *Pump {
	return (&Pump{Port: port, R: rw, W: rw, Closer: rw}).Attach()
}

// NewSerialPump pumps a serial port.
func NewSerialPump(port *uart.Port, sp serial.Port) *Pump {
	return NewStreamPump(port, sp)
}

// NewWriterPump pumps only the transmit side of a port into w.
func NewWriterPump(port *uart.Port, w io.Writer) *Pump {
	return (&Pump{Port: port, W: w}).Attach()
}

// Attach binds the pump to the port. Attach before the port is used from
// other goroutines; Run attaches if this was not done.
func (p *Pump) Attach() *Pump {
	if p.periph == nil {
		p.periph = &streamPeripheral{}
		p.Port.Attach(p.periph)
	}
	return p
}

// OpenSerial opens the modem serial port.
func OpenSerial(conf ModemConfig) (serial.Port, error) {
	sp, err := serial.Open(conf.Device, &serial.Mode{
		BaudRate: conf.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", conf.Device)
	}
	if err = sp.SetReadTimeout(100 * time.Millisecond); err != nil {
		sp.Close()
		return nil, errors.Wrapf(err, "open %s", conf.Device)
	}
	return sp, nil
}

// Name implements framework.Named.
func (p *Pump) Name() string {
	return "pump-" + p.Port.ID.String()
}

// Run implements framework.Runnable.
func (p *Pump) Run(ctx context.Context) error {
	periph := p.Attach().periph

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	rxCh := make(chan []byte, 16)
	errCh := make(chan error, 1)
	if p.R != nil {
		go func() {
			errCh <- p.read(ctx, rxCh)
		}()
	}

	poll := p.Poll
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if err := p.service(periph); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			if p.R != nil {
				<-errCh
			}
			return ctx.Err()
		case err := <-errCh:
			return err
		case data := <-rxCh:
			periph.rx = append(periph.rx, data...)
		case <-ticker.C:
		}
	}
}

// service runs the interrupt handler until nothing is pending, then
// flushes transmitted bytes.
func (p *Pump) service(periph *streamPeripheral) error {
	for periph.DataReady() || p.Port.TransmitPending() {
		p.Port.HandleInterrupt()
	}
	if len(periph.tx) == 0 {
		return nil
	}
	if glog.V(4) {
		glog.Infof("%s: TX %q", p.Name(), periph.tx)
	}
	_, err := p.W.Write(periph.tx)
	periph.tx = periph.tx[:0]
	return err
}

func (p *Pump) read(ctx context.Context, rxCh chan<- []byte) error {
	fn := func() error {
		buf := make([]byte, 256)
		for {
			n, err := p.R.Read(buf)
			if err != nil {
				return err
			}
			if n == 0 {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if glog.V(4) {
				glog.Infof("%s: RX %q", p.Name(), buf[:n])
			}
			select {
			case rxCh <- append([]byte(nil), buf[:n]...):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if p.Closer == nil {
		return fn()
	}
	return framework.RunWithContextCloser(ctx, p.Closer, fn)
}
