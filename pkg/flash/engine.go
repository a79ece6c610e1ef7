package flash

import (
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/fota.go/pkg/timebase"
)

// DefaultTimeout is the completion timeout in ticks (50 seconds).
const DefaultTimeout uint32 = 50000

// Engine performs erase and program operations. The controller runs one
// operation at a time, so an Engine must only be used by one goroutine.
type Engine struct {
	Layout  Layout
	Timeout uint32
	Voltage VoltageRange

	dev       Device
	clock     timebase.Clock
	lastError uint32
}

// New creates an Engine for the STM32F4 memory map.
func New(dev Device, clock timebase.Clock) *Engine {
	return &Engine{
		Layout:  STM32F4Layout,
		Timeout: DefaultTimeout,
		Voltage: VoltageRange3,
		dev:     dev,
		clock:   clock,
	}
}

// Device returns the underlying device.
func (e *Engine) Device() Device {
	return e.dev
}

// LastError returns the status error flags captured by the last
// completion wait, zero if it succeeded.
func (e *Engine) LastError() uint32 {
	return e.lastError
}

// Locked reports whether the control register is write protected.
func (e *Engine) Locked() bool {
	return e.dev.LoadCR()&CRLOCK != 0
}

// Unlock writes the key sequence if the control register is locked.
func (e *Engine) Unlock() error {
	if !e.Locked() {
		return nil
	}
	e.dev.StoreKEYR(Key1)
	e.dev.StoreKEYR(Key2)
	if e.Locked() {
		return ErrLocked
	}
	return nil
}

// Lock sets the lock bit.
func (e *Engine) Lock() {
	e.dev.StoreCR(e.dev.LoadCR() | CRLOCK)
}

// Sector maps an address to its sector number.
func (e *Engine) Sector(addr uint32) (int, error) {
	return e.Layout.Sector(addr)
}

// WaitForLastOperation polls the busy flag until it clears or timeout ticks
// elapse. timebase.MaxDelay waits forever. Error flags raised by the
// operation are recorded in LastError, cleared, and reported as
// StatusError.
func (e *Engine) WaitForLastOperation(timeout uint32) error {
	e.lastError = 0
	start := e.clock.Tick()
	for e.dev.LoadSR()&SRBSY != 0 {
		if timebase.Elapsed(e.clock, start, timeout) {
			return StatusTimeout
		}
	}
	sr := e.dev.LoadSR()
	if sr&SREOP != 0 {
		e.dev.StoreSR(SREOP)
	}
	if flags := sr & SRErrors; flags != 0 {
		e.lastError = flags
		e.dev.StoreSR(flags)
		return StatusError
	}
	return nil
}

// Erase runs an erase request. Sector erases stop at the first failing
// sector, which is reported in a *SectorError. Caches are flushed after any
// erase that was started.
func (e *Engine) Erase(req EraseRequest) error {
	if err := e.WaitForLastOperation(e.Timeout); err != nil {
		return err
	}

	var err error
	if req.Kind == EraseMass {
		glog.V(2).Info("flash: mass erase")
		cr := e.dev.LoadCR() &^ CRPSize
		e.dev.StoreCR(cr | CRMER)
		e.dev.StoreCR(cr | CRMER | CRSTRT | req.Voltage.psize())
		err = e.WaitForLastOperation(e.Timeout)
		e.dev.StoreCR(e.dev.LoadCR() &^ CRMER)
	} else {
		if req.Sector < 0 || req.Count < 0 || req.Sector+req.Count > len(e.Layout) {
			return errors.Wrapf(ErrAddress, "sectors %d+%d", req.Sector, req.Count)
		}
		for sector := req.Sector; sector < req.Sector+req.Count; sector++ {
			glog.V(2).Infof("flash: erase sector %d", sector)
			e.eraseSector(sector, req.Voltage)
			err = e.WaitForLastOperation(e.Timeout)
			e.dev.StoreCR(e.dev.LoadCR() &^ (CRSER | CRSNB))
			if err != nil {
				err = &SectorError{Sector: sector, Err: err}
				break
			}
		}
	}

	e.flushCaches()
	return err
}

func (e *Engine) eraseSector(sector int, voltage VoltageRange) {
	cr := e.dev.LoadCR()&^CRPSize | voltage.psize()
	e.dev.StoreCR(cr)
	cr |= CRSER | CRSector(sector)
	e.dev.StoreCR(cr)
	e.dev.StoreCR(cr | CRSTRT)
}

// Program writes one unit of data at addr. Doubleword writes are issued as
// two word stores separated by an instruction barrier.
func (e *Engine) Program(unit Unit, addr uint32, data uint64) error {
	if err := e.WaitForLastOperation(e.Timeout); err != nil {
		return err
	}

	cr := e.dev.LoadCR()&^CRPSize | uint32(unit)<<crPSizePos
	e.dev.StoreCR(cr)
	e.dev.StoreCR(cr | CRPG)
	switch unit {
	case UnitByte:
		e.dev.Store8(addr, uint8(data))
	case UnitHalfWord:
		e.dev.Store16(addr, uint16(data))
	case UnitWord:
		e.dev.Store32(addr, uint32(data))
	default:
		e.dev.Store32(addr, uint32(data))
		e.dev.Barrier()
		e.dev.Store32(addr+4, uint32(data>>32))
	}

	err := e.WaitForLastOperation(e.Timeout)
	e.dev.StoreCR(e.dev.LoadCR() &^ CRPG)
	return err
}

// flushCaches resets the instruction and data caches that are enabled so
// no stale contents of erased sectors are served.
func (e *Engine) flushCaches() {
	acr := e.dev.LoadACR()
	if acr&ACRICEN != 0 {
		acr &^= ACRICEN
		e.dev.StoreACR(acr)
		e.dev.StoreACR(acr | ACRICRST)
		e.dev.StoreACR(acr)
		acr |= ACRICEN
		e.dev.StoreACR(acr)
	}
	if acr&ACRDCEN != 0 {
		acr &^= ACRDCEN
		e.dev.StoreACR(acr)
		e.dev.StoreACR(acr | ACRDCRST)
		e.dev.StoreACR(acr)
		acr |= ACRDCEN
		e.dev.StoreACR(acr)
	}
}
