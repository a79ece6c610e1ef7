package flash_test

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/fota.go/pkg/flash"
	"github.com/robotalks/fota.go/pkg/flash/sim"
	"github.com/robotalks/fota.go/pkg/timebase"
)

type stepClock struct {
	ticks uint32
}

func (c *stepClock) Tick() uint32 {
	c.ticks++
	return c.ticks
}

func (c *stepClock) Delay(ms uint32) {
	c.ticks += ms
}

func newEngine() (*flash.Engine, *sim.Controller) {
	dev := sim.New(flash.STM32F4Layout)
	dev.BusyPolls = 3
	return flash.New(dev, &stepClock{}), dev
}

func TestSectorMapping(t *testing.T) {
	cases := []struct {
		addr   uint32
		sector int
	}{
		{0x08000000, 0},
		{0x08003FFF, 0},
		{0x08004000, 1},
		{0x08008000, 2},
		{0x0800FFFF, 3},
		{0x08010000, 4},
		{0x0801FFFF, 4},
		{0x08020000, 5},
		{0x08060000, 7},
		{0x0807FFFF, 7},
	}
	e, _ := newEngine()
	for _, c := range cases {
		sector, err := e.Sector(c.addr)
		require.NoError(t, err)
		require.Equalf(t, c.sector, sector, "%#08x", c.addr)
	}
	for _, addr := range []uint32{0, 0x07FFFFFF, 0x08080000, 0xFFFFFFFF} {
		_, err := e.Sector(addr)
		require.Equal(t, flash.ErrAddress, errors.Cause(err))
	}
}

func TestSpan(t *testing.T) {
	first, count, err := flash.STM32F4Layout.Span(0x08008000, 0x4000)
	require.NoError(t, err)
	require.Equal(t, 2, first)
	require.Equal(t, 1, count)

	first, count, err = flash.STM32F4Layout.Span(0x08008000, 0x4001)
	require.NoError(t, err)
	require.Equal(t, 2, first)
	require.Equal(t, 2, count)

	_, count, err = flash.STM32F4Layout.Span(0x08008000, 0)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestUnlockLock(t *testing.T) {
	e, dev := newEngine()
	require.True(t, e.Locked())
	require.NoError(t, e.Unlock())
	require.False(t, e.Locked())
	require.NoError(t, e.Unlock())
	require.Zero(t, dev.LoadCR()&flash.CRLOCK)
	e.Lock()
	require.True(t, e.Locked())
}

func TestUnlockRejected(t *testing.T) {
	e, dev := newEngine()
	dev.StoreKEYR(0x12345678)
	require.Equal(t, flash.ErrLocked, e.Unlock())
	dev.Reset()
	require.NoError(t, e.Unlock())
}

func TestWriteBytesWithinSector(t *testing.T) {
	e, dev := newEngine()
	before := bytes.Repeat([]byte{0xA5}, 0x10000)
	require.NoError(t, dev.Load(0x08000000, before))

	data := []byte("0123456789")
	const addr = 0x08008010
	require.NoError(t, e.WriteBytes(addr, data))
	require.True(t, e.Locked())

	got := make([]byte, len(data))
	e.Read(addr, got)
	require.Equal(t, data, got)

	img := dev.Bytes()
	require.Equal(t, before[:0x8000], img[:0x8000], "sectors 0-1 untouched")
	require.Equal(t, before[0xC000:0x10000], img[0xC000:0x10000], "sector 3 untouched")
	require.Equal(t, bytes.Repeat([]byte{0xFF}, 0x10), img[0x8000:0x8010], "sector 2 erased")
	require.Equal(t, byte(0xFF), img[0x801A])
	require.Equal(t, 1, dev.ICacheResets)
	require.Equal(t, 1, dev.DCacheResets)
}

func TestWriteBytesAcrossSectors(t *testing.T) {
	e, dev := newEngine()
	require.NoError(t, dev.Load(0x08010000, []byte{1, 2, 3}))
	data := bytes.Repeat([]byte{0x42}, 0x4010)
	require.NoError(t, e.WriteBytes(0x08008000, data))
	got := make([]byte, len(data))
	e.Read(0x08008000, got)
	require.Equal(t, data, got)
	require.Equal(t, []byte{1, 2, 3}, dev.Bytes()[0x10000:0x10003])
}

func TestWriteWords(t *testing.T) {
	e, _ := newEngine()
	words := []uint32{0xDEADBEEF, 0x01020304, 0}
	require.NoError(t, e.WriteWords(0x08004000, words))
	got := make([]uint32, 3)
	e.ReadWords(0x08004000, got)
	require.Equal(t, words, got)
	b := make([]byte, 4)
	e.Read(0x08004004, b)
	require.Equal(t, []byte{4, 3, 2, 1}, b)
}

func TestWriteOutsideFlash(t *testing.T) {
	e, _ := newEngine()
	err := e.WriteBytes(0x0807FFFF, []byte{1, 2})
	require.Equal(t, flash.ErrAddress, errors.Cause(err))
	require.True(t, e.Locked())
}

func TestProgramDoubleWordBarrier(t *testing.T) {
	e, dev := newEngine()
	require.NoError(t, e.Unlock())
	dev.Trace = true
	require.NoError(t, e.Program(flash.UnitDoubleWord, 0x08008000, 0x1122334455667788))
	var bus []sim.Access
	for _, a := range dev.Log {
		if a.Op != "CR" {
			bus = append(bus, a)
		}
	}
	require.Equal(t, []sim.Access{
		{Op: "W32", Addr: 0x08008000, Value: 0x55667788},
		{Op: "ISB"},
		{Op: "W32", Addr: 0x08008004, Value: 0x11223344},
	}, bus)
	require.Equal(t, uint32(0), dev.LoadCR()&flash.CRPG)
	words := make([]uint32, 2)
	e.ReadWords(0x08008000, words)
	require.Equal(t, []uint32{0x55667788, 0x11223344}, words)
}

func TestProgramHalfWord(t *testing.T) {
	e, dev := newEngine()
	require.NoError(t, e.Unlock())
	require.NoError(t, e.Program(flash.UnitHalfWord, 0x08008002, 0xBEEF))
	require.Equal(t, []byte{0xEF, 0xBE}, dev.Bytes()[0x8002:0x8004])
}

func TestProgramWhileLocked(t *testing.T) {
	e, _ := newEngine()
	err := e.Program(flash.UnitByte, 0x08008000, 0)
	require.Equal(t, flash.StatusError, err)
	require.Equal(t, flash.SRWRPERR, e.LastError())
}

func TestProgramWordsWithoutErase(t *testing.T) {
	e, dev := newEngine()
	require.NoError(t, dev.Load(0x08008000, []byte{0x0F, 0xFF, 0xFF, 0xFF}))
	require.NoError(t, e.ProgramWords(0x08008000, []uint32{0xFFFFFFF0, 0x12345678}))
	words := make([]uint32, 2)
	e.ReadWords(0x08008000, words)
	require.Equal(t, []uint32{0xFFFFFF00, 0x12345678}, words)
}

func TestEraseFailureReportsSector(t *testing.T) {
	e, dev := newEngine()
	dev.EraseFault = map[int]bool{3: true}
	require.NoError(t, e.Unlock())
	err := e.Erase(flash.EraseRequest{Kind: flash.EraseSectors, Sector: 2, Count: 3, Voltage: flash.VoltageRange3})
	serr, ok := err.(*flash.SectorError)
	require.True(t, ok)
	require.Equal(t, 3, serr.Sector)
	require.Equal(t, flash.StatusError, errors.Cause(err))
	require.Equal(t, flash.SROPERR, e.LastError())
	require.Equal(t, uint32(0), dev.Status()&flash.SRErrors)
}

func TestEraseInvalidRange(t *testing.T) {
	e, _ := newEngine()
	require.NoError(t, e.Unlock())
	err := e.Erase(flash.EraseRequest{Sector: 7, Count: 2})
	require.Equal(t, flash.ErrAddress, errors.Cause(err))
}

func TestMassErase(t *testing.T) {
	e, dev := newEngine()
	require.NoError(t, dev.Load(0x08000000, []byte{0, 0, 0}))
	require.NoError(t, dev.Load(0x08070000, []byte{0, 0, 0}))
	require.NoError(t, e.Unlock())
	require.NoError(t, e.Erase(flash.EraseRequest{Kind: flash.EraseMass, Voltage: flash.VoltageRange3}))
	require.Equal(t, bytes.Repeat([]byte{0xFF}, int(flash.STM32F4Layout.Size())), dev.Bytes())
	require.Equal(t, uint32(0), dev.LoadCR()&flash.CRMER)
}

func TestWaitTimeout(t *testing.T) {
	e, dev := newEngine()
	dev.Stall = true
	require.Equal(t, flash.StatusTimeout, e.WaitForLastOperation(100))
	require.Equal(t, flash.StatusTimeout, e.WaitForLastOperation(0))
	err := e.WriteBytes(0x08008000, []byte{1})
	require.Equal(t, flash.StatusTimeout, errors.Cause(err))
}

func TestWaitTimeoutTickDriven(t *testing.T) {
	dev := sim.New(flash.STM32F4Layout)
	dev.Stall = true
	clock := &timebase.Counter{}
	stop := make(chan struct{})
	defer close(stop)
	go clock.Run(stop)

	e := flash.New(dev, clock)
	start := clock.Tick()
	require.Equal(t, flash.StatusTimeout, e.WaitForLastOperation(20))
	require.True(t, clock.Tick()-start > 20)
}

func TestWaitMaxDelay(t *testing.T) {
	e, dev := newEngine()
	require.NoError(t, e.Unlock())
	dev.BusyPolls = 1000
	e.Timeout = 10
	require.Equal(t, flash.StatusTimeout, e.Program(flash.UnitByte, 0x08008000, 0x11))
	require.NoError(t, e.WaitForLastOperation(timebase.MaxDelay))
	require.Equal(t, byte(0x11), dev.Bytes()[0x8000])
}

func TestCachesLeftDisabled(t *testing.T) {
	e, dev := newEngine()
	dev.StoreACR(0)
	require.NoError(t, e.WriteBytes(0x08008000, []byte{1}))
	require.Equal(t, 0, dev.ICacheResets)
	require.Equal(t, 0, dev.DCacheResets)
	require.Equal(t, uint32(0), dev.LoadACR())
}

func TestFloat(t *testing.T) {
	for _, v := range []float32{0, 1.5, -273.15, 3.4028235e38, 1e-45} {
		require.Equal(t, v, flash.DecodeFloat(flash.EncodeFloat(v)))
	}
	require.Equal(t, [4]byte{0x00, 0x00, 0xC0, 0x3F}, flash.EncodeFloat(1.5))

	e, _ := newEngine()
	require.NoError(t, e.WriteFloat(0x08060000, 21.75))
	require.Equal(t, float32(21.75), e.ReadFloat(0x08060000))
}

func TestStatusError(t *testing.T) {
	require.Nil(t, flash.StatusOK.Err())
	require.Equal(t, "flash timeout", flash.StatusTimeout.Error())
	require.Equal(t, flash.StatusBusy, flash.StatusBusy.Err())
}
