package fota

import (
	"bytes"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/robotalks/fota.go/pkg/esp"
	"github.com/robotalks/fota.go/pkg/esp/esptest"
	"github.com/robotalks/fota.go/pkg/flash"
	"github.com/robotalks/fota.go/pkg/flash/sim"
	"github.com/robotalks/fota.go/pkg/ring"
	"github.com/robotalks/fota.go/pkg/uart"
)

type stepClock struct {
	ticks uint32
}

func (c *stepClock) Tick() uint32 {
	c.ticks++
	return c.ticks
}

func (c *stepClock) Delay(uint32) {}

func testImage(size int) []byte {
	image := make([]byte, size)
	for n := range image {
		image[n] = byte(n * 7)
		if image[n] == '\r' {
			image[n] = 0
		}
	}
	return image
}

type bench struct {
	modem   *esptest.Modem
	session *esp.Session
	dev     *sim.Controller
	engine  *flash.Engine
	updater *Updater
	events  []Event
	console bytes.Buffer
}

func newBench(t *testing.T, files map[string][]byte) *bench {
	port := uart.NewRegistry(ring.DefaultSize).Port(uart.PortModem)
	b := &bench{
		modem: &esptest.Modem{
			Port:      port,
			SSID:      "lab",
			Password:  "secret",
			Host:      "fota.test",
			Files:     files,
			ChunkSize: 1460,
		},
		dev: sim.New(flash.STM32F4Layout),
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		b.modem.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	espConf := esp.NewConfig()
	espConf.Host = "fota.test"
	espConf.CommandTimeout = time.Second
	espConf.JoinTimeout = time.Second
	espConf.TransferTimeout = 5 * time.Second
	b.session = esp.New(port, &stepClock{}, espConf)
	b.engine = flash.New(b.dev, &stepClock{})
	b.updater = NewUpdater(NewConfig(), b.session, b.engine, port.RX)
	b.updater.Console = &b.console
	b.updater.Reporter = ReporterFunc(func(ev Event) {
		b.events = append(b.events, ev)
	})
	return b
}

func (b *bench) stages() (stages []Stage) {
	for _, ev := range b.events {
		stages = append(stages, ev.Stage)
	}
	return
}

func TestRunUpdate(t *testing.T) {
	image := testImage(10000)
	b := newBench(t, map[string][]byte{
		"/releases/firmware_version.txt": []byte(fmt.Sprintf("1.0.1 size=%d crc32=%08x\n", len(image), Checksum(image))),
		"/releases/firmware_update.bin":  image,
	})
	require.NoError(t, b.dev.Load(0x08010000, []byte{1, 2, 3, 4}))

	res, err := b.updater.RunUpdate(context.Background(), "lab", "secret")
	require.NoError(t, err)
	require.Equal(t, "1.0.1", res.Manifest.Version)
	require.Equal(t, uint32(0x08008000), res.Address)
	require.Equal(t, len(image), res.Size)
	require.Equal(t, Checksum(image), res.CRC32)

	mem := b.dev.Bytes()
	require.Equal(t, image, mem[0x8000:0x8000+len(image)])
	require.Equal(t, []byte{1, 2, 3, 4}, mem[0x10000:0x10004])
	require.True(t, b.engine.Locked())

	require.Equal(t, []Stage{
		StageConnect, StageVersion, StageDownload, StageParse, StageWrite, StageVerify, StageDone,
	}, b.stages())
	last := b.events[len(b.events)-1]
	require.Equal(t, "1.0.1", last.Version)
	require.Equal(t, len(image), last.Size)
	require.Contains(t, b.console.String(), "STAGE: Getting the firmware....\r\n")
	require.Contains(t, b.console.String(), "STAGE: Writing the firmware to memory....\r\n")
	require.Equal(t, uint32(0), b.modem.Port.RX.Dropped())
}

func TestRunUpdateNamedFile(t *testing.T) {
	image := testImage(300)
	b := newBench(t, map[string][]byte{
		"/releases/firmware_version.txt": []byte("2.0 file=app-2.0.bin"),
		"/releases/app-2.0.bin":          image,
	})
	res, err := b.updater.RunUpdate(context.Background(), "lab", "secret")
	require.NoError(t, err)
	require.Equal(t, "app-2.0.bin", res.Manifest.File)
	require.Equal(t, "app-2.0.bin", res.File)
	require.Equal(t, image, b.dev.Bytes()[0x8000:0x8000+300])
}

func TestRunUpdateFileOverride(t *testing.T) {
	image := testImage(400)
	b := newBench(t, map[string][]byte{
		"/releases/firmware_version.txt": []byte("2.0 file=app-2.0.bin size=300"),
		"/releases/app-2.0.bin":          testImage(300),
		"/releases/nightly.bin":          image,
	})
	res, err := b.updater.RunUpdateFile(context.Background(), "lab", "secret", "nightly.bin")
	require.NoError(t, err)
	require.Equal(t, "nightly.bin", res.File)
	require.Equal(t, "app-2.0.bin", res.Manifest.File)
	require.Equal(t, len(image), res.Size)
	require.Equal(t, image, b.dev.Bytes()[0x8000:0x8000+len(image)])
	reqs := b.modem.Requests()
	require.Len(t, reqs, 2)
	require.Contains(t, reqs[1], "GET /releases/nightly.bin ")
}

func TestRunUpdateHeaderSplitDetected(t *testing.T) {
	image := testImage(300)
	b := newBench(t, map[string][]byte{
		"/releases/firmware_version.txt": []byte(fmt.Sprintf("1.0.5 size=%d", len(image))),
		"/releases/firmware_update.bin":  image,
	})
	b.updater.Reporter = ReporterFunc(func(ev Event) {
		b.events = append(b.events, ev)
		if ev.Stage == StageDownload {
			b.modem.HeaderSplit = 2
		}
	})
	_, err := b.updater.RunUpdate(context.Background(), "lab", "secret")
	require.Equal(t, ErrSizeMismatch, errors.Cause(err))
	last := b.events[len(b.events)-1]
	require.Equal(t, StageParse, last.Failed)
	require.Equal(t, bytes.Repeat([]byte{0xFF}, 0x4000), b.dev.Bytes()[0x8000:0xC000])
}

func TestRunUpdateChecksumMismatch(t *testing.T) {
	image := testImage(500)
	b := newBench(t, map[string][]byte{
		"/releases/firmware_version.txt": []byte(fmt.Sprintf("1.0.2 crc32=%08x", Checksum(image)^1)),
		"/releases/firmware_update.bin":  image,
	})
	_, err := b.updater.RunUpdate(context.Background(), "lab", "secret")
	require.Equal(t, ErrChecksum, errors.Cause(err))
	require.Equal(t, bytes.Repeat([]byte{0xFF}, 0x4000), b.dev.Bytes()[0x8000:0xC000])

	last := b.events[len(b.events)-1]
	require.Equal(t, StageFailed, last.Stage)
	require.Equal(t, StageParse, last.Failed)
	require.Equal(t, "1.0.2", last.Version)
	require.Contains(t, b.console.String(), "STAGE: Update failed: ")
}

func TestRunUpdateTooLarge(t *testing.T) {
	b := newBench(t, map[string][]byte{
		"/releases/firmware_version.txt": []byte("1.0.3"),
		"/releases/firmware_update.bin":  testImage(10600),
	})
	_, err := b.updater.RunUpdate(context.Background(), "lab", "secret")
	require.Equal(t, ErrBufferOverflow, errors.Cause(err))
}

func TestRunUpdateJoinFails(t *testing.T) {
	b := newBench(t, nil)
	b.session.JoinTimeout = 50 * time.Millisecond
	_, err := b.updater.RunUpdate(context.Background(), "lab", "nope")
	require.Equal(t, uart.ErrTimeout, errors.Cause(err))
	require.Equal(t, []Stage{StageConnect, StageFailed}, b.stages())
	require.Equal(t, StageConnect, b.events[1].Failed)
	require.Empty(t, b.modem.Requests())
}

func TestRunUpdateMissingFirmware(t *testing.T) {
	b := newBench(t, map[string][]byte{
		"/releases/firmware_version.txt": []byte("1.0.4"),
	})
	_, err := b.updater.RunUpdate(context.Background(), "lab", "secret")
	require.Equal(t, &esp.StatusError{Path: "/releases/firmware_update.bin", Code: 404}, err)
	require.Len(t, b.modem.Requests(), 2)
}

type fakeFetcher struct {
	version  string
	firmware string
	drops    *fakeDrops
	lose     uint32
}

func (f *fakeFetcher) Initialize(context.Context, string, string) error {
	return nil
}

func (f *fakeFetcher) FetchVersion(_ context.Context, dest []byte) (int, error) {
	return copy(dest, f.version), nil
}

func (f *fakeFetcher) FetchFirmware(_ context.Context, _ string, dest []byte) (int, error) {
	f.drops.n += f.lose
	return copy(dest, f.firmware), nil
}

type fakeDrops struct {
	n uint32
}

func (d *fakeDrops) Dropped() uint32 {
	return d.n
}

type memFlash struct {
	data    map[uint32]byte
	corrupt bool
	err     error
}

func (m *memFlash) WriteBytes(addr uint32, data []byte) error {
	if m.err != nil {
		return m.err
	}
	for n, c := range data {
		if m.corrupt && n == len(data)-1 {
			c ^= 0xFF
		}
		m.data[addr+uint32(n)] = c
	}
	return nil
}

func (m *memFlash) Read(addr uint32, buf []byte) {
	for n := range buf {
		buf[n] = m.data[addr+uint32(n)]
	}
}

func newFakeUpdater(f *fakeFetcher, mem *memFlash) *Updater {
	f.drops = &fakeDrops{n: 7}
	conf := NewConfig()
	conf.MaxImageSize = 64
	conf.ScratchSize = 128
	return NewUpdater(conf, f, mem, f.drops)
}

func TestRunUpdateTruncated(t *testing.T) {
	f := &fakeFetcher{
		version:  "1\r\nCLOSED\r\n",
		firmware: "\r\n+IPD,4:abcd\r\nCLOSED\r\n",
		lose:     3,
	}
	mem := &memFlash{data: make(map[uint32]byte)}
	_, err := newFakeUpdater(f, mem).RunUpdate(context.Background(), "", "")
	require.Equal(t, ErrTruncated, errors.Cause(err))
	require.Contains(t, err.Error(), "3 bytes dropped")
	require.Empty(t, mem.data)

	f.lose = 0
	res, err := newFakeUpdater(f, mem).RunUpdate(context.Background(), "", "")
	require.NoError(t, err)
	require.Equal(t, 4, res.Size)
	require.Equal(t, byte('d'), mem.data[0x08008003])
}

func TestRunUpdateEmptyImage(t *testing.T) {
	f := &fakeFetcher{version: "1\r\nCLOSED\r\n", firmware: "\r\nCLOSED\r\n"}
	_, err := newFakeUpdater(f, &memFlash{data: make(map[uint32]byte)}).RunUpdate(context.Background(), "", "")
	require.Equal(t, ErrEmptyImage, err)
}

func TestRunUpdateVerify(t *testing.T) {
	f := &fakeFetcher{version: "1\r\nCLOSED\r\n", firmware: "abcd\r\nCLOSED\r\n"}
	mem := &memFlash{data: make(map[uint32]byte), corrupt: true}
	u := newFakeUpdater(f, mem)
	_, err := u.RunUpdate(context.Background(), "", "")
	require.Equal(t, ErrVerify, errors.Cause(err))

	u.Verify = false
	_, err = u.RunUpdate(context.Background(), "", "")
	require.NoError(t, err)
}

func TestRunUpdateFlashError(t *testing.T) {
	f := &fakeFetcher{version: "1\r\nCLOSED\r\n", firmware: "abcd\r\nCLOSED\r\n"}
	mem := &memFlash{err: &flash.SectorError{Sector: 2, Err: flash.StatusError}}
	var failed []Event
	u := newFakeUpdater(f, mem)
	u.Reporter = ReporterFunc(func(ev Event) {
		if ev.Stage == StageFailed {
			failed = append(failed, ev)
		}
	})
	_, err := u.RunUpdate(context.Background(), "", "")
	require.Equal(t, flash.StatusError, errors.Cause(err))
	require.Len(t, failed, 1)
	require.Equal(t, StageWrite, failed[0].Failed)
}

func TestStageString(t *testing.T) {
	require.Equal(t, "download", StageDownload.String())
	require.Equal(t, "stage(42)", Stage(42).String())
}
