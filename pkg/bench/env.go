package bench

import (
	"context"
	"io"
	"sync"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/fota.go/pkg/boot"
	"github.com/robotalks/fota.go/pkg/esp"
	"github.com/robotalks/fota.go/pkg/flash"
	"github.com/robotalks/fota.go/pkg/flash/sim"
	"github.com/robotalks/fota.go/pkg/fota"
	"github.com/robotalks/fota.go/pkg/framework"
	"github.com/robotalks/fota.go/pkg/report"
	"github.com/robotalks/fota.go/pkg/ring"
	"github.com/robotalks/fota.go/pkg/timebase"
	"github.com/robotalks/fota.go/pkg/uart"
)

// ErrBusy indicates an update is already running.
var ErrBusy = errors.New("update in progress")

const maxVersionTransfer = 512

// Env is the updater assembled on a host.
type Env struct {
	Config   *Config
	Registry *uart.Registry
	Clock    *timebase.Counter
	Flash    *sim.Controller
	Engine   *flash.Engine
	Session  *esp.Session
	Updater  *fota.Updater
	CPU      *HostCPU
	Loader   *boot.Loader
	// Queue is nil when reporting is disabled.
	Queue  *report.Queue
	Device string

	// LastResult is the result of the last successful update.
	LastResult *fota.Result

	console    io.Writer
	versionRaw []byte
	versionBuf []byte
	runner     *framework.Runner
	updating   sync.Mutex
	lock       sync.RWMutex
}

// NewEnv assembles the updater. Debug port output goes to console, which
// may be nil.
func NewEnv(conf *Config, console io.Writer) (*Env, error) {
	if err := conf.Validate(); err != nil {
		return nil, err
	}
	e := &Env{
		Config:   conf,
		Registry: uart.NewRegistry(ring.DefaultSize),
		Clock:    &timebase.Counter{},
		Flash:    sim.New(flash.STM32F4Layout),
		Device:   conf.Report.Device,
		console:  console,

		versionRaw: make([]byte, maxVersionTransfer),
		versionBuf: make([]byte, maxVersionTransfer),
	}
	if conf.Flash.Image != "" {
		if err := LoadImage(e.Flash, flash.STM32F4Layout.Base(), conf.Flash.Image); err != nil {
			return nil, err
		}
	}
	e.Engine = flash.New(e.Flash, e.Clock)

	modem := e.Registry.Port(uart.PortModem)
	e.Session = esp.New(modem, e.Clock, &conf.ESP)
	e.Updater = fota.NewUpdater(&conf.FOTA, e.Session, e.Engine, modem.RX)
	// without a console nothing drains the debug port
	if console != nil {
		debug := e.Registry.Port(uart.PortDebug).Writer()
		e.Session.Console = debug
		e.Updater.Console = debug
	}

	e.CPU = &HostCPU{}
	e.Loader = boot.NewLoader(e.CPU, e.Flash)

	if conf.Report.URL != "" {
		q, err := report.NewQueueFromURL(conf.Report.URL)
		if err != nil {
			return nil, errors.Wrap(err, "report.url")
		}
		e.Queue = q
		if e.Device == "" {
			e.Device = report.DeviceID()
		}
		e.Updater.Reporter = report.NewMQTTReporter(q, e.Device)
	}
	return e, nil
}

// Start runs the tick, the port pumps and connects the broker. It returns
// after everything is running; Stop stops it.
func (e *Env) Start(ctx context.Context) error {
	e.runner = framework.NewRunner(ctx)
	e.runner.Go(framework.NamedRun("tick", framework.RunnableFunc(func(ctx context.Context) error {
		e.Clock.Run(ctx.Done())
		return ctx.Err()
	})))
	if e.console != nil {
		e.runner.Go(NewWriterPump(e.Registry.Port(uart.PortDebug), e.console))
	}
	if e.Config.Modem.Device != "" {
		sp, err := OpenSerial(e.Config.Modem)
		if err != nil {
			e.Stop()
			return err
		}
		e.runner.Go(NewSerialPump(e.Registry.Port(uart.PortModem), sp))
	}
	if e.Queue != nil {
		token := e.Queue.Connect()
		if !token.WaitTimeout(report.PublishTimeout) {
			glog.Warningf("broker %s: connect timeout", e.Config.Report.URL)
		} else if err := token.Error(); err != nil {
			e.Stop()
			return errors.Wrapf(err, "broker %s", e.Config.Report.URL)
		}
	}
	return nil
}

// Stop stops everything started by Start and waits.
func (e *Env) Stop() error {
	if e.runner == nil {
		return nil
	}
	e.runner.Stop()
	err := e.runner.Wait()
	e.runner = nil
	if e.Queue != nil {
		e.Queue.Close()
	}
	return err
}

// Update runs one update with the configured credentials. A non-empty file
// is downloaded instead of the one named by the version file or the
// configured default. The flash image is saved afterwards whether or not
// the update succeeded, as a failed write may have modified it.
func (e *Env) Update(ctx context.Context, file string) (*fota.Result, error) {
	if err := e.Config.ValidateUpdate(); err != nil {
		return nil, err
	}
	e.updating.Lock()
	defer e.updating.Unlock()

	res, err := e.Updater.RunUpdateFile(ctx, e.Config.WiFi.SSID, e.Config.WiFi.Password, file)

	if serr := e.saveImage(); serr != nil {
		glog.Errorf("save flash image: %v", serr)
		if err == nil {
			err = serr
		}
	}
	if res != nil {
		e.lock.Lock()
		e.LastResult = res
		e.lock.Unlock()
	}
	return res, err
}

// ServerVersion connects and reads the version file without updating.
func (e *Env) ServerVersion(ctx context.Context) (fota.Manifest, error) {
	if err := e.Config.ValidateUpdate(); err != nil {
		return fota.Manifest{}, err
	}
	e.updating.Lock()
	defer e.updating.Unlock()
	if err := e.Session.Initialize(ctx, e.Config.WiFi.SSID, e.Config.WiFi.Password); err != nil {
		return fota.Manifest{}, err
	}
	n, err := e.Session.FetchVersion(ctx, e.versionRaw)
	if err != nil {
		return fota.Manifest{}, err
	}
	if n, err = fota.Deframe(e.versionBuf, e.versionRaw[:n]); err != nil {
		return fota.Manifest{}, errors.Wrap(err, "version file")
	}
	return fota.ParseManifest(e.versionBuf[:n])
}

// Erase erases one flash sector and saves the image.
func (e *Env) Erase(sector int) error {
	e.updating.Lock()
	defer e.updating.Unlock()
	if err := e.Engine.Unlock(); err != nil {
		return err
	}
	err := e.Engine.Erase(flash.EraseRequest{
		Kind:    flash.EraseSectors,
		Sector:  sector,
		Count:   1,
		Voltage: e.Engine.Voltage,
	})
	e.Engine.Lock()
	if err != nil {
		return err
	}
	return e.saveImage()
}

// Result returns the last successful update, or nil.
func (e *Env) Result() *fota.Result {
	e.lock.RLock()
	defer e.lock.RUnlock()
	return e.LastResult
}

func (e *Env) saveImage() error {
	if e.Config.Flash.Image == "" {
		return nil
	}
	return SaveImage(e.Flash, e.Config.Flash.Image)
}

// Boot hands over to the installed application.
func (e *Env) Boot() error {
	return e.Loader.Jump(e.Config.FOTA.StartAddress)
}

// Watch runs updates requested over the broker until ctx is done. A
// request arriving while an update runs is dropped.
func (e *Env) Watch(ctx context.Context) error {
	if e.Queue == nil {
		return errors.New("reporting disabled, report.url required")
	}
	triggers := make(chan report.Trigger, 1)
	sub := report.WatchTriggers(e.Queue, e.Device, func(trigger report.Trigger) {
		select {
		case triggers <- trigger:
		default:
			glog.Warningf("update request %q dropped: %v", trigger.File, ErrBusy)
		}
	})
	defer sub.Close()
	if sub.Token.WaitTimeout(report.PublishTimeout) {
		if err := sub.Token.Error(); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case trigger := <-triggers:
			if _, err := e.Update(ctx, trigger.File); err != nil {
				glog.Errorf("requested update failed: %v", err)
			}
		}
	}
}

// HostCPU records the hand-off instead of performing it.
type HostCPU struct {
	Calls        []string
	StackPointer uint32
	Entry        uint32
	Started      bool
}

// DisableInterrupts implements boot.CPU.
func (c *HostCPU) DisableInterrupts() {
	c.Calls = append(c.Calls, "disable-interrupts")
}

// StopTick implements boot.CPU.
func (c *HostCPU) StopTick() {
	c.Calls = append(c.Calls, "stop-tick")
}

// ResetPeripherals implements boot.CPU.
func (c *HostCPU) ResetPeripherals() {
	c.Calls = append(c.Calls, "reset-peripherals")
}

// Start implements boot.CPU.
func (c *HostCPU) Start(sp, entry uint32) {
	c.Calls = append(c.Calls, "start")
	c.StackPointer, c.Entry, c.Started = sp, entry, true
	glog.Infof("application would start at %#08x with sp=%#08x", entry, sp)
}
