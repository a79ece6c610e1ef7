// Package sh is the interactive console of the bench.
package sh

import (
	"bytes"
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/abiosoft/ishell"
	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/fota.go/pkg/bench"
	"github.com/robotalks/fota.go/pkg/fota"
	fx "github.com/robotalks/fota.go/pkg/framework"
	"github.com/robotalks/fota.go/pkg/report"
	"github.com/robotalks/fota.go/pkg/uart"
)

// Shell provides ishell backed interactive shell.
type Shell struct {
	Interactive bool

	Shell *ishell.Shell
	Env   *bench.Env

	runner   *fx.Runner
	watching bool
	err      error
}

const (
	shellKey = "$shell"
	prompt   = "fota > "

	maxDumpSize = 4096
)

var (
	// flags

	evalOnly bool

	// commands
	commands = []*ishell.Cmd{
		&UpdateCmd,
		&VersionCmd,
		&BootCmd,
		&DumpCmd,
		&EraseCmd,
		&StatusCmd,
		&WatchCmd,
	}
)

func init() {
	flag.BoolVar(&evalOnly, "e", evalOnly, "Evaluation only, no interactive shell.")
}

// New creates a new shell.
func New(env *bench.Env) *Shell {
	s := &Shell{
		Interactive: !evalOnly,

		Shell: ishell.New(),
		Env:   env,
	}
	s.Shell.Set(shellKey, s)
	s.Shell.SetPrompt(prompt)
	for _, cmd := range commands {
		s.Shell.AddCmd(cmd)
	}
	return s
}

// ShellFrom gets Shell from ishell context.
func ShellFrom(c *ishell.Context) *Shell {
	return c.Get(shellKey).(*Shell)
}

// fail reports err and remembers it as the exit status.
func (s *Shell) fail(c *ishell.Context, err error) {
	s.err = err
	c.Err(err)
}

// FormatResult prints an update result for display.
func FormatResult(res *fota.Result) string {
	if res == nil {
		return "no update installed"
	}
	var w bytes.Buffer
	fmt.Fprintf(&w, "version %s", res.Manifest.Version)
	if res.File != "" {
		fmt.Fprintf(&w, " (%s)", res.File)
	}
	fmt.Fprintf(&w, ": %d bytes at %#08x, crc32 %08x", res.Size, res.Address, res.CRC32)
	return w.String()
}

// FormatManifest prints a version file for display.
func FormatManifest(m fota.Manifest) string {
	var w bytes.Buffer
	fmt.Fprintf(&w, "version %s", m.Version)
	if m.File != "" {
		fmt.Fprintf(&w, ", file %s", m.File)
	}
	if m.HasSize {
		fmt.Fprintf(&w, ", size %d", m.Size)
	}
	if m.HasCRC {
		fmt.Fprintf(&w, ", crc32 %08x", m.CRC32)
	}
	return w.String()
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid number %q", s)
	}
	return uint32(v), nil
}

// Run runs the shell.
func (s *Shell) Run(args ...string) error {
	s.runner = fx.NewRunner(context.Background()).HandleSignals()
	if err := s.Env.Start(s.runner.Context()); err != nil {
		return err
	}
	defer s.Env.Stop()

	if len(args) > 0 {
		if err := s.Shell.Process(args...); err != nil {
			return err
		}
		if s.err == nil && s.watching {
			return s.runner.Wait()
		}
		return s.err
	}
	if s.Interactive {
		s.Shell.Run()
		s.runner.Stop()
		return s.runner.Wait()
	}
	return errors.New("command expected")
}

var (
	// UpdateCmd downloads and installs the firmware.
	UpdateCmd = ishell.Cmd{
		Name:    "update",
		Aliases: []string{"u"},
		Help:    "[FILE]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			var file string
			if len(c.Args) > 0 {
				file = c.Args[0]
			}
			res, err := s.Env.Update(s.runner.Context(), file)
			if err != nil {
				s.fail(c, err)
				return
			}
			c.Println(FormatResult(res))
		},
	}

	// VersionCmd shows the version file on the server.
	VersionCmd = ishell.Cmd{
		Name:    "version",
		Aliases: []string{"v"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			m, err := s.Env.ServerVersion(s.runner.Context())
			if err != nil {
				s.fail(c, err)
				return
			}
			c.Println(FormatManifest(m))
		},
	}

	// BootCmd starts the installed application.
	BootCmd = ishell.Cmd{
		Name:    "boot",
		Aliases: []string{"b"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if err := s.Env.Boot(); err != nil {
				s.fail(c, err)
				return
			}
			c.Printf("started at %#08x, sp %#08x\n", s.Env.CPU.Entry, s.Env.CPU.StackPointer)
		},
	}

	// DumpCmd prints flash contents.
	DumpCmd = ishell.Cmd{
		Name:    "dump",
		Aliases: []string{"d"},
		Help:    "ADDR [LEN]",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) < 1 {
				s.fail(c, errors.New("address required"))
				return
			}
			addr, err := parseUint32(c.Args[0])
			if err != nil {
				s.fail(c, err)
				return
			}
			size := uint32(256)
			if len(c.Args) > 1 {
				if size, err = parseUint32(c.Args[1]); err != nil {
					s.fail(c, err)
					return
				}
			}
			if size > maxDumpSize {
				size = maxDumpSize
			}
			if _, _, err = s.Env.Engine.Layout.Span(addr, size); err != nil {
				s.fail(c, err)
				return
			}
			buf := make([]byte, size)
			s.Env.Engine.Read(addr, buf)
			c.Print(hex.Dump(buf))
		},
	}

	// EraseCmd erases a flash sector.
	EraseCmd = ishell.Cmd{
		Name: "erase",
		Help: "SECTOR",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if len(c.Args) != 1 {
				s.fail(c, errors.New("sector required"))
				return
			}
			sector, err := strconv.Atoi(c.Args[0])
			if err != nil {
				s.fail(c, errors.Wrapf(err, "invalid sector %q", c.Args[0]))
				return
			}
			if err = s.Env.Erase(sector); err != nil {
				s.fail(c, err)
				return
			}
			c.Println("OK")
		},
	}

	// StatusCmd shows the state of the bench.
	StatusCmd = ishell.Cmd{
		Name:    "status",
		Aliases: []string{"s"},
		Help:    "",
		Func: func(c *ishell.Context) {
			env := ShellFrom(c).Env
			c.Println(FormatResult(env.Result()))
			vt := env.Loader.ReadVectorTable(env.Config.FOTA.StartAddress)
			if vt.Valid() {
				c.Printf("application: sp %#08x entry %#08x\n", vt.StackPointer, vt.Entry)
			} else {
				c.Println("application: none")
			}
			c.Printf("flash locked: %v, last error %#x\n", env.Engine.Locked(), env.Engine.LastError())
			modem := env.Registry.Port(uart.PortModem)
			c.Printf("modem: %d bytes waiting, %d dropped\n", modem.Available(), modem.RX.Dropped())
			if env.Queue != nil {
				c.Printf("reporting as %s\n", env.Device)
			}
		},
	}

	// WatchCmd runs updates requested over MQTT.
	WatchCmd = ishell.Cmd{
		Name:    "watch",
		Aliases: []string{"w"},
		Help:    "",
		Func: func(c *ishell.Context) {
			s := ShellFrom(c)
			if s.Env.Queue == nil {
				s.fail(c, errors.New("reporting disabled, report.url required"))
				return
			}
			if s.watching {
				c.Println("already watching")
				return
			}
			s.watching = true
			s.runner.Go(fx.NamedRun("watch", fx.RunnableFunc(s.Env.Watch)))
			c.Printf("watching %s/%s\n", s.Env.Device, report.TriggerTopic)
		},
	}
)

// Main is a helper to provide a single call in main.
func Main() {
	flag.Parse()
	conf, err := bench.LoadConfig(bench.ConfigFile())
	if err != nil {
		glog.Exitf("config: %v", err)
	}
	env, err := bench.NewEnv(conf, os.Stdout)
	if err != nil {
		glog.Exitf("%v", err)
	}
	if err = New(env).Run(flag.Args()...); err != nil && err != context.Canceled {
		glog.Exitf("%v", err)
	}
}
