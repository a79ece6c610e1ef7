// Package esp drives an ESP8266/ESP32 Wi-Fi modem running the AT command
// firmware over a UART port.
package esp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/golang/glog"
	"github.com/pkg/errors"

	"github.com/robotalks/fota.go/pkg/timebase"
	"github.com/robotalks/fota.go/pkg/uart"
)

// Responses
const (
	OKResponse     = "OK\r\n"
	SendPrompt     = ">"
	SendOKResponse = "SEND OK\r\n"
	EndOfHeaders   = "\r\n\r\n"
	ClosedResponse = "CLOSED\r\n"
)

var (
	patOK      = uart.Compile(OKResponse)
	patPrompt  = uart.Compile(SendPrompt)
	patSendOK  = uart.Compile(SendOKResponse)
	patHeaders = uart.Compile(EndOfHeaders)
	patClosed  = uart.Compile(ClosedResponse)
)

const maxHeaderSize = 1024

// Session sequences AT commands over the modem port. The port's receive
// ring is owned by the session while a command runs.
type Session struct {
	Config

	// Console receives progress messages, may be nil.
	Console io.Writer

	port   *uart.Port
	clock  timebase.Clock
	header []byte
}

// New creates a Session.
func New(port *uart.Port, clock timebase.Clock, conf *Config) *Session {
	return &Session{
		Config: *conf,
		port:   port,
		clock:  clock,
		header: make([]byte, maxHeaderSize),
	}
}

// Port returns the modem port.
func (s *Session) Port() *uart.Port {
	return s.port
}

func (s *Session) printf(format string, args ...interface{}) {
	if s.Console != nil {
		fmt.Fprintf(s.Console, format, args...)
	}
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// send clears pending input and writes one command line.
func (s *Session) send(cmd, logged string) {
	s.port.Clear()
	glog.V(2).Infof("esp: > %s", logged)
	s.port.Send(cmd)
	s.port.Send("\r\n")
}

func (s *Session) command(ctx context.Context, cmd, logged string, timeout time.Duration) error {
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	s.send(cmd, logged)
	if err := s.port.WaitFor(ctx, patOK); err != nil {
		return &CommandError{Command: logged, Err: err}
	}
	return nil
}

// Reset restarts the modem.
func (s *Session) Reset(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, s.CommandTimeout)
	defer cancel()
	s.send("AT+RST", "AT+RST")
	s.clock.Delay(s.ResetDelay)
	if err := s.port.WaitFor(ctx, patOK); err != nil {
		return &CommandError{Command: "AT+RST", Err: err}
	}
	return nil
}

// SelfTest checks the modem responds.
func (s *Session) SelfTest(ctx context.Context) error {
	return s.command(ctx, "AT", "AT", s.CommandTimeout)
}

// SetStationMode puts the modem in Wi-Fi client mode.
func (s *Session) SetStationMode(ctx context.Context) error {
	return s.command(ctx, "AT+CWMODE=1", "AT+CWMODE=1", s.CommandTimeout)
}

// JoinNetwork associates with an access point.
func (s *Session) JoinNetwork(ctx context.Context, ssid, password string) error {
	s.printf("Connecting to access point....\r\n")
	cmd := fmt.Sprintf(`AT+CWJAP="%s","%s"`, ssid, password)
	logged := fmt.Sprintf(`AT+CWJAP="%s","***"`, ssid)
	if err := s.command(ctx, cmd, logged, s.JoinTimeout); err != nil {
		return err
	}
	s.printf("Connected : \"%s\"\r\n", ssid)
	return nil
}

// Initialize resets the modem and joins the network. It stops at the first
// failing step.
func (s *Session) Initialize(ctx context.Context, ssid, password string) error {
	steps := []func(context.Context) error{
		s.Reset,
		s.SelfTest,
		s.SetStationMode,
		func(ctx context.Context) error {
			return s.JoinNetwork(ctx, ssid, password)
		},
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	glog.Infof("esp: joined %q", ssid)
	return nil
}

// Request builds the GET request for path.
func (s *Session) Request(path string) string {
	return fmt.Sprintf("GET %s HTTP/1.1\r\nHost: %s\r\nConnection: close\r\n\r\n", path, s.Host)
}

// HTTPGet fetches path from the configured server. The raw response body,
// still carrying the modem's +IPD chunk markers and ending with the
// \r\nCLOSED\r\n terminator, is copied into dest. It returns the number of
// bytes written.
func (s *Session) HTTPGet(ctx context.Context, path string, dest []byte) (int, error) {
	start := fmt.Sprintf(`AT+CIPSTART="TCP","%s",%d`, s.Host, s.Config.Port)
	if err := s.command(ctx, start, start, s.CommandTimeout); err != nil {
		return 0, err
	}

	ctx, cancel := withTimeout(ctx, s.TransferTimeout)
	defer cancel()

	req := s.Request(path)
	send := "AT+CIPSEND=" + strconv.Itoa(len(req))
	s.send(send, send)
	if err := s.port.WaitFor(ctx, patPrompt); err != nil {
		return 0, &CommandError{Command: send, Err: err}
	}
	glog.V(2).Infof("esp: GET %s", path)
	s.port.Send(req)
	if err := s.port.WaitFor(ctx, patSendOK); err != nil {
		return 0, &CommandError{Command: send, Err: err}
	}

	hn, err := s.port.CopyUntil(ctx, patHeaders, s.header)
	if err != nil {
		return 0, errors.Wrapf(err, "GET %s: headers", path)
	}
	if err = checkStatus(path, s.header[:hn]); err != nil {
		return 0, err
	}

	n, err := s.port.CopyUntil(ctx, patClosed, dest)
	if err != nil {
		return n, errors.Wrapf(err, "GET %s: body", path)
	}
	if n+len(ClosedResponse) > len(dest) {
		return n, errors.Wrapf(&uart.OverflowError{Capacity: len(dest)}, "GET %s: body", path)
	}
	n += copy(dest[n:], ClosedResponse)
	glog.V(2).Infof("esp: GET %s: %d bytes", path, n)
	return n, nil
}

// checkStatus validates the status line found in the response headers.
func checkStatus(path string, header []byte) error {
	pos := bytes.Index(header, []byte("HTTP/1."))
	if pos < 0 {
		return errors.Wrapf(ErrBadResponse, "GET %s: no status line", path)
	}
	line := header[pos:]
	if end := bytes.IndexByte(line, '\r'); end >= 0 {
		line = line[:end]
	}
	fields := bytes.Fields(line)
	if len(fields) < 2 {
		return errors.Wrapf(ErrBadResponse, "GET %s: %q", path, line)
	}
	code, err := strconv.Atoi(string(fields[1]))
	if err != nil {
		return errors.Wrapf(ErrBadResponse, "GET %s: %q", path, line)
	}
	if code < 200 || code > 299 {
		return &StatusError{Path: path, Code: code}
	}
	return nil
}

// FetchVersion fetches the version file.
func (s *Session) FetchVersion(ctx context.Context, dest []byte) (int, error) {
	return s.HTTPGet(ctx, s.ReleasePath+s.VersionFile, dest)
}

// FetchFirmware fetches a firmware file from the release directory.
func (s *Session) FetchFirmware(ctx context.Context, file string, dest []byte) (int, error) {
	return s.HTTPGet(ctx, s.ReleasePath+file, dest)
}
