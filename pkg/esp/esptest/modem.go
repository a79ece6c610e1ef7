// Package esptest provides an in-process ESP8266 running the AT firmware,
// serving files over a simulated TCP connection.
package esptest

import (
	"bytes"
	"context"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/robotalks/fota.go/pkg/uart"
)

// DefaultChunkSize is the payload size of one +IPD frame.
const DefaultChunkSize = 512

// Modem plays the interrupt side of the port: it consumes the transmit ring
// and produces into the receive ring.
type Modem struct {
	Port     *uart.Port
	SSID     string
	Password string
	Host     string
	// Files maps request paths to bodies. Other paths get a 404.
	Files map[string][]byte
	// ChunkSize limits the payload of each +IPD frame.
	ChunkSize int
	// Lossy drops received bytes when the ring is full instead of waiting.
	Lossy bool
	// Ignore lists command names (the part before '=') never answered.
	Ignore map[string]bool
	// ExtraHeader is appended to the response headers, ending in \r\n.
	ExtraHeader string
	// HeaderSplit ends the first +IPD frame this many bytes before the end
	// of the headers, zero to send the headers with the first body chunk.
	HeaderSplit int

	lock     sync.Mutex
	commands []string
	requests []string
}

// Commands returns the command lines received so far.
func (m *Modem) Commands() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string(nil), m.commands...)
}

// Requests returns the raw HTTP requests received so far.
func (m *Modem) Requests() []string {
	m.lock.Lock()
	defer m.lock.Unlock()
	return append([]string(nil), m.requests...)
}

// Run serves the port until ctx is done.
func (m *Modem) Run(ctx context.Context) {
	var line []byte
	for {
		c, ok := m.read(ctx)
		if !ok {
			return
		}
		line = append(line, c)
		if !bytes.HasSuffix(line, []byte("\r\n")) {
			continue
		}
		cmd := string(line[:len(line)-2])
		line = line[:0]
		m.lock.Lock()
		m.commands = append(m.commands, cmd)
		m.lock.Unlock()
		if !m.handle(ctx, cmd) {
			return
		}
	}
}

func (m *Modem) read(ctx context.Context) (byte, bool) {
	for {
		if c, ok := m.Port.TX.Get(); ok {
			return c, true
		}
		select {
		case <-ctx.Done():
			return 0, false
		default:
			runtime.Gosched()
		}
	}
}

func (m *Modem) reply(ctx context.Context, s string) bool {
	rx := m.Port.RX
	for i := 0; i < len(s); i++ {
		if m.Lossy {
			rx.Put(s[i])
			continue
		}
		for rx.Len() >= rx.Cap() {
			select {
			case <-ctx.Done():
				return false
			default:
				runtime.Gosched()
			}
		}
		rx.Put(s[i])
	}
	return true
}

func (m *Modem) handle(ctx context.Context, cmd string) bool {
	name := cmd
	if pos := strings.IndexByte(cmd, '='); pos >= 0 {
		name = cmd[:pos]
	}
	if m.Ignore[name] {
		return true
	}
	echo := cmd + "\r\r\n"
	switch name {
	case "AT+RST":
		return m.reply(ctx, echo+"\r\nOK\r\n\r\n ets Jan  8 2013,rst cause:2, boot mode:(3,7)\r\n\r\nready\r\n")
	case "AT", "AT+CWMODE":
		return m.reply(ctx, echo+"\r\nOK\r\n")
	case "AT+CWJAP":
		if cmd == fmt.Sprintf(`AT+CWJAP="%s","%s"`, m.SSID, m.Password) {
			return m.reply(ctx, echo+"WIFI CONNECTED\r\nWIFI GOT IP\r\n\r\nOK\r\n")
		}
		return m.reply(ctx, echo+"+CWJAP:1\r\n\r\nFAIL\r\n")
	case "AT+CIPSTART":
		if strings.Contains(cmd, `"`+m.Host+`"`) {
			return m.reply(ctx, echo+"CONNECT\r\n\r\nOK\r\n")
		}
		return m.reply(ctx, echo+"DNS Fail\r\n\r\nERROR\r\n")
	case "AT+CIPSEND":
		n, err := strconv.Atoi(cmd[len(name)+1:])
		if err != nil {
			return m.reply(ctx, echo+"\r\nERROR\r\n")
		}
		return m.send(ctx, echo, n)
	}
	return m.reply(ctx, echo+"\r\nERROR\r\n")
}

func (m *Modem) send(ctx context.Context, echo string, n int) bool {
	if !m.reply(ctx, echo+"\r\nOK\r\n> ") {
		return false
	}
	req := make([]byte, n)
	for i := range req {
		c, ok := m.read(ctx)
		if !ok {
			return false
		}
		req[i] = c
	}
	m.lock.Lock()
	m.requests = append(m.requests, string(req))
	m.lock.Unlock()
	if !m.reply(ctx, fmt.Sprintf("\r\nRecv %d bytes\r\n\r\nSEND OK\r\n", n)) {
		return false
	}

	var path string
	if fields := strings.Fields(string(req)); len(fields) > 1 && fields[0] == "GET" {
		path = fields[1]
	}
	body, found := m.Files[path]
	status := "200 OK"
	if !found {
		status, body = "404 Not Found", []byte("not found")
	}
	header := fmt.Sprintf("HTTP/1.1 %s\r\nContent-Length: %d\r\nConnection: close\r\n%s\r\n", status, len(body), m.ExtraHeader)

	chunk := m.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	data := header + string(body)
	first := len(header) + chunk
	if m.HeaderSplit > 0 && m.HeaderSplit < len(header) {
		first = len(header) - m.HeaderSplit
	}
	if first > len(data) {
		first = len(data)
	}
	if !m.frame(ctx, data[:first]) {
		return false
	}
	for data = data[first:]; len(data) > 0; {
		size := chunk
		if size > len(data) {
			size = len(data)
		}
		if !m.frame(ctx, data[:size]) {
			return false
		}
		data = data[size:]
	}
	return m.reply(ctx, "\r\nCLOSED\r\n")
}

func (m *Modem) frame(ctx context.Context, data string) bool {
	return m.reply(ctx, fmt.Sprintf("\r\n+IPD,%d:", len(data))+data)
}
