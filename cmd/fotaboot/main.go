//go:build tinygo && stm32f4

// Command fotaboot is the updater firmware. It installs the latest release
// from the server and starts the application.
//
// The modem is on USART1 (PA9 TX, PA10 RX), the debug console on USART6
// (PC6 TX, PC7 RX). TIM5 provides the millisecond tick.
//
//	tinygo build -target=nucleo-f411re -ldflags "-X main.ssid=AP -X main.password=PW" ./cmd/fotaboot
package main

import (
	"context"
	"device/arm"
	"device/stm32"
	"flag"
	"machine"
	"runtime/interrupt"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/fota.go/pkg/boot"
	"github.com/robotalks/fota.go/pkg/esp"
	"github.com/robotalks/fota.go/pkg/flash"
	"github.com/robotalks/fota.go/pkg/fota"
	"github.com/robotalks/fota.go/pkg/ring"
	"github.com/robotalks/fota.go/pkg/timebase"
	"github.com/robotalks/fota.go/pkg/uart"
)

var (
	ssid     string
	password string
)

const (
	baudRate     = 115200
	modemIRQ     = stm32.IRQ_USART1
	debugIRQ     = stm32.IRQ_USART6
	uartPriority = 0xc0
)

var ports = uart.NewRegistry(ring.DefaultSize)

func modemInterrupt(interrupt.Interrupt) {
	ports.HandleInterrupt(uart.PortModem)
}

func debugInterrupt(interrupt.Interrupt) {
	ports.HandleInterrupt(uart.PortDebug)
}

// cpu also quiesces the interrupts owned by the updater before the jump.
type cpu struct {
	boot.CortexM
}

func (c cpu) StopTick() {
	c.CortexM.StopTick()
	timebase.StopTimer()
	arm.DisableIRQ(modemIRQ)
	arm.DisableIRQ(debugIRQ)
}

func setupUARTs() {
	// both USARTs are on APB2 which runs at the CPU clock
	pclk := machine.CPUFrequency()
	stm32.RCC.APB2ENR.SetBits(stm32.RCC_APB2ENR_USART1EN | stm32.RCC_APB2ENR_USART6EN)

	machine.PA9.ConfigureAltFunc(machine.PinConfig{Mode: machine.PinModeUARTTX}, 7)
	machine.PA10.ConfigureAltFunc(machine.PinConfig{Mode: machine.PinModeUARTRX}, 7)
	modem := uart.NewUSART(stm32.USART1)
	uart.USARTBus{USART_Type: stm32.USART1}.Configure(baudRate, pclk)
	ports.Port(uart.PortModem).Attach(modem)

	machine.PC6.ConfigureAltFunc(machine.PinConfig{Mode: machine.PinModeUARTTX}, 8)
	machine.PC7.ConfigureAltFunc(machine.PinConfig{Mode: machine.PinModeUARTRX}, 8)
	debug := uart.NewUSART(stm32.USART6)
	uart.USARTBus{USART_Type: stm32.USART6}.Configure(baudRate, pclk)
	ports.Port(uart.PortDebug).Attach(debug)

	intr := interrupt.New(modemIRQ, modemInterrupt)
	intr.SetPriority(uartPriority)
	intr.Enable()
	intr = interrupt.New(debugIRQ, debugInterrupt)
	intr.SetPriority(uartPriority)
	intr.Enable()
}

func main() {
	flag.Set("logtostderr", "true")

	clock := &timebase.Counter{}
	timebase.StartTimer(clock, machine.CPUFrequency())
	setupUARTs()

	debug := ports.Port(uart.PortDebug).Writer()
	modem := ports.Port(uart.PortModem)
	session := esp.New(modem, clock, esp.Default())
	session.Console = debug

	conf := fota.Default()
	updater := fota.NewUpdater(conf, session, flash.New(flash.Hardware{}, clock), modem.RX)
	updater.Console = debug
	if _, err := updater.RunUpdate(context.Background(), ssid, password); err != nil {
		glog.Warningf("keeping installed application: %v", err)
	}

	if err := boot.NewLoader(cpu{}, flash.Hardware{}).Jump(conf.StartAddress); err != nil {
		glog.Errorf("%v", err)
		for {
			time.Sleep(time.Second)
		}
	}
}
