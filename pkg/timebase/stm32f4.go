//go:build tinygo && stm32f4

package timebase

import (
	"device/arm"
	"device/stm32"
	"runtime/interrupt"
)

// TimerIRQ is the interrupt driving the counter.
const TimerIRQ = stm32.IRQ_TIM5

var timerCounter *Counter

// StartTimer increments c once per millisecond from the TIM5 update
// interrupt. pclk is the timer input clock and must be a multiple of 1 MHz.
func StartTimer(c *Counter, pclk uint32) {
	timerCounter = c
	stm32.RCC.APB1ENR.SetBits(stm32.RCC_APB1ENR_TIM5EN)
	stm32.TIM5.CR1.Set(0)
	stm32.TIM5.PSC.Set(pclk/1000000 - 1)
	stm32.TIM5.ARR.Set(999)
	stm32.TIM5.EGR.Set(stm32.TIM_EGR_UG)
	stm32.TIM5.SR.Set(0)
	stm32.TIM5.DIER.Set(stm32.TIM_DIER_UIE)

	intr := interrupt.New(TimerIRQ, handleTimer)
	intr.SetPriority(0x80)
	intr.Enable()
	stm32.TIM5.CR1.Set(stm32.TIM_CR1_CEN)
}

// StopTimer stops the counter and masks its interrupt.
func StopTimer() {
	stm32.TIM5.CR1.Set(0)
	stm32.TIM5.DIER.Set(0)
	stm32.TIM5.SR.Set(0)
	arm.DisableIRQ(TimerIRQ)
}

func handleTimer(interrupt.Interrupt) {
	stm32.TIM5.SR.ClearBits(stm32.TIM_SR_UIF)
	timerCounter.Increment()
}
