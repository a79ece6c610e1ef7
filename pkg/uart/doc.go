// Package uart connects the UART interrupt handlers to the foreground task.
//
// Each port owns two rings: RX is filled by the interrupt handler and
// drained by the foreground, TX is filled by the foreground and drained by
// the interrupt handler. The interrupt side never blocks and drops received
// bytes when RX is full; the foreground side blocks on a full TX.
//
// On top of RX the package provides the stream matching primitives used by
// the modem session: WaitFor consumes input until a literal has been seen,
// CopyUntil does the same while copying everything before the literal into
// a caller buffer. Both honour the deadline of the context they are given.
//
// Producer: interrupt handler (RX), foreground task (TX)
// Consumer: foreground task (RX), interrupt handler (TX)
package uart
