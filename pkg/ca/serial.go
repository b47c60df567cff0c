package ca

import (
	"math/big"
	"sync/atomic"
	"time"
)

var lastSerial atomic.Int64

// NextSerial returns the current time in nanoseconds as a certificate
// serial number. Calls within the same nanosecond get strictly increasing
// values, so no two certificates minted by this process share a serial.
func NextSerial() *big.Int {
	for {
		now := time.Now().UnixNano()
		last := lastSerial.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if lastSerial.CompareAndSwap(last, next) {
			return big.NewInt(next)
		}
	}
}
