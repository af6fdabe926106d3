//go:build !linux && !darwin

package transport

import "syscall"

// reuseControl is a no-op where the portable reuse options are not
// available; the wildcard bind fallback covers those platforms.
func reuseControl(network, address string, c syscall.RawConn) error {
	return nil
}
