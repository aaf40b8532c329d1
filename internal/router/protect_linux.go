//go:build linux

package router

import (
	"fmt"
	"syscall"
)

// defaultProtector marks fd with SO_MARK so the host routes its traffic
// out the physical NIC instead of back through the tun device. mark==0
// disables marking (the common case when policy routing isn't in use).
func defaultProtector(mark uint32) Protector {
	return func(fd uintptr) error {
		if mark == 0 {
			return nil
		}
		if err := syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_MARK, int(mark)); err != nil {
			return fmt.Errorf("setsockopt SO_MARK=%d: %w", mark, err)
		}
		return nil
	}
}
