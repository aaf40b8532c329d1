//go:build !linux

package router

// defaultProtector is a no-op outside Linux: fwmark-based protection has no
// analogue, and non-Linux deployments are expected to supply their own
// Protector (e.g. routing-table tricks on the host).
func defaultProtector(mark uint32) Protector {
	return func(fd uintptr) error { return nil }
}
