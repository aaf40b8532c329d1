package router

// OpenTun attaches to an existing tun interface named device and returns it
// as a TunIO, ready to hand to New. mtu is used as a fallback only if the
// interface reports none of its own.
func OpenTun(device string, mtu int) (TunIO, error) {
	return openTun(device, mtu)
}

// DefaultProtector returns the host-OS default Protector for the given
// fwmark. A mark of 0 disables marking.
func DefaultProtector(mark uint32) Protector {
	return defaultProtector(mark)
}
