package router

// FlowKey identifies a UDP or TCP flow by its four-tuple plus protocol. It
// is comparable, so it can be used directly as a map key.
type FlowKey struct {
	Proto   uint8
	SrcAddr [4]byte
	SrcPort uint16
	DstAddr [4]byte
	DstPort uint16
}
