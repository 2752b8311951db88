package linux

type packetType uint8

// HCI Packet types
const (
	typCommandPkt packetType = 0x01
	typACLDataPkt packetType = 0x02
	typSCODataPkt packetType = 0x03
	typEventPkt   packetType = 0x04
	typVendorPkt  packetType = 0xFF
)
