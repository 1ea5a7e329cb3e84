package isobus

// pduFormat2Min is first PDU format value that belongs to PDU2 (broadcast) messages. For PDU2 PDU specific byte is
// group extension and part of the PGN, for PDU1 it is destination address.
const pduFormat2Min = 240

// AddressGlobal is destination address for broadcast (PDU2) messages
const AddressGlobal = 0xFF

// Header is decomposed J1939/ISOBUS 29 bit identifier.
type Header struct {
	Priority uint8  `json:"priority"`
	PGN      uint32 `json:"pgn"`
	Source   uint8  `json:"source"`

	// DataPage holds reserved and data page bits (bits 24,25)
	DataPage    uint8 `json:"data_page"`
	PDUFormat   uint8 `json:"pdu_format"`
	PDUSpecific uint8 `json:"pdu_specific"`
	// Destination is PDU specific byte for PDU1 messages and AddressGlobal for PDU2 messages
	Destination uint8 `json:"destination"`
}

// ParseHeader decodes header fields from CAN ID (29 bits of 32 bit).
func ParseHeader(canID uint32) Header {
	h := Header{}
	h.Source = uint8(canID) // bits 0-7
	canID >>= 8
	h.PDUSpecific = uint8(canID) // bits 8-15
	canID >>= 8
	h.PDUFormat = uint8(canID) // bits 16-23
	canID >>= 8
	h.DataPage = uint8(canID) & 0b11 // bits 24,25
	canID >>= 2
	h.Priority = uint8(canID) & 0b111 // bits 26,27,28

	h.PGN = uint32(h.DataPage)<<16 | uint32(h.PDUFormat)<<8
	if h.PDUFormat >= pduFormat2Min {
		h.PGN |= uint32(h.PDUSpecific)
		h.Destination = AddressGlobal
	} else {
		h.Destination = h.PDUSpecific
	}
	return h
}

// IsBroadcast returns true for PDU2 format messages
func (h Header) IsBroadcast() bool {
	return h.PDUFormat >= pduFormat2Min
}

// CANID encodes header back to 29 bit CAN ID.
func (h Header) CANID() uint32 {
	canID := uint32(h.Source)               // bits 0-7
	canID |= uint32(h.PDUSpecific) << 8     // bits 8-15
	canID |= uint32(h.PDUFormat) << 16      // bits 16-23
	canID |= uint32(h.DataPage&0b11) << 24  // bits 24,25
	canID |= uint32(h.Priority&0b111) << 26 // bits 26,27,28
	return canID
}
