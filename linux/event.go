package linux

import (
	"encoding/binary"
	"errors"
)

type eventHandler interface {
	handleEvent([]byte) error
}

type handlerFunc func(b []byte) error

func (f handlerFunc) handleEvent(b []byte) error {
	return f(b)
}

type event struct {
	evtHandlers map[eventCode]eventHandler
}

func newEvent() *event {
	return &event{
		evtHandlers: map[eventCode]eventHandler{},
	}
}

func (e *event) handleEvent(c eventCode, h eventHandler) {
	e.evtHandlers[c] = h
}

func (e *event) dispatch(b []byte) error {
	h := &eventHeader{}
	if err := h.unmarshal(b); err != nil {
		return err
	}
	b = b[2:] // Skip Event Header (uint8 + uint8)
	if f, found := e.evtHandlers[h.code]; found {
		return f.handleEvent(b)
	}
	return nil
}

type eventCode uint8

const (
	inquiryComplete        eventCode = 0x01
	inquiryResult          eventCode = 0x02
	connectionComplete     eventCode = 0x03
	connectionRequest      eventCode = 0x04
	disconnectionComplete  eventCode = 0x05
	authenticationComplete eventCode = 0x06
	remoteNameReqComplete  eventCode = 0x07
	encryptionChange       eventCode = 0x08
	commandComplete        eventCode = 0x0E
	commandStatus          eventCode = 0x0F
	hardwareError          eventCode = 0x10
	roleChange             eventCode = 0x12
	numberOfCompletedPkts  eventCode = 0x13
	modeChange             eventCode = 0x14
	returnLinkKeys         eventCode = 0x15
	pinCodeRequest         eventCode = 0x16
	linkKeyRequest         eventCode = 0x17
	linkKeyNotification    eventCode = 0x18
	inquiryResultWithRSSI  eventCode = 0x22
	extendedInquiryResult  eventCode = 0x2F
	simplePairingComplete  eventCode = 0x36
)

var eventName = map[eventCode]string{
	inquiryComplete:        "Inquiry Complete",
	inquiryResult:          "Inquiry Result",
	connectionComplete:     "Connection Complete",
	connectionRequest:      "Connection Request",
	disconnectionComplete:  "Disconnection Complete",
	authenticationComplete: "Authentication Complete",
	remoteNameReqComplete:  "Remote Name Request Complete",
	encryptionChange:       "Encryption Change",
	commandComplete:        "Command Complete",
	commandStatus:          "Command Status",
	hardwareError:          "Hardware Error",
	roleChange:             "Role Change",
	numberOfCompletedPkts:  "Number Of Completed Packets",
	modeChange:             "Mode Change",
	returnLinkKeys:         "Return Link Keys",
	pinCodeRequest:         "PIN Code Request",
	linkKeyRequest:         "Link Key Request",
	linkKeyNotification:    "Link Key Notification",
	inquiryResultWithRSSI:  "Inquiry Result with RSSI",
	extendedInquiryResult:  "Extended Inquiry Result",
	simplePairingComplete:  "Simple Pairing Complete",
}

func (e eventCode) String() string { return eventName[e] }

type eventHeader struct {
	code eventCode
	plen uint8
}

func (h *eventHeader) unmarshal(b []byte) error {
	if len(b) < 2 {
		return errors.New("malformed header")
	}
	h.code = eventCode(b[0])
	h.plen = b[1]
	if uint8(len(b)) != 2+h.plen {
		return errors.New("wrong length")
	}
	return nil
}

// Event Parameters

type commandCompleteEP struct {
	numHCICommandPkts uint8
	commandOpcode     uint16
	returnParameters  []byte
}

func (e *commandCompleteEP) unmarshal(b []byte) error {
	if len(b) < 3 {
		return errors.New("malformed command complete")
	}
	e.numHCICommandPkts = b[0]
	e.commandOpcode = binary.LittleEndian.Uint16(b[1:])
	e.returnParameters = b[3:]
	return nil
}

type commandStatusEP struct {
	status            uint8
	numHCICommandPkts uint8
	commandOpcode     uint16
}

func (e *commandStatusEP) unmarshal(b []byte) error {
	if len(b) < 4 {
		return errors.New("malformed command status")
	}
	e.status = b[0]
	e.numHCICommandPkts = b[1]
	e.commandOpcode = binary.LittleEndian.Uint16(b[2:])
	return nil
}

type inquiryCompleteEP struct {
	status uint8
}

func (e *inquiryCompleteEP) unmarshal(b []byte) error {
	if len(b) < 1 {
		return errors.New("malformed inquiry complete")
	}
	e.status = b[0]
	return nil
}

// inquiryResultEP is the plain inquiry result: 14 bytes per response.
type inquiryResultEP struct {
	numResponses uint8
	bdaddr       [][6]byte
	classOfDevice [][3]byte
}

func (e *inquiryResultEP) unmarshal(b []byte) error {
	if len(b) < 1 {
		return errors.New("malformed inquiry result")
	}
	e.numResponses = b[0]
	b = b[1:]
	if len(b) < int(e.numResponses)*14 {
		return errors.New("malformed inquiry result")
	}
	for i := 0; i < int(e.numResponses); i++ {
		r := b[i*14:]
		var addr [6]byte
		copy(addr[:], r[0:6])
		var class [3]byte
		copy(class[:], r[9:12])
		e.bdaddr = append(e.bdaddr, addr)
		e.classOfDevice = append(e.classOfDevice, class)
	}
	return nil
}

// inquiryResultWithRSSIEP adds a signal level: still 14 bytes per
// response, one reserved byte shorter and an RSSI byte at the end.
type inquiryResultWithRSSIEP struct {
	numResponses  uint8
	bdaddr        [][6]byte
	classOfDevice [][3]byte
	rssi          []int8
}

func (e *inquiryResultWithRSSIEP) unmarshal(b []byte) error {
	if len(b) < 1 {
		return errors.New("malformed inquiry result")
	}
	e.numResponses = b[0]
	b = b[1:]
	if len(b) < int(e.numResponses)*14 {
		return errors.New("malformed inquiry result")
	}
	for i := 0; i < int(e.numResponses); i++ {
		r := b[i*14:]
		var addr [6]byte
		copy(addr[:], r[0:6])
		var class [3]byte
		copy(class[:], r[8:11])
		e.bdaddr = append(e.bdaddr, addr)
		e.classOfDevice = append(e.classOfDevice, class)
		e.rssi = append(e.rssi, int8(r[13]))
	}
	return nil
}

type connectionCompleteEP struct {
	status           uint8
	connectionHandle uint16
	bdaddr           [6]byte
	linkType         uint8
	encryptionMode   uint8
}

func (e *connectionCompleteEP) unmarshal(b []byte) error {
	if len(b) < 11 {
		return errors.New("malformed connection complete")
	}
	e.status = b[0]
	e.connectionHandle = binary.LittleEndian.Uint16(b[1:])
	copy(e.bdaddr[:], b[3:9])
	e.linkType = b[9]
	e.encryptionMode = b[10]
	return nil
}

type disconnectionCompleteEP struct {
	status           uint8
	connectionHandle uint16
	reason           uint8
}

func (e *disconnectionCompleteEP) unmarshal(b []byte) error {
	if len(b) < 4 {
		return errors.New("malformed disconnection complete")
	}
	e.status = b[0]
	e.connectionHandle = binary.LittleEndian.Uint16(b[1:])
	e.reason = b[3]
	return nil
}

type authCompleteEP struct {
	status           uint8
	connectionHandle uint16
}

func (e *authCompleteEP) unmarshal(b []byte) error {
	if len(b) < 3 {
		return errors.New("malformed authentication complete")
	}
	e.status = b[0]
	e.connectionHandle = binary.LittleEndian.Uint16(b[1:])
	return nil
}

type remoteNameReqCompleteEP struct {
	status uint8
	bdaddr [6]byte
	name   string
}

func (e *remoteNameReqCompleteEP) unmarshal(b []byte) error {
	if len(b) < 7 {
		return errors.New("malformed remote name complete")
	}
	e.status = b[0]
	copy(e.bdaddr[:], b[1:7])
	name := b[7:]
	for i, c := range name {
		if c == 0 {
			name = name[:i]
			break
		}
	}
	e.name = string(name)
	return nil
}

type pinCodeRequestEP struct {
	bdaddr [6]byte
}

func (e *pinCodeRequestEP) unmarshal(b []byte) error {
	if len(b) < 6 {
		return errors.New("malformed pin code request")
	}
	copy(e.bdaddr[:], b[0:6])
	return nil
}

type linkKeyRequestEP struct {
	bdaddr [6]byte
}

func (e *linkKeyRequestEP) unmarshal(b []byte) error {
	if len(b) < 6 {
		return errors.New("malformed link key request")
	}
	copy(e.bdaddr[:], b[0:6])
	return nil
}

type linkKeyNotificationEP struct {
	bdaddr  [6]byte
	linkKey [16]byte
	keyType uint8
}

func (e *linkKeyNotificationEP) unmarshal(b []byte) error {
	if len(b) < 23 {
		return errors.New("malformed link key notification")
	}
	copy(e.bdaddr[:], b[0:6])
	copy(e.linkKey[:], b[6:22])
	e.keyType = b[22]
	return nil
}
