package linux

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

type cmdParam interface {
	marshal([]byte)
	opcode() opcode
	len() int
}

func newCmd(d io.Writer) *cmd {
	c := &cmd{
		dev:     d,
		compc:   make(chan commandCompleteEP),
		statusc: make(chan commandStatusEP),
	}
	go c.processCmdEvents()
	return c
}

type cmdPkt struct {
	op   opcode
	cp   cmdParam
	done chan []byte
}

func (c cmdPkt) marshal() []byte {
	b := make([]byte, 1+2+1+c.cp.len())
	b[0] = byte(typCommandPkt)
	b[1], b[2] = byte(c.op), byte(c.op>>8)
	b[3] = byte(c.cp.len())
	c.cp.marshal(b[4:])
	return b
}

type cmd struct {
	dev     io.Writer
	mu      sync.Mutex
	sent    []*cmdPkt
	compc   chan commandCompleteEP
	statusc chan commandStatusEP
}

func (c *cmd) handleComplete(b []byte) error {
	var ep commandCompleteEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	c.compc <- ep
	return nil
}

func (c *cmd) handleStatus(b []byte) error {
	var ep commandStatusEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	c.statusc <- ep
	return nil
}

// send writes the command and blocks until its command-complete or
// command-status event. The returned bytes start with the status.
func (c *cmd) send(cp cmdParam) ([]byte, error) {
	op := cp.opcode()
	p := &cmdPkt{op: op, cp: cp, done: make(chan []byte)}
	raw := p.marshal()

	c.mu.Lock()
	c.sent = append(c.sent, p)
	c.mu.Unlock()
	if n, err := c.dev.Write(raw); err != nil {
		c.forget(p)
		return nil, err
	} else if n != len(raw) {
		c.forget(p)
		return nil, errors.New("short write on command packet")
	}
	return <-p.done, nil
}

func (c *cmd) forget(p *cmdPkt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, q := range c.sent {
		if q == p {
			c.sent = append(c.sent[:i], c.sent[i+1:]...)
			return
		}
	}
}

func (c *cmd) sendAndCheck(cp cmdParam) error {
	rsp, err := c.send(cp)
	if err != nil {
		return err
	}
	if len(rsp) == 0 {
		return nil
	}
	if rsp[0] != 0x00 {
		return fmt.Errorf("command %s failed with status 0x%02X", cp.opcode(), rsp[0])
	}
	return nil
}

// processCmdEvents matches command-complete and command-status events
// back to the callers waiting on them. A status event carries no return
// parameters, so the status byte itself is handed over.
func (c *cmd) processCmdEvents() {
	for {
		var op uint16
		var rsp []byte
		select {
		case status := <-c.statusc:
			op, rsp = status.commandOpcode, []byte{status.status}
		case comp := <-c.compc:
			op, rsp = comp.commandOpcode, comp.returnParameters
		}
		var pkt *cmdPkt
		c.mu.Lock()
		for i, p := range c.sent {
			if uint16(p.op) == op {
				pkt = p
				c.sent = append(c.sent[:i], c.sent[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		if pkt == nil {
			logrus.WithField("opcode", opcode(op).String()).Debug("unsolicited command event")
			continue
		}
		pkt.done <- rsp
	}
}

const (
	linkCtl     = 0x01
	linkPolicy  = 0x02
	hostCtl     = 0x03
	infoParam   = 0x04
	statusParam = 0x05
)

type opcode uint16

func (op opcode) ogf() uint8  { return uint8((uint16(op) & 0xFC00) >> 10) }
func (op opcode) ocf() uint16 { return uint16(op) & 0x03FF }

func (op opcode) String() string {
	if s, ok := opName[op]; ok {
		return s
	}
	return fmt.Sprintf("0x%04X", uint16(op))
}

const (
	opInquiry             = opcode(linkCtl<<10 | 0x0001)
	opInquiryCancel       = opcode(linkCtl<<10 | 0x0002)
	opPeriodicInquiry     = opcode(linkCtl<<10 | 0x0003)
	opExitPeriodicInquiry = opcode(linkCtl<<10 | 0x0004)
	opCreateConn          = opcode(linkCtl<<10 | 0x0005)
	opDisconnect          = opcode(linkCtl<<10 | 0x0006)
	opLinkKeyReply        = opcode(linkCtl<<10 | 0x000B)
	opLinkKeyNegReply     = opcode(linkCtl<<10 | 0x000C)
	opPinCodeReply        = opcode(linkCtl<<10 | 0x000D)
	opPinCodeNegReply     = opcode(linkCtl<<10 | 0x000E)
	opAuthRequested       = opcode(linkCtl<<10 | 0x0011)
	opRemoteNameReq       = opcode(linkCtl<<10 | 0x0019)
	opRemoteNameReqCancel = opcode(linkCtl<<10 | 0x001A)
)

const (
	opSetEventMask         = opcode(hostCtl<<10 | 0x0001)
	opReset                = opcode(hostCtl<<10 | 0x0003)
	opReadStoredLinkKey    = opcode(hostCtl<<10 | 0x000D)
	opDeleteStoredLinkKey  = opcode(hostCtl<<10 | 0x0012)
	opWritePageTimeout     = opcode(hostCtl<<10 | 0x0018)
	opWriteScanEnable      = opcode(hostCtl<<10 | 0x001A)
	opReadClassOfDevice    = opcode(hostCtl<<10 | 0x0023)
	opWriteClassOfDevice   = opcode(hostCtl<<10 | 0x0024)
	opWriteCurrentIACLAP   = opcode(hostCtl<<10 | 0x003A)
	opWriteInquiryScanType = opcode(hostCtl<<10 | 0x0043)
	opWriteInquiryMode     = opcode(hostCtl<<10 | 0x0045)
	opWritePageScanType    = opcode(hostCtl<<10 | 0x0047)
)

const (
	opReadBDAddr = opcode(infoParam<<10 | 0x0009)
)

var opName = map[opcode]string{
	opInquiry:              "Inquiry",
	opInquiryCancel:        "Inquiry Cancel",
	opPeriodicInquiry:      "Periodic Inquiry Mode",
	opExitPeriodicInquiry:  "Exit Periodic Inquiry Mode",
	opCreateConn:           "Create Connection",
	opDisconnect:           "Disconnect",
	opLinkKeyReply:         "Link Key Request Reply",
	opLinkKeyNegReply:      "Link Key Request Negative Reply",
	opPinCodeReply:         "PIN Code Request Reply",
	opPinCodeNegReply:      "PIN Code Request Negative Reply",
	opAuthRequested:        "Authentication Requested",
	opRemoteNameReq:        "Remote Name Request",
	opRemoteNameReqCancel:  "Remote Name Request Cancel",
	opSetEventMask:         "Set Event Mask",
	opReset:                "Reset",
	opReadStoredLinkKey:    "Read Stored Link Key",
	opDeleteStoredLinkKey:  "Delete Stored Link Key",
	opWritePageTimeout:     "Write Page Timeout",
	opWriteScanEnable:      "Write Scan Enable",
	opReadClassOfDevice:    "Read Class of Device",
	opWriteClassOfDevice:   "Write Class of Device",
	opWriteCurrentIACLAP:   "Write Current IAC LAP",
	opWriteInquiryScanType: "Write Inquiry Scan Type",
	opWriteInquiryMode:     "Write Inquiry Mode",
	opWritePageScanType:    "Write Page Scan Type",
	opReadBDAddr:           "Read BD_ADDR",
}

type order struct{ binary.ByteOrder }

var o = order{binary.LittleEndian}

func (o order) PutUint8(b []byte, v uint8) { b[0] = v }
func (o order) PutMAC(b []byte, m [6]byte) {
	b[0], b[1], b[2], b[3], b[4], b[5] = m[5], m[4], m[3], m[2], m[1], m[0]
}

// Link control commands

type inquiry struct {
	lap           [3]byte
	inquiryLength uint8
	numResponses  uint8
}

func (c inquiry) opcode() opcode { return opInquiry }
func (c inquiry) len() int       { return 5 }
func (c inquiry) marshal(b []byte) {
	copy(b, c.lap[:])
	b[3] = c.inquiryLength
	b[4] = c.numResponses
}

type inquiryCancel struct{}

func (c inquiryCancel) opcode() opcode { return opInquiryCancel }
func (c inquiryCancel) len() int       { return 0 }
func (c inquiryCancel) marshal([]byte) {}

type periodicInquiry struct {
	maxPeriod     uint16
	minPeriod     uint16
	lap           [3]byte
	inquiryLength uint8
	numResponses  uint8
}

func (c periodicInquiry) opcode() opcode { return opPeriodicInquiry }
func (c periodicInquiry) len() int       { return 9 }
func (c periodicInquiry) marshal(b []byte) {
	o.PutUint16(b[0:], c.maxPeriod)
	o.PutUint16(b[2:], c.minPeriod)
	copy(b[4:], c.lap[:])
	b[7] = c.inquiryLength
	b[8] = c.numResponses
}

type exitPeriodicInquiry struct{}

func (c exitPeriodicInquiry) opcode() opcode { return opExitPeriodicInquiry }
func (c exitPeriodicInquiry) len() int       { return 0 }
func (c exitPeriodicInquiry) marshal([]byte) {}

type disconnect struct {
	connectionHandle uint16
	reason           uint8
}

func (c disconnect) opcode() opcode { return opDisconnect }
func (c disconnect) len() int       { return 3 }
func (c disconnect) marshal(b []byte) {
	o.PutUint16(b[0:], c.connectionHandle)
	b[2] = c.reason
}

type pinCodeReply struct {
	bdaddr    [6]byte
	pinLength uint8
	pinCode   [16]byte
}

func (c pinCodeReply) opcode() opcode { return opPinCodeReply }
func (c pinCodeReply) len() int       { return 23 }
func (c pinCodeReply) marshal(b []byte) {
	o.PutMAC(b, c.bdaddr)
	b[6] = c.pinLength
	copy(b[7:], c.pinCode[:])
}

type pinCodeNegReply struct {
	bdaddr [6]byte
}

func (c pinCodeNegReply) opcode() opcode   { return opPinCodeNegReply }
func (c pinCodeNegReply) len() int         { return 6 }
func (c pinCodeNegReply) marshal(b []byte) { o.PutMAC(b, c.bdaddr) }

type linkKeyReply struct {
	bdaddr  [6]byte
	linkKey [16]byte
}

func (c linkKeyReply) opcode() opcode { return opLinkKeyReply }
func (c linkKeyReply) len() int       { return 22 }
func (c linkKeyReply) marshal(b []byte) {
	o.PutMAC(b, c.bdaddr)
	copy(b[6:], c.linkKey[:])
}

type linkKeyNegReply struct {
	bdaddr [6]byte
}

func (c linkKeyNegReply) opcode() opcode   { return opLinkKeyNegReply }
func (c linkKeyNegReply) len() int         { return 6 }
func (c linkKeyNegReply) marshal(b []byte) { o.PutMAC(b, c.bdaddr) }

type authRequested struct {
	connectionHandle uint16
}

func (c authRequested) opcode() opcode   { return opAuthRequested }
func (c authRequested) len() int         { return 2 }
func (c authRequested) marshal(b []byte) { o.PutUint16(b, c.connectionHandle) }

type remoteNameReq struct {
	bdaddr       [6]byte
	pscanRepMode uint8
	clockOffset  uint16
}

func (c remoteNameReq) opcode() opcode { return opRemoteNameReq }
func (c remoteNameReq) len() int       { return 10 }
func (c remoteNameReq) marshal(b []byte) {
	o.PutMAC(b, c.bdaddr)
	b[6] = c.pscanRepMode
	b[7] = 0x00 // reserved
	o.PutUint16(b[8:], c.clockOffset)
}

type remoteNameReqCancel struct {
	bdaddr [6]byte
}

func (c remoteNameReqCancel) opcode() opcode   { return opRemoteNameReqCancel }
func (c remoteNameReqCancel) len() int         { return 6 }
func (c remoteNameReqCancel) marshal(b []byte) { o.PutMAC(b, c.bdaddr) }

// Host control commands

type reset struct{}

func (c reset) opcode() opcode { return opReset }
func (c reset) len() int       { return 0 }
func (c reset) marshal([]byte) {}

type setEventMask struct {
	eventMask uint64
}

func (c setEventMask) opcode() opcode   { return opSetEventMask }
func (c setEventMask) len() int         { return 8 }
func (c setEventMask) marshal(b []byte) { o.PutUint64(b, c.eventMask) }

type writeScanEnable struct {
	scanEnable uint8
}

func (c writeScanEnable) opcode() opcode   { return opWriteScanEnable }
func (c writeScanEnable) len() int         { return 1 }
func (c writeScanEnable) marshal(b []byte) { b[0] = c.scanEnable }

type readClassOfDevice struct{}

func (c readClassOfDevice) opcode() opcode { return opReadClassOfDevice }
func (c readClassOfDevice) len() int       { return 0 }
func (c readClassOfDevice) marshal([]byte) {}

type writeClassOfDevice struct {
	classOfDevice [3]byte
}

func (c writeClassOfDevice) opcode() opcode   { return opWriteClassOfDevice }
func (c writeClassOfDevice) len() int         { return 3 }
func (c writeClassOfDevice) marshal(b []byte) { copy(b, c.classOfDevice[:]) }

type deleteStoredLinkKey struct {
	bdaddr    [6]byte
	deleteAll uint8
}

func (c deleteStoredLinkKey) opcode() opcode { return opDeleteStoredLinkKey }
func (c deleteStoredLinkKey) len() int       { return 7 }
func (c deleteStoredLinkKey) marshal(b []byte) {
	o.PutMAC(b, c.bdaddr)
	b[6] = c.deleteAll
}

type writePageTimeout struct {
	pageTimeout uint16
}

func (c writePageTimeout) opcode() opcode   { return opWritePageTimeout }
func (c writePageTimeout) len() int         { return 2 }
func (c writePageTimeout) marshal(b []byte) { o.PutUint16(b, c.pageTimeout) }

// writeCurrentIACLAP carries one LAP in general discoverable mode and
// two (limited first) in limited discoverable mode.
type writeCurrentIACLAP struct {
	laps [][3]byte
}

func (c writeCurrentIACLAP) opcode() opcode { return opWriteCurrentIACLAP }
func (c writeCurrentIACLAP) len() int       { return 1 + 3*len(c.laps) }
func (c writeCurrentIACLAP) marshal(b []byte) {
	b[0] = uint8(len(c.laps))
	for i, lap := range c.laps {
		copy(b[1+3*i:], lap[:])
	}
}

type writeInquiryMode struct {
	inquiryMode uint8
}

func (c writeInquiryMode) opcode() opcode   { return opWriteInquiryMode }
func (c writeInquiryMode) len() int         { return 1 }
func (c writeInquiryMode) marshal(b []byte) { b[0] = c.inquiryMode }

type writeInquiryScanType struct {
	scanType uint8
}

func (c writeInquiryScanType) opcode() opcode   { return opWriteInquiryScanType }
func (c writeInquiryScanType) len() int         { return 1 }
func (c writeInquiryScanType) marshal(b []byte) { b[0] = c.scanType }

type writePageScanType struct {
	pageScanType uint8
}

func (c writePageScanType) opcode() opcode   { return opWritePageScanType }
func (c writePageScanType) len() int         { return 1 }
func (c writePageScanType) marshal(b []byte) { b[0] = c.pageScanType }

// Informational commands

type readBDAddr struct{}

func (c readBDAddr) opcode() opcode { return opReadBDAddr }
func (c readBDAddr) len() int       { return 0 }
func (c readBDAddr) marshal([]byte) {}
