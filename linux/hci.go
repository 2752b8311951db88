// Package linux drives a Bluetooth controller through a raw HCI
// socket: it implements the hcid command gateway and translates the
// controller's events into adapter event entries.
package linux

import (
	"encoding/hex"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/XC-/hcid"
)

type HCI struct {
	log logrus.FieldLogger

	dev *device
	c   *cmd
	e   *event

	adapter *hcid.Adapter
}

// NewHCI opens the controller hciN and starts the packet loop. Events
// are dropped until Attach hooks up an adapter.
func NewHCI(devID int) (*HCI, error) {
	dev, err := newSocket(devID)
	if err != nil {
		return nil, err
	}
	c := newCmd(dev)
	e := newEvent()
	e.handleEvent(commandComplete, handlerFunc(c.handleComplete))
	e.handleEvent(commandStatus, handlerFunc(c.handleStatus))

	h := &HCI{
		log: logrus.WithField("hci", devID),
		dev: dev,
		c:   c,
		e:   e,
	}
	go h.mainLoop()
	return h, nil
}

func (h *HCI) Close() error { return h.dev.Close() }

// Init resets the controller and pushes the baseline settings the
// control plane relies on: the classic event mask, inquiry results
// with RSSI, and interlaced scanning.
func (h *HCI) Init() error {
	seq := []cmdParam{
		reset{},
		setEventMask{eventMask: 0x00000000FFFFFFFF},
		writeInquiryMode{inquiryMode: 1},
		writePageTimeout{pageTimeout: 0x2000},
		writePageScanType{pageScanType: 1},
		writeInquiryScanType{scanType: 1},
	}
	for _, s := range seq {
		if err := h.c.sendAndCheck(s); err != nil {
			return err
		}
	}
	return nil
}

// Address asks the controller for its public address.
func (h *HCI) Address() (hcid.BDAddr, error) {
	rsp, err := h.c.send(readBDAddr{})
	if err != nil {
		return hcid.BDAddr{}, err
	}
	if len(rsp) < 7 || rsp[0] != 0x00 {
		return hcid.BDAddr{}, errors.New("read bd_addr failed")
	}
	var le [6]byte
	copy(le[:], rsp[1:7])
	return hcid.BDAddrFromLE(le), nil
}

// DeviceClass reads the controller's current Class of Device, so the
// limited-discoverable bit can be layered onto the real class instead
// of clobbering it.
func (h *HCI) DeviceClass() ([3]byte, error) {
	rsp, err := h.c.send(readClassOfDevice{})
	if err != nil {
		return [3]byte{}, err
	}
	if len(rsp) < 4 || rsp[0] != 0x00 {
		return [3]byte{}, errors.New("read class of device failed")
	}
	var class [3]byte
	copy(class[:], rsp[1:4])
	return class, nil
}

// Attach wires the controller's events into the adapter.
func (h *HCI) Attach(a *hcid.Adapter) {
	h.adapter = a
	h.e.handleEvent(inquiryComplete, handlerFunc(h.handleInquiryComplete))
	h.e.handleEvent(inquiryResult, handlerFunc(h.handleInquiryResult))
	h.e.handleEvent(inquiryResultWithRSSI, handlerFunc(h.handleInquiryResultWithRSSI))
	h.e.handleEvent(connectionComplete, handlerFunc(h.handleConnectionComplete))
	h.e.handleEvent(disconnectionComplete, handlerFunc(h.handleDisconnectionComplete))
	h.e.handleEvent(authenticationComplete, handlerFunc(h.handleAuthComplete))
	h.e.handleEvent(remoteNameReqComplete, handlerFunc(h.handleRemoteNameComplete))
	h.e.handleEvent(pinCodeRequest, handlerFunc(h.handlePinCodeRequest))
	h.e.handleEvent(linkKeyRequest, handlerFunc(h.handleLinkKeyRequest))
	h.e.handleEvent(linkKeyNotification, handlerFunc(h.handleLinkKeyNotification))
}

func (h *HCI) mainLoop() {
	b := make([]byte, 4096)
	for {
		n, err := h.dev.Read(b)
		if err != nil {
			return
		}
		if n == 0 {
			return
		}
		p := make([]byte, n)
		copy(p, b)
		go h.handlePacket(p)
	}
}

func (h *HCI) handlePacket(b []byte) {
	t, b := packetType(b[0]), b[1:]
	var err error
	switch t {
	case typEventPkt:
		err = h.e.dispatch(b)
	case typACLDataPkt, typSCODataPkt:
		// data traffic is the kernel's business on a raw channel
	default:
		h.log.WithField("type", uint8(t)).Debug("unexpected packet")
	}
	if err != nil {
		h.log.WithError(err).Warn("event dispatch failed")
	}
}

// Gateway

func (h *HCI) Up() error   { return h.dev.up() }
func (h *HCI) Down() error { return h.dev.down() }

func (h *HCI) WriteScanEnable(s hcid.ScanEnable) error {
	return h.c.sendAndCheck(writeScanEnable{scanEnable: uint8(s)})
}

// SetLimitedDiscoverable flips the advertised inquiry access codes and
// the limited-discoverable class bit together.
func (h *HCI) SetLimitedDiscoverable(class [3]byte, limited bool) error {
	laps := [][3]byte{hcid.GeneralInquiryLAP}
	if limited {
		laps = [][3]byte{hcid.LimitedInquiryLAP, hcid.GeneralInquiryLAP}
		class[1] |= 0x20
	}
	if err := h.c.sendAndCheck(writeCurrentIACLAP{laps: laps}); err != nil {
		return err
	}
	return h.c.sendAndCheck(writeClassOfDevice{classOfDevice: class})
}

func (h *HCI) Inquiry(lap [3]byte, length, numResponses uint8) error {
	return h.c.sendAndCheck(inquiry{lap: lap, inquiryLength: length, numResponses: numResponses})
}

// InquiryCancel stops the inquiry. The controller sends no inquiry
// complete for a canceled inquiry, so one is synthesized for the
// adapter once the cancel is acknowledged.
func (h *HCI) InquiryCancel() error {
	if err := h.c.sendAndCheck(inquiryCancel{}); err != nil {
		return err
	}
	if a := h.adapter; a != nil {
		go a.InquiryComplete()
	}
	return nil
}

func (h *HCI) PeriodicInquiry(lap [3]byte, maxPeriod, minPeriod uint16, length uint8) error {
	return h.c.sendAndCheck(periodicInquiry{
		maxPeriod:     maxPeriod,
		minPeriod:     minPeriod,
		lap:           lap,
		inquiryLength: length,
	})
}

func (h *HCI) ExitPeriodicInquiry() error {
	return h.c.sendAndCheck(exitPeriodicInquiry{})
}

func (h *HCI) RemoteNameRequest(addr hcid.BDAddr) error {
	return h.c.sendAndCheck(remoteNameReq{bdaddr: [6]byte(addr), pscanRepMode: 0x02})
}

func (h *HCI) RemoteNameCancel(addr hcid.BDAddr) error {
	return h.c.sendAndCheck(remoteNameReqCancel{bdaddr: [6]byte(addr)})
}

func (h *HCI) AuthRequested(handle uint16) error {
	return h.c.sendAndCheck(authRequested{connectionHandle: handle})
}

func (h *HCI) PinCodeReply(addr hcid.BDAddr, pin string) error {
	if len(pin) < 1 || len(pin) > 16 {
		return errors.New("pin length out of range")
	}
	cp := pinCodeReply{bdaddr: [6]byte(addr), pinLength: uint8(len(pin))}
	copy(cp.pinCode[:], pin)
	return h.c.sendAndCheck(cp)
}

func (h *HCI) PinCodeNegReply(addr hcid.BDAddr) error {
	return h.c.sendAndCheck(pinCodeNegReply{bdaddr: [6]byte(addr)})
}

func (h *HCI) DeleteStoredLinkKey(addr hcid.BDAddr) error {
	return h.c.sendAndCheck(deleteStoredLinkKey{bdaddr: [6]byte(addr)})
}

func (h *HCI) Disconnect(handle uint16, reason uint8) error {
	return h.c.sendAndCheck(disconnect{connectionHandle: handle, reason: reason})
}

// Event plumbing

func classUint32(c [3]byte) uint32 {
	return uint32(c[0]) | uint32(c[1])<<8 | uint32(c[2])<<16
}

func (h *HCI) handleInquiryComplete(b []byte) error {
	var ep inquiryCompleteEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	h.adapter.InquiryComplete()
	return nil
}

func (h *HCI) handleInquiryResult(b []byte) error {
	var ep inquiryResultEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	for i := 0; i < int(ep.numResponses); i++ {
		h.adapter.InquiryResult(hcid.BDAddrFromLE(ep.bdaddr[i]), classUint32(ep.classOfDevice[i]), 0)
	}
	return nil
}

func (h *HCI) handleInquiryResultWithRSSI(b []byte) error {
	var ep inquiryResultWithRSSIEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	for i := 0; i < int(ep.numResponses); i++ {
		h.adapter.InquiryResult(hcid.BDAddrFromLE(ep.bdaddr[i]),
			classUint32(ep.classOfDevice[i]), int16(ep.rssi[i]))
	}
	return nil
}

func (h *HCI) handleConnectionComplete(b []byte) error {
	var ep connectionCompleteEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	// only successful ACL links matter to the control plane
	if ep.status != 0 || ep.linkType != 0x01 {
		return nil
	}
	h.adapter.ConnectionComplete(hcid.BDAddrFromLE(ep.bdaddr), ep.connectionHandle)
	return nil
}

func (h *HCI) handleDisconnectionComplete(b []byte) error {
	var ep disconnectionCompleteEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	if ep.status != 0 {
		return nil
	}
	h.adapter.DisconnectionComplete(ep.connectionHandle, ep.reason)
	return nil
}

func (h *HCI) handleAuthComplete(b []byte) error {
	var ep authCompleteEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	h.adapter.AuthenticationComplete(ep.connectionHandle, ep.status)
	return nil
}

func (h *HCI) handleRemoteNameComplete(b []byte) error {
	var ep remoteNameReqCompleteEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	h.adapter.RemoteNameComplete(hcid.BDAddrFromLE(ep.bdaddr), ep.name, ep.status)
	return nil
}

func (h *HCI) handlePinCodeRequest(b []byte) error {
	var ep pinCodeRequestEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	h.adapter.PinRequested(hcid.BDAddrFromLE(ep.bdaddr))
	return nil
}

func (h *HCI) handleLinkKeyRequest(b []byte) error {
	var ep linkKeyRequestEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	addr := hcid.BDAddrFromLE(ep.bdaddr)
	key, ok := h.adapter.LinkKeyRequested(addr)
	if ok {
		var raw [16]byte
		if k, err := hex.DecodeString(key); err == nil && len(k) == 16 {
			copy(raw[:], k)
			return h.c.sendAndCheck(linkKeyReply{bdaddr: [6]byte(addr), linkKey: raw})
		}
		h.log.WithField("peer", addr.String()).Warn("stored link key unusable")
	}
	return h.c.sendAndCheck(linkKeyNegReply{bdaddr: [6]byte(addr)})
}

func (h *HCI) handleLinkKeyNotification(b []byte) error {
	var ep linkKeyNotificationEP
	if err := ep.unmarshal(b); err != nil {
		return err
	}
	h.adapter.LinkKeyNotification(hcid.BDAddrFromLE(ep.bdaddr), hex.EncodeToString(ep.linkKey[:]))
	return nil
}
