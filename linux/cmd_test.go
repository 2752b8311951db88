package linux

import (
	"bytes"
	"encoding/hex"
	"testing"
	"time"
)

func TestCmdMarshal(t *testing.T) {
	addr := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	tests := []struct {
		name string
		cp   cmdParam
		want string // full command packet, hex
	}{
		{
			"inquiry",
			inquiry{lap: [3]byte{0x33, 0x8B, 0x9E}, inquiryLength: 0x08},
			"0101040533" + "8b9e0800",
		},
		{
			"inquiry cancel",
			inquiryCancel{},
			"01020400",
		},
		{
			"periodic inquiry",
			periodicInquiry{maxPeriod: 24, minPeriod: 16, lap: [3]byte{0x33, 0x8B, 0x9E}, inquiryLength: 0x08},
			"010304091800" + "1000338b9e0800",
		},
		{
			"exit periodic inquiry",
			exitPeriodicInquiry{},
			"01040400",
		},
		{
			"disconnect",
			disconnect{connectionHandle: 0x002A, reason: 0x13},
			"010604032a0013",
		},
		{
			"pin code reply",
			pinCodeReply{bdaddr: addr, pinLength: 4, pinCode: [16]byte{'1', '2', '3', '4'}},
			"010d0417ffeeddccbbaa0431323334000000000000000000000000",
		},
		{
			"pin code negative reply",
			pinCodeNegReply{bdaddr: addr},
			"010e0406ffeeddccbbaa",
		},
		{
			"auth requested",
			authRequested{connectionHandle: 0x002A},
			"011104022a00",
		},
		{
			"remote name request",
			remoteNameReq{bdaddr: addr, pscanRepMode: 0x02},
			"0119040affeeddccbbaa02000000",
		},
		{
			"remote name request cancel",
			remoteNameReqCancel{bdaddr: addr},
			"011a0406ffeeddccbbaa",
		},
		{
			"write scan enable",
			writeScanEnable{scanEnable: 0x03},
			"011a0c0103",
		},
		{
			"reset",
			reset{},
			"01030c00",
		},
		{
			"read class of device",
			readClassOfDevice{},
			"01230c00",
		},
		{
			"write class of device",
			writeClassOfDevice{classOfDevice: [3]byte{0x0C, 0x02, 0x7A}},
			"01240c030c027a",
		},
		{
			"delete stored link key",
			deleteStoredLinkKey{bdaddr: addr},
			"01120c07ffeeddccbbaa00",
		},
		{
			"write current IAC LAP general",
			writeCurrentIACLAP{laps: [][3]byte{{0x33, 0x8B, 0x9E}}},
			"013a0c0401338b9e",
		},
		{
			"write current IAC LAP limited",
			writeCurrentIACLAP{laps: [][3]byte{{0x00, 0x8B, 0x9E}, {0x33, 0x8B, 0x9E}}},
			"013a0c0702008b9e338b9e",
		},
		{
			"set event mask",
			setEventMask{eventMask: 0x00000000FFFFFFFF},
			"01010c08ffffffff00000000",
		},
		{
			"read bd addr",
			readBDAddr{},
			"01091000",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cmdPkt{op: tt.cp.opcode(), cp: tt.cp}.marshal()
			want, err := hex.DecodeString(tt.want)
			if err != nil {
				t.Fatalf("bad test vector: %v", err)
			}
			if !bytes.Equal(got, want) {
				t.Errorf("marshal = %x, want %x", got, want)
			}
		})
	}
}

func TestOpcodeSplit(t *testing.T) {
	if got := opDisconnect.ogf(); got != linkCtl {
		t.Errorf("ogf = 0x%02X, want 0x%02X", got, linkCtl)
	}
	if got := opDisconnect.ocf(); got != 0x0006 {
		t.Errorf("ocf = 0x%04X, want 0x0006", got)
	}
	if got := opWriteScanEnable.ogf(); got != hostCtl {
		t.Errorf("ogf = 0x%02X, want 0x%02X", got, hostCtl)
	}
}

func TestOpcodeString(t *testing.T) {
	if got := opInquiry.String(); got != "Inquiry" {
		t.Errorf("String() = %q", got)
	}
	if got := opcode(0x3FFF).String(); got != "0x3FFF" {
		t.Errorf("String() = %q", got)
	}
}

// blackhole accepts every write, so send() blocks only on the matcher.
type blackhole struct{}

func (blackhole) Write(b []byte) (int, error) { return len(b), nil }

func waitSent(t *testing.T, c *cmd, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.sent)
		c.mu.Unlock()
		if got == n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("command never registered")
}

func TestCmdSendMatchesCompleteEvent(t *testing.T) {
	c := newCmd(blackhole{})

	done := make(chan []byte, 1)
	go func() {
		rsp, err := c.send(writeScanEnable{scanEnable: 0x03})
		if err != nil {
			t.Error(err)
		}
		done <- rsp
	}()

	// wait until the packet is registered before answering
	waitSent(t, c, 1)
	// Command Complete for Write Scan Enable, status 0x00
	if err := c.handleComplete([]byte{0x01, 0x1A, 0x0C, 0x00}); err != nil {
		t.Fatal(err)
	}
	rsp := <-done
	if len(rsp) != 1 || rsp[0] != 0x00 {
		t.Errorf("rsp = %x, want 00", rsp)
	}
}

func TestCmdSendDeliversReturnParameters(t *testing.T) {
	c := newCmd(blackhole{})

	done := make(chan []byte, 1)
	go func() {
		rsp, err := c.send(readClassOfDevice{})
		if err != nil {
			t.Error(err)
		}
		done <- rsp
	}()

	waitSent(t, c, 1)
	// Command Complete for Read Class of Device: status 0x00, class 0x7A020C
	if err := c.handleComplete([]byte{0x01, 0x23, 0x0C, 0x00, 0x0C, 0x02, 0x7A}); err != nil {
		t.Fatal(err)
	}
	rsp := <-done
	if len(rsp) != 4 || rsp[0] != 0x00 {
		t.Fatalf("rsp = %x", rsp)
	}
	if rsp[1] != 0x0C || rsp[2] != 0x02 || rsp[3] != 0x7A {
		t.Errorf("class = %x", rsp[1:4])
	}
}

func TestCmdSendMatchesStatusEvent(t *testing.T) {
	c := newCmd(blackhole{})

	done := make(chan []byte, 1)
	go func() {
		rsp, err := c.send(inquiry{lap: [3]byte{0x33, 0x8B, 0x9E}, inquiryLength: 0x08})
		if err != nil {
			t.Error(err)
		}
		done <- rsp
	}()

	waitSent(t, c, 1)
	// Command Status: status 0x00, one credit, opcode 0x0401
	if err := c.handleStatus([]byte{0x00, 0x01, 0x01, 0x04}); err != nil {
		t.Fatal(err)
	}
	rsp := <-done
	if len(rsp) != 1 || rsp[0] != 0x00 {
		t.Errorf("rsp = %x, want 00", rsp)
	}
}
