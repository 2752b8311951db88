package bus

import (
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/XC-/hcid"
)

const agentInterface = "org.bluez.Agent"

// agentProxy forwards authorization questions to a client-side agent
// object. Answers come back asynchronously and are handed to the core's
// callbacks from a plain goroutine, never from inside a bus handler.
type agentProxy struct {
	obj dbus.BusObject
	log logrus.FieldLogger
}

func newAgentProxy(conn *dbus.Conn, owner string, path dbus.ObjectPath) *agentProxy {
	return &agentProxy{
		obj: conn.Object(owner, path),
		log: logrus.WithField("agent", string(path)),
	}
}

func (p *agentProxy) ConfirmModeChange(mode string, done func(error)) {
	call := p.obj.Go(agentInterface+".ConfirmModeChange", 0, nil, mode)
	go func() {
		<-call.Done
		done(call.Err)
	}()
}

func (p *agentProxy) RequestPinCode(addr hcid.BDAddr, done func(string, error)) {
	call := p.obj.Go(agentInterface+".RequestPinCode", 0, nil, addr.String())
	go func() {
		<-call.Done
		if call.Err != nil {
			done("", call.Err)
			return
		}
		var pin string
		if err := call.Store(&pin); err != nil {
			done("", err)
			return
		}
		done(pin, nil)
	}()
}

func (p *agentProxy) Cancel() {
	p.obj.Go(agentInterface+".Cancel", dbus.FlagNoReplyExpected, nil)
}

func (p *agentProxy) Release() {
	p.obj.Go(agentInterface+".Release", dbus.FlagNoReplyExpected, nil)
}
