package hcid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var peerB = BDAddr{0x11, 0x22, 0x33, 0x44, 0x55, 0x66}

func TestDiscoverDevicesLifecycle(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.DiscoverDevices(":1.10"))
	assert.True(t, e.a.IsDiscovering())
	assert.Equal(t, 1, e.notif.count("DiscoveryStarted"))
	assert.Contains(t, e.gw.names(), "Inquiry")

	e.a.InquiryResult(peerAddr, 0x5A020C, -40)
	e.a.InquiryResult(peerAddr, 0x5A020C, -40) // duplicate, no second signal
	assert.Equal(t, 1, e.notif.count("RemoteDeviceFound:"+peerStr))

	// name resolution drains before completion is announced
	e.a.InquiryComplete()
	assert.Equal(t, 0, e.notif.count("DiscoveryCompleted"))
	assert.Contains(t, e.gw.names(), "RemoteNameRequest")

	e.a.RemoteNameComplete(peerAddr, "headset", 0)
	assert.Equal(t, 1, e.notif.count("RemoteNameUpdated:"+peerStr+":headset"))
	assert.Equal(t, 1, e.notif.count("DiscoveryCompleted"))
	assert.False(t, e.a.IsDiscovering())
	assert.Equal(t, 0, e.watcher.active())

	name, _ := e.store.Get(AttrNames, peerStr)
	assert.Equal(t, "headset", name)
}

func TestDiscoverDevicesWithoutNameResolving(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.DiscoverDevicesWithoutNameResolving(":1.10"))
	e.a.InquiryResult(peerAddr, 0x5A020C, -40)
	e.a.InquiryComplete()
	assert.Equal(t, 1, e.notif.count("DiscoveryCompleted"))
	assert.NotContains(t, e.gw.names(), "RemoteNameRequest")
}

func TestGetRemoteNameDrainsWithoutNameResolving(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.DiscoverDevicesWithoutNameResolving(":1.10"))
	e.a.InquiryResult(peerAddr, 0x5A020C, -40)
	e.a.InquiryResult(peerB, 0x000000, 0)

	_, err := e.a.GetRemoteName(peerStr)
	require.Equal(t, ErrDeferred, err)

	// the explicitly requested lookup runs even though the discovery
	// itself does not resolve names
	e.a.InquiryComplete()
	calls := e.gw.callLog()
	require.Equal(t, "RemoteNameRequest("+peerStr+")", calls[len(calls)-1])
	assert.Equal(t, 0, e.notif.count("DiscoveryCompleted"))

	e.a.RemoteNameComplete(peerAddr, "headset", 0)
	assert.Equal(t, 1, e.notif.count("RemoteNameUpdated:"+peerStr+":headset"))
	assert.Equal(t, 1, e.notif.count("DiscoveryCompleted"))
	// the entry nobody asked about stays unresolved
	assert.NotContains(t, e.gw.callLog(), "RemoteNameRequest("+peerB.String()+")")
}

func TestGetRemoteNameDrainsInPeriodicWithoutNameResolving(t *testing.T) {
	e := newTestEnv()
	require.False(t, e.a.PeriodicDiscoveryNameResolving())
	require.NoError(t, e.a.StartPeriodicDiscovery(":1.10"))
	e.a.InquiryResult(peerAddr, 0x5A020C, -40)

	_, err := e.a.GetRemoteName(peerStr)
	require.Equal(t, ErrDeferred, err)

	e.a.InquiryComplete()
	assert.Contains(t, e.gw.callLog(), "RemoteNameRequest("+peerStr+")")

	e.a.RemoteNameComplete(peerAddr, "headset", 0)
	assert.Equal(t, 1, e.notif.count("RemoteNameUpdated:"+peerStr+":headset"))
	assert.True(t, e.a.IsPeriodicDiscovery())
}

func TestDiscoverDevicesNotReady(t *testing.T) {
	e := newTestEnv()
	e.a.SetPowered(false)
	err := e.a.DiscoverDevices(":1.10")
	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "NotReady", he.Name)
	assert.Empty(t, e.gw.callLog())
}

func TestDiscoverDevicesExclusion(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.DiscoverDevices(":1.10"))
	before := len(e.gw.callLog())

	// second discovery, any client: refused without touching hardware
	err := e.a.DiscoverDevices(":1.20")
	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "InProgress", he.Name)
	assert.Len(t, e.gw.callLog(), before)

	err = e.a.StartPeriodicDiscovery(":1.20")
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "InProgress", he.Name)
	assert.Len(t, e.gw.callLog(), before)
}

func TestDiscoverDevicesRejectedDuringBonding(t *testing.T) {
	e := newTestEnv()
	var cr capturedReply
	e.a.CreateBonding(":1.30", peerStr, cr.reply())
	before := len(e.gw.callLog())

	err := e.a.DiscoverDevices(":1.10")
	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "InProgress", he.Name)
	assert.Len(t, e.gw.callLog(), before, "rejection must not reach the controller")
}

func TestCancelDiscoveryDeferredReply(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.DiscoverDevices(":1.10"))

	var cr capturedReply
	e.a.CancelDiscovery(":1.10", cr.reply())
	assert.False(t, cr.resolved(), "cancel reply must wait for completion")
	assert.Contains(t, e.gw.names(), "InquiryCancel")

	e.a.InquiryComplete()
	require.True(t, cr.resolved())
	require.NoError(t, cr.result())
	assert.Equal(t, 1, e.notif.count("DiscoveryCompleted"))
	assert.False(t, e.a.IsDiscovering())
}

func TestCancelDiscoveryOwnerOnly(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.DiscoverDevices(":1.10"))

	var cr capturedReply
	e.a.CancelDiscovery(":1.99", cr.reply())
	require.True(t, cr.resolved())
	var he *Error
	require.ErrorAs(t, cr.result(), &he)
	assert.Equal(t, "NotAuthorized", he.Name)
	assert.True(t, e.a.IsDiscovering())
}

func TestCancelDiscoveryTwiceRefused(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.DiscoverDevices(":1.10"))

	var first capturedReply
	e.a.CancelDiscovery(":1.10", first.reply())
	require.False(t, first.resolved())

	var second capturedReply
	e.a.CancelDiscovery(":1.10", second.reply())
	require.True(t, second.resolved())
	var he *Error
	require.ErrorAs(t, second.result(), &he)
	assert.Equal(t, "NotAuthorized", he.Name)

	e.a.InquiryComplete()
	require.NoError(t, first.result())
}

func TestCancelDiscoveryDuringNameResolution(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.DiscoverDevices(":1.10"))
	e.a.InquiryResult(peerAddr, 0x5A020C, -40)
	e.a.InquiryComplete()
	require.Contains(t, e.gw.names(), "RemoteNameRequest")

	var cr capturedReply
	e.a.CancelDiscovery(":1.10", cr.reply())
	assert.Contains(t, e.gw.names(), "RemoteNameCancel")
	assert.NotContains(t, e.gw.names(), "InquiryCancel")
	assert.False(t, cr.resolved())

	// the canceled lookup still completes, with an error status
	e.a.RemoteNameComplete(peerAddr, "", 0x02)
	require.True(t, cr.resolved())
	require.NoError(t, cr.result())
	assert.Equal(t, 1, e.notif.count("DiscoveryCompleted"))
}

func TestDiscoveryOwnerExitCleansUp(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.DiscoverDevices(":1.10"))
	e.a.InquiryResult(peerAddr, 0x5A020C, -40)

	e.watcher.exit(":1.10")
	assert.Contains(t, e.gw.names(), "InquiryCancel")

	// double delivery is a no-op
	e.watcher.exit(":1.10")

	e.a.InquiryComplete()
	assert.False(t, e.a.IsDiscovering())
	assert.Equal(t, 1, e.notif.count("DiscoveryCompleted"))
}

func TestNameResolutionOrderPrefersRequired(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.DiscoverDevices(":1.10"))
	e.a.InquiryResult(peerB, 0x000000, 0)
	e.a.InquiryResult(peerAddr, 0x5A020C, -40)

	// a client asks for one specific name mid-discovery
	_, err := e.a.GetRemoteName(peerStr)
	assert.Equal(t, ErrDeferred, err)

	e.a.InquiryComplete()
	calls := e.gw.callLog()
	assert.Equal(t, "RemoteNameRequest("+peerStr+")", calls[len(calls)-1])

	e.a.RemoteNameComplete(peerAddr, "first", 0)
	e.a.RemoteNameComplete(peerB, "second", 0)
	assert.Equal(t, 1, e.notif.count("DiscoveryCompleted"))
}

func TestGetRemoteName(t *testing.T) {
	t.Run("cached", func(t *testing.T) {
		e := newTestEnv()
		require.NoError(t, e.store.Set(AttrNames, peerStr, "stored"))
		name, err := e.a.GetRemoteName(peerStr)
		require.NoError(t, err)
		assert.Equal(t, "stored", name)
	})
	t.Run("no discovery", func(t *testing.T) {
		e := newTestEnv()
		_, err := e.a.GetRemoteName(peerStr)
		var he *Error
		require.ErrorAs(t, err, &he)
		assert.Equal(t, "NotAvailable", he.Name)
	})
	t.Run("bad address", func(t *testing.T) {
		e := newTestEnv()
		_, err := e.a.GetRemoteName("not-an-address")
		var he *Error
		require.ErrorAs(t, err, &he)
		assert.Equal(t, "InvalidArguments", he.Name)
	})
}

func TestPeriodicDiscoveryLifecycle(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.StartPeriodicDiscovery(":1.10"))
	assert.True(t, e.a.IsPeriodicDiscovery())
	assert.Equal(t, 1, e.notif.count("PeriodicDiscoveryStarted"))

	e.a.InquiryResult(peerAddr, 0x5A020C, -40)
	e.a.InquiryComplete() // end of one inquiry phase, still periodic
	assert.True(t, e.a.IsPeriodicDiscovery())

	require.NoError(t, e.a.StopPeriodicDiscovery(":1.10"))
	assert.Contains(t, e.gw.names(), "ExitPeriodicInquiry")
	assert.Equal(t, 1, e.notif.count("PeriodicDiscoveryStopped"))
	assert.False(t, e.a.IsPeriodicDiscovery())
}

func TestStopPeriodicDiscoveryOwnerOnly(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.StartPeriodicDiscovery(":1.10"))
	err := e.a.StopPeriodicDiscovery(":1.99")
	var he *Error
	require.ErrorAs(t, err, &he)
	assert.Equal(t, "NotAuthorized", he.Name)
	assert.True(t, e.a.IsPeriodicDiscovery())
}

func TestPeriodicNameResolvingToggle(t *testing.T) {
	e := newTestEnv()
	e.a.SetPeriodicDiscoveryNameResolving(true)
	require.True(t, e.a.PeriodicDiscoveryNameResolving())
	require.NoError(t, e.a.StartPeriodicDiscovery(":1.10"))

	e.a.InquiryResult(peerAddr, 0x5A020C, -40)
	e.a.InquiryComplete()
	assert.Contains(t, e.gw.names(), "RemoteNameRequest")

	e.a.RemoteNameComplete(peerAddr, "headset", 0)
	assert.True(t, e.a.IsPeriodicDiscovery(), "name drain must not end periodic mode")
}

func TestPeriodicOwnerExitStops(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.StartPeriodicDiscovery(":1.10"))
	e.watcher.exit(":1.10")
	assert.False(t, e.a.IsPeriodicDiscovery())
	assert.Contains(t, e.gw.names(), "ExitPeriodicInquiry")
	assert.Equal(t, 1, e.notif.count("PeriodicDiscoveryStopped"))
}

func TestCreateBondingDuringPeriodicIdleGap(t *testing.T) {
	e := newTestEnv()
	require.NoError(t, e.a.StartPeriodicDiscovery(":1.10"))

	// inquiry phase running: bonding refused
	e.a.InquiryResult(peerAddr, 0x5A020C, -40)
	var busy capturedReply
	e.a.CreateBonding(":1.30", peerStr, busy.reply())
	var he *Error
	require.ErrorAs(t, busy.result(), &he)
	assert.Equal(t, "InProgress", he.Name)

	// idle gap: bonding allowed
	e.a.InquiryComplete()
	var ok capturedReply
	e.a.CreateBonding(":1.30", peerStr, ok.reply())
	assert.False(t, ok.resolved(), "bonding should be in flight")
}
