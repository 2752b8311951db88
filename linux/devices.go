package linux

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/XC-/hcid"
)

// _IOR('H', 210/211, int)
const (
	hciGetDeviceList = 0x800448D2
	hciGetDeviceInfo = 0x800448D3
)

const hciMaxDevices = 16

type hciDeviceRequest struct {
	DevID  uint16
	DevOpt uint32
}

type hciDeviceListRequest struct {
	DevNum     uint16
	DevRequest [hciMaxDevices]hciDeviceRequest
}

type HCIDeviceInfo struct {
	DevID uint16
	name  [8]byte

	btAddr [6]byte

	Flags   uint32
	DevType uint8

	Features [8]uint8

	PktType    uint32
	LinkPolicy uint32
	LinkMode   uint32

	AclMtu  uint16
	AclPkts uint16
	ScoMtu  uint16
	ScoPkts uint16

	Stats HCIDeviceStats
}

type HCIDeviceStats struct {
	ErrRx  uint32
	ErrTx  uint32
	CmdTx  uint32
	EvtRx  uint32
	AclTx  uint32
	AclRx  uint32
	ScoTx  uint32
	ScoRx  uint32
	ByteRx uint32
	ByteTx uint32
}

func (hdi *HCIDeviceInfo) Name() string {
	n := hdi.name[:]
	for i, c := range n {
		if c == 0 {
			n = n[:i]
			break
		}
	}
	return string(n)
}

// Addr returns the controller address; the kernel hands it out in wire
// byte order.
func (hdi *HCIDeviceInfo) Addr() hcid.BDAddr {
	return hcid.BDAddrFromLE(hdi.btAddr)
}

func ioctlPtr(fd int, req uint, p unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(p))
	if errno != 0 {
		return errno
	}
	return nil
}

// GetDeviceList enumerates the local controllers.
func GetDeviceList() ([]*HCIDeviceInfo, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	req := hciDeviceListRequest{DevNum: hciMaxDevices}
	if err := ioctlPtr(fd, hciGetDeviceList, unsafe.Pointer(&req)); err != nil {
		return nil, err
	}

	var dd []*HCIDeviceInfo
	for i := 0; i < int(req.DevNum); i++ {
		info := HCIDeviceInfo{DevID: req.DevRequest[i].DevID}
		if err := ioctlPtr(fd, hciGetDeviceInfo, unsafe.Pointer(&info)); err != nil {
			return dd, err
		}
		dd = append(dd, &info)
	}
	return dd, nil
}

// GetDeviceInfo reads one controller's record.
func GetDeviceInfo(id int) (*HCIDeviceInfo, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)

	info := HCIDeviceInfo{DevID: uint16(id)}
	if err := ioctlPtr(fd, hciGetDeviceInfo, unsafe.Pointer(&info)); err != nil {
		return nil, err
	}
	return &info, nil
}
