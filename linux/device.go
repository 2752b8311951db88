package linux

import (
	"sync"

	"golang.org/x/sys/unix"
)

// hciDevUp / hciDevDown are _IOW('H', 201/202, int); the device id is
// passed by value.
const (
	hciDevUp   = 0x400448C9
	hciDevDown = 0x400448CA
)

type device struct {
	fd  int
	id  int
	rmu sync.Mutex
	wmu sync.Mutex
}

func newSocket(n int) (*device, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.BTPROTO_HCI)
	if err != nil {
		return nil, err
	}

	// attempt to use the linux 3.14 feature, if this fails with EINVAL fall back to raw access
	// on older kernels
	sa := unix.SockaddrHCI{Dev: uint16(n), Channel: unix.HCI_CHANNEL_USER}
	if err = unix.Bind(fd, &sa); err == unix.EINVAL {
		sa := unix.SockaddrHCI{Dev: uint16(n), Channel: unix.HCI_CHANNEL_RAW}
		err = unix.Bind(fd, &sa)
	}
	if err != nil {
		unix.Close(fd)
		return nil, err
	}

	return &device{fd: fd, id: n}, nil
}

func (d *device) Read(b []byte) (int, error) {
	d.rmu.Lock()
	defer d.rmu.Unlock()
	return unix.Read(d.fd, b)
}

func (d *device) Write(b []byte) (int, error) {
	d.wmu.Lock()
	defer d.wmu.Unlock()
	return unix.Write(d.fd, b)
}

func (d *device) Close() error {
	return unix.Close(d.fd)
}

func (d *device) up() error {
	err := unix.IoctlSetInt(d.fd, hciDevUp, d.id)
	if err == unix.EALREADY {
		return nil
	}
	return err
}

func (d *device) down() error {
	err := unix.IoctlSetInt(d.fd, hciDevDown, d.id)
	if err == unix.EALREADY {
		return nil
	}
	return err
}
