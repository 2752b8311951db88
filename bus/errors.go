package bus

import (
	"errors"

	"github.com/godbus/dbus/v5"

	"github.com/XC-/hcid"
)

const errorPrefix = "org.bluez.Error."

// mapErr translates core errors into the D-Bus error namespace.
func mapErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	var e *hcid.Error
	if errors.As(err, &e) {
		return dbus.NewError(errorPrefix+e.Name, []interface{}{e.Message})
	}
	return dbus.NewError(errorPrefix+"Failed", []interface{}{err.Error()})
}
