package bus

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XC-/hcid"
)

func TestMapErr(t *testing.T) {
	assert.Nil(t, mapErr(nil))

	derr := mapErr(&hcid.Error{Name: "NotReady", Message: "adapter is not ready"})
	require.NotNil(t, derr)
	assert.Equal(t, "org.bluez.Error.NotReady", derr.Name)
	require.Len(t, derr.Body, 1)
	assert.Equal(t, "adapter is not ready", derr.Body[0])

	derr = mapErr(errors.New("socket gone"))
	require.NotNil(t, derr)
	assert.Equal(t, "org.bluez.Error.Failed", derr.Name)
	assert.Equal(t, "socket gone", derr.Body[0])
}
