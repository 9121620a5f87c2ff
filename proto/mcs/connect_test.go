package mcs

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainParametersRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	TargetDomainParameters.write(&buf)
	got := readDomainParameters(&buf)
	assert.Equal(t, TargetDomainParameters, got)
}

func TestConnectInitialRoundTrip(t *testing.T) {
	ci := NewConnectInitial([]byte("client gcc blocks"))
	data := ci.Serialize()

	got := ReadConnectInitial(data)
	assert.Equal(t, ci.CallingDomainSelector, got.CallingDomainSelector)
	assert.Equal(t, ci.CalledDomainSelector, got.CalledDomainSelector)
	assert.True(t, got.UpwardFlag)
	assert.Equal(t, ci.Target, got.Target)
	assert.Equal(t, ci.Minimum, got.Minimum)
	assert.Equal(t, ci.Maximum, got.Maximum)
	assert.Equal(t, []byte("client gcc blocks"), got.UserData)
}

func TestConnectResponseRoundTrip(t *testing.T) {
	cr := NewConnectResponse([]byte("server gcc blocks"))
	data := cr.Serialize()

	got := ReadConnectResponse(data)
	assert.Equal(t, ResultSuccess, got.Result)
	assert.Equal(t, cr.Params, got.Params)
	assert.Equal(t, []byte("server gcc blocks"), got.UserData)
}

func TestConnectInitialRejectsWrongTag(t *testing.T) {
	cr := NewConnectResponse([]byte("oops"))
	data := cr.Serialize()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = r.(error)
			}
		}()
		ReadConnectInitial(data)
	}()
	require.Error(t, err)
}

func TestBERIntegerEncodesLargeValues(t *testing.T) {
	var buf bytes.Buffer
	writeBERInt(&buf, 0xffff)
	assert.Equal(t, 0xffff, readBERInt(&buf))
}
