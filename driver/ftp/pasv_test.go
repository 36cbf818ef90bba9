package ftp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePASVRoundTrip(t *testing.T) {
	ip := net.ParseIP("192.168.1.42").To4()
	body, err := EncodePASV(ip, 7777)
	require.NoError(t, err)
	assert.Equal(t, "(192,168,1,42,30,97)", body)

	gotIP, gotPort, err := DecodePASV(body)
	require.NoError(t, err)
	assert.True(t, gotIP.Equal(ip))
	assert.Equal(t, 7777, gotPort)
}

func TestEncodePASVRejectsIPv6(t *testing.T) {
	_, err := EncodePASV(net.ParseIP("::1"), 21)
	assert.Error(t, err)
}

func TestDecodePASVToleratesMissingParens(t *testing.T) {
	ip, port, err := DecodePASV("192,168,1,42,30,97")
	require.NoError(t, err)
	assert.True(t, ip.Equal(net.ParseIP("192.168.1.42")))
	assert.Equal(t, 7777, port)
}

func TestDecodePASVRejectsMalformed(t *testing.T) {
	_, _, err := DecodePASV("(1,2,3)")
	assert.Error(t, err)

	_, _, err = DecodePASV("(1,2,3,4,5,300)")
	assert.Error(t, err)
}

func TestEncodeDecodeEPSVRoundTrip(t *testing.T) {
	body := EncodeEPSV(5282)
	assert.Equal(t, "(|||5282|)", body)

	port, err := DecodeEPSV(body)
	require.NoError(t, err)
	assert.Equal(t, 5282, port)
}

func TestDecodeEPSVRejectsMalformed(t *testing.T) {
	_, err := DecodeEPSV("no parens here")
	assert.Error(t, err)
}
