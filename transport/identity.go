package transport

import "bytes"

// Protocol version advertised in identity replies.
const (
	VersionMajor byte = 1
	VersionMinor byte = 0
	VersionPatch byte = 0
)

// Universal MIDI device identity enquiry. Host applications probe attached
// devices with this message; answering it lets the server be recognised
// without any midirpc-specific handshake.
var identityRequest = []byte{
	0xF0, 0x7E, 0x00, 0x06, 0x01, 0xF7,
}

var identityReply = []byte{
	0xF0, 0x7E, 0x00, 0x06, 0x02,
	manufacturerID, 'M', 'r', 'p', 'c',
	VersionMajor, VersionMinor, VersionPatch,
	0xF7,
}

// IsIdentityRequest reports whether a datagram is a universal device
// identity enquiry.
func IsIdentityRequest(datagram []byte) bool {
	return bytes.Equal(datagram, identityRequest)
}

// IdentityRequest returns the universal device identity enquiry datagram.
func IdentityRequest() []byte {
	return append([]byte(nil), identityRequest...)
}

// IdentityReply returns the identity reply datagram, naming the protocol
// and its version.
func IdentityReply() []byte {
	return append([]byte(nil), identityReply...)
}
