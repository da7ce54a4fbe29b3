package stun

import (
	"encoding/binary"
	"errors"
	"net"
	"net/netip"

	pion "github.com/pion/stun/v3"
)

const (
	headerLen   = 20
	magicCookie = 0x2112A442

	typeBindingRequest  = 0x0001
	typeBindingResponse = 0x0101

	attrXorMappedAddress = 0x0020
	attrSoftware         = 0x8022

	// Software is advertised in every response.
	Software = "Geogram STUN 1.0"
)

var (
	ErrTooShort          = errors.New("datagram shorter than STUN header")
	ErrBadCookie         = errors.New("magic cookie mismatch")
	ErrLengthMismatch    = errors.New("message length does not match datagram")
	ErrNotBindingRequest = errors.New("not a binding request")
	ErrBadAddress        = errors.New("invalid mapped address")
)

// TxID is a transaction ID.
type TxID [12]byte

// ParseBindingRequest validates the fixed header of b and returns its
// transaction ID. Attributes are not inspected.
func ParseBindingRequest(b []byte) (TxID, error) {
	var tx TxID
	if len(b) < headerLen {
		return tx, ErrTooShort
	}
	if binary.BigEndian.Uint32(b[4:8]) != magicCookie {
		return tx, ErrBadCookie
	}
	if int(binary.BigEndian.Uint16(b[2:4]))+headerLen != len(b) {
		return tx, ErrLengthMismatch
	}
	if binary.BigEndian.Uint16(b[0:2]) != typeBindingRequest {
		return tx, ErrNotBindingRequest
	}
	copy(tx[:], b[8:headerLen])
	return tx, nil
}

// BindingResponse builds a success response echoing tx, carrying the
// sender's address as XOR-MAPPED-ADDRESS followed by SOFTWARE.
func BindingResponse(tx TxID, from netip.AddrPort) ([]byte, error) {
	addr := from.Addr().Unmap()
	if !addr.IsValid() {
		return nil, ErrBadAddress
	}

	msg, err := pion.Build(
		pion.NewTransactionIDSetter(tx),
		pion.BindingSuccess,
		&pion.XORMappedAddress{IP: net.IP(addr.AsSlice()), Port: int(from.Port())},
		pion.NewSoftware(Software),
	)
	if err != nil {
		return nil, err
	}
	return msg.Raw, nil
}
