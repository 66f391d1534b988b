package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidAddress   = errors.New("protocol: invalid address")
	ErrInvalidArgument  = errors.New("protocol: invalid argument")
	ErrEmptyPacket      = errors.New("protocol: empty packet")
	ErrMalformedPacket  = errors.New("protocol: malformed packet")
	ErrUnknownSymbol    = errors.New("protocol: unknown symbol")
	ErrInvalidPattern   = errors.New("protocol: invalid match pattern")
	ErrMalformedReply   = errors.New("protocol: malformed reply")
	ErrUnexpectedStatus = errors.New("protocol: unexpected reply status")
)

// CredentialError reports that the engine refused a request on credential
// grounds. Err is the sentinel the caller matches on; Address and Data carry
// what the engine said so a collaborator can prompt for a new password.
type CredentialError struct {
	Err     error
	Address string
	Data    string
}

func (e *CredentialError) Error() string {
	if e.Data == "" {
		return fmt.Sprintf("%v: address=%q", e.Err, e.Address)
	}
	return fmt.Sprintf("%v: address=%q data=%q", e.Err, e.Address, e.Data)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}
