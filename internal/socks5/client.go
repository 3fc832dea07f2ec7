package socks5

import (
	"errors"
	"fmt"
	"net"

	txsocks5 "github.com/txthinking/socks5"
)

// Auth configures optional username/password authentication.
type Auth struct {
	Username string
	Password string
}

// ErrAuthFailed is returned when the server rejects or requires credentials.
var ErrAuthFailed = errors.New("socks5 auth failed")

// ReplyError carries a non-success reply code from a CONNECT request.
type ReplyError struct {
	Rep byte
}

func (e *ReplyError) Error() string {
	return fmt.Sprintf("socks5 connect failed: reply %#x", e.Rep)
}

// ClientDial negotiates on conn and asks the server to CONNECT to address.
func ClientDial(conn net.Conn, auth Auth, address string) error {
	if err := clientNegotiate(conn, auth); err != nil {
		return err
	}
	return clientConnect(conn, address)
}

func clientNegotiate(conn net.Conn, auth Auth) error {
	methods := []byte{txsocks5.MethodNone}
	if auth.Username != "" {
		methods = append(methods, txsocks5.MethodUsernamePassword)
	}

	if _, err := txsocks5.NewNegotiationRequest(methods).WriteTo(conn); err != nil {
		return fmt.Errorf("write negotiation: %w", err)
	}

	neg, err := txsocks5.NewNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read negotiation: %w", err)
	}

	switch neg.Method {
	case txsocks5.MethodNone:
		return nil
	case txsocks5.MethodUsernamePassword:
	default:
		return fmt.Errorf("unsupported negotiation method: %#x", neg.Method)
	}

	if auth.Username == "" {
		return fmt.Errorf("%w: server requires username/password", ErrAuthFailed)
	}
	if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(conn); err != nil {
		return fmt.Errorf("write userpass: %w", err)
	}
	rep, err := txsocks5.NewUserPassNegotiationReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read userpass: %w", err)
	}
	if rep.Status != txsocks5.UserPassStatusSuccess {
		return ErrAuthFailed
	}
	return nil
}

func clientConnect(conn net.Conn, address string) error {
	atyp, dstAddr, dstPort, err := txsocks5.ParseAddress(address)
	if err != nil {
		return fmt.Errorf("parse address: %w", err)
	}
	// ParseAddress length-prefixes domain names; NewRequest adds its own.
	if atyp == txsocks5.ATYPDomain {
		dstAddr = dstAddr[1:]
	}

	if _, err := txsocks5.NewRequest(txsocks5.CmdConnect, atyp, dstAddr, dstPort).WriteTo(conn); err != nil {
		return fmt.Errorf("write request: %w", err)
	}

	rep, err := txsocks5.NewReplyFrom(conn)
	if err != nil {
		return fmt.Errorf("read reply: %w", err)
	}
	if rep.Rep != txsocks5.RepSuccess {
		return &ReplyError{Rep: rep.Rep}
	}
	return nil
}
