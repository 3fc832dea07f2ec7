package socks5

import (
	"errors"
	"fmt"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	RepSuccess           = txsocks5.RepSuccess
	RepHostUnreachable   = txsocks5.RepHostUnreachable
	RepConnectionRefused = txsocks5.RepConnectionRefused
)

// ServerHandshake runs method negotiation and reads the CONNECT request,
// returning the requested destination as host:port. Other commands are
// answered with "command not supported".
func ServerHandshake(conn net.Conn, auth Auth) (string, error) {
	if err := serverNegotiate(conn, auth); err != nil {
		return "", err
	}

	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}
	if req.Cmd != txsocks5.CmdConnect {
		_, _ = zeroAddrReply(txsocks5.RepCommandNotSupported).WriteTo(conn)
		return "", fmt.Errorf("unsupported command %#x", req.Cmd)
	}
	return req.Address(), nil
}

// WriteReply sends a CONNECT reply. bound may be nil for failure replies.
func WriteReply(conn net.Conn, rep byte, bound net.Addr) error {
	r := zeroAddrReply(rep)
	if bound != nil {
		atyp, addr, port, err := txsocks5.ParseAddress(bound.String())
		if err != nil {
			return fmt.Errorf("parse bound address %q: %w", bound.String(), err)
		}
		if atyp == txsocks5.ATYPDomain {
			addr = addr[1:]
		}
		r = txsocks5.NewReply(rep, atyp, addr, port)
	}
	if _, err := r.WriteTo(conn); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}

func serverNegotiate(conn net.Conn, auth Auth) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("negotiation request: %w", err)
	}

	want := byte(txsocks5.MethodNone)
	if auth.Username != "" {
		want = txsocks5.MethodUsernamePassword
	}
	if !slices.Contains(neg.Methods, want) {
		// RFC 1928: 0xFF means no acceptable methods.
		_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(conn)
		return errors.New("no acceptable auth method")
	}
	if _, err := txsocks5.NewNegotiationReply(want).WriteTo(conn); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	if want == txsocks5.MethodNone {
		return nil
	}

	urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
	if err != nil {
		return fmt.Errorf("read userpass: %w", err)
	}
	if string(urq.Uname) != auth.Username || string(urq.Passwd) != auth.Password {
		_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
		return ErrAuthFailed
	}
	if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
		return fmt.Errorf("write userpass: %w", err)
	}
	return nil
}

func zeroAddrReply(rep byte) *txsocks5.Reply {
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}
