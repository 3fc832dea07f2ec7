package request

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// MethodConnect is the request-line token that asks for a byte tunnel.
const MethodConnect = "CONNECT"

// DefaultHTTPPort is used for plain HTTP requests whose Host carries no port.
const DefaultHTTPPort = 80

// ErrMalformed is wrapped by every error Parse returns.
var ErrMalformed = errors.New("malformed request")

var (
	crlf      = []byte("\r\n")
	headerSep = ": "

	connectTargetRe = regexp.MustCompile(`^([a-z0-9.\-]+):(\d+)$`)
	hostRe          = regexp.MustCompile(`^([a-z0-9.\-]+)(?::(\S*))?$`)
)

// Descriptor is the routing view of one request head. It is not modified
// after Parse returns.
type Descriptor struct {
	Method string
	// Target is the request-target from the request line, as received.
	Target string
	Host   string
	Port   int
	// Headers maps header names, case preserved, to their last value.
	Headers    map[string]string
	Persistent bool
	// Raw is a copy of the bytes given to Parse.
	Raw []byte
}

// IsConnect reports whether the request asks for a tunnel.
func (d *Descriptor) IsConnect() bool {
	return d.Method == MethodConnect
}

// Addr returns the origin address in host:port form.
func (d *Descriptor) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// IsConnect reports whether the method token of head is exactly CONNECT.
func IsConnect(head []byte) bool {
	if !bytes.HasPrefix(head, []byte(MethodConnect)) || len(head) == len(MethodConnect) {
		return false
	}
	c := head[len(MethodConnect)]
	return c == ' ' || c == '\t'
}

// Parse builds a Descriptor from a request head: everything up to and
// including the blank line that ends the headers. Bytes after the blank line
// are kept in Raw but otherwise ignored. A head cut short by the reader is
// parsed as far as it goes.
func Parse(head []byte) (*Descriptor, error) {
	if len(head) == 0 {
		return nil, fmt.Errorf("%w: empty request", ErrMalformed)
	}

	lines := bytes.Split(head, crlf)

	method, target, err := parseRequestLine(string(lines[0]))
	if err != nil {
		return nil, err
	}

	headers, err := parseHeaders(lines[1:])
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		Method:     method,
		Target:     target,
		Headers:    headers,
		Persistent: headers["Connection"] == "keep-alive",
		Raw:        bytes.Clone(head),
	}

	if d.IsConnect() {
		err = d.resolveConnectTarget()
	} else {
		err = d.resolveHTTPTarget()
	}
	if err != nil {
		return nil, err
	}

	return d, nil
}

func parseRequestLine(line string) (method, target string, err error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return "", "", fmt.Errorf("%w: bad request line %q", ErrMalformed, line)
	}
	return fields[0], fields[1], nil
}

func parseHeaders(lines [][]byte) (map[string]string, error) {
	headers := make(map[string]string, len(lines))
	for _, line := range lines {
		if len(line) == 0 {
			break
		}
		k, v, ok := strings.Cut(string(line), headerSep)
		if !ok {
			return nil, fmt.Errorf("%w: bad header line %q", ErrMalformed, line)
		}
		headers[k] = v
	}
	return headers, nil
}

// resolveConnectTarget takes host:port from the request line, falling back to
// the Host header.
func (d *Descriptor) resolveConnectTarget() error {
	for _, candidate := range []string{d.Target, d.Headers["Host"]} {
		m := connectTargetRe.FindStringSubmatch(strings.ToLower(candidate))
		if m == nil {
			continue
		}
		port, err := parsePort(m[2])
		if err != nil {
			return err
		}
		d.Host, d.Port = m[1], port
		return nil
	}
	return fmt.Errorf("%w: CONNECT target %q is not host:port", ErrMalformed, d.Target)
}

// resolveHTTPTarget takes the origin from the Host header, or from an
// absolute-form request target when Host is missing.
func (d *Descriptor) resolveHTTPTarget() error {
	host, ok := d.Headers["Host"]
	if !ok {
		u, err := url.Parse(d.Target)
		if err != nil || u.Host == "" {
			return fmt.Errorf("%w: missing Host header", ErrMalformed)
		}
		host = u.Host
	}

	m := hostRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(host)))
	if m == nil {
		return fmt.Errorf("%w: bad host %q", ErrMalformed, host)
	}

	// A port suffix that isn't a number is ignored.
	d.Host, d.Port = m[1], DefaultHTTPPort
	if m[2] != "" && strings.Trim(m[2], "0123456789") == "" {
		port, err := parsePort(m[2])
		if err != nil {
			return err
		}
		d.Port = port
	}
	return nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(s)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: port %q out of range", ErrMalformed, s)
	}
	return port, nil
}
