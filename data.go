package ftp

import (
	"net"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// dataMode selects how a data channel is established for a transfer: passive
// (client dials the server's advertised address) or active (server dials a
// listener the client opens, per PORT).
type dataMode int

const (
	modePassive dataMode = iota
	modeActive
)

// pendingDataEndpoint records how the next transfer's data channel should be
// established, set by a preceding PASV or PORT command and consumed by the
// transfer engine when the transfer actually starts.
type pendingDataEndpoint struct {
	mode dataMode

	// Passive mode: the server-advertised peer address to dial.
	host string
	port int

	// Active mode: the listener already bound by PORT, awaiting exactly one
	// accept from the transfer engine.
	listener net.Listener
}

// connect establishes the data connection this endpoint describes. It
// consumes the endpoint: callers must not reuse a pendingDataEndpoint across
// transfers (spec §9: every transfer reconnects its own data channel).
func (p *pendingDataEndpoint) connect(timeout time.Duration) (*dataChannel, error) {
	switch p.mode {
	case modePassive:
		return dialPassive(p.host, p.port, timeout)
	case modeActive:
		return acceptActive(p.listener, timeout)
	default:
		return nil, &ConnectionError{Op: "connect", Err: errUnknownDataMode{}}
	}
}

type errUnknownDataMode struct{}

func (errUnknownDataMode) Error() string { return "unknown data channel mode" }

// dataChannel wraps the single data connection used for one transfer or one
// directory listing. Every transfer opens its own (spec §9 open question:
// LIST/NLST always reconnects), so this type carries no reuse logic.
type dataChannel struct {
	conn    net.Conn
	timeout time.Duration
}

// listenActive opens a listener for active mode on an ephemeral or
// explicitly requested local port, setting SO_REUSEADDR so a rapid sequence
// of transfers doesn't fail to rebind a recently closed port (grounded on
// original_source's explicit socket.SO_REUSEADDR in DataConnection.setup_active).
func listenActive(host string, port int) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	addr := net.JoinHostPort(host, portString(port))
	ln, err := lc.Listen(nil, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Op: "listen", Err: err}
	}
	return ln, nil
}

// acceptActive accepts exactly one connection on ln, the server's data
// connection to our PORT listener, then closes the listener: a listener is
// single-use per transfer.
func acceptActive(ln net.Listener, timeout time.Duration) (*dataChannel, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := ln.Accept()
		done <- result{conn, err}
	}()

	var res result
	if timeout > 0 {
		select {
		case res = <-done:
		case <-time.After(timeout):
			ln.Close()
			return nil, &ConnectionError{Op: "accept", Err: errTimeout{}}
		}
	} else {
		res = <-done
	}
	ln.Close()
	if res.err != nil {
		return nil, &ConnectionError{Op: "accept", Err: res.err}
	}
	return &dataChannel{conn: res.conn, timeout: timeout}, nil
}

// dialPassive opens the client side of a passive-mode data connection to the
// host/port the server returned in its PASV reply.
func dialPassive(host string, port int, timeout time.Duration) (*dataChannel, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial("tcp", net.JoinHostPort(host, portString(port)))
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	return &dataChannel{conn: conn, timeout: timeout}, nil
}

func (d *dataChannel) Read(p []byte) (int, error) {
	if d.timeout > 0 {
		d.conn.SetReadDeadline(time.Now().Add(d.timeout))
	}
	return d.conn.Read(p)
}

func (d *dataChannel) Write(p []byte) (int, error) {
	if d.timeout > 0 {
		d.conn.SetWriteDeadline(time.Now().Add(d.timeout))
	}
	return d.conn.Write(p)
}

func (d *dataChannel) Close() error {
	return d.conn.Close()
}

func portString(port int) string {
	return strconv.Itoa(port)
}

// errTimeout is a minimal error used for the accept-deadline fallback path
// (net.Listener has no native per-Accept deadline on all platforms).
type errTimeout struct{}

func (errTimeout) Error() string   { return "i/o timeout" }
func (errTimeout) Timeout() bool   { return true }
func (errTimeout) Temporary() bool { return true }
