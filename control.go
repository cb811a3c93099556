package ftp

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// controlChannel owns the control connection: the bufio.Reader/net.Conn pair
// used to send commands and read replies, plus the locking needed to keep a
// worker goroutine's final-reply read from racing a concurrently issued
// command (spec §4.2, §5).
type controlChannel struct {
	conn   net.Conn
	reader *bufio.Reader
	log    *slog.Logger

	// readMu serializes access to reader so a transfer worker reading the
	// final post-transfer reply can't interleave with a command issued from
	// another goroutine (e.g. a mid-transfer ABOR).
	readMu sync.Mutex

	timeout time.Duration
}

// dialControl opens a TCP control connection to addr and reads the server's
// initial greeting (spec §4.1, the 220 reply preceding any command).
func dialControl(addr string, timeout time.Duration, log *slog.Logger) (*controlChannel, *Reply, error) {
	d := net.Dialer{Timeout: timeout}
	conn, err := d.Dial("tcp", addr)
	if err != nil {
		return nil, nil, &ConnectionError{Op: "dial", Err: err}
	}

	c := &controlChannel{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		log:     log,
		timeout: timeout,
	}

	greeting, err := c.recvReply()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return c, greeting, nil
}

// send writes one command line, appending the CRLF terminator (spec §4.1).
// Commands are logged at debug level with the argument redacted for PASS.
func (c *controlChannel) send(command, arg string) error {
	if c.timeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.timeout))
	}

	line := command
	if arg != "" {
		line = command + " " + arg
	}

	logged := line
	if command == "PASS" {
		logged = "PASS ***"
	}
	c.log.Debug("ftp: >", "line", logged)

	_, err := c.conn.Write([]byte(line + "\r\n"))
	if err != nil {
		return &ConnectionError{Op: "send", Err: err}
	}
	return nil
}

// recvReply reads one reply from the control connection under readMu, so it
// is safe to call concurrently with another goroutine's recvReply (the
// second caller simply waits its turn; the wire guarantees replies arrive in
// the order their commands were issued).
func (c *controlChannel) recvReply() (*Reply, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.timeout > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.timeout))
	}

	r, err := readReply(c.reader)
	if err != nil {
		return nil, err
	}
	c.log.Debug("ftp: <", "code", r.Code, "message", r.Message)
	return r, nil
}

// cmd sends command+arg and returns the reply that follows. It is the
// workhorse every dispatcher handler calls through.
func (c *controlChannel) cmd(command, arg string) (*Reply, error) {
	if err := c.send(command, arg); err != nil {
		return nil, err
	}
	return c.recvReply()
}

// sendAbort issues ABOR using Telnet urgent (out-of-band) data, per RFC 959
// §4.2 / RFC 2389 "Telnet Synch" sequencing: the client sends the Telnet
// Interrupt Process (IP) and Synch sequence as urgent data, then the literal
// "ABOR" command on the normal data stream. The server answers first with a
// 426 (transfer aborted) for the in-progress transfer, then a 226 for the
// ABOR command itself — or, for a transfer that finished just before the
// ABOR arrived, a single 226.
//
// Sending true out-of-band (MSG_OOB) data has no portable net.Conn API, so
// this reaches for the raw socket via SyscallConn. If that isn't available
// (a non-TCP conn, e.g. net.Pipe in tests), it falls back to a single plain
// inline "ABOR\r\n" — functionally equivalent for servers that don't
// strictly require the Synch sequence to interrupt a blocked data transfer.
func (c *controlChannel) sendAbort() error {
	tcpConn, ok := c.conn.(*net.TCPConn)
	if !ok {
		return c.send("ABOR", "")
	}

	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return c.send("ABOR", "")
	}

	// Telnet IP (Interrupt Process, 0xFF 0xF4) and Synch (0xFF 0xF2) each go
	// out as their own urgent-data send: TCP's urgent pointer marks only the
	// last byte of a given send() call, so concatenating both sequences
	// into one send would leave everything but the trailing 0xF2 as
	// ordinary in-line data, defeating the interrupt.
	var sendErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		if sendErr = unix.Send(int(fd), []byte{0xFF, 0xF4}, unix.MSG_OOB); sendErr != nil {
			return
		}
		sendErr = unix.Send(int(fd), []byte{0xFF, 0xF2}, unix.MSG_OOB)
	})
	if ctrlErr != nil || sendErr != nil {
		return c.send("ABOR", "")
	}

	c.log.Debug("ftp: > ABOR (urgent)")
	return c.send("ABOR", "")
}

func (c *controlChannel) close() error {
	return c.conn.Close()
}

func (c *controlChannel) localAddr() net.Addr  { return c.conn.LocalAddr() }
func (c *controlChannel) remoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *controlChannel) String() string {
	return fmt.Sprintf("control(%s<->%s)", c.localAddr(), c.remoteAddr())
}
