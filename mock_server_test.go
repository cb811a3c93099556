package ftp

import (
	"fmt"
	"net"
	"net/textproto"
	"strings"
	"testing"
)

// mockServer scripts a minimal FTP control (and, via dataListener, data)
// connection for integration-style tests, grounded on the teacher's
// client_test.go mockServer.
type mockServer struct {
	listener         net.Listener
	addr             string
	handlers         map[string]func(conn *textproto.Conn, args string)
	dataListener     net.Listener
	receivedCommands []string
	done             chan struct{}
}

func newMockServer(t *testing.T) *mockServer {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return &mockServer{
		listener: l,
		addr:     l.Addr().String(),
		handlers: make(map[string]func(*textproto.Conn, string)),
		done:     make(chan struct{}),
	}
}

// pasvReply returns the listener's address formatted as a PASV reply and
// records it as the mock server's data listener.
func (s *mockServer) pasvReply(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s.dataListener = ln
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return fmt.Sprintf("227 Entering Passive Mode (127,0,0,1,%d,%d)", port/256, port%256)
}

func (s *mockServer) start() {
	go func() {
		defer close(s.done)
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		fmt.Fprintf(conn, "220 Service ready\r\n")

		textConn := textproto.NewConn(conn)
		defer textConn.Close()

		for {
			line, err := textConn.ReadLine()
			if err != nil {
				return
			}

			parts := strings.SplitN(line, " ", 2)
			cmd := strings.ToUpper(parts[0])
			args := ""
			if len(parts) > 1 {
				args = parts[1]
			}
			s.receivedCommands = append(s.receivedCommands, cmd)

			if handler, ok := s.handlers[cmd]; ok {
				handler(textConn, args)
				continue
			}

			switch cmd {
			case "USER":
				_ = textConn.PrintfLine("331 User name okay, need password.")
			case "PASS":
				_ = textConn.PrintfLine("230 User logged in, proceed.")
			case "QUIT":
				_ = textConn.PrintfLine("221 Service closing control connection.")
				return
			case "TYPE":
				_ = textConn.PrintfLine("200 Command okay.")
			default:
				_ = textConn.PrintfLine("502 Command not implemented.")
			}
		}
	}()
}

func (s *mockServer) stop() {
	s.listener.Close()
	if s.dataListener != nil {
		s.dataListener.Close()
	}
	<-s.done
}
