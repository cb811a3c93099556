package ftp

import (
	"strconv"
	"strings"
)

// handlerFunc is the contract every registered command handler satisfies:
// given the session and the raw argument tokens, drive the control channel
// and return the reply the caller should see.
type handlerFunc func(s *Session, command string, args []string) (*Reply, error)

// commandRegistry is a name -> handler table, grounded on original_source's
// CommandRegistry/CommandHandler split, collapsed into Go's natural
// function-value-in-a-map idiom instead of a class hierarchy.
type commandRegistry struct {
	handlers map[string]handlerFunc
}

func newCommandRegistry() *commandRegistry {
	r := &commandRegistry{handlers: make(map[string]handlerFunc)}
	r.register("USER", handleUser)
	r.register("PASS", handlePass)
	r.register("PASV", handlePasv)
	r.register("PORT", handlePort)
	r.register("RETR", handleRetr)
	r.register("STOR", handleStor)
	r.register("APPE", handleAppe)
	r.register("REST", handleRest)
	r.register("ABOR", handleAbor)
	r.register("LIST", handleList)
	r.register("NLST", handleNlst)
	r.register("CWD", handleSimple)
	r.register("CDUP", handleSimple)
	r.register("PWD", handleSimple)
	r.register("MKD", handleSimple)
	r.register("RMD", handleSimple)
	r.register("DELE", handleSimple)
	r.register("RNFR", handleRnfr)
	r.register("RNTO", handleSimple)
	r.register("SIZE", handleSimple)
	r.register("TYPE", handleSimple)
	r.register("SYST", handleSimple)
	r.register("QUIT", handleSimple)
	r.register("NOOP", handleSimple)
	return r
}

func (r *commandRegistry) register(name string, h handlerFunc) {
	r.handlers[strings.ToUpper(name)] = h
}

// get returns the handler registered for name, or the generic fallback
// handler if none was registered (spec §6: "any other command is accepted
// by the generic path").
func (r *commandRegistry) get(name string) handlerFunc {
	if h, ok := r.handlers[strings.ToUpper(name)]; ok {
		return h
	}
	return handleGeneric
}

// handleGeneric formats "CMD ARGS\r\n" and returns the single reply that
// follows, for any command with no dedicated handler.
func handleGeneric(s *Session, command string, args []string) (*Reply, error) {
	return s.ctrl.cmd(command, strings.Join(args, " "))
}

func handleSimple(s *Session, command string, args []string) (*Reply, error) {
	return s.ctrl.cmd(command, strings.Join(args, " "))
}

func handleUser(s *Session, command string, args []string) (*Reply, error) {
	if len(args) < 1 {
		return nil, &ParseError{What: "USER argument", Raw: ""}
	}
	return s.ctrl.cmd("USER", args[0])
}

func handlePass(s *Session, command string, args []string) (*Reply, error) {
	pass := ""
	if len(args) > 0 {
		pass = args[0]
	}
	return s.ctrl.cmd("PASS", pass)
}

// handlePasv issues PASV and, on success, parses and records the
// data-channel peer address for the next transfer.
func handlePasv(s *Session, command string, args []string) (*Reply, error) {
	r, err := s.ctrl.cmd("PASV", "")
	if err != nil {
		return nil, err
	}
	if !r.IsSuccess() {
		return r, nil
	}
	host, port, perr := ParsePASV(r.Message)
	if perr != nil {
		return r, perr
	}
	s.pendingData = &pendingDataEndpoint{mode: modePassive, host: host, port: port}
	return r, nil
}

// handlePort accepts six comma-separated integers, a "host port" pair, or a
// bare host, binds a local active-mode listener, and sends the canonical
// six-integer PORT argument reflecting the actually-bound endpoint.
func handlePort(s *Session, command string, args []string) (*Reply, error) {
	if len(args) < 1 {
		return nil, &ParseError{What: "PORT argument", Raw: ""}
	}
	host, port, err := ParsePORTArg(strings.Join(args, " "))
	if err != nil {
		return nil, err
	}

	ln, err := listenActive(host, port)
	if err != nil {
		return nil, err
	}

	boundHost, boundPortStr, splitErr := splitHostPortSafe(ln.Addr().String())
	if splitErr != nil {
		ln.Close()
		return nil, &ParseError{What: "listener address", Raw: ln.Addr().String()}
	}
	boundPort, _ := strconv.Atoi(boundPortStr)
	if boundHost == "" || boundHost == "::" || boundHost == "0.0.0.0" {
		boundHost = host
	}

	arg, err := FormatPORTArg(boundHost, boundPort)
	if err != nil {
		ln.Close()
		return nil, err
	}

	r, err := s.ctrl.cmd("PORT", arg)
	if err != nil {
		ln.Close()
		return nil, err
	}
	if !r.IsSuccess() {
		ln.Close()
		return r, nil
	}
	s.pendingData = &pendingDataEndpoint{mode: modeActive, listener: ln}
	return r, nil
}

func handleRetr(s *Session, command string, args []string) (*Reply, error) {
	if len(args) < 1 {
		return nil, &ParseError{What: "RETR argument", Raw: ""}
	}
	return s.ctrl.cmd("RETR", args[0])
}

func handleStor(s *Session, command string, args []string) (*Reply, error) {
	if len(args) < 1 {
		return nil, &ParseError{What: "STOR argument", Raw: ""}
	}
	return s.ctrl.cmd("STOR", args[0])
}

func handleAppe(s *Session, command string, args []string) (*Reply, error) {
	if len(args) < 1 {
		return nil, &ParseError{What: "APPE argument", Raw: ""}
	}
	return s.ctrl.cmd("APPE", args[0])
}

func handleRest(s *Session, command string, args []string) (*Reply, error) {
	if len(args) < 1 {
		return nil, &ParseError{What: "REST argument", Raw: ""}
	}
	offset, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || offset < 0 {
		return nil, &ParseError{What: "REST offset", Raw: args[0]}
	}
	r, err := s.ctrl.cmd("REST", strconv.FormatInt(offset, 10))
	if err != nil {
		return nil, err
	}
	if r.Code != 350 {
		return r, &SequenceError{Command: "REST", Want: 350, Reply: r}
	}
	return r, nil
}

// handleAbor implements the urgent-data abort sequence and its reply
// pairing (spec §4.5): one structured reply if the server answers with a
// single success, or the second reply if the first was the transient
// "transfer aborted" acknowledgement.
func handleAbor(s *Session, command string, args []string) (*Reply, error) {
	if err := s.ctrl.sendAbort(); err != nil {
		return nil, err
	}
	first, err := s.ctrl.recvReply()
	if err != nil {
		return nil, err
	}
	if first.IsSuccess() {
		return first, nil
	}
	second, err := s.ctrl.recvReply()
	if err != nil {
		return nil, err
	}
	return second, nil
}

func handleList(s *Session, command string, args []string) (*Reply, error) {
	return s.ctrl.cmd("LIST", strings.Join(args, " "))
}

func handleNlst(s *Session, command string, args []string) (*Reply, error) {
	return s.ctrl.cmd("NLST", strings.Join(args, " "))
}

// handleRnfr issues RNFR; the caller (Session.Rename) is responsible for
// only sending RNTO when the reply is 350, keeping the pairing atomic at the
// dispatcher boundary.
func handleRnfr(s *Session, command string, args []string) (*Reply, error) {
	if len(args) < 1 {
		return nil, &ParseError{What: "RNFR argument", Raw: ""}
	}
	r, err := s.ctrl.cmd("RNFR", args[0])
	if err != nil {
		return nil, err
	}
	if r.Code != 350 {
		return r, &SequenceError{Command: "RNFR", Want: 350, Reply: r}
	}
	return r, nil
}

func splitHostPortSafe(addr string) (host, port string, err error) {
	idx := strings.LastIndexByte(addr, ':')
	if idx < 0 {
		return "", "", &ParseError{What: "address", Raw: addr}
	}
	return addr[:idx], addr[idx+1:], nil
}
