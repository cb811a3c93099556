package ftp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/haldane/goftp/internal/ratelimit"
)

// Session is the high-level façade over the control channel, data channel,
// command dispatcher and transfer engine. It holds session-wide state:
// connection status and the last transfer's payload (for in-memory
// downloads and directory listings).
type Session struct {
	ctrl *controlChannel
	reg  *commandRegistry

	transfers *TransferManager

	log     *slog.Logger
	timeout time.Duration

	activeMode bool
	activeHost string
	activePort int

	limiter *ratelimit.Limiter
	metrics *transferMetrics

	keepAliveInterval time.Duration
	keepAliveStop     chan struct{}

	mu               sync.Mutex
	connected        bool
	pendingData      *pendingDataEndpoint
	lastTransferData []byte
	lastCommandAt    time.Time
}

// Dial opens the control connection to addr ("host:port"), reads the
// server's greeting, and returns a Session ready for Login.
func Dial(addr string, opts ...Option) (*Session, error) {
	s := &Session{
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		timeout: 30 * time.Second,
		reg:     newCommandRegistry(),
	}

	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, fmt.Errorf("ftp: apply option: %w", err)
		}
	}

	ctrl, greeting, err := dialControl(addr, s.timeout, s.log)
	if err != nil {
		return nil, err
	}
	if greeting.IsError() {
		ctrl.close()
		return nil, &ProtocolError{Command: "CONNECT", Reply: greeting}
	}

	s.ctrl = ctrl
	s.transfers = newTransferManager(s, s.log, s.metrics)
	s.connected = true
	s.lastCommandAt = time.Now()

	s.startKeepAlive()
	return s, nil
}

func (s *Session) startKeepAlive() {
	if s.keepAliveInterval == 0 {
		return
	}
	s.keepAliveStop = make(chan struct{})
	ticker := time.NewTicker(s.keepAliveInterval / 2)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if len(s.transfers.Active()) > 0 {
					continue
				}
				s.mu.Lock()
				idle := time.Since(s.lastCommandAt)
				s.mu.Unlock()
				if idle >= s.keepAliveInterval {
					s.log.Debug("ftp: keep-alive NOOP")
					_, _ = s.Execute("NOOP")
				}
			case <-s.keepAliveStop:
				return
			}
		}
	}()
}

// Execute dispatches command with args through the registry and returns the
// reply. Any other command than the ones with dedicated handling is sent
// verbatim on the generic path (spec §6).
func (s *Session) Execute(command string, args ...string) (*Reply, error) {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil, &NotConnectedError{}
	}
	s.lastCommandAt = time.Now()
	s.mu.Unlock()

	command = strings.ToUpper(command)
	h := s.reg.get(command)
	return h(s, command, args)
}

// Login authenticates with USER then, if challenged with 331, PASS.
func (s *Session) Login(username, password string) error {
	r, err := s.Execute("USER", username)
	if err != nil {
		return err
	}
	if r.Code == 230 {
		return nil
	}
	if r.Code != 331 {
		return &ProtocolError{Command: "USER", Reply: r}
	}

	r, err = s.Execute("PASS", password)
	if err != nil {
		return err
	}
	if !r.IsSuccess() {
		return &ProtocolError{Command: "PASS", Reply: r}
	}
	return nil
}

// Rename issues RNFR then, only if it answers 350, RNTO — atomic at the
// dispatcher boundary (spec §4.3).
func (s *Session) Rename(from, to string) error {
	r, err := s.Execute("RNFR", from)
	if err != nil {
		return err
	}
	if r.Code != 350 {
		return &SequenceError{Command: "RNFR", Want: 350, Reply: r}
	}

	r, err = s.Execute("RNTO", to)
	if err != nil {
		return err
	}
	if !r.IsSuccess() {
		return &ProtocolError{Command: "RNTO", Reply: r}
	}
	return nil
}

// Size returns the remote file's size via SIZE. The second return value is
// false if the server didn't answer with a well-formed 213 reply.
func (s *Session) Size(path string) (int64, bool) {
	r, err := s.Execute("SIZE", path)
	if err != nil {
		return 0, false
	}
	return ParseSIZEReply(r)
}

// Pwd returns the current remote working directory via PWD.
func (s *Session) Pwd() (string, error) {
	r, err := s.Execute("PWD")
	if err != nil {
		return "", err
	}
	dir, ok := ParsePWDReply(r)
	if !ok {
		return "", &ParseError{What: "PWD reply", Raw: r.Message}
	}
	return dir, nil
}

// openDataEndpoint ensures a data channel endpoint is set up for the next
// transfer: PASV by default, PORT if the session was configured with
// WithActiveMode.
func (s *Session) openDataEndpoint() (*pendingDataEndpoint, error) {
	if s.activeMode {
		host := s.activeHost
		if host == "" {
			host = localAddrHost(s.ctrl.localAddr())
		}
		if _, err := s.Execute("PORT", fmt.Sprintf("%s %d", host, s.activePort)); err != nil {
			return nil, err
		}
	} else {
		if _, err := s.Execute("PASV"); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	ep := s.pendingData
	s.pendingData = nil
	s.mu.Unlock()
	if ep == nil {
		return nil, &ConnectionError{Op: "data endpoint", Err: errNoPendingEndpoint{}}
	}
	return ep, nil
}

type errNoPendingEndpoint struct{}

func (errNoPendingEndpoint) Error() string { return "no data channel endpoint configured" }

// restartAt issues REST <offset> when offset > 0, required before the
// following RETR/STOR/APPE (spec §4.3, §9).
func (s *Session) restartAt(offset int64) error {
	if offset <= 0 {
		return nil
	}
	_, err := s.Execute("REST", fmt.Sprintf("%d", offset))
	return err
}

// DownloadAsync starts an asynchronous download of remote into opts.LocalPath
// (or into memory if empty) and returns its Transfer immediately after the
// preliminary reply (spec §4.3 asynchronous mode).
func (s *Session) DownloadAsync(remote string, opts TransferOptions) (*Transfer, error) {
	if opts.TotalSize == 0 {
		if size, ok := s.Size(remote); ok {
			opts.TotalSize = size
		}
	}
	if opts.Limiter == nil {
		opts.Limiter = s.limiter
	}

	ep, err := s.openDataEndpoint()
	if err != nil {
		return nil, err
	}
	if err := s.restartAt(opts.Offset); err != nil {
		return nil, err
	}

	r, err := s.Execute("RETR", remote)
	if err != nil {
		return nil, err
	}
	if !r.IsPreliminary() && !r.IsSuccess() {
		return nil, &ProtocolError{Command: "RETR", Reply: r}
	}

	return s.transfers.StartDownload(remote, ep, opts), nil
}

// Download runs DownloadAsync and blocks until the transfer completes,
// returning the downloaded bytes for in-memory transfers.
func (s *Session) Download(ctx context.Context, remote string, opts TransferOptions) ([]byte, error) {
	var result []byte
	var finalErr error
	done := make(chan struct{})

	userCB := opts.OnComplete
	opts.OnComplete = func(t *Transfer, res []byte, err error) {
		result, finalErr = res, err
		if userCB != nil {
			userCB(t, res, err)
		}
		close(done)
	}

	t, err := s.DownloadAsync(remote, opts)
	if err != nil {
		return nil, err
	}
	_ = t
	select {
	case <-done:
	case <-ctx.Done():
		t.Cancel()
		<-done
	}
	return result, finalErr
}

// UploadAsync starts an asynchronous upload of opts.Data or opts.LocalPath to
// remote and returns its Transfer immediately after the preliminary reply.
func (s *Session) UploadAsync(remote string, opts TransferOptions) (*Transfer, error) {
	if opts.Limiter == nil {
		opts.Limiter = s.limiter
	}
	if opts.TotalSize == 0 {
		if len(opts.Data) > 0 {
			opts.TotalSize = int64(len(opts.Data))
		} else if opts.LocalPath != "" {
			if fi, err := statSize(opts.LocalPath); err == nil {
				opts.TotalSize = fi
			}
		}
	}

	ep, err := s.openDataEndpoint()
	if err != nil {
		return nil, err
	}
	if err := s.restartAt(opts.Offset); err != nil {
		return nil, err
	}

	r, err := s.Execute("STOR", remote)
	if err != nil {
		return nil, err
	}
	if !r.IsPreliminary() && !r.IsSuccess() {
		return nil, &ProtocolError{Command: "STOR", Reply: r}
	}

	return s.transfers.StartUpload(remote, ep, opts), nil
}

// Upload runs UploadAsync and blocks until the transfer completes.
func (s *Session) Upload(ctx context.Context, remote string, opts TransferOptions) error {
	done := make(chan struct{})
	var finalErr error

	userCB := opts.OnComplete
	opts.OnComplete = func(t *Transfer, res []byte, err error) {
		finalErr = err
		if userCB != nil {
			userCB(t, res, err)
		}
		close(done)
	}

	t, err := s.UploadAsync(remote, opts)
	if err != nil {
		return err
	}
	select {
	case <-done:
	case <-ctx.Done():
		t.Cancel()
		<-done
	}
	return finalErr
}

// AppendAsync starts an asynchronous append to remote, using opts.Data or
// opts.LocalPath as the source.
func (s *Session) AppendAsync(remote string, opts TransferOptions) (*Transfer, error) {
	if opts.Limiter == nil {
		opts.Limiter = s.limiter
	}

	ep, err := s.openDataEndpoint()
	if err != nil {
		return nil, err
	}

	r, err := s.Execute("APPE", remote)
	if err != nil {
		return nil, err
	}
	if !r.IsPreliminary() && !r.IsSuccess() {
		return nil, &ProtocolError{Command: "APPE", Reply: r}
	}

	return s.transfers.StartAppend(remote, ep, opts), nil
}

// List runs LIST (or NLST if nameOnly) against path and returns the raw
// listing bytes, also retained as the session's last-transfer payload
// (spec §4.3, "listing initiators").
func (s *Session) List(path string, nameOnly bool) ([]byte, error) {
	ep, err := s.openDataEndpoint()
	if err != nil {
		return nil, err
	}

	cmd := "LIST"
	if nameOnly {
		cmd = "NLST"
	}
	var args []string
	if path != "" {
		args = []string{path}
	}

	r, err := s.Execute(cmd, args...)
	if err != nil {
		return nil, err
	}
	if !r.IsPreliminary() && !r.IsSuccess() {
		return nil, &ProtocolError{Command: cmd, Reply: r}
	}

	dc, err := ep.connect(s.timeout)
	if err != nil {
		return nil, err
	}
	data, readErr := io.ReadAll(dc)
	dc.Close()

	final, err := s.ctrl.recvReply()
	if err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, &ConnectionError{Op: "recv", Err: readErr}
	}
	if !final.IsSuccess() {
		return nil, &ProtocolError{Command: cmd, Reply: final}
	}

	s.setLastTransferPayload(data)
	return data, nil
}

func (s *Session) setLastTransferPayload(data []byte) {
	s.mu.Lock()
	s.lastTransferData = data
	s.mu.Unlock()
}

// LastTransferPayload returns the bytes retained from the most recent
// in-memory download or listing.
func (s *Session) LastTransferPayload() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTransferData
}

// Abort cancels every active transfer and issues ABOR over the control
// channel (spec §4.5 mid-transfer abort).
func (s *Session) Abort() (*Reply, error) {
	s.transfers.CancelAll()
	return s.Execute("ABOR")
}

// Close cancels active transfers, waits briefly for workers to finish, sends
// QUIT (swallowing any failure), and closes the control channel
// unconditionally (spec §4.6 close guarantees).
func (s *Session) Close() error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return nil
	}
	s.connected = false
	s.mu.Unlock()

	if s.keepAliveStop != nil {
		close(s.keepAliveStop)
	}

	s.transfers.CancelAll()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.transfers.WaitAll(ctx)

	_, _ = s.ctrl.cmd("QUIT", "")

	return s.ctrl.close()
}

func localAddrHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
