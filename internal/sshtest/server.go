// Package sshtest provides an in-process SSH server for tests, in the
// spirit of net/http/httptest.  It speaks enough of the protocol to
// stand in for a network device: password and keyboard-interactive
// auth, pty-req, window-change, shell, keepalive global requests, and
// direct-tcpip forwarding for jump-host tests.
package sshtest

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"

	"golang.org/x/crypto/ssh"
)

// Shell is run for every shell request.  It owns the channel until it
// returns; the server then sends exit-status 0 and closes the channel.
type Shell func(ch ssh.Channel)

// EchoShell writes a banner and prompt, then echoes every byte back.
func EchoShell(banner string) Shell {
	return func(ch ssh.Channel) {
		io.WriteString(ch, banner) //nolint:errcheck
		io.Copy(ch, ch)            //nolint:errcheck
	}
}

// PTY records a pty-req.
type PTY struct {
	Term       string
	Cols, Rows uint32
}

// Server is a listening SSH server bound to 127.0.0.1.
type Server struct {
	Addr    string
	HostKey ssh.PublicKey

	keyboardInteractive bool
	user     string
	password string
	shell    Shell
	signer   ssh.Signer
	ln       net.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	ptys     []PTY
	windows  []PTY
	conns    []net.Conn
	logins   int
	forwards []string
}

// Option tweaks a Server before it starts listening.
type Option func(*Server)

// WithKeyboardInteractive switches the server from password auth to a
// single-question keyboard-interactive challenge.
func WithKeyboardInteractive() Option {
	return func(s *Server) { s.keyboardInteractive = true }
}

// NewServer starts a server accepting user/password.  A nil shell
// defaults to EchoShell("").
func NewServer(user, password string, shell Shell, opts ...Option) (*Server, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	signer, err := ssh.NewSignerFromKey(priv)
	if err != nil {
		return nil, err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, err
	}
	if shell == nil {
		shell = EchoShell("")
	}
	s := &Server{
		Addr:     ln.Addr().String(),
		HostKey:  signer.PublicKey(),
		user:     user,
		password: password,
		shell:    shell,
		signer:   signer,
		ln:       ln,
	}
	for _, o := range opts {
		o(s)
	}
	s.wg.Add(1)
	go s.serve()
	return s, nil
}

// Close stops the listener and drops every client connection.
func (s *Server) Close() {
	s.ln.Close()
	s.DropConnections()
	s.wg.Wait()
}

// DropConnections closes every accepted connection without stopping
// the listener, simulating a link failure.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

// PTYs returns the pty-req payloads received so far.
func (s *Server) PTYs() []PTY {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PTY(nil), s.ptys...)
}

// WindowChanges returns the window-change payloads received so far.
func (s *Server) WindowChanges() []PTY {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PTY(nil), s.windows...)
}

// Logins returns the number of successful authentications.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Forwards returns the targets of direct-tcpip channels opened so far.
func (s *Server) Forwards() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.forwards...)
}

func (s *Server) config() *ssh.ServerConfig {
	cfg := &ssh.ServerConfig{}
	ok := func(user string, answer string) (*ssh.Permissions, error) {
		if user == s.user && answer == s.password {
			s.mu.Lock()
			s.logins++
			s.mu.Unlock()
			return nil, nil
		}
		return nil, fmt.Errorf("access denied for %q", user)
	}
	if s.keyboardInteractive {
		cfg.KeyboardInteractiveCallback = func(c ssh.ConnMetadata, client ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			answers, err := client(c.User(), "", []string{"Password: "}, []bool{false})
			if err != nil {
				return nil, err
			}
			if len(answers) != 1 {
				return nil, fmt.Errorf("expected one answer, got %d", len(answers))
			}
			return ok(c.User(), answers[0])
		}
	} else {
		cfg.PasswordCallback = func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			return ok(c.User(), string(pass))
		}
	}
	cfg.AddHostKey(s.signer)
	return cfg
}

func (s *Server) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(conn)
		}()
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	sc, chans, reqs, err := ssh.NewServerConn(conn, s.config())
	if err != nil {
		return
	}
	defer sc.Close()

	go func() {
		for req := range reqs {
			// keepalive@openssh.com and friends
			if req.WantReply {
				req.Reply(true, nil) //nolint:errcheck
			}
		}
	}()

	for nc := range chans {
		switch nc.ChannelType() {
		case "session":
			ch, chReqs, err := nc.Accept()
			if err != nil {
				continue
			}
			go s.handleSession(ch, chReqs)
		case "direct-tcpip":
			go s.handleForward(nc)
		default:
			nc.Reject(ssh.UnknownChannelType, "unsupported") //nolint:errcheck
		}
	}
}

func (s *Server) handleSession(ch ssh.Channel, reqs <-chan *ssh.Request) {
	defer ch.Close()
	for req := range reqs {
		switch req.Type {
		case "pty-req":
			p := parsePTY(req.Payload, true)
			s.mu.Lock()
			s.ptys = append(s.ptys, p)
			s.mu.Unlock()
			req.Reply(true, nil) //nolint:errcheck
		case "window-change":
			p := parsePTY(req.Payload, false)
			s.mu.Lock()
			s.windows = append(s.windows, p)
			s.mu.Unlock()
			if req.WantReply {
				req.Reply(true, nil) //nolint:errcheck
			}
		case "shell":
			req.Reply(true, nil) //nolint:errcheck
			go func() {
				for r := range reqs {
					if r.Type == "window-change" {
						p := parsePTY(r.Payload, false)
						s.mu.Lock()
						s.windows = append(s.windows, p)
						s.mu.Unlock()
					}
					if r.WantReply {
						r.Reply(r.Type == "window-change", nil) //nolint:errcheck
					}
				}
			}()
			s.shell(ch)
			ch.SendRequest("exit-status", false, ssh.Marshal(struct{ Status uint32 }{0})) //nolint:errcheck
			return
		default:
			if req.WantReply {
				req.Reply(false, nil) //nolint:errcheck
			}
		}
	}
}

func (s *Server) handleForward(nc ssh.NewChannel) {
	var target struct {
		Host     string
		Port     uint32
		OrigHost string
		OrigPort uint32
	}
	if err := ssh.Unmarshal(nc.ExtraData(), &target); err != nil {
		nc.Reject(ssh.ConnectionFailed, "bad payload") //nolint:errcheck
		return
	}
	addr := net.JoinHostPort(target.Host, fmt.Sprint(target.Port))
	upstream, err := net.Dial("tcp", addr)
	if err != nil {
		nc.Reject(ssh.ConnectionFailed, err.Error()) //nolint:errcheck
		return
	}
	ch, reqs, err := nc.Accept()
	if err != nil {
		upstream.Close()
		return
	}
	s.mu.Lock()
	s.forwards = append(s.forwards, addr)
	s.mu.Unlock()
	go ssh.DiscardRequests(reqs)

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(ch, upstream) //nolint:errcheck
		ch.CloseWrite()       //nolint:errcheck
		done <- struct{}{}
	}()
	go func() {
		io.Copy(upstream, ch) //nolint:errcheck
		done <- struct{}{}
	}()
	<-done
	upstream.Close()
	ch.Close()
}

// parsePTY decodes a pty-req (term string first) or window-change
// payload.  Both carry cols and rows as the first two uint32s after
// the optional term string.
func parsePTY(payload []byte, withTerm bool) PTY {
	var p PTY
	if withTerm {
		if len(payload) < 4 {
			return p
		}
		n := binary.BigEndian.Uint32(payload)
		if uint32(len(payload)) < 4+n {
			return p
		}
		p.Term = string(payload[4 : 4+n])
		payload = payload[4+n:]
	}
	if len(payload) >= 8 {
		p.Cols = binary.BigEndian.Uint32(payload)
		p.Rows = binary.BigEndian.Uint32(payload[4:])
	}
	return p
}
