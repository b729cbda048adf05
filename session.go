package zeusircd2

import (
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/irc.v4"

	"github.com/Pryancito/zeusircd2/xirc"
)

// sessionState is the per-connection state machine (§4.B).
type sessionState int

const (
	StateUnregistered sessionState = iota
	StateCapNeg
	StateAuthPending
	StateRegistered
	StateQuitting
	StateClosed
)

func (s sessionState) String() string {
	switch s {
	case StateUnregistered:
		return "unregistered"
	case StateCapNeg:
		return "cap-neg"
	case StateAuthPending:
		return "auth-pending"
	case StateRegistered:
		return "registered"
	case StateQuitting:
		return "quitting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ircConn is the bidirectional IRC message stream a Session drives,
// adapted from the teacher's conn.go ircConn interface so tests can
// substitute an in-memory pipe instead of a real net.Conn.
type ircConn interface {
	ReadMessage() (*irc.Message, error)
	WriteMessage(*irc.Message) error
	Close() error
	SetWriteDeadline(time.Time) error
	SetReadDeadline(time.Time) error
	RemoteAddr() net.Addr
}

func netIRCConn(c net.Conn) ircConn {
	return &netConnWrapper{Conn: irc.NewConn(c), raw: c}
}

type netConnWrapper struct {
	*irc.Conn
	raw net.Conn
}

func (w *netConnWrapper) RemoteAddr() net.Addr { return w.raw.RemoteAddr() }

func (w *netConnWrapper) Close() error { return w.raw.Close() }

func (w *netConnWrapper) SetWriteDeadline(t time.Time) error { return w.raw.SetWriteDeadline(t) }

func (w *netConnWrapper) SetReadDeadline(t time.Time) error { return w.raw.SetReadDeadline(t) }

const (
	sendQueueSize = 256
	writeTimeout  = 10 * time.Second
)

// Session is the per-connection state machine: UNREGISTERED through
// CAP-NEG and AUTH-PENDING to REGISTERED, QUITTING and CLOSED (§4.B). It
// owns the bounded send queue, flood-control token bucket and keepalive
// timers; the Registry owns the User record a Session points to once
// registration completes.
type Session struct {
	conn   ircConn
	srv    *Server
	logger Logger

	mu       sync.Mutex
	state    sessionState
	closed   bool
	outgoing chan *irc.Message

	RemoteAddr string
	RemoteIP   net.IP

	Caps xirc.CapRegistry

	// Handshake accumulation before registration completes.
	pendingNick     string
	pendingUser     string
	pendingRealName string
	pendingPass     string
	gotNick         bool
	gotUser         bool

	User *User // set once registration completes

	lastActivity time.Time
	lastPingSent time.Time
	pingCookie   string
	awaitingPong bool

	limiter *rate.Limiter // flood-control token bucket, keyed per session
}

func newSession(srv *Server, conn ircConn, logger Logger) *Session {
	raddr := conn.RemoteAddr()
	ip := parseIPFromAddr(raddr)

	caps := xirc.NewCapRegistry()
	for _, name := range []string{"sasl", "server-time", "echo-message", "multi-prefix", "away-notify"} {
		caps.Available[name] = ""
	}

	outgoing := make(chan *irc.Message, sendQueueSize)
	s := &Session{
		conn:         conn,
		srv:          srv,
		logger:       logger,
		outgoing:     outgoing,
		RemoteAddr:   raddr.String(),
		RemoteIP:     ip,
		Caps:         caps,
		limiter:      rate.NewLimiter(rate.Every(2*time.Second), 10),
		lastActivity: time.Now(),
	}

	go s.writeLoop(outgoing)
	return s
}

func parseIPFromAddr(addr net.Addr) net.IP {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// writeLoop drains outgoing and writes to the wire, the same
// never-block-the-producer shape as the teacher's conn.go.
func (s *Session) writeLoop(outgoing <-chan *irc.Message) {
	for msg := range outgoing {
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := s.conn.WriteMessage(msg); err != nil {
			s.logger.Printf("write error: %v", err)
			break
		}
	}
	s.conn.Close()
	for range outgoing {
		// drain so a racing Send never blocks after the writer exits
	}
}

func (s *Session) State() sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st sessionState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Send enqueues msg for delivery; it never blocks the caller. If the send
// queue is full the session is closed (§4.E backpressure policy, §5
// "Backpressure").
func (s *Session) Send(msg *irc.Message) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	select {
	case s.outgoing <- msg:
	default:
		s.logger.Printf("send queue full, dropping session")
		s.Close("Send queue full")
	}
}

// Numeric sends a numeric reply prefixed by the server name and addressed
// to the session's current nick (or "*" pre-registration).
func (s *Session) Numeric(serverName, numeric string, params ...string) {
	nick := "*"
	if u := s.User; u != nil {
		nick = u.Nick
	} else if s.pendingNick != "" {
		nick = s.pendingNick
	}
	s.Send(&irc.Message{
		Prefix:  &irc.Prefix{Name: serverName},
		Command: numeric,
		Params:  append([]string{nick}, params...),
	})
}

func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateClosed
	s.mu.Unlock()

	// Enqueued directly: Send drops everything once closed is set.
	select {
	case s.outgoing <- &irc.Message{Command: "ERROR", Params: []string{reason}}:
	default:
	}
	close(s.outgoing)
}

// resetToUnregistered drops a session back to UNREGISTERED after it loses a
// §4.C nick-collision merge: it clears the completed registration so the
// client can NICK/USER again on the same connection instead of being
// disconnected outright.
func (s *Session) resetToUnregistered() {
	s.mu.Lock()
	s.state = StateUnregistered
	s.User = nil
	s.pendingNick = ""
	s.pendingUser = ""
	s.pendingRealName = ""
	s.gotNick = false
	s.gotUser = false
	s.mu.Unlock()
}

func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.awaitingPong = false
	s.mu.Unlock()
}

func (s *Session) Allow(cost int) bool {
	return s.limiter.AllowN(time.Now(), cost)
}

// needsPing and pingTimedOut implement the keepalive sweep predicate from
// §4.B, evaluated by the server's keepalive goroutine (keepalive.go).
func (s *Session) needsPing(pingTimeout time.Duration) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.awaitingPong {
		return false, ""
	}
	if time.Since(s.lastActivity) <= pingTimeout {
		return false, ""
	}
	s.lastPingSent = time.Now()
	s.awaitingPong = true
	s.pingCookie = fmt.Sprintf("%d", time.Now().UnixNano())
	return true, s.pingCookie
}

func (s *Session) pingTimedOut(pongTimeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.awaitingPong && time.Since(s.lastPingSent) > pongTimeout
}

func (s *Session) checkPong(cookie string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.awaitingPong || cookie != s.pingCookie {
		return false
	}
	s.awaitingPong = false
	s.lastActivity = time.Now()
	return true
}
