// Package zeusircd2 is the protocol engine and state hub of the ircd: the
// per-connection session state machine, the command dispatcher, the
// in-memory Registry of nicks/channels, the broadcast fan-out, and the
// glue wiring those to the database and relay packages (§2 "Data flow").
package zeusircd2

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/irc.v4"

	"github.com/Pryancito/zeusircd2/auth"
	"github.com/Pryancito/zeusircd2/config"
	"github.com/Pryancito/zeusircd2/database"
	"github.com/Pryancito/zeusircd2/relay"
	"github.com/Pryancito/zeusircd2/xirc"
)

// Server is the top-level, process-wide runtime: the Registry, connection
// counters, the config snapshot and the relay handle (§9 "Global state").
// It's explicitly constructed once and passed by reference to every
// session task.
type Server struct {
	Logger Logger

	cfg atomic.Value // *config.Config

	Registry    *Registry
	Access      *AccessControl
	Cloaker     *Cloaker
	Broadcaster *Broadcaster

	DB  database.Database
	Bus *relay.Bus

	startTime time.Time

	mu         sync.Mutex
	sessions   map[*Session]struct{}
	perIPCount map[string]int

	connCount int64 // atomic

	listeners []net.Listener
	stop      chan struct{}
	wg        sync.WaitGroup
}

// NewServer constructs a Server from an initial config snapshot and an
// already-open database handle. Bus may be nil (standalone, no peers).
func NewServer(cfg *config.Config, db database.Database, logger Logger) *Server {
	if logger == nil {
		logger = NewLogger("[zeusircd2]")
	}
	srv := &Server{
		Logger:     logger,
		DB:         db,
		startTime:  time.Now(),
		sessions:   make(map[*Session]struct{}),
		perIPCount: make(map[string]int),
		stop:       make(chan struct{}),
	}
	srv.cfg.Store(cfg)

	casefold := xirc.CaseMappingRFC1459
	srv.Registry = NewRegistry(casefold, cfg.MaxJoins)
	srv.Access = NewAccessControl(cfg, casefold)
	srv.Cloaker = NewCloaker(cfg.Cloak)
	srv.Broadcaster = NewBroadcaster(srv.Registry)

	return srv
}

// CurrentConfig returns the active config snapshot. Safe for concurrent
// use; REHASH atomically swaps the pointer (§5 "Shared resources").
func (srv *Server) CurrentConfig() *config.Config {
	return srv.cfg.Load().(*config.Config)
}

// Rehash atomically swaps in a new config snapshot and rebuilds the
// access-control operator list from it.
func (srv *Server) Rehash(cfg *config.Config) {
	srv.cfg.Store(cfg)
	srv.Access = NewAccessControl(cfg, xirc.CaseMappingRFC1459)
	srv.Cloaker = NewCloaker(cfg.Cloak)
	srv.Logger.Printf("configuration reloaded")
}

func (srv *Server) Name() string {
	return srv.CurrentConfig().Name
}

// SetBus wires an inter-server relay bus into the server and its Registry
// as the outbound publisher (§4.G). The inbound-event handler is the one
// given to relay.New (cmd/ircd/main.go passes ApplyRemoteEvent).
func (srv *Server) SetBus(bus *relay.Bus) {
	srv.Bus = bus
	srv.Registry.SetRelay(newBusPublisher(bus))
}

func (srv *Server) allSessions() []*Session {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	out := make([]*Session, 0, len(srv.sessions))
	for s := range srv.sessions {
		out = append(out, s)
	}
	return out
}

// acceptConn enforces the connection caps of §4.B: server-wide and per-IP
// limits. Connections past either limit are accepted then immediately
// closed with ERROR, matching real client expectations of a TCP accept
// followed by a clean protocol-level rejection.
func (srv *Server) acceptConn(ip net.IP) bool {
	cfg := srv.CurrentConfig()

	srv.mu.Lock()
	defer srv.mu.Unlock()

	if cfg.MaxConnections > 0 && len(srv.sessions) >= cfg.MaxConnections {
		return false
	}
	key := ip.String()
	if cfg.MaxConnectionsPerIP > 0 && srv.perIPCount[key] >= cfg.MaxConnectionsPerIP {
		return false
	}
	srv.perIPCount[key]++
	return true
}

func (srv *Server) releaseConn(ip net.IP) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	key := ip.String()
	srv.perIPCount[key]--
	if srv.perIPCount[key] <= 0 {
		delete(srv.perIPCount, key)
	}
}

// Serve accepts connections on ln until it errors or Shutdown is called,
// handing each one to handleConn in its own goroutine — "one task per
// connection" (§5 "Scheduling model").
func (srv *Server) Serve(ln net.Listener) error {
	srv.mu.Lock()
	srv.listeners = append(srv.listeners, ln)
	srv.mu.Unlock()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-srv.stop:
				return nil
			default:
				return err
			}
		}
		srv.wg.Add(1)
		go func() {
			defer srv.wg.Done()
			srv.handleConn(conn)
		}()
	}
}

// HandleConn runs the full per-connection lifecycle for a connection
// accepted outside of Serve's own accept loop (e.g. a WebSocket upgrade in
// cmd/ircd/main.go, where the HTTP server owns the accept loop instead).
func (srv *Server) HandleConn(conn net.Conn) {
	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.handleConn(conn)
	}()
}

func (srv *Server) handleConn(netConn net.Conn) {
	ip := parseIPFromAddr(netConn.RemoteAddr())
	if !srv.acceptConn(ip) {
		netConn.Write([]byte("ERROR :Too many connections\r\n"))
		netConn.Close()
		return
	}
	defer srv.releaseConn(ip)

	logger := newPrefixLogger(srv.Logger, fmt.Sprintf("session %s: ", netConn.RemoteAddr()))
	sess := newSession(srv, netIRCConn(netConn), logger)

	srv.mu.Lock()
	srv.sessions[sess] = struct{}{}
	srv.mu.Unlock()

	defer func() {
		srv.mu.Lock()
		delete(srv.sessions, sess)
		srv.mu.Unlock()
		srv.dropSession(sess)
	}()

	srv.readLoop(sess)
}

// readLoop is the per-connection reader task (§2 component B -> D data
// flow): it frames messages via the codec (irc.Conn, from gopkg.in/irc.v4)
// and hands each to Dispatch.
func (srv *Server) readLoop(sess *Session) {
	for {
		sess.conn.SetReadDeadline(time.Now().Add(1 * time.Hour))
		msg, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		sess.Touch()

		cost := 1
		if msg.Command == "PRIVMSG" || msg.Command == "NOTICE" {
			cost = 3
		}
		if !sess.Allow(cost) {
			continue // flood control: silently drop over budget, never block the reader
		}

		Dispatch(srv, sess, msg)

		if sess.State() == StateClosed {
			return
		}
	}
}

// dropSession runs the cancellation cleanup of §5: unregister the user (if
// any) from the Registry under the normal locking discipline, notifying
// common-channel peers and releasing the nick.
func (srv *Server) dropSession(sess *Session) {
	u := sess.User
	if u == nil {
		return
	}

	srv.Broadcaster.ToCommonChannelPeers(u, quitMessage(u, "Connection closed"))
	srv.Registry.Unregister(u)
	srv.Registry.PublishQuit(u.Nick, "Connection closed")
}

// killForCollision ends u's current registration after it loses a §4.C
// nick-collision merge: common-channel peers see it QUIT, and a local
// session drops back to UNREGISTERED (via resetToUnregistered) rather than
// being disconnected outright, so the client can re-register under a
// different nick. A peer-owned loser is just unregistered locally — this
// server never owned that connection to begin with.
func (srv *Server) killForCollision(u *User, reason string) {
	srv.Broadcaster.ToCommonChannelPeers(u, quitMessage(u, reason))
	srv.Registry.Unregister(u)

	sess := u.Session
	if sess == nil {
		return
	}
	sess.Send(&irc.Message{
		Prefix:  &irc.Prefix{Name: srv.Name()},
		Command: "KILL",
		Params:  []string{u.Nick, reason},
	})
	sess.resetToUnregistered()
}

// checkNickPassword fetches a registered-nick record on demand and verifies
// pass against it (§4.H "password verification fetches on demand"). ok is
// true when the nick isn't password-protected (or no database is
// configured), or when pass matches the stored hash.
func (srv *Server) checkNickPassword(nick, pass string) (bool, error) {
	if srv.DB == nil {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rec, err := srv.DB.LoadRegistered(ctx, database.KindNick, srv.Registry.fold(nick))
	if err != nil {
		if err == database.ErrNotFound {
			return true, nil
		}
		return false, err
	}
	if rec.Password == "" {
		return true, nil
	}
	return auth.VerifyPassword(rec.Password, pass)
}

// PublishBurst sends this server's full local state to the bus (§4.G burst
// protocol): a BEGIN marker, one STATE envelope covering every locally-owned
// user and channel, then an END marker. Wired to Bus.OnReconnect, so it
// fires on initial connect and again on every reconnect after an outage.
func (srv *Server) PublishBurst() {
	if srv.Bus == nil {
		return
	}
	srv.Bus.Publish(relay.EventBurstBegin, struct{}{})

	var payload relay.BurstStatePayload
	for _, u := range srv.Registry.AllUsers() {
		if u.Session == nil {
			continue // only this server's own users belong in our burst
		}
		payload.Users = append(payload.Users, relay.UserAddPayload{
			Nick: u.Nick, User: u.Username, Host: u.Host, RealName: u.RealName,
			SignonTS: u.SignonTime.Unix(),
		})
	}
	for _, ch := range srv.Registry.AllChannels() {
		var members []string
		for _, nickCF := range ch.MemberNicks() {
			u := srv.Registry.Lookup(nickCF)
			if u == nil || u.Session == nil {
				continue
			}
			members = append(members, rankPrefixedNick(ch, nickCF, u.Nick))
		}
		if len(members) == 0 {
			continue
		}
		payload.Channels = append(payload.Channels, relay.BurstChannelState{
			Channel: ch.Name, ChannelTS: ch.ChannelTS, Topic: ch.Topic,
			Modes: string(ch.Modes), Members: members,
		})
	}

	srv.Bus.Publish(relay.EventBurstState, payload)
	srv.Bus.Publish(relay.EventBurstEnd, struct{}{})
}

// rankPrefixedNick renders nickCF's membership rank in ch as a
// prefix-decorated display nick ("@nick"), the wire shape
// relay.BurstChannelState.Members uses.
func rankPrefixedNick(ch *Channel, nickCF, displayNick string) string {
	ms, ok := ch.MembershipOf(nickCF)
	if !ok {
		return displayNick
	}
	highest, ok := ms.Highest()
	if !ok {
		return displayNick
	}
	return string(highest.Prefix) + displayNick
}

// quitMessage builds the QUIT broadcast to a user's common-channel peers,
// shared between local disconnects and applied remote quits.
func quitMessage(u *User, reason string) *irc.Message {
	return &irc.Message{
		Prefix:  &irc.Prefix{Name: u.Nick, User: u.Username, Host: cloakedOrReal(u)},
		Command: "QUIT",
		Params:  []string{reason},
	}
}

func cloakedOrReal(u *User) string {
	if u.Cloaked != "" {
		return u.Cloaked
	}
	return u.Host
}

// Shutdown stops accepting new connections, closes every listener and
// waits for in-flight session tasks to drain their cleanup path.
func (srv *Server) Shutdown(ctx context.Context) error {
	close(srv.stop)

	srv.mu.Lock()
	for _, ln := range srv.listeners {
		ln.Close()
	}
	srv.mu.Unlock()

	for _, sess := range srv.allSessions() {
		sess.Close("Server shutting down")
	}

	done := make(chan struct{})
	go func() {
		srv.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start launches the background keepalive sweep. Serve (for each
// configured listener) and relay bus connection are started by the caller
// (cmd/ircd/main.go), which owns listener construction (TLS, WebSocket,
// PROXY protocol).
func (srv *Server) Start() {
	srv.wg.Add(1)
	go func() {
		defer srv.wg.Done()
		srv.keepaliveSweep(srv.stop)
	}()
}

func (srv *Server) ConnCount() int64 {
	return atomic.LoadInt64(&srv.connCount)
}
