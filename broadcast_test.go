package zeusircd2

import (
	"net"
	"sync"
	"testing"
	"time"

	"gopkg.in/irc.v4"

	"github.com/Pryancito/zeusircd2/config"
)

// fakeConn is a minimal ircConn that records writes instead of touching a
// real socket, for tests that only care about what a Session sends.
type fakeConn struct {
	mu   sync.Mutex
	sent []*irc.Message
	addr net.Addr
}

func (c *fakeConn) ReadMessage() (*irc.Message, error) { select {} }
func (c *fakeConn) WriteMessage(m *irc.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}
func (c *fakeConn) Close() error                     { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) RemoteAddr() net.Addr             { return c.addr }

func (c *fakeConn) messages() []*irc.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*irc.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func newTestSessionWithConn(srv *Server) (*Session, *fakeConn) {
	conn := &fakeConn{addr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: 6667}}
	return newSession(srv, conn, NewLogger("[test]")), conn
}

func waitForMessages(conn *fakeConn, n int) []*irc.Message {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if msgs := conn.messages(); len(msgs) >= n {
			return msgs
		}
		time.Sleep(time.Millisecond)
	}
	return conn.messages()
}

func TestBroadcastToCommonChannelPeers(t *testing.T) {
	r := newTestRegistry()

	srv := &Server{Registry: r}
	srv.cfg.Store(config.Defaults())
	b := NewBroadcaster(r)

	alice, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	aliceSess, aliceConn := newTestSessionWithConn(srv)
	alice.Session = aliceSess

	bob, _ := r.RegisterNick(nil, "bob", "b", "Bob", "host")
	bobSess, bobConn := newTestSessionWithConn(srv)
	bob.Session = bobSess

	stranger, _ := r.RegisterNick(nil, "carol", "c", "Carol", "host")
	strangerSess, strangerConn := newTestSessionWithConn(srv)
	stranger.Session = strangerSess

	r.Join(alice, "#test", "")
	r.Join(bob, "#test", "")

	quit := quitMessage(alice, "bye")
	b.ToCommonChannelPeers(alice, quit)

	if msgs := waitForMessages(bobConn, 1); len(msgs) != 1 {
		t.Fatalf("bob should receive alice's QUIT, got %d messages", len(msgs))
	}
	time.Sleep(20 * time.Millisecond)
	if msgs := aliceConn.messages(); len(msgs) != 0 {
		t.Fatalf("sender should not receive its own QUIT broadcast, got %d", len(msgs))
	}
	if msgs := strangerConn.messages(); len(msgs) != 0 {
		t.Fatalf("user with no shared channel should not receive the QUIT, got %d", len(msgs))
	}
}

func TestBroadcastToChannelExcludesSenderUnlessEcho(t *testing.T) {
	r := newTestRegistry()
	srv := &Server{Registry: r}
	srv.cfg.Store(config.Defaults())
	b := NewBroadcaster(r)

	alice, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	aliceSess, aliceConn := newTestSessionWithConn(srv)
	alice.Session = aliceSess

	bob, _ := r.RegisterNick(nil, "bob", "b", "Bob", "host")
	bobSess, bobConn := newTestSessionWithConn(srv)
	bob.Session = bobSess

	ch, _ := r.Join(alice, "#test", "")
	r.Join(bob, "#test", "")

	msg := &irc.Message{Command: "PRIVMSG", Params: []string{"#test", "hi"}}
	b.ToChannel(ch, alice, msg, false)

	if msgs := waitForMessages(bobConn, 1); len(msgs) != 1 {
		t.Fatalf("bob should receive the channel message, got %d", len(msgs))
	}
	time.Sleep(20 * time.Millisecond)
	if msgs := aliceConn.messages(); len(msgs) != 0 {
		t.Fatalf("sender should not get its own message without echo-message, got %d", len(msgs))
	}

	b.ToChannel(ch, alice, msg, true)
	if msgs := waitForMessages(aliceConn, 1); len(msgs) != 1 {
		t.Fatalf("sender should get its own message with echo requested, got %d", len(msgs))
	}
}
