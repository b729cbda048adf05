package zeusircd2

import (
	"testing"

	"gopkg.in/irc.v4"

	"github.com/Pryancito/zeusircd2/config"
)

func newTestServerForDispatch() *Server {
	r := newTestRegistry()
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())
	return srv
}

func lastNumeric(conn *fakeConn) string {
	msgs := conn.messages()
	if len(msgs) == 0 {
		return ""
	}
	return msgs[len(msgs)-1].Command
}

func TestDispatchUnknownCommand(t *testing.T) {
	srv := newTestServerForDispatch()
	sess, conn := newTestSessionWithConn(srv)

	Dispatch(srv, sess, &irc.Message{Command: "BOGUS"})
	if got := waitForMessages(conn, 1); len(got) != 1 || got[0].Command != errUnknownCommand {
		t.Fatalf("got %v, want single %s numeric", got, errUnknownCommand)
	}
}

func TestDispatchNotEnoughParams(t *testing.T) {
	srv := newTestServerForDispatch()
	sess, conn := newTestSessionWithConn(srv)

	Dispatch(srv, sess, &irc.Message{Command: "USER"})
	if got := waitForMessages(conn, 1); len(got) != 1 || got[0].Command != errNeedMoreParams {
		t.Fatalf("got %v, want single %s numeric", got, errNeedMoreParams)
	}
}

func TestDispatchRequiresRegistrationForChannelCommands(t *testing.T) {
	srv := newTestServerForDispatch()
	sess, conn := newTestSessionWithConn(srv)

	Dispatch(srv, sess, &irc.Message{Command: "JOIN", Params: []string{"#test"}})
	if got := lastNumeric(waitUntilAny(conn)); got != errNotRegistered {
		t.Fatalf("got %s, want %s", got, errNotRegistered)
	}
}

func TestDispatchRejectsReregistration(t *testing.T) {
	srv := newTestServerForDispatch()
	sess, conn := newTestSessionWithConn(srv)
	u, _ := srv.Registry.RegisterNick(sess, "alice", "a", "Alice", "host")
	sess.User = u
	sess.setState(StateRegistered)

	Dispatch(srv, sess, &irc.Message{Command: "USER", Params: []string{"a", "0", "*", "Alice"}})
	if got := lastNumeric(waitUntilAny(conn)); got != errAlreadyRegistered {
		t.Fatalf("got %s, want %s", got, errAlreadyRegistered)
	}
}

func TestDispatchRequiresOperForWallops(t *testing.T) {
	srv := newTestServerForDispatch()
	sess, conn := newTestSessionWithConn(srv)
	u, _ := srv.Registry.RegisterNick(sess, "alice", "a", "Alice", "host")
	sess.User = u
	sess.setState(StateRegistered)

	Dispatch(srv, sess, &irc.Message{Command: "WALLOPS", Params: []string{"hi"}})
	if got := lastNumeric(waitUntilAny(conn)); got != errNoPrivileges {
		t.Fatalf("got %s, want %s", got, errNoPrivileges)
	}
}

func waitUntilAny(conn *fakeConn) *fakeConn {
	waitForMessages(conn, 1)
	return conn
}
