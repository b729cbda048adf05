package zeusircd2

import (
	"testing"
	"time"

	"github.com/Pryancito/zeusircd2/config"
	"github.com/Pryancito/zeusircd2/relay"
)

func envelopeFor(t *testing.T, typ relay.EventType, origin string, payload interface{}) *relay.Envelope {
	t.Helper()
	env, err := relay.NewEnvelope(typ, origin, 1, 0, payload)
	if err != nil {
		t.Fatalf("NewEnvelope: %v", err)
	}
	return env
}

func TestApplyRemoteEventUserAdd(t *testing.T) {
	r := newTestRegistry()
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	env := envelopeFor(t, relay.EventUserAdd, "peer1", relay.UserAddPayload{
		Nick: "eve", User: "e", Host: "evil.example", RealName: "Eve",
	})
	ApplyRemoteEvent(srv, env)

	u := r.Lookup("eve")
	if u == nil {
		t.Fatalf("remote user was not registered")
	}
	if u.IsLocal() {
		t.Fatalf("remote user should have no local session")
	}
	if u.Origin != "peer1" {
		t.Fatalf("got origin %q, want peer1", u.Origin)
	}
}

func TestApplyRemoteEventUserQuitNotifiesLocalPeers(t *testing.T) {
	r := newTestRegistry()
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	remote, _ := r.RegisterRemoteUser("eve", "e", "Eve", "host", 0, "peer1")
	r.ApplyRemoteJoin(remote, "#test", 1)

	local, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	localSess, localConn := newTestSessionWithConn(srv)
	local.Session = localSess
	r.Join(local, "#test", "")

	env := envelopeFor(t, relay.EventUserQuit, "peer1", relay.UserQuitPayload{Nick: "eve", Reason: "pq"})
	ApplyRemoteEvent(srv, env)

	if r.Lookup("eve") != nil {
		t.Fatalf("quit remote user should be removed from the registry")
	}
	if msgs := waitForMessages(localConn, 1); len(msgs) != 1 {
		t.Fatalf("local common-channel peer should see the relayed QUIT, got %d", len(msgs))
	}
}

func TestApplyRemoteEventChanJoin(t *testing.T) {
	r := newTestRegistry()
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	remote, _ := r.RegisterRemoteUser("eve", "e", "Eve", "host", 0, "peer1")
	env := envelopeFor(t, relay.EventChanJoin, "peer1", relay.ChanJoinPayload{
		Channel: "#relayed", Nick: "eve", ChannelTS: 42,
	})
	ApplyRemoteEvent(srv, env)

	ch := r.LookupChannel("#relayed")
	if ch == nil {
		t.Fatalf("channel should have been created by the relayed join")
	}
	if _, ok := ch.MembershipOf(remote.nickCF); !ok {
		t.Fatalf("remote user should be a member after the relayed join")
	}
	if ch.ChannelTS != 42 {
		t.Fatalf("got ChannelTS %d, want 42", ch.ChannelTS)
	}
}

func TestApplyRemoteEventNickChange(t *testing.T) {
	r := newTestRegistry()
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	r.RegisterRemoteUser("eve", "e", "Eve", "host", 0, "peer1")
	env := envelopeFor(t, relay.EventNickChange, "peer1", relay.NickChangePayload{OldNick: "eve", NewNick: "evelyn"})
	ApplyRemoteEvent(srv, env)

	if r.Lookup("eve") != nil {
		t.Fatalf("old nick should no longer resolve")
	}
	if r.Lookup("evelyn") == nil {
		t.Fatalf("new nick should resolve to the renamed remote user")
	}
}

func TestApplyRemoteEventFramingMarkersAreNoop(t *testing.T) {
	r := newTestRegistry()
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	for _, typ := range []relay.EventType{
		relay.EventServerHello, relay.EventServerBye,
		relay.EventBurstBegin, relay.EventBurstEnd,
	} {
		env := envelopeFor(t, typ, "peer1", struct{}{})
		ApplyRemoteEvent(srv, env)
	}

	if users, _, channels := r.Counts(); users != 0 || channels != 0 {
		t.Fatalf("framing markers should not mutate the registry, got %d users, %d channels", users, channels)
	}
}

func TestApplyRemoteEventUserAddCollisionIncomingWins(t *testing.T) {
	r := newTestRegistry()
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	local, _ := r.RegisterNick(nil, "eve", "e1", "Eve1", "host1")
	local.SignonTime = time.Unix(100, 0)
	sess, conn := newTestSessionWithConn(srv)
	sess.setState(StateRegistered)
	local.Session = sess

	// Incoming record signed on earlier (lower timestamp): it wins the merge,
	// so the existing local session should be KILL'd and reset.
	env := envelopeFor(t, relay.EventUserAdd, "peer1", relay.UserAddPayload{
		Nick: "eve", User: "e2", Host: "host2", RealName: "Eve2", SignonTS: 50,
	})
	ApplyRemoteEvent(srv, env)

	u := r.Lookup("eve")
	if u == nil {
		t.Fatalf("winning incoming record should now own the nick")
	}
	if u.IsLocal() {
		t.Fatalf("the registered record should be the remote one, not the local loser")
	}
	if sess.State() != StateUnregistered {
		t.Fatalf("loser session should be reset to UNREGISTERED, got state %v", sess.State())
	}
	msgs := waitForMessages(conn, 1)
	if len(msgs) == 0 || msgs[0].Command != "KILL" {
		t.Fatalf("loser session should receive a KILL, got %+v", msgs)
	}
}

func TestApplyRemoteEventUserAddCollisionExistingWins(t *testing.T) {
	r := newTestRegistry()
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	local, _ := r.RegisterNick(nil, "eve", "e1", "Eve1", "host1")
	local.SignonTime = time.Unix(50, 0)
	sess, _ := newTestSessionWithConn(srv)
	sess.setState(StateRegistered)
	local.Session = sess

	// Incoming record signed on later (higher timestamp): it loses, so it
	// must be silently dropped and the existing local user left untouched.
	env := envelopeFor(t, relay.EventUserAdd, "peer1", relay.UserAddPayload{
		Nick: "eve", User: "e2", Host: "host2", RealName: "Eve2", SignonTS: 100,
	})
	ApplyRemoteEvent(srv, env)

	u := r.Lookup("eve")
	if u != local {
		t.Fatalf("existing local user should keep the nick after losing its own collision check")
	}
	if sess.State() != StateRegistered {
		t.Fatalf("winning local session should be unaffected, got state %v", sess.State())
	}
}

func TestApplyRemoteEventUserModeAndChanMode(t *testing.T) {
	r := newTestRegistry()
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	remote, _ := r.RegisterRemoteUser("eve", "e", "Eve", "host", 0, "peer1")
	r.ApplyRemoteJoin(remote, "#relayed", 1)

	ApplyRemoteEvent(srv, envelopeFor(t, relay.EventUserMode, "peer1", relay.UserModePayload{
		Nick: "eve", Modes: "i",
	}))
	if !remote.Modes.Has('i') {
		t.Fatalf("remote user mode should have been applied")
	}

	ApplyRemoteEvent(srv, envelopeFor(t, relay.EventChanMode, "peer1", relay.ChanModePayload{
		Channel: "#relayed", Setter: "eve", Modes: "nt",
	}))
	ch := r.LookupChannel("#relayed")
	if ch == nil || !ch.Modes.Has('n') || !ch.Modes.Has('t') {
		t.Fatalf("channel mode should have been applied wholesale")
	}
}

func TestApplyRemoteEventChanKick(t *testing.T) {
	r := newTestRegistry()
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	target, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	targetSess, targetConn := newTestSessionWithConn(srv)
	target.Session = targetSess
	r.Join(target, "#relayed", "")

	ApplyRemoteEvent(srv, envelopeFor(t, relay.EventChanKick, "peer1", relay.ChanKickPayload{
		Channel: "#relayed", Kicker: "eve", Target: "alice", Reason: "bye",
	}))

	ch := r.LookupChannel("#relayed")
	if ch != nil {
		if _, ok := ch.MembershipOf(r.fold("alice")); ok {
			t.Fatalf("kicked user should no longer be a channel member")
		}
	}
	if msgs := waitForMessages(targetConn, 1); len(msgs) == 0 || msgs[0].Command != "KICK" {
		t.Fatalf("kicked user should see the relayed KICK, got %+v", msgs)
	}
}

func TestApplyRemoteEventMessageDeliversToLocalChannel(t *testing.T) {
	r := newTestRegistry()
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	alice, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	sess, conn := newTestSessionWithConn(srv)
	alice.Session = sess
	r.Join(alice, "#test", "")

	r.RegisterRemoteUser("eve", "e", "Eve", "evil.example", 0, "peer1")

	ApplyRemoteEvent(srv, envelopeFor(t, relay.EventMessage, "peer1", relay.MessagePayload{
		Source: "eve", Target: "#test", Command: "PRIVMSG", Text: "hi from afar",
	}))

	msgs := waitForMessages(conn, 1)
	if len(msgs) != 1 || msgs[0].Command != "PRIVMSG" || msgs[0].Params[1] != "hi from afar" {
		t.Fatalf("local member should receive the relayed message, got %+v", msgs)
	}
}

func TestApplyRemoteEventBurstStateMergesUsersAndChannels(t *testing.T) {
	r := newTestRegistry()
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	env := envelopeFor(t, relay.EventBurstState, "peer1", relay.BurstStatePayload{
		Users: []relay.UserAddPayload{
			{Nick: "eve", User: "e", Host: "evil.example", RealName: "Eve", SignonTS: 10},
		},
		Channels: []relay.BurstChannelState{
			{
				Channel:   "#relayed",
				ChannelTS: 5,
				Topic:     "burst topic",
				Modes:     "nt",
				Members:   []string{"@eve"},
			},
		},
	})
	ApplyRemoteEvent(srv, env)

	u := r.Lookup("eve")
	if u == nil {
		t.Fatalf("burst should register the unseen remote user")
	}
	ch := r.LookupChannel("#relayed")
	if ch == nil {
		t.Fatalf("burst should create the channel")
	}
	if ch.Topic != "burst topic" || !ch.Modes.Has('n') || !ch.Modes.Has('t') {
		t.Fatalf("burst should apply channel topic and modes, got %+v", ch.Topic)
	}
	ms, ok := ch.MembershipOf(r.fold("eve"))
	if !ok {
		t.Fatalf("burst member should be joined to the channel")
	}
	if highest, ok := ms.Highest(); !ok || highest.Prefix != '@' {
		t.Fatalf("burst member rank prefix should have been applied, got %+v", ms)
	}
}
