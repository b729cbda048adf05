package zeusircd2

import (
	"testing"

	"gopkg.in/irc.v4"

	"github.com/Pryancito/zeusircd2/config"
)

// fakeRelayPublisher records relayPublisher calls without touching a real
// bus, for tests that only care about whether a message was relayed.
type fakeRelayPublisher struct {
	messages []relayedMessage
}

type relayedMessage struct {
	source, target, command, text string
}

func (p *fakeRelayPublisher) PublishUserAdd(nick, user, host, realname string, signonUnix int64) error {
	return nil
}
func (p *fakeRelayPublisher) PublishUserQuit(nick, reason string) error       { return nil }
func (p *fakeRelayPublisher) PublishNickChange(oldNick, newNick string) error { return nil }
func (p *fakeRelayPublisher) PublishUserMode(nick, modes string) error        { return nil }
func (p *fakeRelayPublisher) PublishChanJoin(channel, nick string, channelTS int64) error {
	return nil
}
func (p *fakeRelayPublisher) PublishChanPart(channel, nick, reason string) error { return nil }
func (p *fakeRelayPublisher) PublishChanMode(channel, setter, modes string, args []string) error {
	return nil
}
func (p *fakeRelayPublisher) PublishChanTopic(channel, setter, topic string) error { return nil }
func (p *fakeRelayPublisher) PublishChanKick(channel, kicker, target, reason string) error {
	return nil
}
func (p *fakeRelayPublisher) PublishMessage(source, target, command, text string) error {
	p.messages = append(p.messages, relayedMessage{source, target, command, text})
	return nil
}

func TestDeliverTextRelaysToChannelWithRemoteMember(t *testing.T) {
	r := newTestRegistry()
	fake := &fakeRelayPublisher{}
	r.SetRelay(fake)
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	alice, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	sess, _ := newTestSessionWithConn(srv)
	alice.Session = sess
	sess.User = alice
	r.Join(alice, "#test", "")

	remote, _ := r.RegisterRemoteUser("eve", "e", "Eve", "evil.example", 0, "peer1")
	r.ApplyRemoteJoin(remote, "#test", 1)

	msg := &irc.Message{Params: []string{"#test", "hello"}}
	deliverText(srv, sess, msg, "PRIVMSG")

	if len(fake.messages) != 1 {
		t.Fatalf("got %d relayed messages, want 1", len(fake.messages))
	}
	got := fake.messages[0]
	if got.source != "alice" || got.target != "#test" || got.command != "PRIVMSG" || got.text != "hello" {
		t.Fatalf("unexpected relayed message: %+v", got)
	}
}

func TestDeliverTextDoesNotRelayToAllLocalChannel(t *testing.T) {
	r := newTestRegistry()
	fake := &fakeRelayPublisher{}
	r.SetRelay(fake)
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	alice, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	sess, _ := newTestSessionWithConn(srv)
	alice.Session = sess
	sess.User = alice
	r.Join(alice, "#test", "")

	bob, _ := r.RegisterNick(nil, "bob", "b", "Bob", "host")
	bobSess, _ := newTestSessionWithConn(srv)
	bob.Session = bobSess
	r.Join(bob, "#test", "")

	msg := &irc.Message{Params: []string{"#test", "hi"}}
	deliverText(srv, sess, msg, "PRIVMSG")

	if len(fake.messages) != 0 {
		t.Fatalf("got %d relayed messages, want 0 for an all-local channel", len(fake.messages))
	}
}

func TestDeliverTextRelaysToRemoteNick(t *testing.T) {
	r := newTestRegistry()
	fake := &fakeRelayPublisher{}
	r.SetRelay(fake)
	srv := &Server{Registry: r, Broadcaster: NewBroadcaster(r)}
	srv.cfg.Store(config.Defaults())

	alice, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	sess, _ := newTestSessionWithConn(srv)
	alice.Session = sess
	sess.User = alice

	r.RegisterRemoteUser("eve", "e", "Eve", "evil.example", 0, "peer1")

	msg := &irc.Message{Params: []string{"eve", "hello there"}}
	deliverText(srv, sess, msg, "PRIVMSG")

	if len(fake.messages) != 1 {
		t.Fatalf("got %d relayed messages, want 1", len(fake.messages))
	}
	got := fake.messages[0]
	if got.source != "alice" || got.target != "eve" || got.command != "PRIVMSG" || got.text != "hello there" {
		t.Fatalf("unexpected relayed message: %+v", got)
	}
}
