package zeusircd2

import (
	"testing"

	"github.com/Pryancito/zeusircd2/xirc"
)

func newTestRegistry() *Registry {
	return NewRegistry(xirc.CaseMappingRFC1459, 0)
}

func TestRegisterNickRejectsCollision(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.RegisterNick(nil, "alice", "a", "Alice", "host"); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if _, err := r.RegisterNick(nil, "Alice", "a2", "Alice2", "host2"); err != ErrNickInUse {
		t.Fatalf("got %v, want ErrNickInUse", err)
	}
}

func TestRegisterNickRejectsInvalid(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.RegisterNick(nil, "1abc", "a", "A", "h"); err != ErrErroneousNick {
		t.Fatalf("got %v, want ErrErroneousNick", err)
	}
}

func TestChangeNickAtomicRename(t *testing.T) {
	r := newTestRegistry()
	u, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	if err := r.ChangeNick(u, "alicia"); err != nil {
		t.Fatalf("ChangeNick: %v", err)
	}
	if r.Lookup("alice") != nil {
		t.Fatalf("old nick still resolves after rename")
	}
	if r.Lookup("alicia") != u {
		t.Fatalf("new nick doesn't resolve to the renamed user")
	}
}

func TestChangeNickCollision(t *testing.T) {
	r := newTestRegistry()
	u, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	r.RegisterNick(nil, "bob", "b", "Bob", "host")
	if err := r.ChangeNick(u, "bob"); err != ErrNickInUse {
		t.Fatalf("got %v, want ErrNickInUse", err)
	}
	if u.Nick != "alice" {
		t.Fatalf("nick changed despite collision: %q", u.Nick)
	}
}

func TestJoinCreatesChannelAndGrantsFounder(t *testing.T) {
	r := newTestRegistry()
	u, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	ch, err := r.Join(u, "#test", "")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	ms, ok := ch.MembershipOf(u.nickCF)
	if !ok {
		t.Fatalf("joiner missing from membership map")
	}
	if !ms.HasAtLeast(xirc.MembershipFounder) {
		t.Fatalf("first joiner should be granted founder, got prefixes %q", ms.Prefixes())
	}
}

func TestJoinEnforcesKey(t *testing.T) {
	r := newTestRegistry()
	founder, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	r.Join(founder, "#locked", "")
	r.SetChannelModes(founder, "#locked", "+k", []string{"secret"}, nil)

	joiner, _ := r.RegisterNick(nil, "bob", "b", "Bob", "host")
	if _, err := r.Join(joiner, "#locked", "wrong"); err != ErrBadKey {
		t.Fatalf("got %v, want ErrBadKey", err)
	}
	if _, err := r.Join(joiner, "#locked", "secret"); err != nil {
		t.Fatalf("join with correct key: %v", err)
	}
}

func TestJoinEnforcesBan(t *testing.T) {
	r := newTestRegistry()
	founder, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	r.Join(founder, "#banned", "")
	r.SetChannelModes(founder, "#banned", "+b", []string{"*!*@evil"}, nil)

	joiner, _ := r.RegisterNick(nil, "eve", "e", "Eve", "evil")
	if _, err := r.Join(joiner, "#banned", ""); err != ErrBanned {
		t.Fatalf("got %v, want ErrBanned", err)
	}
}

func TestPartRemovesChannelWhenEmpty(t *testing.T) {
	r := newTestRegistry()
	u, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	r.Join(u, "#solo", "")
	if err := r.Part(u, "#solo", "bye"); err != nil {
		t.Fatalf("Part: %v", err)
	}
	if r.LookupChannel("#solo") != nil {
		t.Fatalf("empty channel should have been removed")
	}
	if len(u.Channels) != 0 {
		t.Fatalf("user still tracks parted channel")
	}
}

func TestPartNotOnChannel(t *testing.T) {
	r := newTestRegistry()
	u, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	r.Join(u, "#here", "")
	if err := r.Part(u, "#elsewhere", ""); err != ErrNoSuchChannel {
		t.Fatalf("got %v, want ErrNoSuchChannel", err)
	}
}

func TestUnregisterReleasesNickAndChannels(t *testing.T) {
	r := newTestRegistry()
	u, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	r.Join(u, "#a", "")
	r.Join(u, "#b", "")

	chans := r.Unregister(u)
	if len(chans) != 2 {
		t.Fatalf("got %d channels, want 2", len(chans))
	}
	if r.Lookup("alice") != nil {
		t.Fatalf("nick still registered after Unregister")
	}
	if r.LookupChannel("#a") != nil || r.LookupChannel("#b") != nil {
		t.Fatalf("channels should be gone once their sole member leaves")
	}
}

func TestApplyRemoteJoinBypassesLocalChecks(t *testing.T) {
	r := newTestRegistry()
	founder, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	r.Join(founder, "#relayed", "")
	r.SetChannelModes(founder, "#relayed", "+b", []string{"*!*@evil"}, nil)

	remote, _ := r.RegisterRemoteUser("eve", "e", "Eve", "evil", 0, "peer1")
	ch, err := r.ApplyRemoteJoin(remote, "#relayed", 12345)
	if err != nil {
		t.Fatalf("ApplyRemoteJoin: %v", err)
	}
	if _, ok := ch.MembershipOf(remote.nickCF); !ok {
		t.Fatalf("remote user missing from membership map despite trust bypass")
	}
}

func TestApplyRemoteJoinPreservesChannelTS(t *testing.T) {
	r := newTestRegistry()
	remote, _ := r.RegisterRemoteUser("eve", "e", "Eve", "host", 0, "peer1")
	ch, err := r.ApplyRemoteJoin(remote, "#brandnew", 999)
	if err != nil {
		t.Fatalf("ApplyRemoteJoin: %v", err)
	}
	if ch.ChannelTS != 999 {
		t.Fatalf("got ChannelTS %d, want 999", ch.ChannelTS)
	}
}

func TestRegisterRemoteUserHasNoSession(t *testing.T) {
	r := newTestRegistry()
	u, err := r.RegisterRemoteUser("eve", "e", "Eve", "host", 0, "peer1")
	if err != nil {
		t.Fatalf("RegisterRemoteUser: %v", err)
	}
	if u.IsLocal() {
		t.Fatalf("remote user should not be local")
	}
	if u.Origin != "peer1" {
		t.Fatalf("got origin %q, want peer1", u.Origin)
	}
}

func TestSetTopicRecordsSetter(t *testing.T) {
	r := newTestRegistry()
	u, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	r.Join(u, "#test", "")
	ch, err := r.SetTopic(u, "#test", "hello world")
	if err != nil {
		t.Fatalf("SetTopic: %v", err)
	}
	if ch.Topic != "hello world" || ch.TopicSetBy != "alice" {
		t.Fatalf("got topic %q by %q", ch.Topic, ch.TopicSetBy)
	}
}

func TestKickRemovesTargetOnly(t *testing.T) {
	r := newTestRegistry()
	op, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	r.Join(op, "#test", "")
	target, _ := r.RegisterNick(nil, "bob", "b", "Bob", "host")
	r.Join(target, "#test", "")

	if err := r.Kick(op, "#test", target, "bye"); err != nil {
		t.Fatalf("Kick: %v", err)
	}
	if len(target.Channels) != 0 {
		t.Fatalf("kicked user still tracks the channel")
	}
	ch := r.LookupChannel("#test")
	if ch == nil {
		t.Fatalf("channel should survive since the kicker remains")
	}
	if _, ok := ch.MembershipOf(target.nickCF); ok {
		t.Fatalf("kicked user still a member")
	}
}

func TestCounts(t *testing.T) {
	r := newTestRegistry()
	u1, _ := r.RegisterNick(nil, "alice", "a", "Alice", "host")
	r.RegisterNick(nil, "bob", "b", "Bob", "host")
	r.Join(u1, "#a", "")
	u1.Modes.Add('o')

	users, opers, channels := r.Counts()
	if users != 2 || opers != 1 || channels != 1 {
		t.Fatalf("got users=%d opers=%d channels=%d, want 2 1 1", users, opers, channels)
	}
}
