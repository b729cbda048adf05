package xirc

import (
	"testing"

	"gopkg.in/irc.v4"
)

func TestMatchMaskWildcards(t *testing.T) {
	cases := []struct {
		mask, source string
		want         bool
	}{
		{"*!*@bad", "eve!e@bad", true},
		{"*!*@bad", "eve!e@good", false},
		{"nick?!*@*", "nicka!u@h", true},
		{"nick?!*@*", "nickab!u@h", false},
		{"*", "anything!goes@here", true},
		{"a*b*c", "aXXbYYc", true},
		{"a*b*c", "aXXbYY", false},
	}
	for _, tc := range cases {
		if got := MatchMask(tc.mask, tc.source); got != tc.want {
			t.Errorf("MatchMask(%q, %q) = %v, want %v", tc.mask, tc.source, got, tc.want)
		}
	}
}

func TestMatchMaskCasefoldInvariance(t *testing.T) {
	mask := "Alice!*@Host.Example"
	source := "alice!u@host.example"
	if !MatchMask(casemapRFC1459(mask), casemapRFC1459(source)) {
		t.Fatalf("casefolded match should succeed")
	}
}

func TestSplitMask(t *testing.T) {
	nick, user, host := SplitMask("nick!user@host")
	if nick != "nick" || user != "user" || host != "host" {
		t.Fatalf("got %q %q %q", nick, user, host)
	}
	nick, user, host = SplitMask("nick")
	if nick != "nick" || user != "*" || host != "*" {
		t.Fatalf("got %q %q %q", nick, user, host)
	}
}

func TestMembershipSetOrdering(t *testing.T) {
	var ms MembershipSet
	ms.Add(MembershipVoice)
	ms.Add(MembershipOperator)
	ms.Add(MembershipFounder)
	if ms.Prefixes() != "~@+" {
		t.Fatalf("got %q, want founder-op-voice order", ms.Prefixes())
	}
	if !ms.HasAtLeast(MembershipHalfOp) {
		t.Fatalf("founder+op+voice set should satisfy HasAtLeast(halfop)")
	}
}

func TestCasemapRFC1459(t *testing.T) {
	if casemapRFC1459("{Test}~\\") != "[test]^|" {
		t.Fatalf("got %q", casemapRFC1459("{Test}~\\"))
	}
}

func TestParseCTCPMessage(t *testing.T) {
	msg := &irc.Message{Command: "PRIVMSG", Params: []string{"#chan", "\x01VERSION\x01"}}
	cmd, params, ok := ParseCTCPMessage(msg)
	if !ok || cmd != "VERSION" || params != "" {
		t.Fatalf("got %q %q %v", cmd, params, ok)
	}
}
