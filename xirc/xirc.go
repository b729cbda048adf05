// Package xirc contains wire-protocol helpers shared between the
// connection session, the dispatcher and the access-control layer: CTCP
// framing, channel status characters, numerics not covered by gopkg.in/irc.v4,
// and channel membership ranks.
package xirc

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/irc.v4"
)

const (
	MaxMessageLength = 512
	MaxMessageParams = 15
)

const MaxSASLLength = 400

const (
	RPL_STATSPING     = "246"
	RPL_LOCALUSERS    = "265"
	RPL_GLOBALUSERS   = "266"
	RPL_WHOISCERTFP   = "276"
	RPL_WHOISREGNICK  = "307"
	RPL_WHOISSPECIAL  = "320"
	RPL_CREATIONTIME  = "329"
	RPL_WHOISACCOUNT  = "330"
	RPL_TOPICWHOTIME  = "333"
	RPL_WHOISTEXT     = "337"
	RPL_WHOISACTUALLY = "338"
	RPL_WHOSPCRPL     = "354"
	RPL_WHOISHOST     = "378"
	RPL_WHOISMODES    = "379"
	RPL_VISIBLEHOST   = "396"
	ERR_UNKNOWNERROR  = "400"
	ERR_INVALIDCAPCMD = "410"
	RPL_WHOISSECURE   = "671"

	// https://ircv3.net/specs/extensions/bot-mode
	RPL_WHOISBOT = "335"
)

// isupportEncoder escapes characters the ISUPPORT token grammar reserves
// (space as a param separator, backslash as the escape character itself).
var isupportEncoder = strings.NewReplacer(" ", "\\x20", "\\", "\\x5C")

// The server-time layout, as defined in the IRCv3 spec.
const ServerTimeLayout = "2006-01-02T15:04:05.000Z"

// FormatServerTime formats a time with the server-time layout.
func FormatServerTime(t time.Time) string {
	return t.UTC().Format(ServerTimeLayout)
}

// ParseCTCPMessage parses a CTCP message. CTCP is defined in
// https://tools.ietf.org/html/draft-oakley-irc-ctcp-02. DCC requests are
// CTCP messages too: the codec only needs to recognize the framing to avoid
// mangling them, never to interpret the payload (file transfer is out of
// scope).
func ParseCTCPMessage(msg *irc.Message) (cmd string, params string, ok bool) {
	if (msg.Command != "PRIVMSG" && msg.Command != "NOTICE") || len(msg.Params) < 2 {
		return "", "", false
	}
	text := msg.Params[1]

	if !strings.HasPrefix(text, "\x01") {
		return "", "", false
	}
	text = strings.Trim(text, "\x01")

	words := strings.SplitN(text, " ", 2)
	cmd = strings.ToUpper(words[0])
	if len(words) > 1 {
		params = words[1]
	}

	return cmd, params, true
}

type ChannelStatus byte

const (
	ChannelPublic  ChannelStatus = '='
	ChannelSecret  ChannelStatus = '@'
	ChannelPrivate ChannelStatus = '*'
)

func ParseChannelStatus(s string) (ChannelStatus, error) {
	if len(s) != 1 {
		return 0, fmt.Errorf("invalid channel status %q: must be one character", s)
	}
	switch cs := ChannelStatus(s[0]); cs {
	case ChannelPublic, ChannelSecret, ChannelPrivate:
		return cs, nil
	default:
		return 0, fmt.Errorf("invalid channel status %q: unknown status", s)
	}
}

// Membership is a channel member rank: founder, protected, operator,
// half-operator or voice, per ISUPPORT's PREFIX=(qaohv)~&@%+.
type Membership struct {
	Mode   byte
	Prefix byte
}

var (
	MembershipFounder   = Membership{'q', '~'}
	MembershipProtected = Membership{'a', '&'}
	MembershipOperator  = Membership{'o', '@'}
	MembershipHalfOp    = Membership{'h', '%'}
	MembershipVoice     = Membership{'v', '+'}
)

// StandardMemberships lists all ranks from highest to lowest.
var StandardMemberships = []Membership{
	MembershipFounder,
	MembershipProtected,
	MembershipOperator,
	MembershipHalfOp,
	MembershipVoice,
}

func MembershipByMode(mode byte) (Membership, bool) {
	for _, m := range StandardMemberships {
		if m.Mode == mode {
			return m, true
		}
	}
	return Membership{}, false
}

func MembershipByPrefix(prefix byte) (Membership, bool) {
	for _, m := range StandardMemberships {
		if m.Prefix == prefix {
			return m, true
		}
	}
	return Membership{}, false
}

func membershipRank(m Membership) int {
	for i, avail := range StandardMemberships {
		if avail == m {
			return i
		}
	}
	return len(StandardMemberships)
}

// MembershipSet is a set of memberships sorted by descending rank.
type MembershipSet []Membership

func (ms *MembershipSet) Highest() (Membership, bool) {
	l := *ms
	if len(l) == 0 {
		return Membership{}, false
	}
	return l[0], true
}

// HasAtLeast reports whether the set contains min or anything ranked above it.
func (ms *MembershipSet) HasAtLeast(min Membership) bool {
	rank := membershipRank(min)
	for _, m := range *ms {
		if membershipRank(m) <= rank {
			return true
		}
	}
	return false
}

func (ms *MembershipSet) Add(newMembership Membership) {
	l := *ms
	newRank := membershipRank(newMembership)
	i := 0
	for ; i < len(l); i++ {
		if l[i] == newMembership {
			return
		}
		if membershipRank(l[i]) > newRank {
			break
		}
	}
	l = append(l, Membership{})
	copy(l[i+1:], l[i:])
	l[i] = newMembership
	*ms = l
}

func (ms *MembershipSet) Remove(membership Membership) {
	l := *ms
	for i, m := range l {
		if m == membership {
			*ms = append(l[:i], l[i+1:]...)
			return
		}
	}
}

// Prefixes renders the set as a run of prefix characters, e.g. "~@" for a
// founder who also holds op.
func (ms MembershipSet) Prefixes() string {
	var sb strings.Builder
	for _, m := range ms {
		sb.WriteByte(m.Prefix)
	}
	return sb.String()
}
