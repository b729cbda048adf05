package zeusircd2

import (
	"sync"
	"time"

	"github.com/Pryancito/zeusircd2/xirc"
)

// Channel is the Registry's authoritative record for one channel (§3
// "Channel record"). It's created on first successful JOIN and destroyed
// when the last member parts (invariant 5).
type Channel struct {
	// mu guards member lists, mode lists and topic — the per-channel mutex
	// of the locking discipline in §5 (distinct from the Registry's global
	// index lock).
	mu sync.Mutex

	Name   string // display case
	nameCF string // casefolded, the primary key; must begin with '#' or '&'

	Created time.Time

	Topic      string
	TopicSetBy string
	TopicSetAt time.Time

	Modes modeSet // imnpst, plus 'r' (registered)
	Key   string
	Limit int // 0 means unlimited

	// Members maps a user's casefolded nick to their rank set in this
	// channel. Every key here must have a matching entry in the Registry's
	// nick index (invariant 1).
	Members map[string]*xirc.MembershipSet

	Bans            []string
	BanExceptions   []string
	InviteExceptions []string
	Invited         map[string]time.Time // casefolded nick -> invite time

	ChannelTS int64 // unix seconds at creation, for relay tiebreak
}

func newChannel(name, nameCF string) *Channel {
	now := time.Now()
	return &Channel{
		Name:      name,
		nameCF:    nameCF,
		Created:   now,
		Members:   make(map[string]*xirc.MembershipSet),
		Invited:   make(map[string]time.Time),
		ChannelTS: now.Unix(),
	}
}

func (c *Channel) IsEmpty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Members) == 0
}

// MemberNicks returns the casefolded nicks of every current member. Caller
// must not mutate the Channel concurrently with iterating the result in a
// way that assumes it's a live view — it's a snapshot.
func (c *Channel) MemberNicks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.Members))
	for nick := range c.Members {
		out = append(out, nick)
	}
	return out
}

func (c *Channel) HasMember(nickCF string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.Members[nickCF]
	return ok
}

func (c *Channel) MembershipOf(nickCF string) (xirc.MembershipSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ms, ok := c.Members[nickCF]
	if !ok {
		return nil, false
	}
	cp := make(xirc.MembershipSet, len(*ms))
	copy(cp, *ms)
	return cp, true
}

func (c *Channel) IsBanned(maskLower string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	banned := false
	for _, b := range c.Bans {
		if xirc.MatchMask(b, maskLower) {
			banned = true
			break
		}
	}
	if !banned {
		return false
	}
	for _, e := range c.BanExceptions {
		if xirc.MatchMask(e, maskLower) {
			return false
		}
	}
	return true
}

func (c *Channel) IsInviteExempt(maskLower string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.InviteExceptions {
		if xirc.MatchMask(e, maskLower) {
			return true
		}
	}
	return false
}

func (c *Channel) IsInvited(nickCF string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.Invited[nickCF]
	return ok
}

func (c *Channel) Invite(nickCF string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Invited[nickCF] = time.Now()
}
