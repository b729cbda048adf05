package zeusircd2

import (
	"gopkg.in/irc.v4"

	"github.com/Pryancito/zeusircd2/xirc"
)

// Broadcaster computes the recipient set for an event and enqueues it to
// each recipient's Session exactly once (§4.E). It never waits for a
// recipient's socket: delivery is enqueue-and-forget, and Session.Send
// applies the backpressure policy (drop the slow session, never block the
// sender).
type Broadcaster struct {
	registry *Registry
}

func NewBroadcaster(r *Registry) *Broadcaster {
	return &Broadcaster{registry: r}
}

// ToChannel delivers msg to every locally-connected member of ch except
// sender, unless echoMessage requests sender get a copy too (IRCv3
// `echo-message`). Peer-owned members have no local Session and are simply
// skipped; the caller (deliverText, ApplyRemoteEvent) is responsible for
// relay fan-out to them (§4.E, §8 Scenario 6).
func (b *Broadcaster) ToChannel(ch *Channel, sender *User, msg *irc.Message, echoMessage bool) {
	senderCF := ""
	if sender != nil {
		senderCF = b.registry.fold(sender.Nick)
	}
	for _, nickCF := range ch.MemberNicks() {
		if nickCF == senderCF && !echoMessage {
			continue
		}
		if u := b.registry.Lookup(nickCF); u != nil && u.Session != nil {
			u.Session.Send(msg)
		}
	}
}

// ToNick delivers msg to the single local session owning nick. It reports
// false both when nick doesn't exist and when it's owned by a peer with no
// local Session; the caller (deliverText) relays to the peer in the latter
// case (§4.E).
func (b *Broadcaster) ToNick(nick string, msg *irc.Message) bool {
	u := b.registry.Lookup(nick)
	if u == nil || u.Session == nil {
		return false
	}
	u.Session.Send(msg)
	return true
}

// ToCommonChannelPeers delivers msg once to every session that shares at
// least one channel with u, deduplicated per session — the QUIT/NICK
// recipient rule of §4.E.
func (b *Broadcaster) ToCommonChannelPeers(u *User, msg *irc.Message) {
	u.mu.Lock()
	channels := make([]*Channel, 0, len(u.Channels))
	for _, ch := range u.Channels {
		channels = append(channels, ch)
	}
	u.mu.Unlock()

	seen := make(map[*Session]struct{})
	selfCF := b.registry.fold(u.Nick)
	for _, ch := range channels {
		for _, nickCF := range ch.MemberNicks() {
			if nickCF == selfCF {
				continue
			}
			peer := b.registry.Lookup(nickCF)
			if peer == nil || peer.Session == nil {
				continue
			}
			if _, dup := seen[peer.Session]; dup {
				continue
			}
			seen[peer.Session] = struct{}{}
			peer.Session.Send(msg)
		}
	}
}

// ToMask delivers msg (WALLOPS and similar $mask globals) to every local
// user whose nick!user@host matches mask; restricted to opers by the
// caller before ToMask is reached.
func (b *Broadcaster) ToMask(mask string, msg *irc.Message) {
	b.registry.mu.RLock()
	users := make([]*User, 0, len(b.registry.nicks))
	for _, u := range b.registry.nicks {
		users = append(users, u)
	}
	b.registry.mu.RUnlock()

	maskLower := b.registry.fold(mask)
	for _, u := range users {
		if u.Session == nil {
			continue
		}
		if xirc.MatchMask(maskLower, b.registry.fold(u.RealHostMask())) {
			u.Session.Send(msg)
		}
	}
}
