package zeusircd2

import (
	"strings"
	"time"

	"gopkg.in/irc.v4"

	"github.com/Pryancito/zeusircd2/relay"
	"github.com/Pryancito/zeusircd2/xirc"
)

// ApplyRemoteEvent translates an inbound relay envelope into local Registry
// state, mirroring what the originating server already enforced (§4.G).
// Unknown event types and malformed payloads are dropped without logging,
// never fatal to the bus's consume loop.
func ApplyRemoteEvent(srv *Server, env *relay.Envelope) {
	switch env.Type {
	case relay.EventUserAdd:
		var p relay.UserAddPayload
		if env.Decode(&p) != nil {
			return
		}
		if existing := srv.Registry.Lookup(p.Nick); existing != nil {
			if p.SignonTS < existing.SignonTime.Unix() {
				// Incoming record is older: it wins §4.C's nick-collision
				// merge, so the existing record is KILL'd.
				srv.killForCollision(existing, "Nick collision")
			} else {
				// Existing record is older (or the merge is a tie/replay):
				// the incoming record loses, drop it.
				return
			}
		}
		srv.Registry.RegisterRemoteUser(p.Nick, p.User, p.RealName, p.Host, p.SignonTS, env.Origin)

	case relay.EventUserMode:
		var p relay.UserModePayload
		if env.Decode(&p) != nil {
			return
		}
		if u := srv.Registry.Lookup(p.Nick); u != nil {
			srv.Registry.ApplyRemoteUserMode(u, p.Modes)
		}

	case relay.EventChanMode:
		var p relay.ChanModePayload
		if env.Decode(&p) != nil {
			return
		}
		srv.Registry.ApplyRemoteChanMode(p.Channel, p.Modes)

	case relay.EventChanKick:
		var p relay.ChanKickPayload
		if env.Decode(&p) != nil {
			return
		}
		target := srv.Registry.Lookup(p.Target)
		if target == nil {
			return
		}
		if ch := srv.Registry.LookupChannel(p.Channel); ch != nil {
			kickMsg := &irc.Message{
				Prefix:  &irc.Prefix{Name: p.Kicker},
				Command: "KICK",
				Params:  []string{p.Channel, p.Target, p.Reason},
			}
			srv.Broadcaster.ToChannel(ch, nil, kickMsg, true)
		}
		srv.Registry.ApplyRemoteKick(target, p.Channel)

	case relay.EventMessage:
		var p relay.MessagePayload
		if env.Decode(&p) != nil {
			return
		}
		deliverRemoteMessage(srv, p)

	case relay.EventBurstState:
		var p relay.BurstStatePayload
		if env.Decode(&p) != nil {
			return
		}
		applyBurstState(srv, env.Origin, p)

	case relay.EventServerHello, relay.EventServerBye, relay.EventBurstBegin, relay.EventBurstEnd:
		// Framing markers only; no state to merge (§4.G).

	case relay.EventUserQuit:
		var p relay.UserQuitPayload
		if env.Decode(&p) != nil {
			return
		}
		if u := srv.Registry.Lookup(p.Nick); u != nil {
			srv.Broadcaster.ToCommonChannelPeers(u, quitMessage(u, p.Reason))
			srv.Registry.Unregister(u)
		}

	case relay.EventNickChange:
		var p relay.NickChangePayload
		if env.Decode(&p) != nil {
			return
		}
		if u := srv.Registry.Lookup(p.OldNick); u != nil {
			srv.Registry.ChangeNick(u, p.NewNick)
		}

	case relay.EventChanJoin:
		var p relay.ChanJoinPayload
		if env.Decode(&p) != nil {
			return
		}
		if u := srv.Registry.Lookup(p.Nick); u != nil {
			srv.Registry.ApplyRemoteJoin(u, p.Channel, p.ChannelTS)
		}

	case relay.EventChanPart:
		var p relay.ChanPartPayload
		if env.Decode(&p) != nil {
			return
		}
		if u := srv.Registry.Lookup(p.Nick); u != nil {
			srv.Registry.Part(u, p.Channel, p.Reason)
		}

	case relay.EventChanTopic:
		var p relay.ChanTopicPayload
		if env.Decode(&p) != nil {
			return
		}
		// Written directly rather than through Registry.SetTopic, which
		// would publish the relayed change back onto the bus.
		if ch := srv.Registry.LookupChannel(p.Channel); ch != nil {
			ch.mu.Lock()
			ch.Topic, ch.TopicSetBy, ch.TopicSetAt = p.Topic, p.Setter, time.Now()
			ch.mu.Unlock()
		}
	}
}

// deliverRemoteMessage applies an inbound MESSAGE event (§8 Scenario 6): it
// resolves the target locally and enqueues it exactly once, the same way a
// local PRIVMSG/NOTICE would have, except the sender has no local Session to
// read a prefix from.
func deliverRemoteMessage(srv *Server, p relay.MessagePayload) {
	prefix := &irc.Prefix{Name: p.Source}
	if u := srv.Registry.Lookup(p.Source); u != nil {
		prefix = &irc.Prefix{Name: u.Nick, User: u.Username, Host: cloakedOrReal(u)}
	}
	out := &irc.Message{Prefix: prefix, Command: p.Command, Params: []string{p.Target, p.Text}}

	if strings.HasPrefix(p.Target, "#") || strings.HasPrefix(p.Target, "&") {
		if ch := srv.Registry.LookupChannel(p.Target); ch != nil {
			srv.Broadcaster.ToChannel(ch, nil, out, true)
		}
		return
	}
	srv.Broadcaster.ToNick(p.Target, out)
}

// applyBurstState merges one peer's full-state snapshot (§4.G): every user
// and channel membership it reports is applied the same way the
// corresponding individual event would be, skipping users already known
// (kept from an earlier USER_ADD or an earlier burst).
func applyBurstState(srv *Server, origin string, p relay.BurstStatePayload) {
	for _, up := range p.Users {
		if srv.Registry.Lookup(up.Nick) != nil {
			continue
		}
		srv.Registry.RegisterRemoteUser(up.Nick, up.User, up.RealName, up.Host, up.SignonTS, origin)
	}

	for _, cs := range p.Channels {
		var ch *Channel
		for _, rankedNick := range cs.Members {
			prefixChar, nick := splitRankPrefix(rankedNick)
			u := srv.Registry.Lookup(nick)
			if u == nil {
				continue
			}
			var err error
			ch, err = srv.Registry.ApplyRemoteJoin(u, cs.Channel, cs.ChannelTS)
			if err != nil || ch == nil {
				continue
			}
			if prefixChar != 0 {
				srv.Registry.ApplyRemoteRank(ch, nick, prefixChar)
			}
		}
		srv.Registry.ApplyRemoteChanMode(cs.Channel, cs.Modes)
		srv.Registry.ApplyRemoteTopic(cs.Channel, cs.Topic)
	}
}

// splitRankPrefix splits a burst member entry ("@nick") into its rank
// prefix character (0 if none) and the bare nick.
func splitRankPrefix(s string) (byte, string) {
	if s == "" {
		return 0, s
	}
	if _, ok := xirc.MembershipByPrefix(s[0]); ok {
		return s[0], s[1:]
	}
	return 0, s
}

// relayBus is the subset of *relay.Bus the adapter needs; kept narrow so
// tests can substitute a fake.
type relayBus interface {
	Publish(typ relay.EventType, payload interface{}) error
}

// busPublisher adapts a relay.Bus to the Registry's relayPublisher
// interface, translating each state-changing operation into its envelope
// payload type (§4.G event list).
type busPublisher struct {
	bus relayBus
}

func newBusPublisher(bus relayBus) *busPublisher {
	return &busPublisher{bus: bus}
}

func (p *busPublisher) PublishUserAdd(nick, user, host, realname string, signonUnix int64) error {
	return p.bus.Publish(relay.EventUserAdd, relay.UserAddPayload{
		Nick: nick, User: user, Host: host, RealName: realname, SignonTS: signonUnix,
	})
}

func (p *busPublisher) PublishUserQuit(nick, reason string) error {
	return p.bus.Publish(relay.EventUserQuit, relay.UserQuitPayload{Nick: nick, Reason: reason})
}

func (p *busPublisher) PublishNickChange(oldNick, newNick string) error {
	return p.bus.Publish(relay.EventNickChange, relay.NickChangePayload{OldNick: oldNick, NewNick: newNick})
}

func (p *busPublisher) PublishUserMode(nick, modes string) error {
	return p.bus.Publish(relay.EventUserMode, relay.UserModePayload{Nick: nick, Modes: modes})
}

func (p *busPublisher) PublishChanJoin(channel, nick string, channelTS int64) error {
	return p.bus.Publish(relay.EventChanJoin, relay.ChanJoinPayload{Channel: channel, Nick: nick, ChannelTS: channelTS})
}

func (p *busPublisher) PublishChanPart(channel, nick, reason string) error {
	return p.bus.Publish(relay.EventChanPart, relay.ChanPartPayload{Channel: channel, Nick: nick, Reason: reason})
}

func (p *busPublisher) PublishChanMode(channel, setter, modes string, args []string) error {
	return p.bus.Publish(relay.EventChanMode, relay.ChanModePayload{Channel: channel, Setter: setter, Modes: modes, Args: args})
}

func (p *busPublisher) PublishChanTopic(channel, setter, topic string) error {
	return p.bus.Publish(relay.EventChanTopic, relay.ChanTopicPayload{Channel: channel, Setter: setter, Topic: topic})
}

func (p *busPublisher) PublishChanKick(channel, kicker, target, reason string) error {
	return p.bus.Publish(relay.EventChanKick, relay.ChanKickPayload{Channel: channel, Kicker: kicker, Target: target, Reason: reason})
}

func (p *busPublisher) PublishMessage(source, target, command, text string) error {
	return p.bus.Publish(relay.EventMessage, relay.MessagePayload{Source: source, Target: target, Command: command, Text: text})
}
