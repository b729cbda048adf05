package zeusircd2

import (
	"strings"

	"gopkg.in/irc.v4"

	"github.com/Pryancito/zeusircd2/xirc"
)

// deliverText implements the shared PRIVMSG/NOTICE path: channel targets
// are checked against +n/+m/+b in that order (§4.C "broadcast_message"),
// nick targets are checked only for existence. NOTICE never triggers an
// auto-reply or error numeric back to the sender (RFC 2812 §3.3.2). A
// channel target with any peer-owned member, or a nick target owned
// outright by a peer, is relayed across the bus in addition to (channel)
// or instead of (nick) local delivery (§4.E, §8 Scenario 6).
func deliverText(srv *Server, sess *Session, msg *irc.Message, cmd string) {
	target, text := msg.Params[0], msg.Params[1]

	prefix := &irc.Prefix{Name: sess.User.Nick, User: sess.User.Username, Host: cloakedOrReal(sess.User)}
	out := &irc.Message{Prefix: prefix, Command: cmd, Params: []string{target, text}}

	if strings.HasPrefix(target, "#") || strings.HasPrefix(target, "&") {
		ch := srv.Registry.LookupChannel(target)
		if ch == nil {
			if cmd == "PRIVMSG" {
				sess.Numeric(srv.Name(), errNoSuchChannel, target, "No such channel")
			}
			return
		}
		rank, onChan := ch.MembershipOf(srv.Registry.fold(sess.User.Nick))
		hasVoice := rank.HasAtLeast(xirc.MembershipVoice)

		blocked := false
		switch {
		case ch.Modes.Has('n') && !onChan:
			blocked = true
		case ch.Modes.Has('m') && !hasVoice:
			blocked = true
		case !hasVoice && ch.IsBanned(srv.Registry.fold(sess.User.RealHostMask())):
			blocked = true
		}
		if blocked {
			if cmd == "PRIVMSG" {
				sess.Numeric(srv.Name(), errCannotSendToChan, target, "Cannot send to channel")
			}
			return
		}
		srv.Broadcaster.ToChannel(ch, sess.User, out, sess.Caps.IsEnabled("echo-message"))
		if srv.Registry.hasRemoteMember(ch, sess.User.Nick) {
			srv.Registry.RelayMessage(sess.User.Nick, ch.Name, cmd, text)
		}
		return
	}

	dst := srv.Registry.Lookup(target)
	if dst == nil {
		if cmd == "PRIVMSG" {
			sess.Numeric(srv.Name(), errNoSuchNick, target, "No such nick/channel")
		}
		return
	}
	if dst.IsAway() && cmd == "PRIVMSG" {
		sess.Numeric(srv.Name(), rplAway, dst.Nick, dst.AwayMessage())
	}
	if dst.Session == nil {
		srv.Registry.RelayMessage(sess.User.Nick, target, cmd, text)
		return
	}
	srv.Broadcaster.ToNick(target, out)
}

func handlePRIVMSG(srv *Server, sess *Session, msg *irc.Message) {
	deliverText(srv, sess, msg, "PRIVMSG")
}

func handleNOTICE(srv *Server, sess *Session, msg *irc.Message) {
	deliverText(srv, sess, msg, "NOTICE")
}

func handleAWAY(srv *Server, sess *Session, msg *irc.Message) {
	if len(msg.Params) == 0 || msg.Params[0] == "" {
		sess.User.SetAway("")
		sess.Numeric(srv.Name(), rplUnaway, "You are no longer marked as being away")
		return
	}
	sess.User.SetAway(msg.Params[0])
	sess.Numeric(srv.Name(), rplNowAway, "You have been marked as being away")
}

func handleWALLOPS(srv *Server, sess *Session, msg *irc.Message) {
	text := msg.Params[0]
	out := &irc.Message{
		Prefix:  &irc.Prefix{Name: sess.User.Nick, User: sess.User.Username, Host: cloakedOrReal(sess.User)},
		Command: "WALLOPS",
		Params:  []string{text},
	}
	srv.Broadcaster.ToMask("*!*@*", out)
}
