package zeusircd2

import (
	"gopkg.in/irc.v4"
)

// handleKILL forcibly disconnects a nick. Requires operator privilege
// (enforced by dispatch.go's requireOper flag before the handler runs).
func handleKILL(srv *Server, sess *Session, msg *irc.Message) {
	nick, reason := msg.Params[0], msg.Params[1]

	target := srv.Registry.Lookup(nick)
	if target == nil {
		sess.Numeric(srv.Name(), errNoSuchNick, nick, "No such nick/channel")
		return
	}

	if target.Session != nil {
		target.Session.Close("Killed by " + sess.User.Nick + ": " + reason)
		return
	}

	// Remote user: unregister locally and let the relay bus carry the kill
	// to its owning peer.
	srv.Registry.Unregister(target)
	srv.Registry.PublishQuit(target.Nick, "Killed by "+sess.User.Nick+": "+reason)
}
