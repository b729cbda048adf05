package zeusircd2

import (
	"fmt"
	"strings"

	"gopkg.in/irc.v4"

	"github.com/Pryancito/zeusircd2/xirc"
)

// handleCAP implements IRCv3 capability negotiation (§4.A): LS/LIST/REQ/END,
// holding registration open while in CAP-NEG state.
func handleCAP(srv *Server, sess *Session, msg *irc.Message) {
	sub := strings.ToUpper(msg.Params[0])
	switch sub {
	case "LS", "LIST":
		sess.mu.Lock()
		if sess.state == StateUnregistered {
			sess.state = StateCapNeg
		}
		names := make([]string, 0, len(sess.Caps.Available))
		for name := range sess.Caps.Available {
			names = append(names, name)
		}
		sess.mu.Unlock()
		sess.Send(&irc.Message{
			Command: "CAP",
			Params:  []string{"*", sub, strings.Join(names, " ")},
		})
	case "REQ":
		if len(msg.Params) < 2 {
			return
		}
		requested := strings.Fields(msg.Params[1])
		sess.mu.Lock()
		ok := true
		for _, name := range requested {
			if !sess.Caps.IsAvailable(name) {
				ok = false
				break
			}
		}
		if ok {
			for _, name := range requested {
				sess.Caps.SetEnabled(name, true)
			}
		}
		sess.mu.Unlock()
		reply := "NAK"
		if ok {
			reply = "ACK"
		}
		sess.Send(&irc.Message{
			Command: "CAP",
			Params:  []string{"*", reply, msg.Params[1]},
		})
	case "END":
		sess.mu.Lock()
		if sess.state == StateCapNeg {
			sess.state = StateUnregistered
		}
		sess.mu.Unlock()
		maybeCompleteRegistration(srv, sess)
	}
}

func handlePASS(srv *Server, sess *Session, msg *irc.Message) {
	sess.mu.Lock()
	sess.pendingPass = msg.Params[0]
	sess.mu.Unlock()
}

func handleNICK(srv *Server, sess *Session, msg *irc.Message) {
	nick := msg.Params[0]

	if sess.State() == StateRegistered {
		old := sess.User.Nick
		if err := srv.Registry.ChangeNick(sess.User, nick); err != nil {
			sess.Numeric(srv.Name(), nickErrorNumeric(err), nick, "Nickname is already in use")
			return
		}
		nickMsg := &irc.Message{
			Prefix:  &irc.Prefix{Name: old, User: sess.User.Username, Host: cloakedOrReal(sess.User)},
			Command: "NICK",
			Params:  []string{nick},
		}
		srv.Broadcaster.ToCommonChannelPeers(sess.User, nickMsg)
		sess.Send(nickMsg)
		return
	}

	sess.mu.Lock()
	sess.pendingNick = nick
	sess.gotNick = true
	sess.mu.Unlock()
	maybeCompleteRegistration(srv, sess)
}

func nickErrorNumeric(err error) string {
	if err == ErrErroneousNick {
		return errErroneousNickname
	}
	return errNicknameInUse
}

func handleUSER(srv *Server, sess *Session, msg *irc.Message) {
	sess.mu.Lock()
	sess.pendingUser = msg.Params[0]
	sess.pendingRealName = msg.Params[3]
	sess.gotUser = true
	sess.mu.Unlock()
	maybeCompleteRegistration(srv, sess)
}

func handleAUTHENTICATE(srv *Server, sess *Session, msg *irc.Message) {
	mech := msg.Params[0]

	if sess.State() != StateAuthPending {
		if mech != "PLAIN" {
			sess.Numeric(srv.Name(), "908", "PLAIN", "are available SASL mechanisms")
			return
		}
		sess.mu.Lock()
		sess.state = StateAuthPending
		sess.mu.Unlock()
		sess.Send(&irc.Message{Command: "AUTHENTICATE", Params: []string{"+"}})
		return
	}

	// Continuation: the base64-encoded PLAIN response (authzid\0authcid\0passwd)
	raw, err := xirc.DecodeSASLPlain(msg.Params[0])
	if err != nil {
		sess.Numeric(srv.Name(), xirc.ERR_UNKNOWNERROR, "AUTHENTICATE", "Invalid SASL response")
		return
	}
	cfg := srv.CurrentConfig()
	if cfg.Password != "" && raw.Password != cfg.Password {
		sess.Numeric(srv.Name(), errPasswdMismatch, "SASL authentication failed")
		sess.mu.Lock()
		sess.state = StateUnregistered
		sess.mu.Unlock()
		return
	}
	sess.mu.Lock()
	sess.state = StateUnregistered
	sess.mu.Unlock()
	sess.Send(&irc.Message{Command: "900", Params: []string{"*", "*", raw.AuthCID, raw.AuthCID, "You are now logged in"}})
	sess.Send(&irc.Message{Command: "903", Params: []string{"*", "SASL authentication successful"}})
	maybeCompleteRegistration(srv, sess)
}

func handleOPER(srv *Server, sess *Session, msg *irc.Message) {
	name, password := msg.Params[0], msg.Params[1]
	if err := srv.Access.AuthenticateOper(sess.User, name, password); err != nil {
		sess.Numeric(srv.Name(), errPasswdMismatch, "Password incorrect")
		return
	}
	sess.User.mu.Lock()
	sess.User.Modes.Add('o')
	sess.User.mu.Unlock()
	sess.Numeric(srv.Name(), rplYoureOper, "You are now an IRC operator")
	sess.Send(&irc.Message{
		Prefix:  &irc.Prefix{Name: srv.Name()},
		Command: "MODE",
		Params:  []string{sess.User.Nick, "+o"},
	})
}

func handleQUIT(srv *Server, sess *Session, msg *irc.Message) {
	reason := "Client Quit"
	if len(msg.Params) > 0 {
		reason = msg.Params[0]
	}
	sess.Close(reason)
}

func handlePING(srv *Server, sess *Session, msg *irc.Message) {
	sess.Send(&irc.Message{
		Prefix:  &irc.Prefix{Name: srv.Name()},
		Command: "PONG",
		Params:  []string{srv.Name(), msg.Params[0]},
	})
}

func handlePONG(srv *Server, sess *Session, msg *irc.Message) {
	sess.checkPong(msg.Params[len(msg.Params)-1])
}

// maybeCompleteRegistration advances an UNREGISTERED/CAP-NEG session to
// REGISTERED once NICK and USER have both landed, per §4.A's handshake
// ordering (CAP negotiation, if any, must finish first).
func maybeCompleteRegistration(srv *Server, sess *Session) {
	sess.mu.Lock()
	if sess.state != StateUnregistered || !sess.gotNick || !sess.gotUser {
		sess.mu.Unlock()
		return
	}
	nick, username, realName, pass := sess.pendingNick, sess.pendingUser, sess.pendingRealName, sess.pendingPass
	sess.mu.Unlock()

	cfg := srv.CurrentConfig()
	if cfg.Password != "" && pass != cfg.Password {
		sess.Numeric(srv.Name(), errPasswdMismatch, "Password incorrect")
		sess.Close("Closing link: password mismatch")
		return
	}

	if ok, err := srv.checkNickPassword(nick, pass); err != nil || !ok {
		sess.Numeric(srv.Name(), errPasswdMismatch, "Nickname is password protected")
		return
	}

	host := sess.RemoteIP.String()
	u, err := srv.Registry.RegisterNick(sess, nick, username, realName, host)
	if err != nil {
		sess.Numeric(srv.Name(), errNicknameInUse, nick, "Nickname is already in use")
		return
	}
	u.Cloaked = srv.Cloaker.Cloak(host)

	for mode, on := range cfg.DefaultUserModes {
		if on && len(mode) == 1 {
			u.Modes.Add(mode[0])
		}
	}

	sess.User = u
	sess.setState(StateRegistered)

	srv.Registry.PublishUserAdd(u)

	sendWelcome(srv, sess, u)
}

func sendWelcome(srv *Server, sess *Session, u *User) {
	name := srv.Name()
	cfg := srv.CurrentConfig()

	sess.Numeric(name, rplWelcome, fmt.Sprintf("Welcome to the %s IRC Network %s", cfg.Network, u.Mask()))
	sess.Numeric(name, rplYourHost, fmt.Sprintf("Your host is %s, running version zeusircd2", name))
	sess.Numeric(name, rplCreated, fmt.Sprintf("This server was created %s", srv.startTime.Format("Mon Jan 2 2006 at 15:04:05 MST")))
	sess.Numeric(name, rplMyInfo, name, "zeusircd2", "io", "beIqahov")

	isupport := map[string]*string{
		"CASEMAPPING": strPtr("rfc1459"),
		"CHANTYPES":   strPtr("#&"),
		"CHANMODES":   strPtr("beI,k,l,imnpstr"),
		"PREFIX":      strPtr("(qaohv)~&@%+"),
		"NETWORK":     strPtr(cfg.Network),
		"NICKLEN":     strPtr("30"),
	}
	for _, m := range xirc.GenerateIsupport(isupport) {
		m.Params[0] = u.Nick
		sess.Send(m)
	}

	handleLUSERS(srv, sess, &irc.Message{Command: "LUSERS"})
	handleMOTD(srv, sess, &irc.Message{Command: "MOTD"})

	sess.Send(&irc.Message{
		Prefix:  &irc.Prefix{Name: u.Nick},
		Command: "MODE",
		Params:  []string{u.Nick, u.Modes.String()},
	})
}

func strPtr(s string) *string { return &s }
