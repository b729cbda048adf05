package zeusircd2

import (
	"strconv"
	"strings"

	"gopkg.in/irc.v4"

	"github.com/Pryancito/zeusircd2/xirc"
)

func handleJOIN(srv *Server, sess *Session, msg *irc.Message) {
	channels := strings.Split(msg.Params[0], ",")
	var keys []string
	if len(msg.Params) > 1 {
		keys = strings.Split(msg.Params[1], ",")
	}

	for i, name := range channels {
		key := ""
		if i < len(keys) {
			key = keys[i]
		}

		ch, err := srv.Registry.Join(sess.User, name, key)
		if err != nil {
			joinErrorNumeric(srv, sess, name, err)
			continue
		}

		joinMsg := &irc.Message{
			Prefix:  &irc.Prefix{Name: sess.User.Nick, User: sess.User.Username, Host: cloakedOrReal(sess.User)},
			Command: "JOIN",
			Params:  []string{ch.Name},
		}
		srv.Broadcaster.ToChannel(ch, sess.User, joinMsg, true)

		sendTopicReply(srv, sess, ch)
		sendNamesReply(srv, sess, ch)
	}
}

func joinErrorNumeric(srv *Server, sess *Session, name string, err error) {
	switch err {
	case ErrBadKey:
		sess.Numeric(srv.Name(), errBadChannelKey, name, "Cannot join channel (+k)")
	case ErrInviteOnly:
		sess.Numeric(srv.Name(), errInviteOnlyChan, name, "Cannot join channel (+i)")
	case ErrBanned:
		sess.Numeric(srv.Name(), errBannedFromChan, name, "Cannot join channel (+b)")
	case ErrChannelFull:
		sess.Numeric(srv.Name(), errChannelIsFull, name, "Cannot join channel (+l)")
	case ErrTooManyChannels:
		sess.Numeric(srv.Name(), errTooManyChannels, name, "You have joined too many channels")
	case ErrBadChanMask:
		sess.Numeric(srv.Name(), errNoSuchChannel, name, "No such channel")
	default:
		sess.Numeric(srv.Name(), errNoSuchChannel, name, "No such channel")
	}
}

func sendTopicReply(srv *Server, sess *Session, ch *Channel) {
	ch.mu.Lock()
	topic, setBy, setAt := ch.Topic, ch.TopicSetBy, ch.TopicSetAt
	ch.mu.Unlock()

	if topic == "" {
		sess.Numeric(srv.Name(), rplNoTopic, ch.Name, "No topic is set")
		return
	}
	sess.Numeric(srv.Name(), rplTopic, ch.Name, topic)
	sess.Numeric(srv.Name(), xirc.RPL_TOPICWHOTIME, ch.Name, setBy, itoa64(setAt.Unix()))
}

func sendNamesReply(srv *Server, sess *Session, ch *Channel) {
	ch.mu.Lock()
	names := make([]string, 0, len(ch.Members))
	for nickCF, ms := range ch.Members {
		u := srv.Registry.Lookup(nickCF)
		nick := nickCF
		if u != nil {
			nick = u.Nick
		}
		names = append(names, ms.Prefixes()+nick)
	}
	secret := ch.Modes.Has('s')
	ch.mu.Unlock()

	status := xirc.ChannelPublic
	if secret {
		status = xirc.ChannelSecret
	}
	for _, m := range xirc.GenerateNamesReply(ch.Name, status, names) {
		m.Params[0] = sess.User.Nick
		sess.Send(m)
	}
}

func handlePART(srv *Server, sess *Session, msg *irc.Message) {
	reason := sess.User.Nick
	if len(msg.Params) > 1 {
		reason = msg.Params[1]
	}
	for _, name := range strings.Split(msg.Params[0], ",") {
		ch := srv.Registry.LookupChannel(name)
		if ch == nil {
			sess.Numeric(srv.Name(), errNoSuchChannel, name, "No such channel")
			continue
		}
		partMsg := &irc.Message{
			Prefix:  &irc.Prefix{Name: sess.User.Nick, User: sess.User.Username, Host: cloakedOrReal(sess.User)},
			Command: "PART",
			Params:  []string{ch.Name, reason},
		}
		srv.Broadcaster.ToChannel(ch, sess.User, partMsg, true)

		if err := srv.Registry.Part(sess.User, name, reason); err != nil {
			sess.Numeric(srv.Name(), errNotOnChannel, name, "You're not on that channel")
		}
	}
}

func handleTOPIC(srv *Server, sess *Session, msg *irc.Message) {
	name := msg.Params[0]
	ch := srv.Registry.LookupChannel(name)
	if ch == nil {
		sess.Numeric(srv.Name(), errNoSuchChannel, name, "No such channel")
		return
	}
	if !ch.HasMember(srv.Registry.fold(sess.User.Nick)) {
		sess.Numeric(srv.Name(), errNotOnChannel, name, "You're not on that channel")
		return
	}

	if len(msg.Params) == 1 {
		sendTopicReply(srv, sess, ch)
		return
	}

	rank, _ := ch.MembershipOf(srv.Registry.fold(sess.User.Nick))
	if !CanSetTopic(ch, rank) {
		sess.Numeric(srv.Name(), errChanOpPrivsNeeded, name, "You're not channel operator")
		return
	}

	topic := msg.Params[1]
	if _, err := srv.Registry.SetTopic(sess.User, name, topic); err != nil {
		sess.Numeric(srv.Name(), errNoSuchChannel, name, "No such channel")
		return
	}

	topicMsg := &irc.Message{
		Prefix:  &irc.Prefix{Name: sess.User.Nick, User: sess.User.Username, Host: cloakedOrReal(sess.User)},
		Command: "TOPIC",
		Params:  []string{ch.Name, topic},
	}
	srv.Broadcaster.ToChannel(ch, sess.User, topicMsg, true)
}

func handleNAMES(srv *Server, sess *Session, msg *irc.Message) {
	if len(msg.Params) == 0 {
		return
	}
	for _, name := range strings.Split(msg.Params[0], ",") {
		ch := srv.Registry.LookupChannel(name)
		if ch == nil {
			continue
		}
		sendNamesReply(srv, sess, ch)
	}
}

func handleLIST(srv *Server, sess *Session, msg *irc.Message) {
	sess.Numeric(srv.Name(), rplListStart, "Channel", "Users  Name")
	for _, ch := range srv.Registry.AllChannels() {
		ch.mu.Lock()
		secret := ch.Modes.Has('s')
		count := len(ch.Members)
		topic := ch.Topic
		name := ch.Name
		ch.mu.Unlock()
		if secret && !ch.HasMember(srv.Registry.fold(sess.User.Nick)) {
			continue
		}
		sess.Numeric(srv.Name(), rplList, name, itoa64(int64(count)), topic)
	}
	sess.Numeric(srv.Name(), rplListEnd, "End of /LIST")
}

func handleINVITE(srv *Server, sess *Session, msg *irc.Message) {
	nick, name := msg.Params[0], msg.Params[1]
	ch := srv.Registry.LookupChannel(name)
	if ch == nil {
		sess.Numeric(srv.Name(), errNoSuchChannel, name, "No such channel")
		return
	}
	selfRank, onChan := ch.MembershipOf(srv.Registry.fold(sess.User.Nick))
	if !onChan {
		sess.Numeric(srv.Name(), errNotOnChannel, name, "You're not on that channel")
		return
	}
	if ch.Modes.Has('i') && !checkJoinInviteOverride(selfRank) {
		sess.Numeric(srv.Name(), errChanOpPrivsNeeded, name, "You're not channel operator")
		return
	}
	target := srv.Registry.Lookup(nick)
	if target == nil {
		sess.Numeric(srv.Name(), errNoSuchNick, nick, "No such nick/channel")
		return
	}
	ch.Invite(srv.Registry.fold(target.Nick))

	sess.Numeric(srv.Name(), rplInviting, nick, ch.Name)
	if target.Session != nil {
		target.Session.Send(&irc.Message{
			Prefix:  &irc.Prefix{Name: sess.User.Nick, User: sess.User.Username, Host: cloakedOrReal(sess.User)},
			Command: "INVITE",
			Params:  []string{target.Nick, ch.Name},
		})
	}
}

func handleKICK(srv *Server, sess *Session, msg *irc.Message) {
	name, nick := msg.Params[0], msg.Params[1]
	reason := nick
	if len(msg.Params) > 2 {
		reason = msg.Params[2]
	}

	ch := srv.Registry.LookupChannel(name)
	if ch == nil {
		sess.Numeric(srv.Name(), errNoSuchChannel, name, "No such channel")
		return
	}
	operRank, onChan := ch.MembershipOf(srv.Registry.fold(sess.User.Nick))
	if !onChan {
		sess.Numeric(srv.Name(), errNotOnChannel, name, "You're not on that channel")
		return
	}
	target := srv.Registry.Lookup(nick)
	if target == nil {
		sess.Numeric(srv.Name(), errNoSuchNick, nick, "No such nick/channel")
		return
	}
	targetRank, targetOnChan := ch.MembershipOf(srv.Registry.fold(target.Nick))
	if !targetOnChan {
		sess.Numeric(srv.Name(), errUserNotInChannel, nick, name, "They aren't on that channel")
		return
	}
	if !CanKick(operRank, targetRank) {
		sess.Numeric(srv.Name(), errChanOpPrivsNeeded, name, "You're not channel operator")
		return
	}

	kickMsg := &irc.Message{
		Prefix:  &irc.Prefix{Name: sess.User.Nick, User: sess.User.Username, Host: cloakedOrReal(sess.User)},
		Command: "KICK",
		Params:  []string{ch.Name, target.Nick, reason},
	}
	srv.Broadcaster.ToChannel(ch, nil, kickMsg, true)

	if err := srv.Registry.Kick(sess.User, name, target, reason); err != nil {
		sess.Numeric(srv.Name(), errUserNotInChannel, nick, name, "They aren't on that channel")
	}
}

func handleMODE(srv *Server, sess *Session, msg *irc.Message) {
	target := msg.Params[0]

	if !strings.HasPrefix(target, "#") && !strings.HasPrefix(target, "&") {
		handleUserMode(srv, sess, msg)
		return
	}

	ch := srv.Registry.LookupChannel(target)
	if ch == nil {
		sess.Numeric(srv.Name(), errNoSuchChannel, target, "No such channel")
		return
	}

	if len(msg.Params) == 1 {
		ch.mu.Lock()
		modes := ch.Modes.String()
		ch.mu.Unlock()
		sess.Numeric(srv.Name(), rplChannelModeIs, ch.Name, modes)
		return
	}

	rank, onChan := ch.MembershipOf(srv.Registry.fold(sess.User.Nick))
	if !onChan {
		sess.Numeric(srv.Name(), errNotOnChannel, target, "You're not on that channel")
		return
	}
	if !CanSetChannelModes(rank) {
		sess.Numeric(srv.Name(), errChanOpPrivsNeeded, target, "You're not channel operator")
		return
	}

	delta := msg.Params[1]
	args := msg.Params[2:]
	resolve := func(nick string) *User { return srv.Registry.Lookup(nick) }

	result, err := srv.Registry.SetChannelModes(sess.User, target, delta, args, resolve)
	if err != nil {
		sess.Numeric(srv.Name(), errUnknownMode, delta, "is unknown mode char to me")
		return
	}
	for _, c := range result.Unknown {
		sess.Numeric(srv.Name(), errUnknownMode, string(c), "is unknown mode char to me")
	}
	if len(result.Applied) == 0 {
		return
	}

	modeStr, modeArgs := renderModeChanges(result.Applied)
	modeMsg := &irc.Message{
		Prefix:  &irc.Prefix{Name: sess.User.Nick, User: sess.User.Username, Host: cloakedOrReal(sess.User)},
		Command: "MODE",
		Params:  append([]string{ch.Name, modeStr}, modeArgs...),
	}
	srv.Broadcaster.ToChannel(ch, nil, modeMsg, true)
}

func handleUserMode(srv *Server, sess *Session, msg *irc.Message) {
	nick := msg.Params[0]
	if srv.Registry.fold(nick) != srv.Registry.fold(sess.User.Nick) {
		sess.Numeric(srv.Name(), errUsersDontMatch, "Cannot change mode for other users")
		return
	}
	if len(msg.Params) == 1 {
		sess.User.mu.Lock()
		modes := sess.User.Modes.String()
		sess.User.mu.Unlock()
		sess.Numeric(srv.Name(), rplUModeIs, modes)
		return
	}

	result, err := srv.Registry.SetUserModes(sess.User, msg.Params[1])
	if err != nil {
		sess.Numeric(srv.Name(), errUModeUnknownFlag, "Unknown MODE flag")
		return
	}
	for range result.Unknown {
		sess.Numeric(srv.Name(), errUModeUnknownFlag, "Unknown MODE flag")
	}
	if len(result.Applied) == 0 {
		return
	}
	modeStr, _ := renderModeChanges(result.Applied)
	sess.Send(&irc.Message{
		Prefix:  &irc.Prefix{Name: sess.User.Nick, User: sess.User.Username, Host: cloakedOrReal(sess.User)},
		Command: "MODE",
		Params:  []string{sess.User.Nick, modeStr},
	})
}

// renderModeChanges folds a batch of applied changes back into a single
// modestring with a trailing argument list, e.g. "+o-v" ["alice", "bob"].
func renderModeChanges(changes []modeChange) (string, []string) {
	var sb strings.Builder
	var args []string
	lastPlus := false
	first := true
	for _, c := range changes {
		if first || c.plus != lastPlus {
			if c.plus {
				sb.WriteByte('+')
			} else {
				sb.WriteByte('-')
			}
			lastPlus = c.plus
			first = false
		}
		sb.WriteByte(c.char)
		if c.arg != "" {
			args = append(args, c.arg)
		}
	}
	return sb.String(), args
}

func itoa64(n int64) string {
	return strconv.FormatInt(n, 10)
}
