package zeusircd2

import (
	"strconv"
	"strings"
	"time"

	"gopkg.in/irc.v4"

	"github.com/Pryancito/zeusircd2/xirc"
)

func handleMOTD(srv *Server, sess *Session, msg *irc.Message) {
	cfg := srv.CurrentConfig()
	if cfg.MOTD == "" {
		sess.Numeric(srv.Name(), errNoMotd, "MOTD File is missing")
		return
	}
	for _, m := range xirc.GenerateMOTD(cfg.MOTD) {
		m.Params[0] = sess.currentNick()
		sess.Send(m)
	}
}

func handleLUSERS(srv *Server, sess *Session, msg *irc.Message) {
	name := srv.Name()
	users, opers, channels := srv.Registry.Counts()
	sess.Numeric(name, rplLUserClient, "There are "+itoa64(int64(users))+" users and 0 invisible on 1 server")
	sess.Numeric(name, rplLUserOp, itoa64(int64(opers)), "operator(s) online")
	sess.Numeric(name, rplLUserUnknown, "0", "unknown connection(s)")
	sess.Numeric(name, rplLUserChannels, itoa64(int64(channels)), "channels formed")
	sess.Numeric(name, rplLUserMe, "I have "+itoa64(int64(users))+" clients and 1 server")
}

func handleVERSION(srv *Server, sess *Session, msg *irc.Message) {
	sess.Numeric(srv.Name(), rplVersion, "zeusircd2-1.0", srv.Name(), "")
}

func handleSTATS(srv *Server, sess *Session, msg *irc.Message) {
	query := "*"
	if len(msg.Params) > 0 {
		query = msg.Params[0]
	}
	switch query {
	case "u":
		uptime := time.Since(srv.startTime)
		sess.Numeric(srv.Name(), rplStatsUptime(), formatUptime(uptime))
	}
	sess.Numeric(srv.Name(), "219", query, "End of /STATS report")
}

func rplStatsUptime() string { return "242" }

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60
	return "Server Up " + strconv.Itoa(days) + " days " + strconv.Itoa(hours) + ":" +
		strconv.Itoa(mins) + ":" + strconv.Itoa(secs)
}

func handleTIME(srv *Server, sess *Session, msg *irc.Message) {
	sess.Numeric(srv.Name(), rplTime, srv.Name(), time.Now().Format(time.RFC1123))
}

func handleADMIN(srv *Server, sess *Session, msg *irc.Message) {
	cfg := srv.CurrentConfig()
	name := srv.Name()
	sess.Numeric(name, rplAdminMe, name, "Administrative info about "+name)
	sess.Numeric(name, rplAdminLoc1, cfg.Info)
	sess.Numeric(name, rplAdminLoc2, cfg.AdminInfo)
	sess.Numeric(name, rplAdminEmail, cfg.AdminInfo2)
}

func handleINFO(srv *Server, sess *Session, msg *irc.Message) {
	cfg := srv.CurrentConfig()
	sess.Numeric(srv.Name(), rplInfo, cfg.Info)
	sess.Numeric(srv.Name(), rplEndOfInfo, "End of /INFO list")
}

// handleWHO answers plain WHO and, when the second parameter starts with
// '%', the IRCv3 WHOX extended form (mask %fields[,token]).
func handleWHO(srv *Server, sess *Session, msg *irc.Message) {
	mask := "*"
	if len(msg.Params) > 0 {
		mask = msg.Params[0]
	}
	var fields, token string
	if len(msg.Params) > 1 && strings.HasPrefix(msg.Params[1], "%") {
		spec := strings.SplitN(msg.Params[1][1:], ",", 2)
		fields = spec[0]
		if len(spec) > 1 {
			token = spec[1]
		}
	}

	name := srv.Name()
	maskLower := srv.Registry.fold(mask)

	if ch := srv.Registry.LookupChannel(mask); ch != nil {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		for nickCF, ms := range ch.Members {
			u := srv.Registry.Lookup(nickCF)
			if u == nil {
				continue
			}
			sendWhoReplyLine(sess, name, ch.Name, u, ms.Prefixes(), fields, token)
		}
	} else {
		for _, u := range srv.Registry.AllUsers() {
			if !xirc.MatchMask(maskLower, srv.Registry.fold(u.Nick)) && !xirc.MatchMask(maskLower, srv.Registry.fold(u.RealHostMask())) {
				continue
			}
			sendWhoReplyLine(sess, name, "*", u, "", fields, token)
		}
	}
	sess.Numeric(name, rplEndOfWho, mask, "End of /WHO list")
}

func sendWhoReplyLine(sess *Session, serverName, channel string, u *User, prefixes, fields, token string) {
	away := "H"
	if u.IsAway() {
		away = "G"
	}
	if u.IsOper() {
		away += "*"
	}
	host := u.Host
	if u.Cloaked != "" {
		host = u.Cloaked
	}
	info := &xirc.WHOXInfo{
		Token:       token,
		Username:    u.Username,
		Hostname:    host,
		Server:      serverName,
		Nickname:    u.Nick,
		Flags:       away + prefixes,
		Realname:    u.RealName,
		IdleSeconds: int64(u.Idle().Seconds()),
	}
	sess.Send(xirc.GenerateWHOReply(&irc.Prefix{Name: serverName}, sess.currentNick(), fields, info))
}

func handleWHOIS(srv *Server, sess *Session, msg *irc.Message) {
	nick := msg.Params[len(msg.Params)-1]
	name := srv.Name()

	u := srv.Registry.Lookup(nick)
	if u == nil {
		sess.Numeric(name, errNoSuchNick, nick, "No such nick/channel")
		sess.Numeric(name, rplEndOfWhois, nick, "End of /WHOIS list")
		return
	}

	host := u.Host
	if u.Cloaked != "" {
		host = u.Cloaked
	}
	sess.Numeric(name, rplWhoisUser, u.Nick, u.Username, host, "*", u.RealName)
	sess.Numeric(name, rplWhoisServer, u.Nick, name, "zeusircd2 server")

	u.mu.Lock()
	channels := make([]string, 0, len(u.Channels))
	for _, ch := range u.Channels {
		ms, _ := ch.MembershipOf(u.nickCF)
		channels = append(channels, ms.Prefixes()+ch.Name)
	}
	u.mu.Unlock()
	if len(channels) > 0 {
		sess.Numeric(name, rplWhoisChannels, u.Nick, strings.Join(channels, " "))
	}

	if u.IsOper() {
		sess.Numeric(name, rplWhoisOperator, u.Nick, "is an IRC operator")
	}
	if u.IsAway() {
		sess.Numeric(name, rplAway, u.Nick, u.AwayMessage())
	}
	sess.Numeric(name, rplWhoisIdle, u.Nick, itoa64(int64(u.Idle().Seconds())), itoa64(u.SignonTime.Unix()), "seconds idle, signon time")
	sess.Numeric(name, rplEndOfWhois, u.Nick, "End of /WHOIS list")
}

func handleWHOWAS(srv *Server, sess *Session, msg *irc.Message) {
	nick := msg.Params[0]
	sess.Numeric(srv.Name(), errWasNoSuchNick, nick, "There was no such nickname")
	sess.Numeric(srv.Name(), rplEndOfWhoWas, nick, "End of WHOWAS")
}

func handleUSERHOST(srv *Server, sess *Session, msg *irc.Message) {
	var replies []string
	for _, nick := range msg.Params {
		u := srv.Registry.Lookup(nick)
		if u == nil {
			continue
		}
		host := u.Host
		if u.Cloaked != "" {
			host = u.Cloaked
		}
		flag := "-"
		if !u.IsAway() {
			flag = "+"
		}
		opChar := ""
		if u.IsOper() {
			opChar = "*"
		}
		replies = append(replies, u.Nick+opChar+"="+flag+u.Username+"@"+host)
	}
	sess.Numeric(srv.Name(), rplUserHost, strings.Join(replies, " "))
}

func handleISON(srv *Server, sess *Session, msg *irc.Message) {
	var online []string
	for _, nick := range msg.Params {
		if u := srv.Registry.Lookup(nick); u != nil {
			online = append(online, u.Nick)
		}
	}
	sess.Numeric(srv.Name(), rplIson, strings.Join(online, " "))
}

func (s *Session) currentNick() string {
	if s.User != nil {
		return s.User.Nick
	}
	return "*"
}
