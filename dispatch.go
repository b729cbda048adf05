package zeusircd2

import (
	"strings"

	"gopkg.in/irc.v4"
)

// handlerFunc implements one command. It may read or mutate Registry state
// directly; handlers that mutate must go through Registry's operations
// (§4.D).
type handlerFunc func(srv *Server, sess *Session, msg *irc.Message)

// stateRequirement narrows which Session states may invoke a command
// (§4.D "required session state").
type stateRequirement int

const (
	stateEither stateRequirement = iota
	stateUnregisteredOnly
	stateRegisteredOnly
)

// commandSpec is the dispatch table's tagged-variant entry (§9 "Dynamic
// dispatch of commands"): minimum args, required state, required
// privilege, and the handler — resolved in O(1) by a static map keyed on
// the uppercase command word, no reflection involved.
type commandSpec struct {
	minParams   int
	state       stateRequirement
	requireOper bool
	handler     handlerFunc
}

var commandTable map[string]commandSpec

func init() {
	commandTable = map[string]commandSpec{
		"CAP":          {minParams: 1, state: stateEither, handler: handleCAP},
		"PASS":         {minParams: 1, state: stateUnregisteredOnly, handler: handlePASS},
		"NICK":         {minParams: 1, state: stateEither, handler: handleNICK},
		"USER":         {minParams: 4, state: stateUnregisteredOnly, handler: handleUSER},
		"AUTHENTICATE": {minParams: 1, state: stateEither, handler: handleAUTHENTICATE},
		"OPER":         {minParams: 2, state: stateRegisteredOnly, handler: handleOPER},
		"QUIT":         {minParams: 0, state: stateEither, handler: handleQUIT},
		"PING":         {minParams: 1, state: stateEither, handler: handlePING},
		"PONG":         {minParams: 1, state: stateEither, handler: handlePONG},

		"JOIN":   {minParams: 1, state: stateRegisteredOnly, handler: handleJOIN},
		"PART":   {minParams: 1, state: stateRegisteredOnly, handler: handlePART},
		"TOPIC":  {minParams: 1, state: stateRegisteredOnly, handler: handleTOPIC},
		"NAMES":  {minParams: 0, state: stateRegisteredOnly, handler: handleNAMES},
		"LIST":   {minParams: 0, state: stateRegisteredOnly, handler: handleLIST},
		"INVITE": {minParams: 2, state: stateRegisteredOnly, handler: handleINVITE},
		"KICK":   {minParams: 2, state: stateRegisteredOnly, handler: handleKICK},
		"MODE":   {minParams: 1, state: stateRegisteredOnly, handler: handleMODE},

		"PRIVMSG": {minParams: 2, state: stateRegisteredOnly, handler: handlePRIVMSG},
		"NOTICE":  {minParams: 2, state: stateRegisteredOnly, handler: handleNOTICE},
		"AWAY":    {minParams: 0, state: stateRegisteredOnly, handler: handleAWAY},
		"WALLOPS": {minParams: 1, state: stateRegisteredOnly, requireOper: true, handler: handleWALLOPS},

		"MOTD":     {minParams: 0, state: stateRegisteredOnly, handler: handleMOTD},
		"LUSERS":   {minParams: 0, state: stateRegisteredOnly, handler: handleLUSERS},
		"VERSION":  {minParams: 0, state: stateRegisteredOnly, handler: handleVERSION},
		"STATS":    {minParams: 0, state: stateRegisteredOnly, handler: handleSTATS},
		"TIME":     {minParams: 0, state: stateRegisteredOnly, handler: handleTIME},
		"ADMIN":    {minParams: 0, state: stateRegisteredOnly, handler: handleADMIN},
		"INFO":     {minParams: 0, state: stateRegisteredOnly, handler: handleINFO},
		"WHO":      {minParams: 0, state: stateRegisteredOnly, handler: handleWHO},
		"WHOIS":    {minParams: 1, state: stateRegisteredOnly, handler: handleWHOIS},
		"WHOWAS":   {minParams: 1, state: stateRegisteredOnly, handler: handleWHOWAS},
		"USERHOST": {minParams: 1, state: stateRegisteredOnly, handler: handleUSERHOST},
		"ISON":     {minParams: 1, state: stateRegisteredOnly, handler: handleISON},

		"KILL": {minParams: 2, state: stateRegisteredOnly, requireOper: true, handler: handleKILL},
	}
}

// Dispatch resolves msg's command against commandTable and enforces its
// contract before invoking the handler (§4.D).
func Dispatch(srv *Server, sess *Session, msg *irc.Message) {
	cmd := strings.ToUpper(msg.Command)
	spec, ok := commandTable[cmd]
	if !ok {
		sess.Numeric(srv.Name(), errUnknownCommand, cmd, "Unknown command")
		return
	}
	if len(msg.Params) < spec.minParams {
		sess.Numeric(srv.Name(), errNeedMoreParams, cmd, "Not enough parameters")
		return
	}

	state := sess.State()
	switch spec.state {
	case stateUnregisteredOnly:
		if state == StateRegistered {
			sess.Numeric(srv.Name(), errAlreadyRegistered, "You may not reregister")
			return
		}
	case stateRegisteredOnly:
		if state != StateRegistered {
			sess.Numeric(srv.Name(), errNotRegistered, "You have not registered")
			return
		}
	}

	if spec.requireOper && (sess.User == nil || !sess.User.IsOper()) {
		sess.Numeric(srv.Name(), errNoPrivileges, "Permission Denied- You're not an IRC operator")
		return
	}

	spec.handler(srv, sess, msg)
}
