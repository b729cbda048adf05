package zeusircd2

import (
	"sync"
	"time"

	"github.com/Pryancito/zeusircd2/xirc"
)

// User is the Registry's authoritative record for one registered client,
// local or relayed from a peer server (§3 "User record"). A local Session
// holds a direct *User pointer (Session.User) once registration completes;
// it does not re-resolve the user through the Registry per operation. The
// only User->Channel pointers are in Channels below; Channel refers to
// members by casefolded nick only.
type User struct {
	// mu guards fields below that aren't already covered by the Registry's
	// global lock: per-user state a Session mutates without touching the
	// nick index (away message, idle time, mode flags).
	mu sync.Mutex

	Nick   string // display case
	nickCF string // casefolded, the primary key

	Username string
	RealName string
	Host     string // resolved hostname or IP literal
	Cloaked  string // cloaked host, empty if not cloaked

	SignonTime time.Time
	IdleSince  time.Time
	AwayMsg    string

	Modes modeSet

	// Session is nil for a user whose owning connection lives on a remote
	// peer; Origin names that peer's relay origin UUID in that case.
	Session *Session
	Origin  string

	// Channels is the set of channels this user has joined, keyed by
	// casefolded name, mirroring each Channel's membership map entry for
	// this user (invariant 2, §3).
	Channels map[string]*Channel
}

func newUser(nick, nickCF, username, realName, host string) *User {
	return &User{
		Nick:       nick,
		nickCF:     nickCF,
		Username:   username,
		RealName:   realName,
		Host:       host,
		SignonTime: time.Now(),
		IdleSince:  time.Now(),
		Channels:   make(map[string]*Channel),
	}
}

// NickUserHost returns the user-visible nick!user@host triple, using the
// cloaked host when one is set. Access-control matching uses RealHostMask
// instead.
func (u *User) NickUserHost() (nick, user, host string) {
	h := u.Host
	if u.Cloaked != "" {
		h = u.Cloaked
	}
	return u.Nick, u.Username, h
}

func (u *User) Mask() string {
	nick, user, host := u.NickUserHost()
	return xirc.BuildMask(nick, user, host)
}

// RealHostMask is used internally by access control (bans, oper source
// checks) which must see through cloaking (§4.F "the original host is
// retained internally for access-control matching").
func (u *User) RealHostMask() string {
	return xirc.BuildMask(u.Nick, u.Username, u.Host)
}

func (u *User) IsAway() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.AwayMsg != ""
}

func (u *User) SetAway(msg string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.AwayMsg = msg
}

func (u *User) AwayMessage() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.AwayMsg
}

func (u *User) Idle() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return time.Since(u.IdleSince)
}

func (u *User) Touch() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.IdleSince = time.Now()
}

func (u *User) IsLocal() bool {
	return u.Session != nil
}

func (u *User) IsOper() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.Modes.Has('o')
}
