package zeusircd2

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Pryancito/zeusircd2/xirc"
)

// Registry errors, returned by the operations below and translated to
// numeric replies by the dispatcher (§4.C).
var (
	ErrNickInUse      = errors.New("nickname is already in use")
	ErrErroneousNick  = errors.New("erroneous nickname")
	ErrUnavailable    = errors.New("nick/channel is unavailable")
	ErrBadKey         = errors.New("cannot join channel (+k)")
	ErrInviteOnly     = errors.New("cannot join channel (+i)")
	ErrBanned         = errors.New("cannot join channel (+b)")
	ErrChannelFull    = errors.New("cannot join channel (+l)")
	ErrTooManyChannels = errors.New("too many channels")
	ErrBadChanMask    = errors.New("bad channel mask")
	ErrNoSuchNick     = errors.New("no such nick/channel")
	ErrNoSuchChannel  = errors.New("no such channel")
	ErrNotOnChannel   = errors.New("you're not on that channel")
	ErrUserNotInChannel = errors.New("they aren't on that channel")
	ErrChanOpPrivsNeeded = errors.New("you're not channel operator")
	ErrNoPrivileges   = errors.New("permission denied")
	ErrCannotSendToChan = errors.New("cannot send to channel")
	ErrUserOnChannel  = errors.New("is already on channel")
)

// Registry is the single logical owner of the shared in-memory state: the
// nick index, the channel index, and (transitively, through Channel and
// User) every membership, mode and ban list (§4.C). Per §5 it's protected
// by a global RWMutex for structural membership in the two index maps, and
// by per-Channel/per-User mutexes (channel.go, user.go) for entity-local
// state; every operation here is synchronous and non-suspending once its
// locks are held.
type Registry struct {
	mu       sync.RWMutex
	nicks    map[string]*User    // casefolded nick -> User
	channels map[string]*Channel // casefolded name -> Channel

	casefold xirc.CaseMapping
	maxJoins int

	relay relayPublisher // nil when running standalone, no bus configured
}

// relayPublisher is the minimal surface Registry needs from relay.Bus, kept
// as an interface here so this file doesn't import package relay directly
// (the dependency runs the other way: server.go wires a concrete *relay.Bus
// in through this interface).
type relayPublisher interface {
	PublishUserAdd(nick, user, host, realname string, signonUnix int64) error
	PublishUserQuit(nick, reason string) error
	PublishNickChange(oldNick, newNick string) error
	PublishUserMode(nick, modes string) error
	PublishChanJoin(channel, nick string, channelTS int64) error
	PublishChanPart(channel, nick, reason string) error
	PublishChanMode(channel, setter, modes string, args []string) error
	PublishChanTopic(channel, setter, topic string) error
	PublishChanKick(channel, kicker, target, reason string) error
	PublishMessage(source, target, command, text string) error
}

func NewRegistry(casefold xirc.CaseMapping, maxJoins int) *Registry {
	return &Registry{
		nicks:    make(map[string]*User),
		channels: make(map[string]*Channel),
		casefold: casefold,
		maxJoins: maxJoins,
	}
}

// PublishUserAdd notifies the relay bus (if any) that u has just completed
// registration, so peer servers can add it to their view of the network
// (§4.G burst/announce path).
func (r *Registry) PublishUserAdd(u *User) {
	if r.relay != nil {
		r.relay.PublishUserAdd(u.Nick, u.Username, u.Host, u.RealName, u.SignonTime.Unix())
	}
}

// PublishQuit notifies the relay bus (if any) that nick has disconnected.
// Called by the server's connection cleanup path after Unregister, since
// Unregister itself only touches local indices (§4.G).
func (r *Registry) PublishQuit(nick, reason string) {
	if r.relay != nil {
		r.relay.PublishUserQuit(nick, reason)
	}
}

// RelayMessage publishes a PRIVMSG/NOTICE for cross-server delivery (§4.E
// "local or, if remote, via relay"; §8 Scenario 6). Reports false when
// running standalone, so the caller knows it still owns local delivery.
func (r *Registry) RelayMessage(source, target, command, text string) bool {
	if r.relay == nil {
		return false
	}
	r.relay.PublishMessage(source, target, command, text)
	return true
}

// hasRemoteMember reports whether any member of ch other than selfNick is
// owned by a peer server, gating the relay fan-out in deliverText so a
// channel with only local members never touches the bus.
func (r *Registry) hasRemoteMember(ch *Channel, selfNick string) bool {
	selfCF := r.fold(selfNick)
	for _, nickCF := range ch.MemberNicks() {
		if nickCF == selfCF {
			continue
		}
		if u := r.Lookup(nickCF); u != nil && u.Session == nil {
			return true
		}
	}
	return false
}

func (r *Registry) SetRelay(p relayPublisher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relay = p
}

func (r *Registry) fold(s string) string {
	return r.casefold(s)
}

// Lookup returns the User owning nick, or nil.
func (r *Registry) Lookup(nick string) *User {
	cf := r.fold(nick)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nicks[cf]
}

// AllUsers returns a snapshot of every currently-registered user, for WHO's
// mask-sweep fallback when the target isn't a channel.
func (r *Registry) AllUsers() []*User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*User, 0, len(r.nicks))
	for _, u := range r.nicks {
		out = append(out, u)
	}
	return out
}

// Counts returns the current user, operator and channel totals for LUSERS.
func (r *Registry) Counts() (users, opers, channels int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.nicks {
		if u.IsOper() {
			opers++
		}
	}
	return len(r.nicks), opers, len(r.channels)
}

// AllChannels returns a snapshot of every currently-existing channel, for
// LIST (§4.C "list_channels").
func (r *Registry) AllChannels() []*Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		out = append(out, ch)
	}
	return out
}

// LookupChannel returns the Channel by name, or nil.
func (r *Registry) LookupChannel(name string) *Channel {
	cf := r.fold(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.channels[cf]
}

// RegisterNick reserves nick for a not-yet-fully-registered session and
// creates its User record. Ok on success.
func (r *Registry) RegisterNick(sess *Session, nick, username, realName, host string) (*User, error) {
	if !isValidNick(nick) {
		return nil, ErrErroneousNick
	}
	cf := r.fold(nick)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nicks[cf]; exists {
		return nil, ErrNickInUse
	}

	u := newUser(nick, cf, username, realName, host)
	u.Session = sess
	r.nicks[cf] = u
	return u, nil
}

// RegisterRemoteUser creates a User record for a nick owned by a peer
// server (§4.G): no local Session, origin names the owning peer, signonUnix
// carries the peer's signon timestamp so a later merge can apply the
// nick-collision policy's older-signon-wins rule.
func (r *Registry) RegisterRemoteUser(nick, username, realName, host string, signonUnix int64, origin string) (*User, error) {
	if !isValidNick(nick) {
		return nil, ErrErroneousNick
	}
	cf := r.fold(nick)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.nicks[cf]; exists {
		return nil, ErrNickInUse
	}

	u := newUser(nick, cf, username, realName, host)
	u.SignonTime = time.Unix(signonUnix, 0)
	u.Origin = origin
	r.nicks[cf] = u
	return u, nil
}

// ChangeNick atomically moves a User's primary key to new, failing if new
// is taken by someone else (invariant 3, §3 "nick changes rewrite the
// primary key atomically").
func (r *Registry) ChangeNick(u *User, newNick string) error {
	if !isValidNick(newNick) {
		return ErrErroneousNick
	}
	newCF := r.fold(newNick)

	r.mu.Lock()
	defer r.mu.Unlock()

	if newCF != u.nickCF {
		if _, exists := r.nicks[newCF]; exists {
			return ErrNickInUse
		}
	}

	delete(r.nicks, u.nickCF)
	u.mu.Lock()
	oldNick := u.Nick
	u.Nick = newNick
	u.nickCF = newCF
	u.mu.Unlock()
	r.nicks[newCF] = u

	if r.relay != nil {
		r.relay.PublishNickChange(oldNick, newNick)
	}
	return nil
}

// Unregister removes u from every channel it's in and releases its nick.
// It sends nothing itself: callers deliver the QUIT to common-channel peers
// with Broadcaster.ToCommonChannelPeers before calling it. It returns the
// set of channels u was a member of.
func (r *Registry) Unregister(u *User) []*Channel {
	r.mu.Lock()
	u.mu.Lock()
	channels := make([]*Channel, 0, len(u.Channels))
	for _, ch := range u.Channels {
		channels = append(channels, ch)
	}
	u.Channels = make(map[string]*Channel)
	nickCF := u.nickCF
	u.mu.Unlock()

	for _, ch := range orderChannels(channels) {
		ch.mu.Lock()
		delete(ch.Members, nickCF)
		empty := len(ch.Members) == 0
		ch.mu.Unlock()
		if empty {
			delete(r.channels, ch.nameCF)
		}
	}

	delete(r.nicks, nickCF)
	r.mu.Unlock()

	return channels
}

// orderChannels sorts by casefolded name so multi-channel lock acquisition
// follows the "lexicographically smaller name first" rule (§5).
func orderChannels(chans []*Channel) []*Channel {
	out := make([]*Channel, len(chans))
	copy(out, chans)
	sort.Slice(out, func(i, j int) bool { return out[i].nameCF < out[j].nameCF })
	return out
}

// Join adds u to channel, creating it if it doesn't exist. key is checked
// against +k; invite-only, ban and limit checks follow §4.F's evaluation
// order.
func (r *Registry) Join(u *User, name, key string) (*Channel, error) {
	if !isValidChannelName(name) {
		return nil, ErrBadChanMask
	}
	cf := r.fold(name)

	u.mu.Lock()
	joinedCount := len(u.Channels)
	alreadyIn := u.Channels[cf] != nil
	u.mu.Unlock()
	if alreadyIn {
		return r.LookupChannel(name), nil
	}
	if r.maxJoins > 0 && joinedCount >= r.maxJoins {
		return nil, ErrTooManyChannels
	}

	r.mu.Lock()
	ch, exists := r.channels[cf]
	created := false
	if !exists {
		ch = newChannel(name, cf)
		r.channels[cf] = ch
		created = true
	}
	r.mu.Unlock()

	maskLower := r.fold(u.RealHostMask())

	ch.mu.Lock()
	if !created {
		if ch.Key != "" && ch.Key != key {
			ch.mu.Unlock()
			return nil, ErrBadKey
		}
		if ch.Limit > 0 && len(ch.Members) >= ch.Limit {
			ch.mu.Unlock()
			return nil, ErrChannelFull
		}
		invited := ch.Invited[r.fold(u.Nick)] != (time.Time{})
		opOverride := false // caller may re-check with ChanOp privileges out of band
		if ch.Modes.Has('i') && !invited && !opOverride {
			exempt := false
			for _, e := range ch.InviteExceptions {
				if xirc.MatchMask(e, maskLower) {
					exempt = true
					break
				}
			}
			if !exempt {
				ch.mu.Unlock()
				return nil, ErrInviteOnly
			}
		}
		banned := false
		for _, b := range ch.Bans {
			if xirc.MatchMask(b, maskLower) {
				banned = true
				break
			}
		}
		if banned {
			exempt := false
			for _, e := range ch.BanExceptions {
				if xirc.MatchMask(e, maskLower) {
					exempt = true
					break
				}
			}
			if !exempt {
				ch.mu.Unlock()
				return nil, ErrBanned
			}
		}
	}

	ms := &xirc.MembershipSet{}
	if created {
		ms.Add(xirc.MembershipFounder)
		ms.Add(xirc.MembershipOperator)
	}
	ch.Members[r.fold(u.Nick)] = ms
	delete(ch.Invited, r.fold(u.Nick))
	channelTS := ch.ChannelTS
	ch.mu.Unlock()

	u.mu.Lock()
	u.Channels[cf] = ch
	u.mu.Unlock()

	if r.relay != nil {
		r.relay.PublishChanJoin(ch.Name, u.Nick, channelTS)
	}
	return ch, nil
}

// ApplyRemoteJoin adds a peer-owned user to channel without the local
// ban/invite/key/limit checks: those were already enforced by the
// originating server, and relay events are applied on trust (§4.G).
func (r *Registry) ApplyRemoteJoin(u *User, name string, channelTS int64) (*Channel, error) {
	if !isValidChannelName(name) {
		return nil, ErrBadChanMask
	}
	cf := r.fold(name)

	r.mu.Lock()
	ch, exists := r.channels[cf]
	if !exists {
		ch = newChannel(name, cf)
		ch.ChannelTS = channelTS
		r.channels[cf] = ch
	}
	r.mu.Unlock()

	ch.mu.Lock()
	if _, already := ch.Members[r.fold(u.Nick)]; !already {
		ch.Members[r.fold(u.Nick)] = &xirc.MembershipSet{}
	}
	ch.mu.Unlock()

	u.mu.Lock()
	u.Channels[cf] = ch
	u.mu.Unlock()
	return ch, nil
}

// Part removes u from channel, deleting the channel if it becomes empty
// (invariant 5).
func (r *Registry) Part(u *User, name, reason string) error {
	cf := r.fold(name)
	ch := r.LookupChannel(name)
	if ch == nil {
		return ErrNoSuchChannel
	}

	u.mu.Lock()
	_, inChannel := u.Channels[cf]
	if inChannel {
		delete(u.Channels, cf)
	}
	u.mu.Unlock()
	if !inChannel {
		return ErrNotOnChannel
	}

	ch.mu.Lock()
	delete(ch.Members, r.fold(u.Nick))
	empty := len(ch.Members) == 0
	ch.mu.Unlock()

	if empty {
		r.mu.Lock()
		delete(r.channels, cf)
		r.mu.Unlock()
	}

	if r.relay != nil {
		r.relay.PublishChanPart(ch.Name, u.Nick, reason)
	}
	return nil
}

// Kick removes target from channel on oper's behalf. The caller
// (handleKICK in handlers_channel.go) is responsible for the rank-privilege check before
// calling Kick; Registry only enforces membership invariants.
func (r *Registry) Kick(oper *User, name string, target *User, reason string) error {
	cf := r.fold(name)
	ch := r.LookupChannel(name)
	if ch == nil {
		return ErrNoSuchChannel
	}

	target.mu.Lock()
	_, inChannel := target.Channels[cf]
	if inChannel {
		delete(target.Channels, cf)
	}
	target.mu.Unlock()
	if !inChannel {
		return ErrUserNotInChannel
	}

	ch.mu.Lock()
	delete(ch.Members, r.fold(target.Nick))
	empty := len(ch.Members) == 0
	ch.mu.Unlock()

	if empty {
		r.mu.Lock()
		delete(r.channels, cf)
		r.mu.Unlock()
	}

	if r.relay != nil {
		r.relay.PublishChanKick(ch.Name, oper.Nick, target.Nick, reason)
	}
	return nil
}

// SetTopic updates channel's topic; permission to write is checked by the
// caller against the channel's +t mode and the setter's rank.
func (r *Registry) SetTopic(setter *User, name, topic string) (*Channel, error) {
	ch := r.LookupChannel(name)
	if ch == nil {
		return nil, ErrNoSuchChannel
	}
	ch.mu.Lock()
	ch.Topic = topic
	ch.TopicSetBy = setter.Nick
	ch.TopicSetAt = time.Now()
	ch.mu.Unlock()

	if r.relay != nil {
		r.relay.PublishChanTopic(ch.Name, setter.Nick, topic)
	}
	return ch, nil
}

// ModeChangeResult records one successfully-applied mode change plus the
// unknown letters encountered, for building the confirming MODE broadcast
// and any per-letter error numerics.
type ModeChangeResult struct {
	Applied []modeChange
	Unknown []byte
}

// SetUserModes applies a user-mode delta. Letters are classified with the
// channel-mode table (modes.go): the imnpstr flags toggle on the User, while
// letters outside that table (o, x, w among them) are reported as unknown,
// not fatal (§4.C "set_modes").
func (r *Registry) SetUserModes(target *User, delta string) (*ModeChangeResult, error) {
	changes, unknown, err := parseModeChanges(delta, nil, nil)
	if err != nil {
		return nil, err
	}
	target.mu.Lock()
	for _, ch := range changes {
		if ch.plus {
			target.Modes.Add(ch.char)
		} else {
			target.Modes.Del(ch.char)
		}
	}
	modes := string(target.Modes)
	target.mu.Unlock()

	if r.relay != nil && len(changes) > 0 {
		r.relay.PublishUserMode(target.Nick, modes)
	}
	return &ModeChangeResult{Applied: changes, Unknown: unknown}, nil
}

// isMemberPrefixMode reports whether c is one of the rank-change letters
// (qaohv), which SetChannelModes handles against the membership map
// instead of the channel's flag-set.
func isMemberPrefixMode(c byte) bool {
	_, ok := xirc.MembershipByMode(c)
	return ok
}

// SetChannelModes applies a channel-mode delta (flags, key, limit, lists,
// and member-rank changes) left to right, per §4.C. args supplies the
// trailing parameters in wire order; resolve maps a qaohv argument (a nick)
// to the User it names, or nil if no such nick exists. A resolved user who
// is not a member of the channel is skipped.
func (r *Registry) SetChannelModes(setter *User, name, delta string, args []string, resolve func(nick string) *User) (*ModeChangeResult, error) {
	ch := r.LookupChannel(name)
	if ch == nil {
		return nil, ErrNoSuchChannel
	}

	changes, unknown, err := parseModeChanges(delta, args, isMemberPrefixMode)
	if err != nil {
		return nil, err
	}

	var applied []modeChange
	ch.mu.Lock()
	for _, c := range changes {
		switch {
		case isMemberPrefixMode(c.char):
			ch.mu.Unlock()
			target := resolve(c.arg)
			ch.mu.Lock()
			if target == nil {
				continue
			}
			memberCF := r.fold(target.Nick)
			ms, ok := ch.Members[memberCF]
			if !ok {
				continue
			}
			rank, _ := xirc.MembershipByMode(c.char)
			if c.plus {
				ms.Add(rank)
			} else {
				ms.Remove(rank)
			}
			applied = append(applied, c)
		case chanModeClass(c.char) == 'A':
			list := ch.listFor(c.char)
			if c.plus {
				*list = appendUnique(*list, c.arg)
			} else {
				*list = removeMask(*list, c.arg)
			}
			applied = append(applied, c)
		case c.char == 'k':
			if c.plus {
				ch.Key = c.arg
			} else {
				ch.Key = ""
			}
			applied = append(applied, c)
		case c.char == 'l':
			if c.plus {
				fmt.Sscanf(c.arg, "%d", &ch.Limit)
			} else {
				ch.Limit = 0
			}
			applied = append(applied, c)
		default:
			if c.plus {
				ch.Modes.Add(c.char)
			} else {
				ch.Modes.Del(c.char)
			}
			applied = append(applied, c)
		}
	}
	modes := string(ch.Modes)
	ch.mu.Unlock()

	if r.relay != nil && len(applied) > 0 {
		argsOut := make([]string, 0, len(applied))
		for _, a := range applied {
			if a.arg != "" {
				argsOut = append(argsOut, a.arg)
			}
		}
		r.relay.PublishChanMode(ch.Name, setter.Nick, modes, argsOut)
	}

	return &ModeChangeResult{Applied: applied, Unknown: unknown}, nil
}

func (ch *Channel) listFor(c byte) *[]string {
	switch c {
	case 'b':
		return &ch.Bans
	case 'e':
		return &ch.BanExceptions
	case 'I':
		return &ch.InviteExceptions
	default:
		return &[]string{}
	}
}

func appendUnique(list []string, mask string) []string {
	for _, m := range list {
		if m == mask {
			return list
		}
	}
	return append(list, mask)
}

func removeMask(list []string, mask string) []string {
	for i, m := range list {
		if m == mask {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// ApplyRemoteUserMode sets a peer-confirmed user's mode string wholesale
// during relay merge, trusting the originating server's own validation
// (§4.G "applied on trust").
func (r *Registry) ApplyRemoteUserMode(u *User, modes string) {
	u.mu.Lock()
	u.Modes = modeSet(modes)
	u.mu.Unlock()
}

// ApplyRemoteChanMode mirrors a peer's CHAN_MODE event locally. The
// published payload carries the resulting flag string rather than a delta
// (registry.go's own publish side only ever sent that much), so the inbound
// side mirrors the flag snapshot; member-rank and list-mode changes are
// carried separately by CHAN_JOIN/KICK and burst state.
func (r *Registry) ApplyRemoteChanMode(name, modes string) {
	ch := r.LookupChannel(name)
	if ch == nil {
		return
	}
	ch.mu.Lock()
	ch.Modes = modeSet(modes)
	ch.mu.Unlock()
}

// ApplyRemoteTopic sets a channel's topic during relay merge, used by burst
// state where no setter identity travels with the snapshot.
func (r *Registry) ApplyRemoteTopic(name, topic string) {
	ch := r.LookupChannel(name)
	if ch == nil {
		return
	}
	ch.mu.Lock()
	ch.Topic = topic
	ch.mu.Unlock()
}

// ApplyRemoteRank sets a member's rank directly during burst merge, where
// the membership prefix character already travels in
// relay.BurstChannelState.Members instead of as a separate mode delta.
func (r *Registry) ApplyRemoteRank(ch *Channel, nick string, prefixChar byte) {
	rank, ok := xirc.MembershipByPrefix(prefixChar)
	if !ok {
		return
	}
	ch.mu.Lock()
	if ms, ok := ch.Members[r.fold(nick)]; ok {
		ms.Add(rank)
	}
	ch.mu.Unlock()
}

// ApplyRemoteKick mirrors a peer-confirmed KICK locally: membership removal
// only, no rank/privilege re-check since the kicking server already
// enforced it (§4.G).
func (r *Registry) ApplyRemoteKick(target *User, name string) error {
	cf := r.fold(name)
	ch := r.LookupChannel(name)
	if ch == nil {
		return ErrNoSuchChannel
	}

	target.mu.Lock()
	delete(target.Channels, cf)
	target.mu.Unlock()

	ch.mu.Lock()
	delete(ch.Members, r.fold(target.Nick))
	empty := len(ch.Members) == 0
	ch.mu.Unlock()

	if empty {
		r.mu.Lock()
		delete(r.channels, cf)
		r.mu.Unlock()
	}
	return nil
}

// SeedChannel pre-creates a channel from configuration (§6 "[[channels]]"),
// applying its registered topic, flag modes and lists before anyone joins,
// so JOIN finds it already configured instead of starting blank.
func (r *Registry) SeedChannel(name, topic, flags string, bans, exceptions, inviteExceptions []string, key string) *Channel {
	cf := r.fold(name)
	r.mu.Lock()
	ch, exists := r.channels[cf]
	if !exists {
		ch = newChannel(name, cf)
		r.channels[cf] = ch
	}
	r.mu.Unlock()

	ch.mu.Lock()
	if topic != "" {
		ch.Topic = topic
	}
	for i := 0; i < len(flags); i++ {
		ch.Modes.Add(flags[i])
	}
	ch.Bans = append(ch.Bans, bans...)
	ch.BanExceptions = append(ch.BanExceptions, exceptions...)
	ch.InviteExceptions = append(ch.InviteExceptions, inviteExceptions...)
	ch.Key = key
	ch.mu.Unlock()
	return ch
}

func isValidNick(nick string) bool {
	if nick == "" || len(nick) > 30 {
		return false
	}
	for i := 0; i < len(nick); i++ {
		c := nick[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		case i > 0 && (c == '-'):
		case c == '[' || c == ']' || c == '\\' || c == '`' || c == '_' || c == '^' || c == '{' || c == '}' || c == '|':
		default:
			return false
		}
	}
	return true
}

func isValidChannelName(name string) bool {
	if len(name) < 2 || len(name) > 50 {
		return false
	}
	if name[0] != '#' && name[0] != '&' {
		return false
	}
	for i := 1; i < len(name); i++ {
		switch name[i] {
		case ' ', ',', '\x07', ':':
			return false
		}
	}
	return true
}
