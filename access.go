package zeusircd2

import (
	"github.com/Pryancito/zeusircd2/auth"
	"github.com/Pryancito/zeusircd2/config"
	"github.com/Pryancito/zeusircd2/xirc"
)

// AccessControl groups the mask-matching, operator-auth and channel
// privilege checks of §4.F. It holds no mutable state beyond the
// configured operator list, which is swapped wholesale on REHASH along
// with the rest of the config snapshot (§5 "Shared resources").
type AccessControl struct {
	operators []auth.OperatorRecord
	casefold  xirc.CaseMapping
}

func NewAccessControl(cfg *config.Config, casefold xirc.CaseMapping) *AccessControl {
	ops := make([]auth.OperatorRecord, len(cfg.Operators))
	for i, o := range cfg.Operators {
		ops[i] = auth.OperatorRecord{Name: o.Name, Password: o.Password, Mask: o.Mask}
	}
	return &AccessControl{operators: ops, casefold: casefold}
}

// AuthenticateOper verifies an OPER login against the configured operator
// blocks, matching the source mask against the user's real (uncloaked)
// host (§4.F).
func (a *AccessControl) AuthenticateOper(u *User, name, password string) error {
	sourceNUH := a.casefold(u.RealHostMask())
	_, err := auth.AuthenticateOperator(a.operators, name, password, sourceNUH)
	return err
}

// CanSetTopic reports whether setter may change channel's topic: always
// true if the channel isn't +t, otherwise requires op or halfop rank
// (§4.C "set_topic").
func CanSetTopic(ch *Channel, rank xirc.MembershipSet) bool {
	if !ch.Modes.Has('t') {
		return true
	}
	return rank.HasAtLeast(xirc.MembershipHalfOp)
}

// CanKick reports whether oper may kick a member holding targetRank: needs
// at least halfop, and must outrank the target (§4.C "kick ... requires
// +o or +h with target-rank-lower").
func CanKick(operRank, targetRank xirc.MembershipSet) bool {
	if !operRank.HasAtLeast(xirc.MembershipHalfOp) {
		return false
	}
	operHighest, ok := operRank.Highest()
	if !ok {
		return false
	}
	targetHighest, hasTarget := targetRank.Highest()
	if !hasTarget {
		return true
	}
	return membershipOutranks(operHighest, targetHighest)
}

func membershipOutranks(a, b xirc.Membership) bool {
	for _, m := range xirc.StandardMemberships {
		if m == b {
			return false
		}
		if m == a {
			return true
		}
	}
	return false
}

// CanSetChannelModes reports whether setter may apply a mode delta: any
// change to the member-rank letters or the list/flag modes requires at
// least halfop, same floor as topic and kick.
func CanSetChannelModes(rank xirc.MembershipSet) bool {
	return rank.HasAtLeast(xirc.MembershipHalfOp)
}

// checkJoinInviteOverride reports whether a member's rank (operator or
// above) lets it INVITE others into a +i channel; handleINVITE is its only
// caller.
func checkJoinInviteOverride(rank xirc.MembershipSet) bool {
	return rank.HasAtLeast(xirc.MembershipOperator)
}
