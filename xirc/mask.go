package xirc

import "strings"

// MatchMask reports whether source (a casefolded "nick!user@host" string)
// matches mask, a wildcard pattern using '*' (any run, including empty) and
// '?' (exactly one character). Both arguments must already be casefolded by
// the caller with the same CaseMapping: match(m, s) == match(fold(m), fold(s)).
func MatchMask(mask, source string) bool {
	return wildcardMatch(mask, source)
}

func wildcardMatch(pattern, s string) bool {
	// Classic DP-free greedy wildcard matcher with backtracking on '*',
	// O(len(pattern)*len(s)) worst case, fine for mask lengths seen on the
	// wire (bounded by MaxMessageLength).
	var pIdx, sIdx, starIdx, sTmpIdx int
	starIdx, sTmpIdx = -1, -1

	for sIdx < len(s) {
		if pIdx < len(pattern) && (pattern[pIdx] == '?' || pattern[pIdx] == s[sIdx]) {
			pIdx++
			sIdx++
		} else if pIdx < len(pattern) && pattern[pIdx] == '*' {
			starIdx = pIdx
			sTmpIdx = sIdx
			pIdx++
		} else if starIdx != -1 {
			pIdx = starIdx + 1
			sTmpIdx++
			sIdx = sTmpIdx
		} else {
			return false
		}
	}

	for pIdx < len(pattern) && pattern[pIdx] == '*' {
		pIdx++
	}

	return pIdx == len(pattern)
}

// SplitMask splits a "nick!user@host" mask into its three components,
// defaulting missing parts to "*".
func SplitMask(mask string) (nick, user, host string) {
	nick, rest, ok := strings.Cut(mask, "!")
	if !ok {
		return mask, "*", "*"
	}
	user, host, ok = strings.Cut(rest, "@")
	if !ok {
		return nick, rest, "*"
	}
	return nick, user, host
}

// BuildMask joins nick/user/host into the canonical "nick!user@host" form
// used by bans, exceptions and oper source checks.
func BuildMask(nick, user, host string) string {
	return nick + "!" + user + "@" + host
}
