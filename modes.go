package zeusircd2

import (
	"fmt"
	"strings"
)

// modeSet is a flag-set of single-character modes, adapted from the
// teacher's irc.go modeSet: a byte string where membership means "set".
// Used for user modes and for the non-list, non-parametric channel modes.
type modeSet string

func (ms modeSet) Has(c byte) bool {
	return strings.IndexByte(string(ms), c) >= 0
}

func (ms *modeSet) Add(c byte) {
	if !ms.Has(c) {
		*ms += modeSet(c)
	}
}

func (ms *modeSet) Del(c byte) {
	i := strings.IndexByte(string(*ms), c)
	if i >= 0 {
		*ms = (*ms)[:i] + (*ms)[i+1:]
	}
}

func (ms modeSet) String() string {
	if ms == "" {
		return ""
	}
	return "+" + string(ms)
}

// Channel mode letter classes, per ISUPPORT CHANMODES=beI,k,l,imnpstr.
const (
	chanModesList      = "beI"    // ban, exception, invite-exception: always take an argument, list-type
	chanModesParam     = "k"      // takes an argument when setting, none when unsetting
	chanModesParamBoth = "l"      // takes an argument only when setting
	chanModesFlag      = "imnpstr" // no argument ever
)

func chanModeClass(c byte) byte {
	switch {
	case strings.IndexByte(chanModesList, c) >= 0:
		return 'A'
	case strings.IndexByte(chanModesParam, c) >= 0:
		return 'B'
	case strings.IndexByte(chanModesParamBoth, c) >= 0:
		return 'C'
	case strings.IndexByte(chanModesFlag, c) >= 0:
		return 'D'
	default:
		return 0
	}
}

// modeChange is one parsed unit of a MODE command: the letter, whether it's
// being set or unset, and its argument if any.
type modeChange struct {
	plus bool
	char byte
	arg  string
}

// parseModeChanges expands a "+o-v" style modestring plus its trailing
// arguments into individual changes, consuming arguments for letters that
// need them per class. Unknown letters are reported (not silently ignored)
// so the caller can emit one numeric per unknown letter without aborting
// the rest of the batch (§4.C set_modes).
func parseModeChanges(modestring string, args []string, isMemberPrefix func(byte) bool) ([]modeChange, []byte, error) {
	var changes []modeChange
	var unknown []byte
	argIdx := 0
	plus := true
	havePolarity := false

	nextArg := func() (string, bool) {
		if argIdx >= len(args) {
			return "", false
		}
		a := args[argIdx]
		argIdx++
		return a, true
	}

	for i := 0; i < len(modestring); i++ {
		c := modestring[i]
		switch c {
		case '+':
			plus = true
			havePolarity = true
			continue
		case '-':
			plus = false
			havePolarity = true
			continue
		}
		if !havePolarity {
			return nil, nil, fmt.Errorf("malformed modestring %q: missing +/- before %q", modestring, c)
		}

		switch {
		case isMemberPrefix != nil && isMemberPrefix(c):
			arg, ok := nextArg()
			if !ok {
				unknown = append(unknown, c)
				continue
			}
			changes = append(changes, modeChange{plus: plus, char: c, arg: arg})
		default:
			switch chanModeClass(c) {
			case 'A':
				arg, ok := nextArg()
				if !ok {
					unknown = append(unknown, c)
					continue
				}
				changes = append(changes, modeChange{plus: plus, char: c, arg: arg})
			case 'B':
				if plus {
					arg, ok := nextArg()
					if !ok {
						unknown = append(unknown, c)
						continue
					}
					changes = append(changes, modeChange{plus: plus, char: c, arg: arg})
				} else {
					changes = append(changes, modeChange{plus: plus, char: c})
				}
			case 'C':
				if plus {
					arg, ok := nextArg()
					if !ok {
						unknown = append(unknown, c)
						continue
					}
					changes = append(changes, modeChange{plus: plus, char: c, arg: arg})
				} else {
					changes = append(changes, modeChange{plus: plus, char: c})
				}
			case 'D':
				changes = append(changes, modeChange{plus: plus, char: c})
			default:
				unknown = append(unknown, c)
			}
		}
	}

	return changes, unknown, nil
}
