package zeusircd2

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"strings"

	"github.com/Pryancito/zeusircd2/config"
)

// Cloaker computes the deterministic, one-way host cloak of §4.F,
// prefix-XXXX.YYYY.ZZZZ: the first segment is an HMAC-SHA256 of the whole
// host under key1, and each later segment an HMAC of the previous segment
// under key2 and key3 respectively. No segment is derived from an
// individual label of the host, and nothing maps a cloak back to its host.
type Cloaker struct {
	key1, key2, key3 []byte
	prefix           string
}

func NewCloaker(cfg config.Cloak) *Cloaker {
	return &Cloaker{
		key1:   []byte(cfg.Key1),
		key2:   []byte(cfg.Key2),
		key3:   []byte(cfg.Key3),
		prefix: cfg.Prefix,
	}
}

// Cloak derives a cloaked host for host. IP literals and hostnames are both
// accepted; the whole string is treated as one opaque input to the first
// segment, with two more segments derived by re-keying, giving three
// "XXXX.YYYY.ZZZZ" labels that don't reveal the original structure.
func (c *Cloaker) Cloak(host string) string {
	seg1 := cloakSegment(c.key1, host)
	seg2 := cloakSegment(c.key2, seg1)
	seg3 := cloakSegment(c.key3, seg2)
	return c.prefix + "-" + seg1 + "." + seg2 + "." + seg3
}

func cloakSegment(key []byte, input string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(input))
	sum := mac.Sum(nil)
	enc := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(sum[:5])
	return strings.ToLower(enc)
}
