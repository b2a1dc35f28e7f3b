// Package comment encodes the order comment that links a venue order to a
// logical system and its grid-step sequence.
//
// Format: "<prefix>_<system>_<payload>", never longer than the codec limit.
// The payload degrades through four tiers as the sequence grows:
//
//	plain      "(0,1,3)"        decimal, lossless
//	compact    "ABD"            one base64 symbol per value (values < 64), lossless
//	truncated  "ABDEFG~"        compact head, '~' marks the dropped tail
//	hashed     "#9f2c01aa"      xxhash of the plain rendering, cut to fit
package comment

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/tathienbao/ocogrid/internal/types"
)

const (
	// DefaultMaxLen is the comment limit of the reference venue.
	DefaultMaxLen = 31
	// DefaultPrefix tags every order placed by this strategy.
	DefaultPrefix = "MC"
)

const (
	alphabet    = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
	truncMarker = '~'
	hashMarker  = '#'
)

// Tier identifies how the payload was rendered.
type Tier int

const (
	TierPlain Tier = iota
	TierCompact
	TierTruncated
	TierHashed
)

func (t Tier) String() string {
	switch t {
	case TierPlain:
		return "plain"
	case TierCompact:
		return "compact"
	case TierTruncated:
		return "truncated"
	case TierHashed:
		return "hashed"
	default:
		return "unknown"
	}
}

// Identifier is a decoded comment.
type Identifier struct {
	System   string
	Sequence []int // Head only when truncated, nil when hashed
	Tier     Tier
	Hash     string // Set for TierHashed
}

// Lossy reports whether the sequence could not be fully recovered.
func (id Identifier) Lossy() bool {
	return id.Tier == TierTruncated || id.Tier == TierHashed
}

// Codec encodes and decodes order comments.
type Codec struct {
	prefix string
	maxLen int
}

// NewCodec creates a codec. Empty prefix and non-positive maxLen use defaults.
func NewCodec(prefix string, maxLen int) *Codec {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLen
	}
	return &Codec{prefix: prefix, maxLen: maxLen}
}

// Prefix returns the fixed comment prefix.
func (c *Codec) Prefix() string {
	return c.prefix
}

// MaxLen returns the comment length limit.
func (c *Codec) MaxLen() int {
	return c.maxLen
}

func (c *Codec) head(system string) string {
	return c.prefix + "_" + system + "_"
}

// Matches reports whether a comment belongs to the given system.
func (c *Codec) Matches(comment, system string) bool {
	return strings.HasPrefix(comment, c.head(system))
}

// Owned reports whether a comment carries this codec's prefix.
func (c *Codec) Owned(comment string) bool {
	return strings.HasPrefix(comment, c.prefix+"_")
}

// Encode renders system and sequence into a comment of at most MaxLen bytes.
func (c *Codec) Encode(system string, seq []int) string {
	head := c.head(system)
	room := c.maxLen - len(head)

	plain := FormatSequence(seq)
	if len(plain) <= room {
		return head + plain
	}

	if compact, ok := renderCompact(seq); ok {
		if len(compact) <= room {
			return head + compact
		}
		if room >= 2 {
			return head + compact[:room-1] + string(truncMarker)
		}
	}

	hashed := string(hashMarker) + fmt.Sprintf("%016x", xxhash.Sum64String(plain))
	if room >= 2 {
		if len(hashed) > room {
			hashed = hashed[:room]
		}
		return head + hashed
	}

	// Not even the marker fits; the result will not decode.
	full := head + hashed
	if len(full) > c.maxLen {
		full = full[:c.maxLen]
	}
	return full
}

// Decode parses a comment produced by Encode. Venue suffixes such as "[tp]"
// are ignored.
func (c *Codec) Decode(comment string) (Identifier, error) {
	comment = stripVenueSuffix(comment)

	lead := c.prefix + "_"
	if !strings.HasPrefix(comment, lead) {
		return Identifier{}, fmt.Errorf("%w: missing prefix %q", types.ErrMalformedIdentifier, c.prefix)
	}

	system, payload, ok := strings.Cut(comment[len(lead):], "_")
	if !ok || system == "" {
		return Identifier{}, fmt.Errorf("%w: missing system tag in %q", types.ErrMalformedIdentifier, comment)
	}
	if payload == "" {
		return Identifier{}, fmt.Errorf("%w: empty payload in %q", types.ErrMalformedIdentifier, comment)
	}

	id := Identifier{System: system}
	var err error

	switch {
	case payload[0] == '(':
		id.Tier = TierPlain
		id.Sequence, err = parsePlain(payload)
	case payload[0] == hashMarker:
		id.Tier = TierHashed
		id.Hash = payload[1:]
		if id.Hash == "" || !isHex(id.Hash) {
			err = fmt.Errorf("bad hash %q", id.Hash)
		}
	case payload[len(payload)-1] == truncMarker:
		id.Tier = TierTruncated
		id.Sequence, err = parseCompact(payload[:len(payload)-1])
	default:
		id.Tier = TierCompact
		id.Sequence, err = parseCompact(payload)
	}

	if err != nil {
		return Identifier{}, fmt.Errorf("%w: %v", types.ErrMalformedIdentifier, err)
	}
	return id, nil
}

// FormatSequence renders a sequence as "(a,b,c)".
func FormatSequence(seq []int) string {
	var b strings.Builder
	b.WriteByte('(')
	for i, v := range seq {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	b.WriteByte(')')
	return b.String()
}

func renderCompact(seq []int) (string, bool) {
	if len(seq) == 0 {
		return "", false
	}
	buf := make([]byte, len(seq))
	for i, v := range seq {
		if v < 0 || v >= len(alphabet) {
			return "", false
		}
		buf[i] = alphabet[v]
	}
	return string(buf), true
}

func parsePlain(payload string) ([]int, error) {
	if len(payload) < 2 || payload[len(payload)-1] != ')' {
		return nil, fmt.Errorf("unterminated sequence %q", payload)
	}
	inner := payload[1 : len(payload)-1]
	if inner == "" {
		return []int{}, nil
	}
	parts := strings.Split(inner, ",")
	seq := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad value %q", p)
		}
		if v < 0 {
			return nil, fmt.Errorf("negative value %d", v)
		}
		seq = append(seq, v)
	}
	return seq, nil
}

func parseCompact(s string) ([]int, error) {
	if s == "" {
		return nil, fmt.Errorf("empty compact payload")
	}
	seq := make([]int, len(s))
	for i := 0; i < len(s); i++ {
		v := strings.IndexByte(alphabet, s[i])
		if v < 0 {
			return nil, fmt.Errorf("bad symbol %q", s[i])
		}
		seq[i] = v
	}
	return seq, nil
}

func stripVenueSuffix(comment string) string {
	comment = strings.TrimSpace(comment)
	if !strings.HasSuffix(comment, "]") {
		return comment
	}
	if i := strings.LastIndexByte(comment, '['); i >= 0 {
		return strings.TrimSpace(comment[:i])
	}
	return comment
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !(ch >= '0' && ch <= '9' || ch >= 'a' && ch <= 'f') {
			return false
		}
	}
	return true
}
