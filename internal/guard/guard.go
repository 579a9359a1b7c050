// Package guard holds the synchronous content filters applied to outbound
// user text before any backend dispatch: PII pattern rejection and a
// prohibited-action denylist.
package guard

import (
	"regexp"
	"strings"
)

// ViolationKind classifies why a message was rejected.
type ViolationKind string

const (
	// ViolationPII: the message is blocked and never persisted.
	ViolationPII ViolationKind = "pii"
	// ViolationProhibited: the message is refused; the fixed refusal reply is
	// persisted to document it, and the conversation state does not advance.
	ViolationProhibited ViolationKind = "prohibited"
)

// Violation describes a single filter hit.
type Violation struct {
	Kind    ViolationKind
	Pattern string
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
	// Long uninterrupted digit runs look like passport / SNILS / INN numbers.
	idPattern = regexp.MustCompile(`\b\d{10,14}\b`)
)

// phoneMinDigits separates phone numbers from spaced money amounts: "1 000 000
// рублей" carries seven digits, any real phone number carries at least ten.
const phoneMinDigits = 10

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// DefaultDenylist is the placeholder prohibited-action vocabulary. The policy
// data is swappable; the interface is not.
var DefaultDenylist = []string{
	"guarantee approval",
	"forge",
	"fake document",
	"гарантия одобрения",
	"поддела",
	"подделк",
	"обойти проверку",
	"обмануть банк",
	"фиктивн",
}

// Guard runs the two filters in a fixed order: PII first, then the denylist.
type Guard struct {
	denylist []string
}

// New builds a guard with the given denylist; nil means DefaultDenylist.
func New(denylist []string) *Guard {
	if denylist == nil {
		denylist = DefaultDenylist
	}
	lowered := make([]string, len(denylist))
	for i, phrase := range denylist {
		lowered[i] = strings.ToLower(phrase)
	}
	return &Guard{denylist: lowered}
}

// Check returns the first violation found in the text, or nil.
func (g *Guard) Check(text string) *Violation {
	if v := g.checkPII(text); v != nil {
		return v
	}
	return g.checkProhibited(text)
}

func (g *Guard) checkPII(text string) *Violation {
	if emailPattern.MatchString(text) {
		return &Violation{Kind: ViolationPII, Pattern: "email"}
	}
	if idPattern.MatchString(text) {
		return &Violation{Kind: ViolationPII, Pattern: "national_id"}
	}
	for _, match := range phonePattern.FindAllString(text, -1) {
		if digitCount(match) >= phoneMinDigits {
			return &Violation{Kind: ViolationPII, Pattern: "phone"}
		}
	}
	return nil
}

func (g *Guard) checkProhibited(text string) *Violation {
	lowered := strings.ToLower(text)
	for _, phrase := range g.denylist {
		if strings.Contains(lowered, phrase) {
			return &Violation{Kind: ViolationProhibited, Pattern: phrase}
		}
	}
	return nil
}
