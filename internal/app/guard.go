package app

import (
	"strings"
	"unicode"
)

// StopReason says why the guard wants the generation stopped.
type StopReason string

const (
	StopNone       StopReason = ""
	StopRepetition StopReason = "repetition"
	StopLength     StopReason = "length"
)

const truncationMarker = "\n\n[output truncated: runaway generation]"

type GuardConfig struct {
	// BufferCap bounds the trailing text window the guard inspects. Oldest
	// content is dropped first.
	BufferCap int
	// MinPatternLen / MaxPatternLen bound the candidate repeated-pattern
	// lengths, in characters.
	MinPatternLen int
	MaxPatternLen int
	// Threshold is how many consecutive normalized-equal windows count as
	// runaway repetition.
	Threshold int
	// SentenceWindow is how many trailing sentences the sentence-level check
	// inspects.
	SentenceWindow int
	// MaxChars is the hard ceiling on total generated characters.
	MaxChars int
	// KeepFraction is how much of the accumulated text survives truncation.
	KeepFraction float64
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		BufferCap:      2000,
		MinPatternLen:  8,
		MaxPatternLen:  200,
		Threshold:      3,
		SentenceWindow: 6,
		MaxChars:       60000,
		KeepFraction:   0.8,
	}
}

// RunawayGuard watches one generation's token stream for pathological
// repetition or excessive length. It fires at most once per generation.
type RunawayGuard struct {
	cfg   GuardConfig
	buf   []rune
	total int
	fired bool
}

func NewRunawayGuard(cfg GuardConfig) *RunawayGuard {
	if cfg.BufferCap <= 0 {
		cfg.BufferCap = 2000
	}
	if cfg.MinPatternLen <= 0 {
		cfg.MinPatternLen = 8
	}
	if cfg.MaxPatternLen < cfg.MinPatternLen {
		cfg.MaxPatternLen = cfg.MinPatternLen
	}
	if cfg.Threshold < 2 {
		cfg.Threshold = 3
	}
	if cfg.SentenceWindow < 4 {
		cfg.SentenceWindow = 4
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = 60000
	}
	if cfg.KeepFraction <= 0 || cfg.KeepFraction > 1 {
		cfg.KeepFraction = 0.8
	}
	return &RunawayGuard{cfg: cfg}
}

// Feed appends one token to the trailing window and reports whether the
// generation should stop. After the first detection the guard stays silent.
func (g *RunawayGuard) Feed(token string) StopReason {
	if g.fired {
		return StopNone
	}

	runes := []rune(token)
	g.total += len(runes)
	g.buf = append(g.buf, runes...)
	if over := len(g.buf) - g.cfg.BufferCap; over > 0 {
		g.buf = g.buf[over:]
	}

	if g.total >= g.cfg.MaxChars {
		g.fired = true
		return StopLength
	}
	if g.detectPatternRepetition() || g.detectSentenceRepetition() {
		g.fired = true
		return StopRepetition
	}
	return StopNone
}

// TruncateKnownGood cuts accumulated text back to a known-good prefix and
// appends the truncation marker. Used when the guard fires: the result is a
// controlled stop, not an error.
func (g *RunawayGuard) TruncateKnownGood(text string) string {
	runes := []rune(text)
	keep := int(float64(len(runes)) * g.cfg.KeepFraction)
	if keep <= 0 {
		keep = len(runes)
	}
	return string(runes[:keep]) + truncationMarker
}

// detectPatternRepetition takes the trailing substring of each candidate
// length as the pattern and walks backward comparing preceding equal-length
// windows, whitespace-normalized. Threshold consecutive equal windows means
// the tail is stuck in a loop.
func (g *RunawayGuard) detectPatternRepetition() bool {
	n := len(g.buf)
	maxLen := g.cfg.MaxPatternLen
	if byBuf := n / g.cfg.Threshold; byBuf < maxLen {
		maxLen = byBuf
	}

	for patLen := g.cfg.MinPatternLen; patLen <= maxLen; patLen++ {
		pattern := normalizeWindow(g.buf[n-patLen:])
		if pattern == "" {
			continue
		}
		count := 1
		pos := n - patLen
		for pos-patLen >= 0 {
			if normalizeWindow(g.buf[pos-patLen:pos]) != pattern {
				break
			}
			count++
			pos -= patLen
			if count >= g.cfg.Threshold {
				return true
			}
		}
	}
	return false
}

// detectSentenceRepetition splits the window into sentences and checks
// whether the trailing ones have collapsed onto one or two distinct strings.
// This catches near-loops that pattern matching misses.
func (g *RunawayGuard) detectSentenceRepetition() bool {
	sentences := splitSentences(string(g.buf))
	if len(sentences) > g.cfg.SentenceWindow {
		sentences = sentences[len(sentences)-g.cfg.SentenceWindow:]
	}
	if len(sentences) < 4 {
		return false
	}
	distinct := make(map[string]bool, len(sentences))
	for _, s := range sentences {
		norm := normalizeWindow([]rune(s))
		if norm == "" {
			continue
		}
		distinct[norm] = true
	}
	return len(distinct) > 0 && len(distinct) <= 2
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder
	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			s := strings.TrimSpace(current.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}
	// An unterminated trailing fragment is not a sentence yet.
	return sentences
}

// normalizeWindow lowercases and collapses runs of whitespace so that token
// boundary jitter does not defeat comparison.
func normalizeWindow(window []rune) string {
	var b strings.Builder
	inSpace := false
	for _, r := range window {
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}
