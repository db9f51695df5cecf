package rsp

import (
	"fmt"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// stripUnprintable matches runes rejected from debugger-visible diagnostic
// text, standing in for the teacher's isprint()-based makeSafeString.
var stripUnprintable = runes.Remove(runes.Predicate(func(r rune) bool {
	return unicode.IsControl(r) && r != '\n' && r != '\t'
}))

// ConsoleWriter sends best-effort diagnostic text to the debugger as RSP
// 'O' packets. It guards against reentry: a failure raised while framing
// one console message must not trigger a nested console write, which
// would interleave partially-sent packets on the wire.
//
// This replaces the teacher's file-scope `static bool reentered` with a
// field on the writer, per the module-level-statics redesign flag.
type ConsoleWriter struct {
	framer    *Framer
	reentered bool
}

// NewConsoleWriter binds a ConsoleWriter to the framer it sends through.
func NewConsoleWriter(f *Framer) *ConsoleWriter {
	return &ConsoleWriter{framer: f}
}

// Printf formats and sends an 'O' console packet. It is a no-op while a
// send from a prior call is still in flight on the same writer.
func (c *ConsoleWriter) Printf(format string, args ...interface{}) {
	if c.reentered {
		return
	}

	c.reentered = true
	defer func() { c.reentered = false }()

	text := SafeString(fmt.Sprintf(format, args...))

	_ = c.framer.SendString("O" + EncodeBytes([]byte(text)))
}

// SafeString renders s with non-printable runes stripped (newline and tab
// excepted), for inclusion in log lines or console packets that echo raw
// debugger input.
func SafeString(s string) string {
	out, _, err := transform.String(stripUnprintable, s)
	if err != nil {
		return s
	}

	return out
}
