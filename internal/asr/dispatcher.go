package asr

import (
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/loqalabs/loqa-captions/internal/capitalize"
	"github.com/loqalabs/loqa-captions/internal/stt"
	"github.com/loqalabs/loqa-captions/internal/transcript"
)

const overloadWarning = "Speech recognition is falling behind"

// handleResult runs on the engine's goroutine. generation identifies the
// session the result came from; results from released sessions are dropped.
func (c *Core) handleResult(generation uint64, r stt.Result) {
	if c.poster == nil || c.paused.Load() {
		return
	}
	c.metrics.result(r.Kind.String())

	switch r.Kind {
	case stt.ResultOverload:
		c.post(transcript.Warning{Message: overloadWarning})
		return
	case stt.ResultPartial, stt.ResultFinal, stt.ResultSilence:
	default:
		return
	}

	tokens := stt.CopyTokens(r.Tokens)

	c.mu.Lock()
	st, ok := c.state.(*activeSession)
	if !ok || st.generation != generation {
		c.mu.Unlock()
		c.metrics.staleResult()
		return
	}
	if r.Kind == stt.ResultSilence {
		c.silenceLocked()
	} else {
		c.utteranceLocked(tokens, r.Kind == stt.ResultFinal)
	}
	label := c.labelLocked()
	c.mu.Unlock()

	c.post(label)
}

// utteranceLocked renders the whole current utterance. Transcript updates
// are posted while mu is held so their order matches the order of state
// changes.
func (c *Core) utteranceLocked(tokens []stt.Token, final bool) {
	c.silenceAt = time.Time{}

	if layout := c.settings.Layout(); c.lines.NeedsRebind(layout.Serial) {
		c.lines.Bind(layout)
	}

	decisions := c.caps.Decide(tokens)
	pieces := c.caps.Render(tokens, decisions, c.settings.RenderLowercase())
	c.lines.Update(pieces)
	text := c.separateLocked(capitalize.Join(pieces))

	c.post(transcript.Update{Text: text, Final: final})

	if !final {
		c.utterance = text
		c.pending = tokens
		return
	}
	c.lines.Finalize()
	c.caps.Commit()
	if c.history != nil && len(tokens) > 0 {
		c.history.CommitTokens(tokens)
	}
	if text != "" {
		c.sealedTail = text
	}
	c.utterance = ""
	c.pending = nil
}

// separateLocked prefixes text with the space that separates it from the
// last finalized utterance. Surfaces insert update text verbatim.
func (c *Core) separateLocked(text string) string {
	if text == "" || c.sealedTail == "" {
		return text
	}
	first, _ := utf8.DecodeRuneInString(text)
	last, _ := utf8.DecodeLastRuneInString(c.sealedTail)
	if unicode.IsSpace(first) || unicode.IsSpace(last) {
		return text
	}
	return " " + text
}

func (c *Core) silenceLocked() {
	c.silenceAt = c.clock()
	c.lines.Break()
	if c.history != nil {
		c.history.CommitSilenceMarker()
	}
}
