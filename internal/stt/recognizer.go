package stt

import (
	"context"
	"errors"
	"fmt"
)

// ResultKind tags a recognizer callback.
type ResultKind int

const (
	ResultPartial ResultKind = iota
	ResultFinal
	ResultSilence
	ResultOverload
)

func (k ResultKind) String() string {
	switch k {
	case ResultPartial:
		return "partial"
	case ResultFinal:
		return "final"
	case ResultSilence:
		return "silence"
	case ResultOverload:
		return "overload"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// TokenFlags carries per-token hints reported by the recognizer.
type TokenFlags uint32

const (
	// FlagWordBoundary marks the first piece of a word.
	FlagWordBoundary TokenFlags = 1 << iota
	// FlagSentenceEnd marks a token that terminates a sentence.
	FlagSentenceEnd
	// FlagCapitalize marks a proper noun or other forced capital.
	FlagCapitalize
	// FlagContinuation marks a sub-word piece glued to the previous token.
	FlagContinuation
)

func (f TokenFlags) Has(flag TokenFlags) bool { return f&flag != 0 }

// Token is one unit of recognizer output.
type Token struct {
	Text  string     `json:"text"`
	Flags TokenFlags `json:"flags,omitempty"`
}

// Result is delivered to a Handler on the recognizer's own goroutine. Tokens
// are only valid for the duration of the call.
type Result struct {
	Kind   ResultKind
	Tokens []Token
}

// Handler receives recognizer results.
type Handler func(Result)

// Session is a live decoding session. FeedPCM16 and Flush must not block the
// caller; once Close has been called they are no-ops.
type Session interface {
	FeedPCM16(samples []int16)
	Flush()
	Close() error
}

// Model is a loaded recognition model.
type Model interface {
	Name() string
	Description() string
	Language() string
	SampleRate() int
	NewSession(handler Handler) (Session, error)
	Close() error
}

// Loader loads models by path.
type Loader interface {
	Load(ctx context.Context, path string) (Model, error)
}

// ErrModelNotFound is wrapped by ModelLoadError when the model path does not exist.
var ErrModelNotFound = errors.New("model not found")

// ModelLoadError reports a missing or corrupt model.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %q: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }

// SessionCreateError reports a failure to start a decoding session.
type SessionCreateError struct {
	Path string
	Err  error
}

func (e *SessionCreateError) Error() string {
	return fmt.Sprintf("create session for %q: %v", e.Path, e.Err)
}

func (e *SessionCreateError) Unwrap() error { return e.Err }

// CopyTokens returns a copy that outlives the callback.
func CopyTokens(tokens []Token) []Token {
	if len(tokens) == 0 {
		return nil
	}
	return append([]Token(nil), tokens...)
}
