package asr

import (
	"sync"

	"github.com/loqalabs/loqa-captions/internal/linegen"
)

// Settings exposes the rendering options the dispatcher re-reads on every
// result.
type Settings interface {
	RenderLowercase() bool
	Layout() linegen.Layout
}

// StaticSettings is an in-memory Settings. Each layout change gets a new
// serial so the line generator rebinds.
type StaticSettings struct {
	mu        sync.RWMutex
	lowercase bool
	layout    linegen.Layout
}

func NewStaticSettings(lowercase bool, maxWidth int) *StaticSettings {
	return &StaticSettings{
		lowercase: lowercase,
		layout:    linegen.Layout{Serial: 1, MaxWidth: maxWidth},
	}
}

func (s *StaticSettings) RenderLowercase() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lowercase
}

func (s *StaticSettings) SetRenderLowercase(lowercase bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lowercase = lowercase
}

func (s *StaticSettings) Layout() linegen.Layout {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.layout
}

// SetMaxWidth changes the caption width.
func (s *StaticSettings) SetMaxWidth(maxWidth int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.layout = linegen.Layout{Serial: s.layout.Serial + 1, MaxWidth: maxWidth}
}
