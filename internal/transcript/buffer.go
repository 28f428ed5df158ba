package transcript

import "sync"

// Buffer is an in-memory, mark-addressable transcript. Text before the mark
// is sealed history; text after it is the live region, replaced wholesale
// on every update. Reads are safe from any goroutine.
type Buffer struct {
	mu       sync.RWMutex
	text     string
	mark     int
	scroll   int
	lines    []string
	warnings int
	warning  Warning
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// ApplyTranscript replaces the live region with exactly u.Text and seals
// it when u.Final is set. The view scrolls to the end.
func (b *Buffer) ApplyTranscript(u Update) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.text = b.text[:b.mark] + u.Text
	if u.Final {
		b.mark = len(b.text)
	}
	b.scroll = len(b.text)
}

func (b *Buffer) RenderLabel(l Label) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lines = append([]string(nil), l.Lines...)
}

func (b *Buffer) Warn(w Warning) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.warning = w
	b.warnings++
}

// Text returns the whole transcript.
func (b *Buffer) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text
}

// History returns the sealed part of the transcript.
func (b *Buffer) History() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text[:b.mark]
}

// Live returns the live region.
func (b *Buffer) Live() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text[b.mark:]
}

// Mark returns the byte offset where the live region starts.
func (b *Buffer) Mark() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.mark
}

// Scroll returns the byte offset the view is scrolled to.
func (b *Buffer) Scroll() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.scroll
}

// Lines returns the last rendered caption label.
func (b *Buffer) Lines() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.lines...)
}

// LastWarning returns the most recent warning and how many were received.
func (b *Buffer) LastWarning() (Warning, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.warning, b.warnings
}
