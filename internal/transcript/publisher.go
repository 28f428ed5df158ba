package transcript

import (
	"log/slog"
	"strings"
	"time"

	"github.com/loqalabs/loqa-captions/internal/bus"
	"github.com/loqalabs/loqa-captions/internal/protocol"
)

// Publisher is a Surface that mirrors caption output onto the bus.
type Publisher struct {
	bus    *bus.Client
	logger *slog.Logger
	clock  func() time.Time
}

func NewPublisher(busClient *bus.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:    busClient,
		logger: logger.With(slog.String("component", "caption-publisher")),
		clock:  time.Now,
	}
}

// ApplyTranscript publishes the utterance text without the separator that
// joins it to earlier text on screen.
func (p *Publisher) ApplyTranscript(u Update) {
	text := strings.TrimLeft(u.Text, " ")
	if text == "" && !u.Final {
		return
	}
	subject := protocol.SubjectTranscriptPartial
	if u.Final {
		subject = protocol.SubjectTranscriptFinal
	}
	p.publish(subject, protocol.Transcript{
		Text:      text,
		Partial:   !u.Final,
		Timestamp: p.clock().UTC(),
	})
}

func (p *Publisher) RenderLabel(l Label) {
	now := p.clock().UTC()
	p.publish(protocol.SubjectCaptionLabel, protocol.CaptionLabel{Lines: l.Lines, Timestamp: now})
	if l.Stream {
		p.publish(protocol.SubjectTextStream, protocol.TextStream{Text: l.Text, Timestamp: now})
	}
}

func (p *Publisher) Warn(w Warning) {
	p.publish(protocol.SubjectCaptionWarning, protocol.Warning{Message: w.Message, Timestamp: p.clock().UTC()})
}

func (p *Publisher) publish(subject string, v any) {
	if err := p.bus.PublishJSON(subject, v); err != nil {
		p.logger.Warn("failed to publish caption event", slog.String("subject", subject), slog.String("error", err.Error()))
	}
}
