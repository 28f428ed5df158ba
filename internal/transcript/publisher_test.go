package transcript

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/loqalabs/loqa-captions/internal/bus"
	"github.com/loqalabs/loqa-captions/internal/config"
	"github.com/loqalabs/loqa-captions/internal/natsserver"
	"github.com/loqalabs/loqa-captions/internal/protocol"
	"github.com/nats-io/nats.go"
)

func startTestBus(t *testing.T) *bus.Client {
	t.Helper()
	logger := newTestLogger()
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	client, err := bus.Connect(context.Background(), config.BusConfig{
		Servers:        []string{srv.ClientURL()},
		ConnectTimeout: 2000,
	}, logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func TestPublisherForwardsEvents(t *testing.T) {
	client := startTestBus(t)
	sub, err := client.Conn().SubscribeSync(">")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := client.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	p := NewPublisher(client, newTestLogger())
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	p.clock = func() time.Time { return fixed }

	p.ApplyTranscript(Update{Text: ""}) // skipped
	p.ApplyTranscript(Update{Text: " hello"})
	p.ApplyTranscript(Update{Text: "hello world.", Final: true})
	p.RenderLabel(Label{Lines: []string{"hello world."}, Text: "hello world.", Stream: true})
	p.Warn(Warning{Message: "falling behind"})

	next := func() *nats.Msg {
		t.Helper()
		msg, err := sub.NextMsg(2 * time.Second)
		if err != nil {
			t.Fatalf("next msg: %v", err)
		}
		return msg
	}

	msg := next()
	if msg.Subject != protocol.SubjectTranscriptPartial {
		t.Fatalf("expected partial subject, got %s", msg.Subject)
	}
	var tr protocol.Transcript
	if err := json.Unmarshal(msg.Data, &tr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if tr.Text != "hello" || !tr.Partial || !tr.Timestamp.Equal(fixed) {
		t.Fatalf("unexpected transcript %+v", tr)
	}

	msg = next()
	if msg.Subject != protocol.SubjectTranscriptFinal {
		t.Fatalf("expected final subject, got %s", msg.Subject)
	}

	msg = next()
	if msg.Subject != protocol.SubjectCaptionLabel {
		t.Fatalf("expected label subject, got %s", msg.Subject)
	}
	var label protocol.CaptionLabel
	if err := json.Unmarshal(msg.Data, &label); err != nil {
		t.Fatalf("decode label: %v", err)
	}
	if len(label.Lines) != 1 || label.Lines[0] != "hello world." {
		t.Fatalf("unexpected label %+v", label)
	}

	msg = next()
	if msg.Subject != protocol.SubjectTextStream {
		t.Fatalf("expected text stream subject, got %s", msg.Subject)
	}

	msg = next()
	if msg.Subject != protocol.SubjectCaptionWarning {
		t.Fatalf("expected warning subject, got %s", msg.Subject)
	}
}
