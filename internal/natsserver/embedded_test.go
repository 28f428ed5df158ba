package natsserver

import (
	"io"
	"log/slog"
	"testing"

	"github.com/loqalabs/loqa-captions/internal/config"
	"github.com/nats-io/nats.go"
)

func TestStartDisabledReturnsNil(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := Start(config.BusConfig{Enabled: false, Embedded: true}, logger)
	if err != nil || srv != nil {
		t.Fatalf("expected nil server for disabled bus, got %v %v", srv, err)
	}
	srv, err = Start(config.BusConfig{Enabled: true, Embedded: false}, logger)
	if err != nil || srv != nil {
		t.Fatalf("expected nil server for external bus, got %v %v", srv, err)
	}
	// nil receivers are safe
	srv.Shutdown()
	if srv.ClientURL() != "" {
		t.Fatalf("expected empty url from nil server")
	}
}

func TestStartEmbeddedAcceptsClients(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer srv.Shutdown()

	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer nc.Close()

	sub, err := nc.SubscribeSync("ping")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := nc.Publish("ping", []byte("pong")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg, err := sub.NextMsg(nats.DefaultTimeout)
	if err != nil {
		t.Fatalf("next msg: %v", err)
	}
	if string(msg.Data) != "pong" {
		t.Fatalf("unexpected payload %q", msg.Data)
	}
}
