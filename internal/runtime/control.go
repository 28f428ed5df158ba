package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-captions/internal/protocol"
	"github.com/nats-io/nats.go"
)

const modelLoadTimeout = 60 * time.Second

func (r *Runtime) subscribeControl() error {
	handlers := map[string]nats.MsgHandler{
		protocol.SubjectControlModel:  r.handleModel,
		protocol.SubjectControlPause:  r.handlePause,
		protocol.SubjectControlFlush:  r.handleFlush,
		protocol.SubjectControlLayout: r.handleLayout,
	}
	conn := r.bus.Conn()
	for subject, handler := range handlers {
		sub, err := conn.Subscribe(subject, handler)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		r.subs = append(r.subs, sub)
	}
	return nil
}

func (r *Runtime) handleModel(msg *nats.Msg) {
	var req protocol.ModelRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.reply(msg, fmt.Errorf("decode model request: %w", err))
		return
	}
	if req.Path == "" {
		r.reply(msg, errors.New("model path must not be empty"))
		return
	}
	ctx, cancel := context.WithTimeout(r.runCtx, modelLoadTimeout)
	defer cancel()
	err := r.core.LoadModel(ctx, req.Path)
	if syncErr := r.syncAudio(); syncErr != nil {
		err = errors.Join(err, syncErr)
	}
	r.reply(msg, err)
}

func (r *Runtime) handlePause(msg *nats.Msg) {
	var req protocol.PauseRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.reply(msg, fmt.Errorf("decode pause request: %w", err))
		return
	}
	r.core.Pause(req.Paused)
	r.reply(msg, nil)
}

func (r *Runtime) handleFlush(msg *nats.Msg) {
	r.core.Flush()
	r.reply(msg, nil)
}

func (r *Runtime) handleLayout(msg *nats.Msg) {
	var req protocol.LayoutRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.reply(msg, fmt.Errorf("decode layout request: %w", err))
		return
	}
	if req.MaxTextWidth < 0 {
		r.reply(msg, errors.New("max_text_width must be >= 0"))
		return
	}
	r.settings.SetMaxWidth(req.MaxTextWidth)
	r.reply(msg, nil)
}

func (r *Runtime) reply(msg *nats.Msg, err error) {
	out := protocol.ControlReply{
		OK:          err == nil,
		ActiveModel: r.core.ActiveModel(),
		SampleRate:  r.core.SampleRate(),
	}
	if err != nil {
		out.Error = err.Error()
		r.logger.Warn("control request failed", slog.String("subject", msg.Subject), slog.String("error", err.Error()))
	}
	if msg.Reply == "" {
		return
	}
	data, mErr := json.Marshal(out)
	if mErr != nil {
		r.logger.Warn("failed to marshal control reply", slog.String("error", mErr.Error()))
		return
	}
	if rErr := msg.Respond(data); rErr != nil {
		r.logger.Warn("failed to send control reply", slog.String("error", rErr.Error()))
	}
}
