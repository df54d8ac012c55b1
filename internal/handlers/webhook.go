package handlers

import (
	"context"
	"io"
	"net/http"

	"wechat-gateway/internal/common/errors"
	"wechat-gateway/internal/common/logging"
	"wechat-gateway/internal/message"
)

// maxPayloadBytes bounds a webhook body
const maxPayloadBytes = 1 << 20

// successBody acknowledges a delivery that needs no reply
const successBody = "success"

// MessageHandler reacts to a decoded webhook message. A nil reply
// acknowledges the delivery without answering. An error makes the platform
// redeliver.
type MessageHandler interface {
	Handle(ctx context.Context, msg message.Message) (*message.Reply, error)
}

// MessageHandlerFunc adapts a function to MessageHandler
type MessageHandlerFunc func(ctx context.Context, msg message.Message) (*message.Reply, error)

// Handle calls f(ctx, msg)
func (f MessageHandlerFunc) Handle(ctx context.Context, msg message.Message) (*message.Reply, error) {
	return f(ctx, msg)
}

// DefaultMessageHandler greets new followers and ignores everything else
type DefaultMessageHandler struct {
	WelcomeMessage string
}

// Handle replies to subscribe events with the welcome message
func (d *DefaultMessageHandler) Handle(ctx context.Context, msg message.Message) (*message.Reply, error) {
	if _, ok := msg.(*message.Subscribe); ok && d.WelcomeMessage != "" {
		return message.NewTextReply(msg, d.WelcomeMessage), nil
	}
	return nil, nil
}

// HandleHandshake answers the endpoint ownership check
// @Summary Webhook handshake
// @Tags webhook
// @Produce plain
// @Param signature query string true "Signature"
// @Param timestamp query string true "Timestamp"
// @Param nonce query string true "Nonce"
// @Param echostr query string true "Echo string"
// @Success 200 {string} string "echostr"
// @Failure 401 {string} string "invalid signature"
// @Router /wechat [get]
func (h *Handlers) HandleHandshake(w http.ResponseWriter, r *http.Request) {
	echo, err := h.verifier.Handshake(r.URL.Query())
	if err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, echo)
}

// HandleDelivery verifies, decodes and dispatches a pushed message
// @Summary Webhook delivery
// @Tags webhook
// @Accept xml
// @Produce xml
// @Success 200 {string} string "reply or success"
// @Failure 400 {string} string "malformed payload"
// @Failure 401 {string} string "invalid signature"
// @Failure 500 {string} string "handler failed"
// @Router /wechat [post]
func (h *Handlers) HandleDelivery(w http.ResponseWriter, r *http.Request) {
	if err := h.verifier.VerifyRequest(r.URL.Query()); err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	msg, err := message.Decode(body)
	if err != nil {
		h.logger.WithContext(r.Context()).Warn("Rejected webhook payload", logging.Err(err))
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	header := msg.Base()
	ctx := logging.ContextWithOpenID(r.Context(), header.FromUserName)
	logger := h.logger.WithContext(ctx).WithFields(logging.String("msg_type", string(header.MsgType)))
	logger.Debug("Webhook message received")

	reply, err := h.messages.Handle(ctx, msg)
	if err != nil {
		logger.Error("Message handler failed", err)
		http.Error(w, "handler failed", http.StatusInternalServerError)
		return
	}

	if reply == nil {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, successBody)
		return
	}

	data, err := message.Encode(reply)
	if err != nil {
		logger.Error("Failed to encode reply", errors.InternalError("encode reply", err))
		http.Error(w, "handler failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	_, _ = w.Write(data)
}
