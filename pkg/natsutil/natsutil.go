// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// RetryHeader counts redeliveries of a republished message.
const RetryHeader = "X-Retry-Count"

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Msg is a decoded message together with its transport metadata.
type Msg[T any] struct {
	Value   T
	Subject string
	Reply   string
	Header  nats.Header
	Data    []byte
}

// Retries returns the message's retry count, 0 when absent or malformed.
func (m Msg[T]) Retries() int {
	return RetryCount(m.Header)
}

// RetryCount reads RetryHeader from h.
func RetryCount(h nats.Header) int {
	if h == nil {
		return 0
	}
	n, err := strconv.Atoi(h.Get(RetryHeader))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	return PublishHeader(ctx, nc, subject, v, nil)
}

// PublishHeader is Publish with extra headers.
func PublishHeader[T any](ctx context.Context, nc *nats.Conn, subject string, v T, h nats.Header) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return PublishRaw(ctx, nc, subject, data, h)
}

// PublishRaw publishes already-encoded data with trace headers.
func PublishRaw(ctx context.Context, nc *nats.Conn, subject string, data []byte, h nats.Header) error {
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
		Header:  nats.Header{},
	}
	for k, vs := range h {
		for _, v := range vs {
			msg.Header.Add(k, v)
		}
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the
// handler. Messages that fail to decode go to onMalformed, or are dropped
// when it is nil.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, Msg[T]), onMalformed func(*nats.Msg, error)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, decoder(handler, onMalformed))
}

// QueueSubscribe is Subscribe within a queue group, so each message is
// handled by one member.
func QueueSubscribe[T any](nc *nats.Conn, subject, queue string, handler func(context.Context, Msg[T]), onMalformed func(*nats.Msg, error)) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, decoder(handler, onMalformed))
}

func decoder[T any](handler func(context.Context, Msg[T]), onMalformed func(*nats.Msg, error)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			if onMalformed != nil {
				onMalformed(msg, err)
			}
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, Msg[T]{
			Value:   v,
			Subject: msg.Subject,
			Reply:   msg.Reply,
			Header:  msg.Header,
			Data:    msg.Data,
		})
	}
}

// Request sends a JSON-encoded request and decodes the response. A zero
// timeout uses nats.DefaultTimeout.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req, timeout time.Duration) (Resp, error) {
	var zero Resp
	data, err := json.Marshal(req)
	if err != nil {
		return zero, err
	}
	if timeout <= 0 {
		timeout = nats.DefaultTimeout
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	resp, err := nc.RequestMsg(msg, timeout)
	if err != nil {
		return zero, err
	}
	var result Resp
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return zero, err
	}
	return result, nil
}
