package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

// OrderEvent is an order update pushed over the user websocket channel.
// Events only accelerate resolution of non-terminal records; the REST status
// query remains the authoritative path, so a dropped event is harmless.
type OrderEvent struct {
	ExchangeOrderID string `json:"id"`
	Status          string `json:"status"`
	SizeMatched     string `json:"size_matched"`
}

// Stream subscribes to the CLOB user channel and forwards order events to a
// handler. Reconnects with exponential backoff until the context is
// cancelled.
type Stream struct {
	log     *logger.Entry
	url     string
	auth    streamAuth
	handler func(OrderEvent)
}

type streamAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

type subscribeMessage struct {
	Auth streamAuth `json:"auth"`
	Type string     `json:"type"`
}

// NewStream builds a user-channel stream. The handler is invoked from the
// read loop and must not block.
func NewStream(log *logger.Entry, config Config, handler func(OrderEvent)) (*Stream, error) {
	if log == nil {
		log = logger.NewEntry(logger.StandardLogger())
	}

	creds, err := resolveCredentials(config)
	if err != nil {
		return nil, err
	}

	return &Stream{
		log: log,
		url: strings.TrimRight(config.WSBaseURL, "/") + "/ws/user",
		auth: streamAuth{
			APIKey:     creds.apiKey,
			Secret:     creds.apiSecret,
			Passphrase: creds.passphrase,
		},
		handler: handler,
	}, nil
}

// Run connects and consumes events until the context is cancelled.
func (s *Stream) Run(ctx context.Context) {
	backoff := time.Second
	const maxBackoff = time.Minute

	for {
		if ctx.Err() != nil {
			return
		}

		if err := s.consume(ctx); err != nil && ctx.Err() == nil {
			s.log.WithError(err).WithField("backoff", backoff.String()).
				Warn("user stream disconnected, reconnecting")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (s *Stream) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.WriteJSON(subscribeMessage{Auth: s.auth, Type: "user"}); err != nil {
		return err
	}

	s.log.WithField("url", s.url).Info("user stream connected")

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		events, err := decodeFrame(payload)
		if err != nil {
			s.log.WithError(err).Debug("ignoring unparseable stream frame")
			continue
		}

		for _, event := range events {
			s.handler(event)
		}
	}
}

// decodeFrame parses a user-channel frame. Frames carry either an array of
// events or a single object depending on the event type; events without an
// order id are dropped.
func decodeFrame(payload []byte) ([]OrderEvent, error) {
	var events []OrderEvent
	if err := json.Unmarshal(payload, &events); err != nil {
		var event OrderEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return nil, err
		}
		events = []OrderEvent{event}
	}

	out := events[:0]
	for _, event := range events {
		if event.ExchangeOrderID == "" {
			continue
		}
		out = append(out, event)
	}

	return out, nil
}
