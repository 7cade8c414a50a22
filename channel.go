package openairtc

import (
	"encoding/json"
	"log/slog"

	"github.com/codewandler/openairtc-go/events"
	"github.com/codewandler/openairtc-go/internal/metrics"
	"github.com/codewandler/openairtc-go/transport"
)

// eventChannel is the JSON event side of a connected link. It is only touched
// from the control loop.
type eventChannel struct {
	link   transport.Link
	open   bool
	logger *slog.Logger
}

func newEventChannel(link transport.Link, logger *slog.Logger) *eventChannel {
	return &eventChannel{link: link, logger: logger}
}

func (c *eventChannel) send(evt any) error {
	if c == nil || !c.open {
		return ErrNotConnected
	}

	data, err := json.Marshal(evt)
	if err != nil {
		err = &ChannelSendError{Err: err}
		c.logger.Error("failed to marshal event", slog.Any("err", err))
		return err
	}

	typ, _ := events.TypeOf(data)
	if typ == "" {
		typ = "unknown"
	}

	if err := c.link.SendText(data); err != nil {
		err = &ChannelSendError{Err: err}
		c.logger.Error("failed to send event", slog.String("type", typ), slog.Any("err", err))
		return err
	}

	metrics.OutboundEvents.WithLabelValues(typ).Inc()
	c.logger.Debug("sent event", slog.String("type", typ))

	return nil
}
