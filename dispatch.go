package openairtc

import (
	"encoding/base64"
	"log/slog"

	"github.com/codewandler/openairtc-go/events"
	"github.com/codewandler/openairtc-go/internal/metrics"
)

func dispatchEvent[T any](s *Session, logger *slog.Logger, data []byte) (*T, bool) {
	evt, err := events.Parse[T](data)
	if err != nil {
		logger.Warn("dropping inbound message", slog.Any("err", &ChannelParseError{Err: err}))
		metrics.DroppedMessages.WithLabelValues("malformed").Inc()
		return nil, false
	}

	if s.onEvent != nil {
		s.onEvent(evt)
	}

	return evt, true
}

// handleMessage applies one inbound text payload. It runs on the control loop
// so deltas are applied in arrival order.
func (s *Session) handleMessage(a *attempt, data []byte) {
	typ, err := events.TypeOf(data)
	if err != nil {
		a.logger.Warn("dropping inbound message", slog.Any("err", &ChannelParseError{Err: err}))
		metrics.DroppedMessages.WithLabelValues("malformed").Inc()
		return
	}
	if typ == "" {
		a.logger.Debug("dropping inbound message without type")
		metrics.DroppedMessages.WithLabelValues("untyped").Inc()
		return
	}

	switch typ {
	case events.TypeSessionCreated:
		if evt, ok := dispatchEvent[events.SessionCreatedEvent](s, a.logger, data); ok {
			a.logger.Debug("session created", slog.String("session", evt.Session.ID))
		}

	case events.TypeSessionUpdated:
		dispatchEvent[events.SessionUpdatedEvent](s, a.logger, data)

	case events.TypeConversationItemCreated:
		evt, ok := dispatchEvent[events.ConversationItemCreatedEvent](s, a.logger, data)
		if !ok {
			return
		}
		patch, err := itemPatch(evt.Item)
		if err != nil {
			a.logger.Warn("dropping undecodable item audio", slog.String("item", evt.Item.ID), slog.Any("err", &ChannelParseError{Err: err}))
		}
		s.upsert(a, evt.Item.ID, patch)

	case events.TypeResponseTextDelta:
		evt, ok := dispatchEvent[events.ResponseTextDeltaEvent](s, a.logger, data)
		if !ok {
			return
		}
		s.upsert(a, evt.ItemID, ItemPatch{
			Role:       RoleAssistant,
			Type:       ItemTypeMessage,
			Text:       &evt.Delta,
			AppendText: true,
		})

	case events.TypeResponseAudioDelta:
		evt, ok := dispatchEvent[events.ResponseAudioDeltaEvent](s, a.logger, data)
		if !ok {
			return
		}
		audio, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil {
			a.logger.Warn("dropping audio delta", slog.String("item", evt.ItemID), slog.Any("err", &ChannelParseError{Err: err}))
			metrics.DroppedMessages.WithLabelValues("malformed").Inc()
			return
		}
		s.upsert(a, evt.ItemID, ItemPatch{
			Role:  RoleAssistant,
			Type:  ItemTypeMessage,
			Audio: audio,
		})

	case events.TypeError:
		evt, ok := dispatchEvent[events.ErrorEvent](s, a.logger, data)
		if !ok {
			return
		}
		a.logger.Error("server reported error",
			slog.String("code", evt.ErrorDetail.Code),
			slog.String("message", evt.ErrorDetail.Message),
		)
		s.reportError(evt)
		if s.config.escalateErrors {
			s.teardown(StatusError, evt)
		}

	default:
		a.logger.Debug("ignoring event", slog.String("type", typ))
		metrics.InboundEvents.WithLabelValues("unknown").Inc()
		return
	}

	metrics.InboundEvents.WithLabelValues(typ).Inc()
}

func (s *Session) upsert(a *attempt, id string, patch ItemPatch) {
	item, err := s.conversation.Upsert(id, patch)
	if err != nil {
		a.logger.Warn("dropping item update", slog.String("item", id), slog.Any("err", err))
		return
	}
	if s.onItem != nil {
		s.onItem(item)
	}
}

// itemPatch converts a server item. Roles the server omits for function call
// items are filled in so the item can be created.
func itemPatch(item events.Item) (ItemPatch, error) {
	patch := ItemPatch{
		Role: Role(item.Role),
		Type: ItemType(item.Type),
	}

	if patch.Role == "" {
		switch patch.Type {
		case ItemTypeFunctionCall:
			patch.Role = RoleAssistant
		case ItemTypeFunctionCallOutput:
			patch.Role = RoleUser
		}
	}

	var (
		text    string
		hasText bool
		err     error
	)
	for _, c := range item.Content {
		switch c.Type {
		case "text", "input_text":
			text += c.Text
			hasText = true
		case "audio", "input_audio":
			if c.Transcript != "" {
				text += c.Transcript
				hasText = true
			}
			if c.Audio != "" {
				audio, decodeErr := base64.StdEncoding.DecodeString(c.Audio)
				if decodeErr != nil {
					err = decodeErr
					continue
				}
				patch.Audio = append(patch.Audio, audio...)
			}
		}
	}
	if hasText {
		patch.Text = &text
	}

	switch patch.Type {
	case ItemTypeFunctionCall:
		patch.FunctionCall = &FunctionCall{ID: item.CallID, Name: item.Name, Arguments: item.Arguments}
	case ItemTypeFunctionCallOutput:
		output := item.Output
		patch.FunctionCallOutput = &output
	}

	return patch, err
}
