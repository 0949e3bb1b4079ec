package http

import (
	"encoding/json"
	"fmt"

	"github.com/vovakirdan/quill-server/internal/core"
	"github.com/vovakirdan/quill-server/internal/proto"
	"github.com/vovakirdan/quill-server/internal/store"
)

func inboundToCommand(inbound proto.Inbound) (core.Command, *proto.Error) {
	bad := func(msg string) *proto.Error {
		return &proto.Error{Code: core.ErrCodeBadRequest, Msg: msg}
	}

	switch inbound.Type {
	case proto.InboundTypeIdentity:
		var data proto.IdentityData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, bad("invalid identity payload")
		}
		return core.IdentityCommand{
			UserID:   data.UserID,
			Token:    data.Token,
			Protocol: data.Protocol,
		}, nil
	case proto.InboundTypeDirectMessage:
		var data proto.DirectMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, bad("invalid direct_message payload")
		}
		if data.To <= 0 {
			perr := bad("recipient is required")
			perr.ClientID = data.ClientID
			return nil, perr
		}
		return core.DirectMessageCommand{
			ClientID:     data.ClientID,
			To:           data.To,
			Content:      data.Content,
			Kind:         store.MessageKind(data.MessageType),
			SharedPostID: data.SharedPostID,
		}, nil
	case proto.InboundTypeTyping:
		var data proto.TypingData
		if err := json.Unmarshal(inbound.Data, &data); err != nil {
			return nil, bad("invalid typing_indicator payload")
		}
		if data.To <= 0 {
			return nil, bad("recipient is required")
		}
		return core.TypingCommand{To: data.To, IsTyping: data.IsTyping}, nil
	case proto.InboundTypeMarkRead:
		var data proto.MarkReadData
		if err := json.Unmarshal(inbound.Data, &data); err != nil || data.PeerID <= 0 {
			return nil, bad("peerId is required")
		}
		return core.MarkReadCommand{PeerID: data.PeerID}, nil
	case proto.InboundTypeDeleteMessage:
		var data proto.DeleteMessageData
		if err := json.Unmarshal(inbound.Data, &data); err != nil || data.MessageID <= 0 {
			return nil, bad("messageId is required")
		}
		return core.DeleteMessageCommand{MessageID: data.MessageID}, nil
	default:
		return nil, bad(fmt.Sprintf("unknown message type %q", inbound.Type))
	}
}

func outboundFromEvent(event core.Event) (proto.Outbound, error) {
	switch ev := event.(type) {
	case core.IdentifiedEvent:
		return proto.NewEvent(ev.Name(), proto.EventIdentified{UserID: ev.UserID})
	case core.NewMessageEvent:
		return proto.NewEvent(ev.Name(), proto.EventNewMessage{
			Message:  toProtoMessage(ev.Message),
			IsSender: ev.IsSender,
		})
	case core.TypingEvent:
		return proto.NewEvent(ev.Name(), proto.EventTyping{From: ev.From, IsTyping: ev.IsTyping})
	case core.MessageDeletedEvent:
		return proto.NewEvent(ev.Name(), proto.EventMessageDeleted{MessageID: ev.MessageID, PeerID: ev.PeerID})
	case core.ConversationDeletedEvent:
		return proto.NewEvent(ev.Name(), proto.EventConversationDeleted{PeerID: ev.PeerID})
	case core.MessagesReadEvent:
		return proto.NewEvent(ev.Name(), proto.EventMessagesRead{ReaderID: ev.ReaderID, Count: ev.Count})
	case core.NotificationEvent:
		return proto.NewEvent(ev.Name(), proto.EventNotification{
			Kind:      ev.Kind,
			From:      ev.From,
			MessageID: ev.MessageID,
			Preview:   ev.Preview,
		})
	case core.ErrorEvent:
		if ev.Err == nil {
			return proto.NewError(core.ErrCodeInternal, "unknown error"), nil
		}
		out := proto.NewError(ev.Err.Code, ev.Err.Message)
		out.Error.ClientID = ev.ClientID
		return out, nil
	default:
		return proto.Outbound{}, fmt.Errorf("unmapped event %T", event)
	}
}

func toProtoMessage(msg *store.Message) proto.Message {
	out := proto.Message{
		ID:           msg.ID,
		ClientID:     msg.ClientID,
		SenderID:     msg.SenderID,
		ReceiverID:   msg.ReceiverID,
		Content:      msg.Content,
		MessageType:  string(msg.Kind),
		SharedPostID: msg.SharedPostID,
		IsRead:       msg.Read,
		CreatedAt:    msg.CreatedAt,
	}
	if msg.Preview != nil {
		out.Preview = &proto.PostPreview{
			Title:    msg.Preview.Title,
			Excerpt:  msg.Preview.Excerpt,
			ImageURL: msg.Preview.ImageURL,
		}
	}
	return out
}
