package ws

import (
	"context"
	"runtime/debug"

	"github.com/roomchat/internal/chat"
	"github.com/roomchat/internal/logger"
)

// handlerFunc returns the acknowledgement payload, or an error that is
// reported to the acting connection only.
type handlerFunc func(ctx context.Context, c *Client, msg IncomingMessage) (any, error)

// withPayload decodes msg.Payload into T before calling fn.
func withPayload[T any](fn func(ctx context.Context, c *Client, req T) (any, error)) handlerFunc {
	return func(ctx context.Context, c *Client, msg IncomingMessage) (any, error) {
		res := Decode[T](msg.Payload)
		if !res.OK() {
			return nil, res.Err
		}
		return fn(ctx, c, res.Value)
	}
}

func (h *Hub) routes() {
	rooms, msgs, presence := h.svc.Rooms, h.svc.Messages, h.svc.Presence

	joinPrivate := withPayload(func(ctx context.Context, c *Client, req JoinPrivateRequest) (any, error) {
		if req.RoomID != "" {
			room, err := rooms.JoinRoom(ctx, c, req.RoomID)
			if err != nil {
				return nil, err
			}
			return RoomReply{Room: room}, nil
		}
		room, err := rooms.JoinDirect(ctx, c, req.OtherProfileID)
		if err != nil {
			return nil, err
		}
		return RoomReply{Room: room}, nil
	})
	createPrivate := withPayload(func(ctx context.Context, c *Client, req CreatePrivateRequest) (any, error) {
		room, err := rooms.JoinDirect(ctx, c, req.OtherProfileID)
		if err != nil {
			return nil, err
		}
		return RoomReply{Room: room}, nil
	})
	createGroup := withPayload(func(ctx context.Context, c *Client, req CreateGroupRequest) (any, error) {
		room, err := rooms.CreateGroup(ctx, c, req.Name, req.MemberIDs, req.IsAdminOnly)
		if err != nil {
			return nil, err
		}
		return RoomReply{Room: room}, nil
	})
	joinGroup := withPayload(func(ctx context.Context, c *Client, req RoomRequest) (any, error) {
		room, err := rooms.JoinRoom(ctx, c, req.RoomID)
		if err != nil {
			return nil, err
		}
		return RoomReply{Room: room}, nil
	})
	leave := withPayload(func(_ context.Context, c *Client, req RoomRequest) (any, error) {
		rooms.LeaveRoom(c, req.RoomID)
		return OKReply{OK: true}, nil
	})
	send := withPayload(func(ctx context.Context, c *Client, req SendMessageRequest) (any, error) {
		m, err := msgs.Send(ctx, c.userID, req.RoomID, req.Text)
		if err != nil {
			return nil, err
		}
		return MessageReply{Message: m}, nil
	})
	readOne := withPayload(func(ctx context.Context, c *Client, req MessageRequest) (any, error) {
		m, err := msgs.ReadOne(ctx, c.userID, req.MessageID)
		if err != nil {
			return nil, err
		}
		return MessageReply{Message: m}, nil
	})
	readAll := withPayload(func(ctx context.Context, c *Client, req RoomRequest) (any, error) {
		n, err := msgs.ReadAll(ctx, c.userID, req.RoomID)
		if err != nil {
			return nil, err
		}
		return CountReply{RoomID: req.RoomID, Count: n}, nil
	})
	edit := withPayload(func(ctx context.Context, c *Client, req EditMessageRequest) (any, error) {
		m, err := msgs.Edit(ctx, c.userID, req.MessageID, req.NewText)
		if err != nil {
			return nil, err
		}
		return MessageReply{Message: m}, nil
	})
	deleteOne := withPayload(func(ctx context.Context, c *Client, req MessageRequest) (any, error) {
		if err := msgs.DeleteOne(ctx, c.userID, req.MessageID); err != nil {
			return nil, err
		}
		return DeletedReply{MessageID: req.MessageID}, nil
	})
	deleteAll := withPayload(func(ctx context.Context, c *Client, req RoomRequest) (any, error) {
		n, err := msgs.DeleteAll(ctx, c.userID, req.RoomID)
		if err != nil {
			return nil, err
		}
		return CountReply{RoomID: req.RoomID, Count: n}, nil
	})
	archive := withPayload(func(ctx context.Context, c *Client, req RoomRequest) (any, error) {
		if err := rooms.Archive(ctx, c.userID, req.RoomID); err != nil {
			return nil, err
		}
		return OKReply{OK: true}, nil
	})
	deleteRoom := withPayload(func(ctx context.Context, c *Client, req RoomRequest) (any, error) {
		if err := rooms.Delete(ctx, c.userID, req.RoomID); err != nil {
			return nil, err
		}
		return OKReply{OK: true}, nil
	})

	h.handlers = map[EventType]handlerFunc{
		EventPrivateRoomJoin:      joinPrivate,
		EventPrivateRoomCreate:    createPrivate,
		EventPrivateRoomLeave:     leave,
		EventPrivateMessageSend:   send,
		EventPrivateMessageRead:   readOne,
		EventPrivateMessagesRead:  readAll,
		EventPrivateMessageEdit:   edit,
		EventPrivateMessageDelete: deleteOne,
		EventPrivateMessagesDel:   deleteAll,
		EventPrivateArchive:       archive,
		EventPrivateDelete:        deleteRoom,

		EventGroupRoomCreate:    createGroup,
		EventGroupRoomJoin:      joinGroup,
		EventGroupRoomLeave:     leave,
		EventGroupMessageSend:   send,
		EventGroupMessageRead:   readOne,
		EventGroupMessagesRead:  readAll,
		EventGroupMessageEdit:   edit,
		EventGroupMessageDelete: deleteOne,
		EventGroupMessagesDel:   deleteAll,
		EventGroupArchive:       archive,
		EventGroupDelete:        deleteRoom,

		EventRecentJoin: func(ctx context.Context, c *Client, _ IncomingMessage) (any, error) {
			if _, err := presence.Join(ctx, c); err != nil {
				return nil, err
			}
			return OKReply{OK: true}, nil
		},
		EventRecentLeave: func(ctx context.Context, c *Client, _ IncomingMessage) (any, error) {
			if err := presence.Leave(ctx, c); err != nil {
				return nil, err
			}
			return OKReply{OK: true}, nil
		},
		EventRecentOnline: func(ctx context.Context, c *Client, _ IncomingMessage) (any, error) {
			users, err := presence.OnlineContacts(ctx, c.userID)
			if err != nil {
				return nil, err
			}
			return chat.OnlineUsersPayload{OnlineUsers: users}, nil
		},
		EventRecentPrivateChats: func(ctx context.Context, c *Client, _ IncomingMessage) (any, error) {
			chats, err := presence.PrivateChats(ctx, c.userID)
			if err != nil {
				return nil, err
			}
			return chat.PrivateChatsPayload{PrivateChats: chats}, nil
		},
		EventRecentGroupChats: func(ctx context.Context, c *Client, _ IncomingMessage) (any, error) {
			chats, err := presence.GroupChats(ctx, c.userID)
			if err != nil {
				return nil, err
			}
			return chat.GroupChatsPayload{GroupChats: chats}, nil
		},
	}
}

// HandleMessage dispatches one inbound event. Unknown event names are
// ignored. A handler error or panic produces exactly one error event to
// the acting connection and never closes it.
func (h *Hub) HandleMessage(ctx context.Context, c *Client, msg IncomingMessage) {
	fn, ok := h.handlers[msg.Type]
	if !ok {
		logger.Debugf("ws ignoring unknown event %q user=%s", msg.Type, c.userID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, h.opts.HandlerTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("ws handler panic event=%s user=%s: %v\n%s", msg.Type, c.userID, r, debug.Stack())
			h.sendError(c, msg, "Error processing "+string(msg.Type))
		}
	}()

	reply, err := fn(ctx, c, msg)
	if err != nil {
		if chat.KindOf(err) == chat.KindTransient {
			logger.Errorf("ws event=%s user=%s: %v", msg.Type, c.userID, err)
		} else {
			logger.Debugf("ws event=%s user=%s rejected: %v", msg.Type, c.userID, err)
		}
		h.sendError(c, msg, chat.ClientMessage(err, "Error processing "+string(msg.Type)))
		return
	}
	if msg.AckID != "" {
		h.sendTo(c, OutgoingMessage{Type: EventAck, AckID: msg.AckID, Payload: reply})
	}
}

func (h *Hub) sendError(c *Client, msg IncomingMessage, text string) {
	h.sendTo(c, OutgoingMessage{Type: EventError, AckID: msg.AckID, Payload: ErrorPayload{Message: text}})
}
