package app

import (
	"github.com/rs/zerolog"

	"github.com/vovakirdan/quill-server/internal/store"
)

// activityLog records conversation changes for other subsystems to follow,
// such as the feed and notification counters.
type activityLog struct {
	log *zerolog.Logger
}

func newActivityLog(logger *zerolog.Logger) *activityLog {
	return &activityLog{log: logger}
}

func (a *activityLog) MessageCreated(msg *store.Message) {
	ev := a.log.Debug().
		Int64("message_id", msg.ID).
		Int64("user_id", msg.SenderID).
		Int64("peer_id", msg.ReceiverID).
		Str("kind", string(msg.Kind))
	if msg.SharedPostID != nil {
		ev = ev.Int64("post_id", *msg.SharedPostID)
	}
	ev.Msg("message created")
}

func (a *activityLog) MessageDeleted(msg *store.Message) {
	a.log.Debug().
		Int64("message_id", msg.ID).
		Int64("user_id", msg.SenderID).
		Int64("peer_id", msg.ReceiverID).
		Msg("message deleted")
}

func (a *activityLog) ConversationDeleted(userA, userB int64) {
	a.log.Info().Int64("user_id", userA).Int64("peer_id", userB).Msg("conversation deleted")
}
