package client

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/quill-server/internal/proto"
	"github.com/vovakirdan/quill-server/internal/utils"
)

// Messenger sends over the relay when it can and falls back to REST when the
// socket path fails. Both paths carry the same client id so the server
// stores the message once.
type Messenger struct {
	socket *Client
	rest   *REST
	log    zerolog.Logger
}

// NewMessenger pairs a relay client with its REST fallback.
func NewMessenger(socket *Client, rest *REST, logger *zerolog.Logger) *Messenger {
	l := zerolog.Nop()
	if logger != nil {
		l = *logger
	}
	return &Messenger{socket: socket, rest: rest, log: l}
}

// Send delivers d. Server rejections are returned as-is; connection
// failures and lost acks are retried once over REST.
func (m *Messenger) Send(ctx context.Context, d Draft) (*proto.Message, error) {
	if d.ClientID == "" {
		d.ClientID = utils.NewClientMessageID()
	}

	msg, err := m.socket.SendMessage(ctx, d)
	if err == nil {
		return msg, nil
	}

	var rejected *RejectedError
	if errors.As(err, &rejected) || ctx.Err() != nil {
		return nil, err
	}

	m.log.Debug().Err(err).Str("client_id", d.ClientID).Int64("peer_id", d.To).Msg("relay send failed, using rest")
	return m.rest.SendMessage(ctx, d)
}
