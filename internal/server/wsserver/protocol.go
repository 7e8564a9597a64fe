package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/yndnr/relaymesh-go/internal/core/domain"
	"github.com/yndnr/relaymesh-go/internal/notify"
)

// Control message types.
const (
	TypeAuthorize   = "authorize"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeUnauthorize = "unauthorize"

	replyAuthorized    = "authorized"
	replySubscribed    = "subscribed"
	replyUnsubscribed  = "unsubscribed"
	replyUnauthorized  = "unauthorized"
	replyError         = "error"
	replySessionClosed = "sessionClosed"
)

type controlRequest struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Channel   uint32 `json:"channel"`

	Multiplexed bool   `json:"multiplexed,omitempty"`
	Token       string `json:"token,omitempty"`
	Nonce       string `json:"nonce,omitempty"`

	Subscription   *notify.SubscriptionRequest `json:"subscription,omitempty"`
	SubscriptionID string                      `json:"subscriptionId,omitempty"`
}

type controlReply struct {
	Type      string `json:"type"`
	RequestID string `json:"requestId,omitempty"`
	Channel   uint32 `json:"channel"`

	Subscription *notify.Subscription `json:"subscription,omitempty"`

	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// TokenVerifier checks a client credential and returns who it belongs to.
// Identity.Secret, when set, seals the session's frames.
type TokenVerifier interface {
	Verify(ctx context.Context, host, token string) (notify.Identity, error)
}

// AccessChecker decides whether a session may subscribe to a channel.
type AccessChecker interface {
	CanSubscribe(ctx context.Context, id notify.Identity, req notify.SubscriptionRequest) error
}

// NonceChecker consumes single-use authorization nonces.
// cluster.LeaderClient satisfies it.
type NonceChecker interface {
	IsValidNonce(ctx context.Context, nonce string, ttl time.Duration) (bool, error)
}

// Sessions is the connection front the socket handler drives.
// notify.Orchestrator satisfies it.
type Sessions interface {
	Open(host string, sink notify.Sink) *notify.Socket
	Authorize(socketID string, channel uint32, multiplexed bool, id notify.Identity) (*notify.Session, error)
	Subscribe(socketID string, channel uint32, req notify.SubscriptionRequest) (notify.Subscription, error)
	Unsubscribe(socketID string, channel uint32, subscriptionID string) error
	Unauthorize(socketID string, channel uint32) error
	Close(socketID string)
}

// control runs one control message of a socket and returns the reply.
func (h *socketHandler) control(ctx context.Context, sock *notify.Socket, data []byte) controlReply {
	var req controlRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return errorReply(req, domain.ErrBadRequest.WithDetails("malformed control message"))
	}

	reply := controlReply{RequestID: req.RequestID, Channel: req.Channel}
	switch req.Type {
	case TypeAuthorize:
		sess, err := h.authorize(ctx, sock, req)
		if err != nil {
			return errorReply(req, err)
		}
		reply.Type = replyAuthorized
		reply.Channel = sess.Channel

	case TypeSubscribe:
		sub, err := h.subscribe(ctx, sock, req)
		if err != nil {
			return errorReply(req, err)
		}
		reply.Type = replySubscribed
		reply.Subscription = &sub

	case TypeUnsubscribe:
		if err := h.sessions.Unsubscribe(sock.ID, req.Channel, req.SubscriptionID); err != nil {
			return errorReply(req, err)
		}
		reply.Type = replyUnsubscribed

	case TypeUnauthorize:
		if err := h.sessions.Unauthorize(sock.ID, req.Channel); err != nil {
			return errorReply(req, err)
		}
		reply.Type = replyUnauthorized

	default:
		return errorReply(req, domain.ErrBadRequest.WithDetailsf("unknown message type %q", req.Type))
	}
	return reply
}

func (h *socketHandler) authorize(ctx context.Context, sock *notify.Socket, req controlRequest) (*notify.Session, error) {
	if req.Nonce != "" && h.nonces != nil {
		valid, err := h.nonces.IsValidNonce(ctx, req.Nonce, 0)
		if err != nil {
			return nil, domain.ErrLeaderUnavailable.WithCause(err)
		}
		if !valid {
			return nil, domain.ErrNonceReplay
		}
	}

	id, err := h.verifier.Verify(ctx, sock.Host, req.Token)
	if err != nil {
		var de *domain.DomainError
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, domain.ErrUnauthorized.WithCause(err)
	}
	return h.sessions.Authorize(sock.ID, req.Channel, req.Multiplexed, id)
}

func (h *socketHandler) subscribe(ctx context.Context, sock *notify.Socket, req controlRequest) (notify.Subscription, error) {
	if req.Subscription == nil {
		return notify.Subscription{}, domain.ErrInvalidSubscription.WithDetails("subscription is required")
	}
	if h.access != nil {
		sess, ok := sock.Session(req.Channel)
		if !ok {
			return notify.Subscription{}, domain.ErrSessionNotFound.WithDetailsf("channel %d", req.Channel)
		}
		if err := h.access.CanSubscribe(ctx, sess.Identity, *req.Subscription); err != nil {
			var de *domain.DomainError
			if errors.As(err, &de) {
				return notify.Subscription{}, err
			}
			return notify.Subscription{}, domain.ErrAccessDenied.WithCause(err)
		}
	}
	return h.sessions.Subscribe(sock.ID, req.Channel, *req.Subscription)
}

func errorReply(req controlRequest, err error) controlReply {
	code := domain.GetErrorCode(err)
	if code == "" {
		code = domain.ErrInternal.Code
	}
	message := err.Error()
	var de *domain.DomainError
	if errors.As(err, &de) {
		message = de.Message
		if de.Details != "" {
			message += ": " + de.Details
		}
	}
	return controlReply{
		Type:      replyError,
		RequestID: req.RequestID,
		Channel:   req.Channel,
		Code:      code,
		Message:   message,
	}
}
