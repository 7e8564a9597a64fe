package wsserver

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/yndnr/relaymesh-go/internal/core/domain"
	"github.com/yndnr/relaymesh-go/internal/notify"
	"github.com/yndnr/relaymesh-go/pkg/token"
)

// SignedTokenVerifier accepts tokens signed with the shared token key.
// Sessions get the frame secret derived from their session id.
type SignedTokenVerifier struct {
	signer *token.Signer
}

// NewSignedTokenVerifier creates a verifier. A nil signer rejects every
// token.
func NewSignedTokenVerifier(signer *token.Signer) *SignedTokenVerifier {
	return &SignedTokenVerifier{signer: signer}
}

// Verify implements TokenVerifier.
func (v *SignedTokenVerifier) Verify(_ context.Context, host, tok string) (notify.Identity, error) {
	if v.signer == nil {
		return notify.Identity{}, domain.ErrUnauthorized.WithDetails("no token key configured")
	}
	if tok == "" {
		return notify.Identity{}, domain.ErrUnauthorized.WithDetails("token is required")
	}
	c, err := v.signer.Verify(tok)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return notify.Identity{}, domain.ErrUnauthorized.WithDetails("token expired")
		}
		return notify.Identity{}, domain.ErrUnauthorized.WithCause(err)
	}
	if c.Host != "" && c.Host != host {
		return notify.Identity{}, domain.ErrUnauthorized.WithDetails("token issued for another host")
	}
	return notify.Identity{
		SessionID:        c.SessionID,
		Username:         c.Username,
		Subidentity:      c.Subidentity,
		DeviceID:         c.DeviceID,
		SubidentityGroup: c.SubidentityGroup,
		Solution:         c.Solution,
		Plain:            c.Plain,
		ContextIDs:       c.ContextIDs,
		Secret:           v.signer.SessionSecret(c.SessionID),
	}, nil
}

// ContextAccess lets a session subscribe within a context only when its
// token lists that context. Other scopes pass.
type ContextAccess struct{}

// CanSubscribe implements AccessChecker.
func (ContextAccess) CanSubscribe(_ context.Context, id notify.Identity, req notify.SubscriptionRequest) error {
	if req.LimitedBy != notify.LimitedByContext {
		return nil
	}
	if slices.Contains(id.ContextIDs, req.ObjectID) {
		return nil
	}
	return fmt.Errorf("context %s is not granted to this session", req.ObjectID)
}
