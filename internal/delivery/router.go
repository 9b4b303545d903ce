package delivery

import (
	"context"
	"errors"

	"github.com/ravelhq/inboxd/internal/gateway"
	"github.com/ravelhq/inboxd/internal/identity"
	"go.uber.org/zap"
)

// Outcome classifies the terminal result of a routed send.
type Outcome string

const (
	// Delivered: the gateway accepted one of the candidates.
	Delivered Outcome = "delivered"
	// RecipientNotFound: every candidate was rejected softly.
	RecipientNotFound Outcome = "recipient-not-found"
	// Unresolved: no candidate address could be built at all.
	Unresolved Outcome = "unresolved"
	// BlockedByGatewayVersion: only opaque candidates exist and the server
	// version predates reliable opaque-address routing. Reported explicitly
	// so the caller can suggest operational remediation instead of retrying.
	BlockedByGatewayVersion Outcome = "blocked-by-gateway-version"
)

// MinOpaqueOnlyVersion is the first server version known to route
// opaque-only contacts reliably.
var MinOpaqueOnlyVersion = gateway.Version{2, 3000, 0}

// Result carries the outcome of a send, the winning address when delivered,
// and the attempted candidates for diagnostics on exhaustion.
type Result struct {
	Outcome   Outcome
	Winning   string
	ServerID  string
	Attempted []string
}

// Learner receives identity discovered during delivery. Implemented by the
// phone resolver.
type Learner interface {
	Learn(address, digits string, siblings []string)
}

// Router delivers outbound messages through a ranked candidate list,
// falling back on soft rejections and feeding learned identity back into
// the resolution cache.
type Router struct {
	gw         gateway.Gateway
	learner    Learner
	minVersion gateway.Version
	logger     *zap.Logger
}

// NewRouter creates a router. learner may be nil.
func NewRouter(gw gateway.Gateway, learner Learner, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{
		gw:         gw,
		learner:    learner,
		minVersion: MinOpaqueOnlyVersion,
		logger:     logger,
	}
}

// SendText routes a text message to the contact. Only the soft "recipient
// not in directory" rejection advances to the next candidate; any other
// gateway error is transient and returned to the caller untouched.
func (r *Router) SendText(ctx context.Context, conv *identity.Conversation, text string) (Result, error) {
	return r.route(ctx, conv, func(addr string) (string, error) {
		return r.gw.SendText(ctx, addr, text)
	})
}

// SendMedia routes a media message through the same candidate logic.
func (r *Router) SendMedia(ctx context.Context, conv *identity.Conversation, media gateway.Media) (Result, error) {
	return r.route(ctx, conv, func(addr string) (string, error) {
		return r.gw.SendMedia(ctx, addr, media)
	})
}

func (r *Router) route(ctx context.Context, conv *identity.Conversation, attempt func(addr string) (string, error)) (Result, error) {
	queue := Candidates(conv)
	if len(queue) == 0 {
		return Result{Outcome: Unresolved}, nil
	}

	if allOpaque(queue) {
		if v := r.gw.ServerVersion(ctx); v.Before(r.minVersion) {
			r.logger.Warn("send blocked: opaque-only contact on old gateway version",
				zap.String("key", conv.Key),
				zap.Uint32s("version", v[:]))
			return Result{Outcome: BlockedByGatewayVersion}, nil
		}
	}

	var attempted []string
	tried := make(map[string]bool)
	for i := 0; i < len(queue); i++ {
		cand := queue[i]
		if cand == "" || tried[cand] {
			continue
		}
		tried[cand] = true
		attempted = append(attempted, cand)

		serverID, err := attempt(cand)
		if err == nil {
			r.recordSuccess(conv, cand)
			return Result{Outcome: Delivered, Winning: cand, ServerID: serverID, Attempted: attempted}, nil
		}
		if !errors.Is(err, gateway.ErrRecipientNotInDirectory) {
			return Result{Attempted: attempted}, err
		}

		r.logger.Info("send candidate rejected",
			zap.String("candidate", cand), zap.String("key", conv.Key))

		// A rejected opaque candidate gets one bulk-verification shot: the
		// gateway may know a phone-derived alternate worth queueing.
		if identity.IsOpaque(cand) {
			if alt := r.verifyAlternate(ctx, cand); alt != "" && !tried[alt] {
				queue = append(queue, alt)
			}
		}
	}

	return Result{Outcome: RecipientNotFound, Attempted: attempted}, nil
}

// Candidates builds the ranked candidate list for a contact. Opaque-native
// contacts lead with the opaque form (some gateway versions route more
// reliably through it); phone-native contacts lead with the current send
// target.
func Candidates(conv *identity.Conversation) []string {
	var out []string
	push := func(addr string) {
		if addr == "" {
			return
		}
		for _, existing := range out {
			if existing == addr {
				return
			}
		}
		out = append(out, addr)
	}

	if opaqueNative(conv) {
		push(conv.LinkedOpaque)
		push(conv.SendTarget)
		for _, s := range conv.Siblings {
			if identity.IsPhone(s) {
				push(s)
			}
		}
		pushMessageHints(push, conv.LastMessage)
	} else {
		push(conv.SendTarget)
		for _, s := range conv.Siblings {
			if identity.IsPhone(s) {
				push(s)
			}
		}
		if d := identity.KeyPhone(conv.Key); d != "" {
			push(identity.PhoneAddress(d))
			push(d) // bare digits, for gateways that accept them
		}
		pushMessageHints(push, conv.LastMessage)
	}
	return out
}

func pushMessageHints(push func(string), m *gateway.Message) {
	if m == nil {
		return
	}
	if identity.IsPhone(m.Participant) {
		push(m.Participant)
	}
	if identity.IsPhone(m.Remote) {
		push(m.Remote)
	}
}

func opaqueNative(conv *identity.Conversation) bool {
	if identity.IsPhoneKey(conv.Key) {
		return false
	}
	return identity.IsOpaque(conv.SendTarget) || identity.IsOpaque(conv.LinkedOpaque)
}

func allOpaque(candidates []string) bool {
	for _, c := range candidates {
		if !identity.IsOpaque(c) {
			return false
		}
	}
	return len(candidates) > 0
}

func (r *Router) verifyAlternate(ctx context.Context, addr string) string {
	results, err := r.gw.VerifyAddresses(ctx, []string{addr})
	if err != nil {
		r.logger.Debug("candidate verification failed", zap.String("address", addr), zap.Error(err))
		return ""
	}
	for _, res := range results {
		if res.Query != addr || !res.Exists {
			continue
		}
		if identity.IsPhone(res.Canonical) {
			return res.Canonical
		}
	}
	return ""
}

// recordSuccess feeds the winning candidate back: it becomes the contact's
// send target, and a phone-derived winner is learned for every sibling so
// future routing starts from it.
func (r *Router) recordSuccess(conv *identity.Conversation, winning string) {
	conv.SendTarget = winning
	conv.AddSibling(winning)
	if r.learner == nil {
		return
	}
	if d := identity.Digits(winning); identity.IsPhone(winning) && identity.ValidPhone(d) {
		r.learner.Learn(winning, d, conv.Siblings)
	}
}
