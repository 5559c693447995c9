package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/jmhodges/clock"
	"go.uber.org/zap"

	"stembot/internal/model"
	"stembot/internal/repository"
)

const maxTokenAttempts = 32

var (
	// ErrTokenClaimed means the pairing token is already linked to another
	// chat. The owner has to unlink that chat first.
	ErrTokenClaimed = errors.New("pairing token is already linked to another chat")
	// ErrTokenSpaceExhausted means no free token was found. Not expected to
	// happen with realistic user counts.
	ErrTokenSpaceExhausted = errors.New("pairing token space exhausted")
)

// LinkConfig controls token shape and pairing rules.
type LinkConfig struct {
	TokenDigits     int
	AllowRelink     bool
	DefaultLocation *time.Location
}

// LinkService pairs chat endpoints with user accounts through one-time
// numeric tokens.
type LinkService struct {
	links   *repository.LinkRepository
	clk     clock.Clock
	cfg     LinkConfig
	logger  *zap.SugaredLogger
	randInt func(max int64) (int64, error)
}

func NewLinkService(links *repository.LinkRepository, clk clock.Clock, cfg LinkConfig, logger *zap.SugaredLogger) *LinkService {
	if cfg.TokenDigits <= 0 {
		cfg.TokenDigits = 10
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	return &LinkService{
		links:   links,
		clk:     clk,
		cfg:     cfg,
		logger:  logger,
		randInt: cryptoInt,
	}
}

// TokenDigits is the exact length of every pairing token.
func (s *LinkService) TokenDigits() int {
	return s.cfg.TokenDigits
}

// GenerateToken returns a random token not used by any link yet.
func (s *LinkService) GenerateToken(ctx context.Context) (string, error) {
	low := pow10(s.cfg.TokenDigits - 1)
	for i := 0; i < maxTokenAttempts; i++ {
		n, err := s.randInt(9 * low)
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		token := strconv.FormatInt(low+n, 10)

		exists, err := s.links.TokenExists(ctx, token)
		if err != nil {
			return "", err
		}
		if !exists {
			return token, nil
		}
	}
	return "", ErrTokenSpaceExhausted
}

// EnsureLink returns the owner's link, creating it with a fresh token on
// first use.
func (s *LinkService) EnsureLink(ctx context.Context, ownerID uint) (*model.AccountLink, error) {
	link, err := s.links.FindByOwner(ctx, ownerID)
	if err != nil || link != nil {
		return link, err
	}

	for i := 0; i < maxTokenAttempts; i++ {
		token, err := s.GenerateToken(ctx)
		if err != nil {
			return nil, err
		}

		link = &model.AccountLink{
			OwnerID:      ownerID,
			PairingToken: token,
			LinkedAt:     s.clk.Now().UTC(),
		}
		err = s.links.Create(ctx, link)
		switch {
		case err == nil:
			s.logger.Infow("account link created", "owner", ownerID)
			return link, nil
		case errors.Is(err, repository.ErrDuplicate):
			// Either the token was taken in between or another request
			// created the owner's link first.
			existing, ferr := s.links.FindByOwner(ctx, ownerID)
			if ferr != nil {
				return nil, ferr
			}
			if existing != nil {
				return existing, nil
			}
		default:
			return nil, err
		}
	}
	return nil, ErrTokenSpaceExhausted
}

// Resolve returns the owner linked to endpoint, or nil when none is.
func (s *LinkService) Resolve(ctx context.Context, endpoint string) (*model.User, error) {
	link, err := s.links.FindByEndpoint(ctx, endpoint)
	if err != nil || link == nil {
		return nil, err
	}
	return &link.Owner, nil
}

// Pair attaches endpoint to the link holding token. An unknown token yields
// nil, nil and changes nothing.
func (s *LinkService) Pair(ctx context.Context, token, endpoint string) (*model.User, error) {
	link, err := s.links.FindByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if link == nil {
		s.logger.Infow("pairing rejected: unknown token", "endpoint", endpoint)
		return nil, nil
	}
	if link.ChannelEndpoint != nil && *link.ChannelEndpoint == endpoint {
		return &link.Owner, nil
	}

	ok, err := s.links.Claim(ctx, link.ID, endpoint, s.cfg.AllowRelink)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Warnw("pairing rejected: token already linked", "owner", link.OwnerID, "endpoint", endpoint)
		return nil, ErrTokenClaimed
	}

	s.logger.Infow("chat paired", "owner", link.OwnerID, "endpoint", endpoint)
	return &link.Owner, nil
}

// Unpair detaches endpoint and returns the owner it belonged to, or nil.
func (s *LinkService) Unpair(ctx context.Context, endpoint string) (*model.User, error) {
	link, err := s.links.ClearEndpoint(ctx, endpoint)
	if err != nil || link == nil {
		return nil, err
	}
	s.logger.Infow("chat unpaired", "owner", link.OwnerID, "endpoint", endpoint)
	return &link.Owner, nil
}

// UnpairOwner detaches the owner's chat, if any.
func (s *LinkService) UnpairOwner(ctx context.Context, ownerID uint) (bool, error) {
	ok, err := s.links.ClearOwner(ctx, ownerID)
	if err != nil {
		return false, err
	}
	if ok {
		s.logger.Infow("chat unpaired by owner", "owner", ownerID)
	}
	return ok, nil
}

// Recipient implements RecipientResolver.
func (s *LinkService) Recipient(ctx context.Context, ownerID uint) (*Recipient, error) {
	link, err := s.links.FindByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if link == nil || !link.Linked() {
		return nil, nil
	}
	return s.recipient(*link), nil
}

// Linked lists every owner that currently has a chat attached.
func (s *LinkService) Linked(ctx context.Context) ([]Recipient, error) {
	links, err := s.links.ListLinked(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Recipient, 0, len(links))
	for _, link := range links {
		out = append(out, *s.recipient(link))
	}
	return out, nil
}

// Location returns the display zone for a user.
func (s *LinkService) Location(user *model.User) *time.Location {
	if user == nil || user.TimeZone == "" {
		return s.cfg.DefaultLocation
	}
	loc, err := time.LoadLocation(user.TimeZone)
	if err != nil {
		s.logger.Warnw("failed loading location; using default zone", "owner", user.ID, "zone", user.TimeZone, "err", err)
		return s.cfg.DefaultLocation
	}
	return loc
}

func (s *LinkService) recipient(link model.AccountLink) *Recipient {
	return &Recipient{
		OwnerID:  link.OwnerID,
		Username: link.Owner.Username,
		Endpoint: *link.ChannelEndpoint,
		Location: s.Location(&link.Owner),
	}
}

func cryptoInt(max int64) (int64, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(max))
	if err != nil {
		return 0, err
	}
	return n.Int64(), nil
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}
