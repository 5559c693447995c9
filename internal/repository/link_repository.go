package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"stembot/internal/model"
)

var (
	// ErrDuplicate is returned by Create when a unique key is already taken.
	ErrDuplicate = errors.New("duplicate record")

	errClaimLost = errors.New("claim lost")
)

// LinkRepository stores account links between users and chat endpoints.
type LinkRepository struct {
	db *gorm.DB
}

func NewLinkRepository(db *gorm.DB) *LinkRepository {
	return &LinkRepository{db: db}
}

func (r *LinkRepository) Create(ctx context.Context, link *model.AccountLink) error {
	if err := r.db.WithContext(ctx).Create(link).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicate
		}
		return fmt.Errorf("create account link: %w", err)
	}
	return nil
}

func (r *LinkRepository) FindByOwner(ctx context.Context, ownerID uint) (*model.AccountLink, error) {
	return r.first(ctx, "owner_id = ?", ownerID)
}

func (r *LinkRepository) FindByToken(ctx context.Context, token string) (*model.AccountLink, error) {
	return r.first(ctx, "pairing_token = ?", token)
}

func (r *LinkRepository) FindByEndpoint(ctx context.Context, endpoint string) (*model.AccountLink, error) {
	return r.first(ctx, "channel_endpoint = ?", endpoint)
}

func (r *LinkRepository) TokenExists(ctx context.Context, token string) (bool, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&model.AccountLink{}).Where("pairing_token = ?", token).Count(&n).Error; err != nil {
		return false, fmt.Errorf("check token: %w", err)
	}
	return n > 0, nil
}

// Claim writes endpoint into the link and detaches it from any other link.
// Unless relink is set the link must be free or already hold endpoint;
// otherwise nothing changes and false is returned.
func (r *LinkRepository) Claim(ctx context.Context, linkID uint, endpoint string, relink bool) (bool, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.AccountLink{}).
			Where("channel_endpoint = ? AND id <> ?", endpoint, linkID).
			Update("channel_endpoint", nil).Error; err != nil {
			return fmt.Errorf("detach endpoint: %w", err)
		}

		q := tx.Model(&model.AccountLink{}).Where("id = ?", linkID)
		if !relink {
			q = q.Where("(channel_endpoint IS NULL OR channel_endpoint = ?)", endpoint)
		}
		res := q.Update("channel_endpoint", endpoint)
		if res.Error != nil {
			return fmt.Errorf("attach endpoint: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return errClaimLost
		}
		return nil
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, errClaimLost):
		return false, nil
	default:
		return false, err
	}
}

// ClearEndpoint detaches endpoint and returns the link it was attached to,
// or nil when it was not attached anywhere.
func (r *LinkRepository) ClearEndpoint(ctx context.Context, endpoint string) (*model.AccountLink, error) {
	var cleared *model.AccountLink
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var link model.AccountLink
		err := tx.Preload("Owner").Where("channel_endpoint = ?", endpoint).First(&link).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return nil
		case err != nil:
			return fmt.Errorf("find account link: %w", err)
		}

		res := tx.Model(&model.AccountLink{}).
			Where("id = ? AND channel_endpoint = ?", link.ID, endpoint).
			Update("channel_endpoint", nil)
		if res.Error != nil {
			return fmt.Errorf("detach endpoint: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			link.ChannelEndpoint = nil
			cleared = &link
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cleared, nil
}

// ClearOwner detaches whatever endpoint the owner has.
func (r *LinkRepository) ClearOwner(ctx context.Context, ownerID uint) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.AccountLink{}).
		Where("owner_id = ? AND channel_endpoint IS NOT NULL", ownerID).
		Update("channel_endpoint", nil)
	if res.Error != nil {
		return false, fmt.Errorf("detach owner: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// ListLinked returns every link that currently has an endpoint.
func (r *LinkRepository) ListLinked(ctx context.Context) ([]model.AccountLink, error) {
	var links []model.AccountLink
	if err := r.db.WithContext(ctx).Preload("Owner").
		Where("channel_endpoint IS NOT NULL").
		Order("owner_id ASC").
		Find(&links).Error; err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	return links, nil
}

func (r *LinkRepository) first(ctx context.Context, query string, arg any) (*model.AccountLink, error) {
	var link model.AccountLink
	err := r.db.WithContext(ctx).Preload("Owner").Where(query, arg).First(&link).Error
	switch {
	case err == nil:
		return &link, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return nil, nil
	default:
		return nil, fmt.Errorf("find account link: %w", err)
	}
}
