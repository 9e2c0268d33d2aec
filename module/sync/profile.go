package sync

import (
	"context"

	"github.com/SpheneDev/SpheneServer/module/sync/model"
	"github.com/SpheneDev/SpheneServer/tools/errs"
)

// ProfileDTO is the viewer-facing profile. Moderation state never
// leaves the server; a flagged or disabled profile renders as a stock
// description.
type ProfileDTO struct {
	User        model.UserRef `json:"user"`
	Description string        `json:"description"`
	IsNSFW      bool          `json:"isNSFW"`
}

const (
	flaggedProfileText  = "This profile is pending review."
	disabledProfileText = "This profile has been disabled."
)

// GetProfile returns otherUID's profile. Only the owner or a related
// peer may read it.
func (s *Service) GetProfile(ctx context.Context, self *model.User, otherUID string) (*ProfileDTO, error) {
	other, err := s.store.GetUser(ctx, otherUID)
	if err != nil {
		return nil, err
	}
	if other == nil {
		return nil, errs.ErrNotAllowed.WithDetail("unknown user " + otherUID)
	}
	if self.UID != otherUID {
		paired, err := s.store.AnyPair(ctx, self.UID, otherUID)
		if err != nil {
			return nil, err
		}
		shared, err := s.store.ListSharedGroups(ctx, self.UID, otherUID)
		if err != nil {
			return nil, err
		}
		if !paired && len(shared) == 0 {
			return nil, errs.ErrNotAllowed.WithDetail("not paired with " + otherUID)
		}
	}

	dto := &ProfileDTO{User: other.Ref()}
	p, err := s.store.GetProfile(ctx, otherUID)
	if err != nil {
		return nil, err
	}
	switch {
	case p == nil:
		// never authored one; empty profile
	case p.Disabled:
		dto.Description = disabledProfileText
	case p.Flagged && self.UID != otherUID:
		dto.Description = flaggedProfileText
	default:
		dto.Description = p.Description
		dto.IsNSFW = p.IsNSFW
	}
	return dto, nil
}

// SetProfile rewrites self's profile text. A profile under moderation
// review cannot be edited until the review clears it.
func (s *Service) SetProfile(ctx context.Context, self *model.User, description string, isNSFW bool) error {
	existing, err := s.store.GetProfile(ctx, self.UID)
	if err != nil {
		return err
	}
	if existing != nil && (existing.Flagged || existing.Disabled) {
		return errs.ErrNotAllowed.WithDetail("profile is locked by moderation")
	}
	return s.store.UpsertProfile(ctx, &model.Profile{
		UserUID:     self.UID,
		Description: description,
		IsNSFW:      isNSFW,
	})
}
