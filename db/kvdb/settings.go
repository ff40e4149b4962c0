package kvdb

import (
	"context"
	"errors"
	"strconv"
)

const (
	settingActive        = "active"
	settingDeactivatedBy = "deactivated_by"
)

// Settings persists the engine's "active" flag. Searches are only routed to the
// engine while it is active.
type Settings struct {
	db DB
}

func NewSettings(db DB) *Settings {
	return &Settings{db: db}
}

func (s *Settings) IsActive(ctx context.Context) (bool, error) {
	value, err := s.db.Get(SettingsBucket, settingActive)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return strconv.ParseBool(value)
}

func (s *Settings) SetActive(ctx context.Context, active bool) error {
	if active {
		if err := s.db.Delete(SettingsBucket, settingDeactivatedBy); err != nil {
			return err
		}
	}
	return s.db.Set(SettingsBucket, settingActive, strconv.FormatBool(active))
}

// Deactivate turns the engine off and records who did it, so that the same
// actor can later reactivate it without overriding an operator's decision.
func (s *Settings) Deactivate(ctx context.Context, reason string) error {
	if err := s.db.Set(SettingsBucket, settingActive, strconv.FormatBool(false)); err != nil {
		return err
	}
	return s.db.Set(SettingsBucket, settingDeactivatedBy, reason)
}

func (s *Settings) DeactivatedBy(ctx context.Context) (string, error) {
	value, err := s.db.Get(SettingsBucket, settingDeactivatedBy)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return value, err
}
