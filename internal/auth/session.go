package auth

import (
	"encoding/json"
	"fmt"

	"github.com/fleeterp/fms-api/internal/errs"
	"github.com/fleeterp/fms-api/internal/model"
)

// decodeProfile parses a stored user profile. Empty, null and non-object
// payloads are rejected.
func decodeProfile(raw string) (model.UserProfile, error) {
	var p *model.UserProfile
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return model.UserProfile{}, fmt.Errorf("%w: profile: %v", errs.ErrInvalidSession, err)
	}
	if p == nil {
		return model.UserProfile{}, fmt.Errorf("%w: profile is null", errs.ErrInvalidSession)
	}
	return *p, nil
}

// decodeSettings parses stored system settings.
func decodeSettings(raw string) (model.SystemSettings, error) {
	var s model.SystemSettings
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return model.SystemSettings{}, fmt.Errorf("%w: settings: %v", errs.ErrInvalidSession, err)
	}
	return s, nil
}
