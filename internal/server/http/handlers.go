package httpserver

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fleeterp/fms-api/internal/auth"
	"github.com/fleeterp/fms-api/internal/errs"
	"github.com/fleeterp/fms-api/internal/model"
)

// Pinger checks that a tenant's firm database answers.
type Pinger interface {
	Ping(ctx context.Context, t model.Tenant) error
}

type handler struct {
	log          *zap.Logger
	pinger       Pinger
	readyTimeout time.Duration
}

func (h *handler) live(w http.ResponseWriter, r *http.Request) {
	respondOK(w, r, map[string]string{"status": "alive"})
}

// ready pings the default firm database resolved by the gate.
func (h *handler) ready(w http.ResponseWriter, r *http.Request) {
	s, ok := auth.SessionFrom(r.Context())
	if !ok {
		respondError(w, r, h.log, errs.ErrTenantUnavailable)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.readyTimeout)
	defer cancel()
	if err := h.pinger.Ping(ctx, s.Tenant()); err != nil {
		h.log.Warn("readiness check failed",
			zap.String("firm_id", s.FirmID),
			zap.Error(err),
		)
		writeJSON(w, r, http.StatusServiceUnavailable, "error", "database unavailable", map[string]string{"status": "unhealthy"})
		return
	}
	respondOK(w, r, map[string]string{"status": "ready", "firmId": s.FirmID})
}

type sessionResponse struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	EmployeeID  string `json:"employeeId"`
	CompanyID   string `json:"companyId"`
	CompanyName string `json:"companyName,omitempty"`
	PlantID     string `json:"plantId,omitempty"`
	UserType    string `json:"userType,omitempty"`
	UserLevel   string `json:"userLevel,omitempty"`
	FirmID      string `json:"firmId"`
	DataClient  string `json:"dataClient"`
	StorageRoot string `json:"storageRoot"`
	Timeout     int    `json:"sessionTimeout,omitempty"`
}

// session describes the caller. Connection strings and the token stay server side.
func (h *handler) session(w http.ResponseWriter, r *http.Request) {
	s, ok := auth.SessionFrom(r.Context())
	if !ok {
		respondError(w, r, h.log, errs.ErrUnauthorized)
		return
	}
	respondOK(w, r, sessionResponse{
		Username:    s.Username,
		Email:       s.Email,
		EmployeeID:  s.EmployeeID,
		CompanyID:   s.CompanyID,
		CompanyName: s.Profile.CompanyInfo.CompanyName,
		PlantID:     string(s.Profile.PlantID),
		UserType:    s.Profile.UserType,
		UserLevel:   s.Profile.UserLevel,
		FirmID:      s.FirmID,
		DataClient:  s.DataClient.String(),
		StorageRoot: s.StorageRoot,
		Timeout:     s.Settings.SessionTimeout,
	})
}

type configurationResponse struct {
	Profile  model.UserProfile    `json:"profile"`
	Settings model.SystemSettings `json:"settings"`
}

func (h *handler) configuration(w http.ResponseWriter, r *http.Request) {
	s, ok := auth.SessionFrom(r.Context())
	if !ok {
		respondError(w, r, h.log, errs.ErrUnauthorized)
		return
	}
	respondOK(w, r, configurationResponse{Profile: s.Profile, Settings: s.Settings.Clone()})
}
