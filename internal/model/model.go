// Package model defines domain entities used by services and repositories.
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Tokens collects an issued primary token and its browser binding.
type Tokens struct {
	AccessToken          string
	BrowserIdentityToken string
	ExpiresAt            time.Time
}

// DataClient is the database engine a tenant declares for its connections.
type DataClient int

// Known database clients. Values match the firm directory encoding.
const (
	DataClientUnknown   DataClient = 0
	DataClientSQLServer DataClient = 1
	DataClientMySQL     DataClient = 2
	DataClientPostgres  DataClient = 3
	DataClientOracle    DataClient = 4
)

func (c DataClient) String() string {
	switch c {
	case DataClientSQLServer:
		return "sqlserver"
	case DataClientMySQL:
		return "mysql"
	case DataClientPostgres:
		return "postgres"
	case DataClientOracle:
		return "oracle"
	default:
		return "unknown"
	}
}

// ParseDataClient maps a configuration name to a DataClient.
func ParseDataClient(s string) (DataClient, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sqlserver", "mssql":
		return DataClientSQLServer, nil
	case "mysql":
		return DataClientMySQL, nil
	case "postgres", "postgresql", "pg":
		return DataClientPostgres, nil
	case "oracle":
		return DataClientOracle, nil
	}
	return DataClientUnknown, errors.New("unknown database client: " + s)
}

// Tenant describes where one firm's data lives.
type Tenant struct {
	FirmID     string
	FirmDSN    string // holds token store and storage roots
	UserDSN    string
	LogDSN     string
	DataClient DataClient
}

// TokenRecord is a stored login session keyed by its primary token.
type TokenRecord struct {
	Token                string
	BrowserIdentityToken string
	ExpiresAt            time.Time // UTC
	UserProfiles         string    // serialized UserProfile
	Settings             string    // serialized SystemSettings
}

// ID is an identifier that may be stored as a JSON string or number.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("id: expected string or number")
	}
	*id = ID(n.String())
	return nil
}

// CompanyInfo identifies the company a user works for.
type CompanyInfo struct {
	CompanyID   ID     `json:"COMPANYID"`
	CompanyName string `json:"CompanyName"`
	CompanyCode string `json:"CompanyCode"`
}

// UserProfile is the identity captured at login.
type UserProfile struct {
	Username    string      `json:"username"`
	Email       string      `json:"email"`
	UserType    string      `json:"UserType"`
	UserLevel   string      `json:"UserLevel"`
	EmployeeID  ID          `json:"EmployeeId"`
	CompanyInfo CompanyInfo `json:"CompanyInfo"`
	PlantID     ID          `json:"PlantId"`
	DeviceID    string      `json:"DeviceId"`
	DeviceCode  string      `json:"DeviceCode"`
}

// SystemSettings are per-session preferences. Keys other than the known
// ones are kept verbatim in Extra.
type SystemSettings struct {
	Theme               string `json:"Theme"`
	Language            string `json:"Language"`
	EnableNotifications bool   `json:"EnableNotifications"`
	SessionTimeout      int    `json:"SessionTimeout"`

	// Extra is shared by every copy of a Session and must be treated as
	// read-only. Clone before modifying.
	Extra map[string]json.RawMessage `json:"-"`
}

// Clone returns a copy whose Extra can be modified independently.
func (s SystemSettings) Clone() SystemSettings {
	if s.Extra == nil {
		return s
	}
	extra := make(map[string]json.RawMessage, len(s.Extra))
	for k, v := range s.Extra {
		extra[k] = append(json.RawMessage(nil), v...)
	}
	s.Extra = extra
	return s
}

var settingsKeys = []string{"Theme", "Language", "EnableNotifications", "SessionTimeout"}

type settingsFields struct {
	Theme               string `json:"Theme"`
	Language            string `json:"Language"`
	EnableNotifications bool   `json:"EnableNotifications"`
	SessionTimeout      int    `json:"SessionTimeout"`
}

// UnmarshalJSON requires a JSON object.
func (s *SystemSettings) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("settings: expected object")
	}
	var f settingsFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*s = SystemSettings{
		Theme:               f.Theme,
		Language:            f.Language,
		EnableNotifications: f.EnableNotifications,
		SessionTimeout:      f.SessionTimeout,
	}
	for k, v := range raw {
		if isSettingsKey(k) {
			continue
		}
		if s.Extra == nil {
			s.Extra = make(map[string]json.RawMessage)
		}
		s.Extra[k] = v
	}
	return nil
}

// MarshalJSON writes known fields and Extra side by side.
func (s SystemSettings) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Extra)+len(settingsKeys))
	for k, v := range s.Extra {
		out[k] = v
	}
	out["Theme"] = s.Theme
	out["Language"] = s.Language
	out["EnableNotifications"] = s.EnableNotifications
	out["SessionTimeout"] = s.SessionTimeout
	return json.Marshal(out)
}

func isSettingsKey(k string) bool {
	for _, known := range settingsKeys {
		if strings.EqualFold(k, known) {
			return true
		}
	}
	return false
}

// AnonymousUsername is the identity attached to anonymous-allowed requests.
const AnonymousUsername = "admin"

// Session is the per-request context produced by the authorization gate.
// It is built once and passed by value; nothing mutates it afterwards.
// Settings.Extra is a map and is shared between copies, use
// Settings.Clone to obtain a private one.
type Session struct {
	MasterDSN  string
	UserDSN    string
	LogDSN     string
	FirmDSN    string
	DataClient DataClient
	FirmID     string

	Username    string
	Email       string
	EmployeeID  string
	CompanyID   string
	StorageRoot string
	Profile     UserProfile
	Settings    SystemSettings
	Token       string
	Anonymous   bool
}

// Tenant returns the firm descriptor the session was built for.
func (s Session) Tenant() Tenant {
	return Tenant{
		FirmID:     s.FirmID,
		FirmDSN:    s.FirmDSN,
		UserDSN:    s.UserDSN,
		LogDSN:     s.LogDSN,
		DataClient: s.DataClient,
	}
}
