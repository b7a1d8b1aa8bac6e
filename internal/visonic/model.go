package visonic

import (
	"errors"
	"fmt"
	"net/http"
)

// Partition states reported by the service. Transitional states such as
// StateExit or StateEntryDelay are passed through untouched.
const (
	StateDisarm     = "DISARM"
	StateHome       = "HOME"
	StateAway       = "AWAY"
	StateExit       = "EXIT"
	StateEntryDelay = "ENTRYDELAY"
	StateArming     = "ARMING"
)

// AllPartitions addresses every partition in set_state.
const AllPartitions = -1

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrUnsupportedVersion = errors.New("rest api version not supported by server")
	ErrNotLoggedIn        = errors.New("not logged in")
)

type Panel struct {
	Serial string `json:"panel_serial"`
	Alias  string `json:"alias"`
}

type PanelInfo struct {
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	Serial       string `json:"serial"`
}

type Status struct {
	Connected  bool        `json:"connected"`
	Partitions []Partition `json:"partitions"`
}

type Partition struct {
	ID     int    `json:"id"`
	State  string `json:"state"`
	Status string `json:"status"`
	Ready  bool   `json:"ready"`
}

// APIError is returned for any non-2xx response.
type APIError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("visonic %s: %d %s", e.Op, e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("visonic %s: %d %s", e.Op, e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return ErrUnauthorized
	}
	return nil
}

type versionResponse struct {
	RestVersions []string `json:"rest_versions"`
}

type errorResponse struct {
	Error        int    `json:"error"`
	ErrorMessage string `json:"error_message"`
	ReasonCode   string `json:"error_reason_code"`
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	AppID    string `json:"app_id"`
}

type authResponse struct {
	UserToken string `json:"user_token"`
}

type panelLoginRequest struct {
	UserCode    string `json:"user_code"`
	AppType     string `json:"app_type"`
	AppID       string `json:"app_id"`
	PanelSerial string `json:"panel_serial"`
}

type panelLoginResponse struct {
	SessionToken string `json:"session_token"`
}

type setStateRequest struct {
	Partition int    `json:"partition"`
	State     string `json:"state"`
}
