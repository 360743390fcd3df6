package middleware

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicdesk/internal/platform/auth"
)

// AccessEntry records one request that touched a patient's chart.
type AccessEntry struct {
	UserID     string
	UserRoles  []string
	PatientID  string
	Action     string
	Route      string
	Method     string
	IPAddress  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// Audit logs every request whose route carries a :patientId parameter.
// Requests without one pass through unlogged.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)

			patientID := c.Param("patientId")
			if patientID == "" {
				return err
			}
			entry := accessEntry(c, patientID, err)

			evt := logger.Info()
			if entry.StatusCode >= http.StatusBadRequest {
				evt = logger.Warn()
			}
			evt.
				Str("type", "patient_access").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("patient_id", entry.PatientID).
				Str("action", entry.Action).
				Str("route", entry.Route).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("patient chart accessed")
			return err
		}
	}
}

func accessEntry(c echo.Context, patientID string, err error) AccessEntry {
	req := c.Request()
	status := c.Response().Status
	if he, ok := err.(*echo.HTTPError); ok {
		status = he.Code
	}
	rid, _ := c.Get("request_id").(string)
	return AccessEntry{
		UserID:     auth.UserIDFromContext(req.Context()),
		UserRoles:  auth.RolesFromContext(req.Context()),
		PatientID:  patientID,
		Action:     httpMethodToAction(req.Method),
		Route:      c.Path(),
		Method:     req.Method,
		IPAddress:  c.RealIP(),
		RequestID:  rid,
		StatusCode: status,
		Timestamp:  time.Now().UTC(),
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "read"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "unknown"
	}
}
