package admin

import (
	"encoding/json"
	"net/http"

	"github.com/maxpert/muster/membership"
	"github.com/rs/zerolog/log"
)

// Coordinator is the part of membership.Manager the admin API reads and drives.
type Coordinator interface {
	State() membership.State
	Members() []membership.MemberInfo
	Reset() int
}

// AdminHandlers serves the membership admin endpoints
type AdminHandlers struct {
	coordinator Coordinator
}

// NewAdminHandlers creates a new AdminHandlers instance
func NewAdminHandlers(coordinator Coordinator) *AdminHandlers {
	return &AdminHandlers{coordinator: coordinator}
}

// writeJSONResponse writes a successful JSON response
func writeJSONResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"data": data}); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]interface{}{"error": message}); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
