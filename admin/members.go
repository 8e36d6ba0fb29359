package admin

import (
	"net/http"
	"strconv"

	"github.com/maxpert/muster/membership"
	"github.com/rs/zerolog/log"
)

// handleMembers handles GET /admin/members?role=<glob>&local=<bool>
func (h *AdminHandlers) handleMembers(w http.ResponseWriter, r *http.Request) {
	filter, err := newRoleFilter(r.URL.Query()["role"])
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	localOnly := false
	if v := r.URL.Query().Get("local"); v != "" {
		localOnly, err = strconv.ParseBool(v)
		if err != nil {
			writeErrorResponse(w, http.StatusBadRequest, "invalid local parameter")
			return
		}
	}

	members := make([]membership.MemberInfo, 0)
	for _, m := range h.coordinator.Members() {
		if !filter.Match(m.Role) || (localOnly && !m.Local) {
			continue
		}
		members = append(members, m)
	}

	writeJSONResponse(w, http.StatusOK, members)
}

// handleState handles GET /admin/state
func (h *AdminHandlers) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSONResponse(w, http.StatusOK, h.coordinator.State())
}

// handleReset handles POST /admin/reset
func (h *AdminHandlers) handleReset(w http.ResponseWriter, r *http.Request) {
	n := h.coordinator.Reset()
	log.Info().Str("remote", r.RemoteAddr).Int("members", n).Msg("Reset requested through admin API")
	writeJSONResponse(w, http.StatusOK, map[string]int{"reset": n})
}
