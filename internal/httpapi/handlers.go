package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/kingsmith/ftms-bridge/internal/bleadapter"
	"github.com/kingsmith/ftms-bridge/internal/bridge"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap := s.facade.Snapshot()
	respondJSON(w, http.StatusOK, map[string]any{
		"state":       snap.State.Kind.String(),
		"address":     snap.State.Address,
		"episode":     snap.State.Episode.String(),
		"ftms_active": snap.FTMSActive,
		"uptime_secs": snap.UptimeSecs,
		"telemetry":   snap.Telemetry,
	})
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	found, err := s.facade.ScanOnce(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"candidates": found})
}

type connectRequest struct {
	Address        string `json:"address"`
	AdvertisedName string `json:"advertised_name"`
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Address == "" {
		respondError(w, http.StatusBadRequest, "address is required")
		return
	}

	descriptor := bleadapter.TreadmillDescriptor{
		Address:        req.Address,
		AdvertisedName: req.AdvertisedName,
	}
	if err := s.facade.Connect(r.Context(), descriptor); err != nil {
		respondError(w, statusForFacadeErr(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "connecting"})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.Disconnect(r.Context()); err != nil {
		respondError(w, statusForFacadeErr(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "disconnected"})
}

func (s *Server) handleBridgeStart(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.BridgeStart(r.Context()); err != nil {
		respondError(w, statusForFacadeErr(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "bridging"})
}

func (s *Server) handleBridgeStop(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.BridgeStop(r.Context()); err != nil {
		respondError(w, statusForFacadeErr(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if err := s.facade.Shutdown(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "shutdown"})
}

// statusForFacadeErr maps bridge.ErrFacadeInvalidState onto 409 Conflict;
// anything else (adapter/BLE failures, context cancellation) is a 500.
func statusForFacadeErr(err error) int {
	if errors.Is(err, bridge.ErrFacadeInvalidState) {
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
