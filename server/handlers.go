package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"

	"breeze-device/breeze"
)

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"version": s.version})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.engine.Status())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.engine.Stats())
}

func (s *Server) handleAdv(w http.ResponseWriter, r *http.Request) {
	payload, err := s.engine.AdvData()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"payload": hex.EncodeToString(payload)})
}

func (s *Server) handleAdvRestart(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.RestartAdvertising(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

type postRequest struct {
	Cmd     uint8  `json:"cmd"`
	Payload string `json:"payload"` // hex encoded
	Fast    bool   `json:"fast"`
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	var req postRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		http.Error(w, "bad payload hex: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.Fast {
		err = s.engine.PostFast(breeze.Cmd(req.Cmd), payload)
	} else {
		err = s.engine.Post(breeze.Cmd(req.Cmd), payload)
	}

	switch {
	case err == nil:
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	case errors.Is(err, breeze.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, breeze.ErrDataSize):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
