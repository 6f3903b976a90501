package api

import (
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/trv-controller/db"
	"github.com/thatsimonsguy/trv-controller/internal/config"
	"github.com/thatsimonsguy/trv-controller/internal/controllers/valvecontroller"
	"github.com/thatsimonsguy/trv-controller/internal/model"
	"github.com/thatsimonsguy/trv-controller/internal/valve"
)

type Server struct {
	db         *sql.DB
	motorValve *valve.CurrentSenseValveMotor
	config     *config.Config
}

type TargetRequest struct {
	TargetPercent uint8 `json:"target_percent"`
}

type TargetResponse struct {
	TargetPercent uint8 `json:"target_percent"`
}

type HouseCodeResponse struct {
	Paired bool             `json:"paired"`
	Code   *model.HouseCode `json:"code,omitempty"`
}

type CountersResponse struct {
	Slots map[string]string `json:"slots"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(database *sql.DB, motorValve *valve.CurrentSenseValveMotor, cfg *config.Config) *Server {
	return &Server{
		db:         database,
		motorValve: motorValve,
		config:     cfg,
	}
}

func (s *Server) Start(port int) error {
	mux := s.routes()

	// Add CORS middleware
	corsHandler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Set CORS headers
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		mux.ServeHTTP(w, r)
	})

	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Info().Str("address", addr).Msg("Starting REST API server")

	return http.ListenAndServe(addr, corsHandler)
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/valve", s.handleValve)
	mux.HandleFunc("/api/valve/target", s.handleValveTarget)
	mux.HandleFunc("/api/housecode", s.handleHouseCode)
	mux.HandleFunc("/api/counters", s.handleCounters)
	return mux
}

func (s *Server) handleValve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, valvecontroller.Status(s.motorValve))
}

func (s *Server) handleValveTarget(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		pc, err := db.GetTargetPercent(s.db)
		if err != nil {
			log.Error().Err(err).Msg("Failed to get target percent")
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, TargetResponse{TargetPercent: pc})
	case http.MethodPut:
		var req TargetRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		if req.TargetPercent > 100 {
			s.writeError(w, http.StatusBadRequest, "Invalid target. Must be between 0 and 100 percent")
			return
		}
		if err := db.UpdateTargetPercent(s.db, req.TargetPercent); err != nil {
			log.Error().Err(err).Uint8("target", req.TargetPercent).Msg("Failed to update target percent")
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		log.Info().Uint8("target", req.TargetPercent).Msg("Target percent updated via API")
		s.writeJSON(w, http.StatusOK, TargetResponse{TargetPercent: req.TargetPercent})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleHouseCode(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		hc, err := db.GetHouseCode(s.db)
		if err != nil {
			log.Error().Err(err).Msg("Failed to get house code")
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.writeJSON(w, http.StatusOK, HouseCodeResponse{Paired: hc != nil, Code: hc})
	case http.MethodPut:
		var req model.HouseCode
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
			return
		}
		if req.HC1 > 99 || req.HC2 > 99 {
			s.writeError(w, http.StatusBadRequest, "Invalid house code. Both bytes must be between 0 and 99")
			return
		}
		if err := db.UpdateHouseCode(s.db, req); err != nil {
			log.Error().Err(err).Msg("Failed to update house code")
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		log.Info().Uint8("hc1", req.HC1).Uint8("hc2", req.HC2).Msg("House code updated via API")
		s.writeJSON(w, http.StatusOK, HouseCodeResponse{Paired: true, Code: &req})
	case http.MethodDelete:
		if err := db.ClearHouseCode(s.db); err != nil {
			log.Error().Err(err).Msg("Failed to clear house code")
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		log.Info().Msg("House code cleared via API")
		s.writeJSON(w, http.StatusOK, HouseCodeResponse{Paired: false})
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleCounters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	slots, err := db.GetCounterSlots(s.db)
	if err != nil {
		log.Error().Err(err).Msg("Failed to get counter slots")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := CountersResponse{Slots: make(map[string]string, len(slots))}
	for slot, data := range slots {
		resp.Slots[slot] = hex.EncodeToString(data)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
