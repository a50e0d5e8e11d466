package gateway

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/medrex/medchain/pkg/types"
)

const maxBodyBytes = 1 << 20

// maxGrantSeconds is the longest grant a time.Duration can express
const maxGrantSeconds = math.MaxInt64 / int64(time.Second)

// errorResponse is the body of every failed request
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Status  int    `json:"status"`
}

// handlePreflight answers CORS preflight requests; the headers are set by corsMiddleware
func (s *Service) handlePreflight(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// handleHealth reports store reachability
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		s.health.HTTPHandler()(w, r)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.startTime).String(),
	})
}

func (s *Service) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req types.UserRegistrationRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	callerID := callerFromContext(r.Context())
	if err := s.ledger.RegisterUser(r.Context(), callerID, req.Name, types.ParseRole(req.Role)); err != nil {
		s.writeErrorResponse(w, err)
		return
	}

	user, err := s.ledger.GetUserInfo(r.Context(), callerID)
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, user)
}

func (s *Service) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := s.ledger.GetUserInfo(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, user)
}

func (s *Service) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var req types.CreateRecordRequest
	if !s.decodeBody(w, r, &req) {
		return
	}

	id, err := s.ledger.CreateRecord(r.Context(), callerFromContext(r.Context()), req)
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, map[string]uint64{"id": id})
}

func (s *Service) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.writeErrorResponse(w, invalidInput("record id must be a positive integer"))
		return
	}

	record, err := s.ledger.GetRecord(r.Context(), callerFromContext(r.Context()), id)
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, record)
}

func (s *Service) handlePatientRecords(w http.ResponseWriter, r *http.Request) {
	patientID := mux.Vars(r)["id"]
	ids, err := s.ledger.GetPatientRecordIDs(r.Context(), patientID)
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"patient_id": patientID,
		"record_ids": ids,
	})
}

func (s *Service) handleDoctorRecords(w http.ResponseWriter, r *http.Request) {
	doctorID := mux.Vars(r)["id"]
	ids, err := s.ledger.GetDoctorAccessibleRecords(r.Context(), callerFromContext(r.Context()), doctorID)
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
		"doctor_id":  doctorID,
		"record_ids": ids,
	})
}

func (s *Service) handleGrantAccess(w http.ResponseWriter, r *http.Request) {
	var req types.GrantAccessRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.DurationSeconds < 0 || req.DurationSeconds > maxGrantSeconds {
		s.writeErrorResponse(w, invalidInput("duration_seconds must be between 0 and 9223372036"))
		return
	}

	duration := time.Duration(req.DurationSeconds) * time.Second
	status, err := s.ledger.GrantAccessStatus(r.Context(), callerFromContext(r.Context()), req.DoctorID, duration, req.Purpose)
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusCreated, status)
}

func (s *Service) handleRevokeAccess(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.RevokeAccess(r.Context(), callerFromContext(r.Context()), mux.Vars(r)["doctorId"]); err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleCheckAccess(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	status, err := s.ledger.CheckAccess(r.Context(), vars["patientId"], vars["doctorId"])
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, status)
}

// handleAuditTrail returns the full trail, or a page when offset or limit is given
func (s *Service) handleAuditTrail(w http.ResponseWriter, r *http.Request) {
	actorID := mux.Vars(r)["actorId"]
	query := r.URL.Query()

	if !query.Has("offset") && !query.Has("limit") {
		entries, err := s.ledger.GetAuditTrail(r.Context(), actorID)
		if err != nil {
			s.writeErrorResponse(w, err)
			return
		}
		s.writeJSONResponse(w, http.StatusOK, map[string]interface{}{
			"actor_id": actorID,
			"entries":  entries,
		})
		return
	}

	offset, err := queryInt(query.Get("offset"))
	if err != nil || offset < 0 {
		s.writeErrorResponse(w, invalidInput("offset must be a non-negative integer"))
		return
	}
	limit, err := queryInt(query.Get("limit"))
	if err != nil || limit < 0 {
		s.writeErrorResponse(w, invalidInput("limit must be a non-negative integer"))
		return
	}

	page, err := s.ledger.GetAuditTrailPage(r.Context(), actorID, offset, limit)
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, page)
}

func (s *Service) handleToggleEmergency(w http.ResponseWriter, r *http.Request) {
	active, err := s.ledger.ToggleEmergencyMode(r.Context(), callerFromContext(r.Context()))
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, map[string]bool{"emergency_active": active})
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.ledger.GetStats(r.Context())
	if err != nil {
		s.writeErrorResponse(w, err)
		return
	}
	s.writeJSONResponse(w, http.StatusOK, stats)
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func invalidInput(message string) error {
	return types.NewValidationError(types.ErrCodeInvalidInput, message, nil)
}

// decodeBody reads a JSON request body, writing a 400 on failure
func (s *Service) decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		s.writeErrorResponse(w, invalidInput("invalid request body"))
		return false
	}
	return true
}

// writeJSONResponse writes a JSON response
func (s *Service) writeJSONResponse(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

// writeErrorResponse renders a ledger error with the status its kind maps to
func (s *Service) writeErrorResponse(w http.ResponseWriter, err error) {
	var medErr *types.MedrexError
	if !errors.As(err, &medErr) {
		medErr = types.NewInternalError(types.ErrCodeInternalError, "internal error", err)
	}

	status := statusForType(medErr.Type)
	message := medErr.Message
	if status == http.StatusInternalServerError {
		message = "internal error"
	}
	s.writeJSONResponse(w, status, errorResponse{
		Error:   medErr.Code,
		Message: message,
		Status:  status,
	})
}

// writeStatusError writes an error that did not come from the ledger
func (s *Service) writeStatusError(w http.ResponseWriter, statusCode int, message string) {
	s.writeJSONResponse(w, statusCode, errorResponse{
		Error:   codeForStatus(statusCode),
		Message: message,
		Status:  statusCode,
	})
}

// statusForType maps error categories to HTTP status codes
func statusForType(errorType types.ErrorType) int {
	switch errorType {
	case types.ErrorTypeValidation:
		return http.StatusBadRequest
	case types.ErrorTypeAuthorization:
		return http.StatusForbidden
	case types.ErrorTypeNotFound:
		return http.StatusNotFound
	case types.ErrorTypeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func codeForStatus(statusCode int) string {
	switch statusCode {
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusTooManyRequests:
		return "RATE_LIMITED"
	default:
		return types.ErrCodeInternalError
	}
}
