package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/couchcryptid/streams-data-service/internal/domain"
	"github.com/couchcryptid/streams-data-service/internal/streams"
)

const (
	defaultMaxFeatures = 5000
	maxMaxFeatures     = 50000
	maxBodyBytes       = 1 << 20

	archiveFilename = "streams-data.zip"
)

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

type downloadRequest struct {
	Gauges                []string `json:"gauges" validate:"required,min=1,dive,required"`
	StartDate             string   `json:"start_date" validate:"required"`
	EndDate               string   `json:"end_date" validate:"required"`
	WaterQualityVariables []string `json:"water_quality_variables" validate:"dive,required"`
	OtherDatasets         []string `json:"other_datasets" validate:"dive,required"`
}

// Accepted date layouts. Values without a zone are UTC.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func parseDate(field, s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s %q is not a date", domain.ErrInvalidRequest, field, s)
}

func (s *Server) decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body: %v", domain.ErrInvalidRequest, err)
	}
	if err := s.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: field %s failed %q", domain.ErrInvalidRequest, verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	sess, err := s.svc.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		// Any resolver failure is reported as a failed login. The service logs it.
		writeDetail(w, http.StatusUnauthorized, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{SessionToken: sess.Token, ExpiresAt: sess.ExpiresAt})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(SessionHeader)
	if token == "" {
		writeDetail(w, http.StatusBadRequest, "missing "+SessionHeader+" header")
		return
	}
	s.svc.Logout(token)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Options())
}

func (s *Server) handleGauges(w http.ResponseWriter, r *http.Request) {
	maxFeatures := defaultMaxFeatures
	if raw := r.URL.Query().Get("max_features"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxMaxFeatures {
			writeDetail(w, http.StatusBadRequest, fmt.Sprintf("max_features must be an integer between 1 and %d", maxMaxFeatures))
			return
		}
		maxFeatures = n
	}

	fc, err := s.svc.Gauges(r.Context(), r.Header.Get(SessionHeader), maxFeatures)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(fc) //nolint:errcheck // best-effort response
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	start, err := parseDate("start_date", req.StartDate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	end, err := parseDate("end_date", req.EndDate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	data, err := s.svc.BuildDownload(r.Context(), r.Header.Get(SessionHeader), streams.DownloadRequest{
		Gauges:                req.Gauges,
		Start:                 start,
		End:                   end,
		WaterQualityVariables: req.WaterQualityVariables,
		Datasets:              req.OtherDatasets,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+archiveFilename+`"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data) //nolint:errcheck // client disconnects are not actionable
}
