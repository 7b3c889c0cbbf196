package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"investloader/internal/domain"
	"investloader/internal/engine"
	"investloader/internal/provider"
)

type syncClosePricesRequest struct {
	Instruments []string `json:"instruments"`
	Types       []string `json:"types"`
}

type syncCandlesRequest struct {
	Date        string   `json:"date"`
	To          string   `json:"to"`
	Interval    string   `json:"interval"`
	Types       []string `json:"types"`
	Instruments []string `json:"instruments"`
}

type syncInstrumentsRequest struct {
	Types []string `json:"types"`
}

func (s *Server) handleSyncClosePrices(w http.ResponseWriter, r *http.Request) {
	var req syncClosePricesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	types, err := parseTypes(req.Types)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.engine.SyncClosePrices(r.Context(), engine.ClosePriceRequest{
		Instruments: req.Instruments,
		Types:       types,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleSyncEveningSession(w http.ResponseWriter, r *http.Request) {
	s.handleSyncSession(w, r, domain.SessionEvening)
}

func (s *Server) handleSyncMorningSession(w http.ResponseWriter, r *http.Request) {
	s.handleSyncSession(w, r, domain.SessionMorning)
}

func (s *Server) handleSyncSession(w http.ResponseWriter, r *http.Request, session domain.Session) {
	date, err := parseDate(r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.engine.SyncSessionPrices(r.Context(), date, session)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleSyncCandles(w http.ResponseWriter, r *http.Request) {
	var req syncCandlesRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	from, err := parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var to time.Time
	if req.To != "" {
		if to, err = parseDate(req.To); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if to.Before(from) {
			writeError(w, http.StatusBadRequest, "to precedes date")
			return
		}
	}
	types, err := parseTypes(req.Types)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.engine.SyncCandles(r.Context(), engine.CandleRequest{
		From:        from,
		To:          to,
		Interval:    provider.CandleInterval(req.Interval),
		Types:       types,
		Instruments: req.Instruments,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *Server) handleSyncInstruments(w http.ResponseWriter, r *http.Request) {
	var req syncInstrumentsRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	types, err := parseTypes(req.Types)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := s.engine.SyncInstruments(r.Context(), types)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

type instrumentJSON struct {
	FIGI     string `json:"figi"`
	Ticker   string `json:"ticker"`
	Type     string `json:"type"`
	Currency string `json:"currency"`
	Exchange string `json:"exchange"`
}

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("type")
	if raw == "" {
		writeError(w, http.StatusBadRequest, "type query parameter is required")
		return
	}
	t, ok := domain.ParseInstrumentType(raw)
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown instrument type %q", raw))
		return
	}

	instruments, err := s.engine.Instruments(r.Context(), t)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]instrumentJSON, 0, len(instruments))
	for _, in := range instruments {
		out = append(out, instrumentJSON{
			FIGI:     in.FIGI,
			Ticker:   in.Ticker,
			Type:     string(in.Type),
			Currency: in.Currency,
			Exchange: in.Exchange,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(out), "instruments": out})
}

func (s *Server) handleListPrices(w http.ResponseWriter, r *http.Request) {
	session, ok := parseSession(r.PathValue("session"))
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown session %q", r.PathValue("session")))
		return
	}
	date, err := parseDate(r.PathValue("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	facts, err := s.engine.SessionPrices(r.Context(), session, date)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(facts), "items": facts})
}

func parseSession(s string) (domain.Session, bool) {
	switch s {
	case "morning":
		return domain.SessionMorning, true
	case "evening":
		return domain.SessionEvening, true
	case "close", "main":
		return domain.SessionMain, true
	}
	return "", false
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"pools":           s.engine.PipelineStats(),
		"instrumentCache": s.engine.CacheStatus(),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// decodeBody parses an optional JSON body. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return fmt.Errorf("parsing request body: %w", err)
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing date %q: want YYYY-MM-DD", s)
	}
	return d, nil
}

func parseTypes(raw []string) ([]domain.InstrumentType, error) {
	out := make([]domain.InstrumentType, 0, len(raw))
	for _, s := range raw {
		t, ok := domain.ParseInstrumentType(s)
		if !ok {
			return nil, fmt.Errorf("unknown instrument type %q", s)
		}
		out = append(out, t)
	}
	return out, nil
}
