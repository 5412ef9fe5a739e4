package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/openfeeds/feedprovider/internal/engine"
	"github.com/openfeeds/feedprovider/internal/feed"
)

// defaultVolumeWindowSec applies when the window query parameter is absent.
const defaultVolumeWindowSec = 60

// handlers maps the HTTP endpoints onto the value provider.
type handlers struct {
	provider feed.ValueProvider
}

// feedValues answers POST /feed-values/ with the latest values, used by fast
// update clients.
func (h *handlers) feedValues(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeFeedsRequest(w, r)
	if !ok {
		return
	}

	values, err := h.provider.GetValues(r.Context(), req.Feeds)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Debug().Int("feeds", len(values)).Msg("Served current feed values")
	writeJSON(w, http.StatusOK, FeedValuesResponse{Data: values})
}

// roundFeedValues answers POST /feed-values/{votingRoundId}, used by scaling
// clients polling per voting round.
func (h *handlers) roundFeedValues(w http.ResponseWriter, r *http.Request) {
	votingRoundID, err := strconv.Atoi(mux.Vars(r)["votingRoundId"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "votingRoundId must be an integer")
		return
	}

	req, ok := decodeFeedsRequest(w, r)
	if !ok {
		return
	}

	values, err := h.provider.GetValues(r.Context(), req.Feeds)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Debug().Int("voting_round", votingRoundID).Int("feeds", len(values)).Msg("Served feed values for voting round")
	writeJSON(w, http.StatusOK, RoundFeedValuesResponse{VotingRoundID: votingRoundID, Data: values})
}

// feedVolumes answers POST /volumes/?window=<sec>.
func (h *handlers) feedVolumes(w http.ResponseWriter, r *http.Request) {
	windowSec := defaultVolumeWindowSec
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "window must be an integer number of seconds")
			return
		}
		windowSec = parsed
	}
	if windowSec <= 0 {
		writeError(w, http.StatusBadRequest, "window must be positive")
		return
	}

	req, ok := decodeFeedsRequest(w, r)
	if !ok {
		return
	}

	volumes, err := h.provider.GetVolumes(r.Context(), req.Feeds, windowSec)
	if err != nil {
		if errors.Is(err, engine.ErrBadWindow) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Debug().Int("window_sec", windowSec).Int("feeds", len(volumes)).Msg("Served feed volumes")
	writeJSON(w, http.StatusOK, FeedVolumesResponse{Data: volumes})
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) notFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, "not found")
}

func decodeFeedsRequest(w http.ResponseWriter, r *http.Request) (FeedValuesRequest, bool) {
	var req FeedValuesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return FeedValuesRequest{}, false
	}
	return req, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
