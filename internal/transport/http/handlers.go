package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"live-classroom-service/internal/app"
)

type createSessionRequest struct {
	QuizID string `json:"quizId"`
}

type createSessionResponse struct {
	Code           string `json:"code"`
	TotalQuestions int    `json:"totalQuestions"`
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func CreateSession(service *app.LiveService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createSessionRequest
		if err := readJSON(r, &req); err != nil || req.QuizID == "" {
			writeError(w, http.StatusBadRequest, "quizId is required")
			return
		}
		host, err := service.CreateSession(r.Context(), req.QuizID)
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, createSessionResponse{
			Code:           host.Code(),
			TotalQuestions: len(host.Quiz().Questions),
		})
	}
}

func GetSession(service *app.LiveService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := service.View(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func StartSession(service *app.LiveService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := service.Start(r.Context(), chi.URLParam(r, "code")); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func AdvanceSession(service *app.LiveService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := service.Advance(r.Context(), chi.URLParam(r, "code")); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func CloseSession(service *app.LiveService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := service.CloseSession(r.Context(), chi.URLParam(r, "code")); err != nil {
			fail(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeError(w, status, err.Error())
}
