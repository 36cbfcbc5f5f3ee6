package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/liondadev/fileserve/server/pages"
	"go.uber.org/zap"
)

// HandlerWithError is a wrapper around a handler that allows you to return an error.
// Errors are answered with an error page, or json when the client asks for it.
type HandlerWithError struct {
	s *Server
	h func(w http.ResponseWriter, r *http.Request) error
}

func (h HandlerWithError) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := h.s.log.With(
		zap.String("request_id", middleware.GetReqID(r.Context())),
		zap.String("method", r.Method),
		zap.String("uri", r.RequestURI),
		zap.String("identity", requesterIdentity(r)),
	)

	defer func() {
		if err := recover(); err != nil {
			log.Error("recovered from panic while handling request", zap.Any("panic", err))
			writeError(w, r, http.StatusInternalServerError, "PANIC", "Unrecoverable Server Panic")
		}
	}()

	start := time.Now()
	err := h.h(w, r)
	dur := time.Since(start).String()
	if err == nil {
		return
	}

	var perr PublicError
	if errors.As(err, &perr) {
		log.Info("public error", zap.Int("status", perr.Code), zap.String("message", perr.Message))
		writeError(w, r, perr.Code, dur, perr.Message)

		return
	}

	log.Error("error when serving request", zap.Error(err))
	writeError(w, r, http.StatusInternalServerError, dur, "Internal Server Error")
}

func writeHTML(w http.ResponseWriter, status int, html templ.Component) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	return html.Render(context.Background(), w)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, dur, message string) {
	heading := strconv.Itoa(status) + " - " + http.StatusText(status)

	if strings.Contains(r.Header.Get("Accept"), "application/json") {
		writeJson(w, status, jMap{"error": heading, "message": message})
		return
	}

	_ = writeHTML(w, status, pages.Error(dur, heading, message))
}
