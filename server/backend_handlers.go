package server

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/liondadev/fileserve/gate"
	"github.com/liondadev/fileserve/types"
	"go.uber.org/zap"
)

// handleIndex handles requests to GET /
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) error {
	return PublicError{http.StatusForbidden, "Forbidden."}
}

// handleNotFound is called when no other handlers match the request. In other words, this is called
// when the page is not found or the route doesn't exist.
func (s *Server) handleNotFound(w http.ResponseWriter, r *http.Request) error {
	return PublicError{http.StatusNotFound, "Page not found."}
}

func (s *Server) handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) error {
	return PublicError{http.StatusMethodNotAllowed, "Method not allowed."}
}

func pathParam(r *http.Request, key string) string {
	v := chi.URLParam(r, key)
	if unescaped, err := url.PathUnescape(v); err == nil {
		return unescaped
	}

	return v
}

// handleIssueDownload handles GET /file/{identifier}: it counts the download and
// sends the client on to the tokenised download URL.
func (s *Server) handleIssueDownload(w http.ResponseWriter, r *http.Request) error {
	identifier := pathParam(r, "identifier")
	identity := requesterIdentity(r)

	redirect, err := s.gate.IssueDownload(r.Context(), identifier, identity, requesterAgent(r), s.now())
	if errors.Is(err, gate.ErrNotFound) {
		return PublicError{http.StatusNotFound, "File not found."}
	}
	if err != nil {
		return err
	}

	s.log.Debug("download token issued", zap.String("file", identifier), zap.String("identity", identity))
	http.Redirect(w, r, redirect.Location, redirect.Status)

	return nil
}

// handleRedeemDownload handles GET /download/{token}/{identifier}. Rejected tokens
// go back to issuance without saying why.
func (s *Server) handleRedeemDownload(w http.ResponseWriter, r *http.Request) error {
	identifier := pathParam(r, "identifier")
	identity := requesterIdentity(r)

	res, err := s.gate.RedeemDownload(r.Context(), identifier, pathParam(r, "token"), identity, s.now())
	if errors.Is(err, gate.ErrNotFound) {
		return PublicError{http.StatusNotFound, "File not found."}
	}
	if err != nil {
		return err
	}

	if res.Outcome != gate.Granted {
		s.log.Info("download token rejected", zap.String("file", identifier), zap.String("identity", identity))
		http.Redirect(w, r, res.Redirect.Location, res.Redirect.Status)

		return nil
	}

	return s.sendAttachment(w, r, res.File)
}

// sendAttachment streams the file as a download under its own base name.
func (s *Server) sendAttachment(w http.ResponseWriter, r *http.Request, file *types.File) error {
	name := filepath.Base(file.Path)
	disposition := mime.FormatMediaType("attachment", map[string]string{"filename": name})

	if s.cfg.XSendfile {
		// the front proxy does the transfer and reports missing files itself
		w.Header().Set("Content-Disposition", disposition)
		w.Header().Set("X-Sendfile", file.Path)
		if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
			w.Header().Set("Content-Type", ct)
		} else {
			w.Header().Set("Content-Type", "application/octet-stream")
		}
		w.WriteHeader(http.StatusOK)

		return nil
	}

	f, err := os.Open(file.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return PublicError{http.StatusNotFound, "File not found."}
		}

		return fmt.Errorf("transfer file %d: %w", file.Id, err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("transfer file %d: %w", file.Id, err)
	}
	if stat.IsDir() {
		return PublicError{http.StatusNotFound, "File not found."}
	}

	w.Header().Set("Content-Disposition", disposition)
	w.Header().Set("Cache-Control", "private, no-store")
	http.ServeContent(w, r, name, stat.ModTime(), f)

	return nil
}
