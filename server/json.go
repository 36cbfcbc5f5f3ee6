package server

import (
	"encoding/json"
	"net/http"
)

type jMap map[string]any

// writeJson is used for clients that send "Accept: application/json".
func writeJson(w http.ResponseWriter, status int, body jMap) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
