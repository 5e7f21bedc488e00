// Package handler holds the serverless function entry points, one per file.
package handler

import (
	"net/http"

	"github.com/jo-hoe/cutout/internal/serverless"
)

// RemoveBackground serves POST and OPTIONS /api/remove_bg.
func RemoveBackground(w http.ResponseWriter, r *http.Request) {
	serverless.ServeHTTP(w, r)
}
