package handler

import (
	"net/http"

	"github.com/jo-hoe/cutout/internal/serverless"
)

// ImagesToGLB serves POST and OPTIONS /api/images_to_glb.
func ImagesToGLB(w http.ResponseWriter, r *http.Request) {
	serverless.ServeHTTP(w, r)
}
