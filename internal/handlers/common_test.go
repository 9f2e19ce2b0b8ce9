package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/souqline/api/internal/platform/auth"
)

func jsonBody(payload string) io.Reader {
	return strings.NewReader(payload)
}

func withIdentity(req *http.Request, identity *auth.Identity) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), identity))
}
