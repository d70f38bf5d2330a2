package edge

import (
	"net/http"

	"github.com/dunamismax/pixeledge/internal/params"
)

// RewriteRequest appends the canonical parameter segment to a GET request's
// URI so equivalent requests share one cache entry. Other methods pass
// through untouched.
func RewriteRequest(req Request) Request {
	if req.Method != http.MethodGet {
		return req
	}

	out := req
	out.URI = req.URI + "/" + params.Canonical(req.QueryValues(), req.URI)
	return out
}
