package thttp

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/ridge/trackmap/tlog"
)

const bearerPrefix = "Bearer "

// ErrMissingAuthToken is an error return by BearerToken if there is no Authorization HTTP header
var ErrMissingAuthToken = errors.New("missing authentication token")

// ErrMalformedAuthHeader is an error returned by BearerToken if Authorization HTTP header is not in form "Bearer token"
type ErrMalformedAuthHeader struct {
	header string
}

func (e ErrMalformedAuthHeader) Error() string {
	return fmt.Sprintf("malformed authentication header: %q", e.header)
}

// BearerToken returns a bearer token, or an error if it is not found
func BearerToken(header http.Header) (string, error) {
	h := header.Get("Authorization")
	if h == "" {
		return "", ErrMissingAuthToken
	}
	bearer, ok := strings.CutPrefix(h, bearerPrefix)
	if !ok {
		return "", ErrMalformedAuthHeader{h}
	}
	return bearer, nil
}

// RequireBearer is a middleware rejecting requests without the given bearer
// token with 401. An empty token lets every request through.
func RequireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, err := BearerToken(r.Header)
			if err == nil && subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				err = errors.New("wrong authentication token")
			}
			if err != nil {
				w.Header().Set("WWW-Authenticate", "Bearer")
				JSONError(tlog.Get(r.Context()), w, r, err, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
