package thttp

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBearerTokenOK(t *testing.T) {
	token, err := BearerToken(http.Header{"Authorization": []string{"Bearer TOKEN"}})
	require.NoError(t, err)
	require.Equal(t, "TOKEN", token)
}

func TestParseBearerTokenMissing(t *testing.T) {
	_, err := BearerToken(http.Header{})
	require.Equal(t, ErrMissingAuthToken, err)
}

func TestParseBearerTokenMalformed(t *testing.T) {
	_, err := BearerToken(http.Header{"Authorization": []string{"Bear TOKEN"}})
	require.IsType(t, ErrMalformedAuthHeader{}, err)
}

func TestRequireBearer(t *testing.T) {
	handler := RequireBearer("TOKEN")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for header, code := range map[string]int{
		"":             http.StatusUnauthorized,
		"Bearer WRONG": http.StatusUnauthorized,
		"Basic TOKEN":  http.StatusUnauthorized,
		"Bearer TOKEN": http.StatusNoContent,
	} {
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		res := Test(handler, r)
		res.Body.Close()
		require.Equal(t, code, res.StatusCode, header)
	}

	open := RequireBearer("")(http.NotFoundHandler())
	res := Test(open, httptest.NewRequest(http.MethodGet, "/", nil))
	res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}
