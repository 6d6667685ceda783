package thttp

import (
	"net/http"

	"github.com/gorilla/handlers"
)

var (
	allowedMethods = []string{
		http.MethodGet,
		http.MethodHead,
		http.MethodPost,
		http.MethodOptions,
	}
	allowedHeaders = []string{
		"Authorization",
		"Cache-Control",
		"Content-Type",
		"If-None-Match",
		"X-Requested-With",
		RequestIDHeader,
	}
	exposedHeaders = []string{
		"Content-Length",
		"ETag",
		RequestIDHeader,
	}
)

// CORS is a middleware that allows cross-origin requests, so that map pages
// opened from files or other local servers can load tiles
var CORS = handlers.CORS(
	handlers.AllowedMethods(allowedMethods),
	handlers.AllowedHeaders(allowedHeaders),
	handlers.ExposedHeaders(exposedHeaders),
	handlers.AllowedOrigins([]string{"*"}),
)
