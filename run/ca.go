package run

// Tile servers are reached over TLS; the bundled roots are used when the
// system has none, as in minimal containers.
import _ "golang.org/x/crypto/x509roots/fallback"
