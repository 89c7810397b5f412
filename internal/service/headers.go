package service

import (
	"net/http"
	"net/textproto"
	"strings"

	"registry-proxy-go/internal/model"
)

const userAgent = "registry-proxy-go/1.0"

// ExposedHeaders lists the upstream response headers registry clients in a
// browser need to read.
const ExposedHeaders = "Docker-Content-Digest, WWW-Authenticate, Link, Content-Length, Content-Range"

// ApplyRelayHeaders sets the headers every registry relay response carries,
// error responses included.
func ApplyRelayHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Expose-Headers", ExposedHeaders)
	// Keeps intermediary CDNs from caching partial blob streams.
	h.Set("Cache-Control", "no-store")
}

// filterRequestHeaders copies inbound headers for the upstream call, dropping
// Host and hop-by-hop headers (including those named in Connection).
func filterRequestHeaders(src http.Header) http.Header {
	dst := stripHopByHop(src)
	dst.Del("Host")
	if dst.Get("User-Agent") == "" {
		dst.Set("User-Agent", userAgent)
	}
	return dst
}

// stripHopByHop returns a copy of src without connection-scoped headers.
func stripHopByHop(src http.Header) http.Header {
	dst := src.Clone()
	if dst == nil {
		dst = make(http.Header)
	}
	for _, v := range src.Values("Connection") {
		for _, name := range strings.Split(v, ",") {
			if name = textproto.TrimString(name); name != "" {
				dst.Del(name)
			}
		}
	}
	for _, h := range model.HopByHopHeaders {
		dst.Del(h)
	}
	return dst
}

// normalizeResponseHeaders prepares upstream registry headers for the client:
// hop-by-hop headers are dropped, the auth realm is pointed at publicOrigin when
// enabled, and the relay headers are applied.
func (s *RelayService) normalizeResponseHeaders(src http.Header, publicOrigin string) http.Header {
	dst := stripHopByHop(src)

	key := http.CanonicalHeaderKey("WWW-Authenticate")
	if vals := dst[key]; len(vals) > 0 && publicOrigin != "" && s.cfg.Registry.RewritesRealm() {
		rewritten := make([]string, len(vals))
		for i, v := range vals {
			rewritten[i] = s.rewriteRealm(v, publicOrigin)
		}
		dst[key] = rewritten
	}

	ApplyRelayHeaders(dst)
	return dst
}

// rewriteRealm replaces the auth server's origin in a challenge's realm with
// publicOrigin, leaving every other parameter intact.
func (s *RelayService) rewriteRealm(challenge, publicOrigin string) string {
	return s.realmPattern.ReplaceAllLiteralString(challenge, `realm="`+publicOrigin)
}
