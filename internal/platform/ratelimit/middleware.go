package ratelimit

import (
	"net/http"

	"golang.org/x/time/rate"
)

// Middleware applies a global token-bucket limiter to new requests. Requests
// over the limit receive 429 with Retry-After. rps <= 0 disables limiting.
// It is meant for connection-opening routes such as the audio streams, where
// each accepted request holds a subscription for a long time.
func Middleware(rps float64, burst int) func(next http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
