package concurrency

import (
	"net/http"
	"time"
)

// Options configures the concurrency-limiting middleware.
type Options struct {
	Max            int
	RejectStatus   int
	AcquireTimeout time.Duration
}

// Middleware bounds concurrent in-flight requests to opts.Max, rejecting
// with opts.RejectStatus (default 503) once the pool is saturated and the
// acquire timeout elapses. A non-positive Max disables the limiter.
func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusServiceUnavailable
	}

	svc := Service{
		Pool:           NewChanPool(opts.Max),
		AcquireTimeout: opts.AcquireTimeout,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			release, ok := svc.Acquire(r.Context())
			if !ok {
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}
			defer release()

			next.ServeHTTP(w, r)
		})
	}
}
