// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/waitgate/waitgate/internal/domain"
	"github.com/waitgate/waitgate/internal/log"
	"github.com/waitgate/waitgate/internal/metrics"
)

type ctxKey int

const tenantKey ctxKey = iota

// tenantFromContext returns the tenant a prior middleware resolved, if any.
func tenantFromContext(ctx context.Context) *domain.Tenant {
	t, _ := ctx.Value(tenantKey).(*domain.Tenant)
	return t
}

// requestID assigns or propagates X-Request-ID and binds it to the log
// context.
func (s *Server) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(log.ContextWithRequestID(r.Context(), id)))
	})
}

// statusRecorder captures the response code for the access log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int(log.FieldStatusCode, rec.status).
			Int64(log.FieldDurationMS, time.Since(start).Milliseconds()).
			Msg("request")
	})
}

// resolveTenant attaches the tenant identified by X-Tenant-Key, or failing
// that by the request host. Resolution is best-effort: routes that need a
// tenant enforce it with requireTenant.
func (s *Server) resolveTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var tenant *domain.Tenant

		if key := r.Header.Get("X-Tenant-Key"); key != "" {
			t, err := s.store.GetTenantByAPIKey(ctx, key)
			if err == nil {
				tenant = t
			} else if !errors.Is(err, domain.ErrNotFound) {
				writeDomainError(w, r, err)
				return
			}
		}
		if tenant == nil {
			host := r.Host
			if h, _, err := net.SplitHostPort(host); err == nil {
				host = h
			}
			t, err := s.store.GetTenantByDomain(ctx, strings.ToLower(host))
			if err == nil {
				tenant = t
			} else if !errors.Is(err, domain.ErrNotFound) {
				writeDomainError(w, r, err)
				return
			}
		}

		if tenant != nil {
			ctx = context.WithValue(ctx, tenantKey, tenant)
			ctx = log.ContextWithTenantID(ctx, tenant.ID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireTenant rejects requests whose resolved tenant is missing (401),
// inactive (403) or different from the {tenantID} path segment (403).
func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenant := tenantFromContext(r.Context())
		if tenant == nil {
			writeUnauthorized(w)
			return
		}
		if !tenant.IsActive {
			writeForbidden(w)
			return
		}
		if pathTenant := pathParam(r, "tenantID"); pathTenant != "" && pathTenant != tenant.ID {
			writeForbidden(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimit applies the scope's budget, keyed per tenant when one is
// resolved and per client IP otherwise. Limit headers go on every response;
// rejections add Retry-After.
func (s *Server) rateLimit(scope string, requests int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.limiter == nil {
				next.ServeHTTP(w, r)
				return
			}
			key := scope + ":" + limitSubject(r)
			d := s.limiter.Allow(r.Context(), key, requests, limitWindow)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				metrics.RateLimitExceeded.WithLabelValues(scope).Inc()
				retry := int(time.Until(d.ResetAt).Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeErrorMsg(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func limitSubject(r *http.Request) string {
	if tenant := tenantFromContext(r.Context()); tenant != nil {
		return "tenant:" + tenant.ID
	}
	return "ip:" + clientIP(r)
}

// clientIP determines the originating IP address (X-Forwarded-For / X-Real-IP / RemoteAddr)
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if xr := r.Header.Get("X-Real-IP"); xr != "" {
		return xr
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
