package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"permit-gateway/middleware/ratelimit/application"
	"permit-gateway/middleware/ratelimit/domain"

	"go.uber.org/zap"
)

type KeyFunc func(r *http.Request) string

type Options struct {
	Store              domain.LimiterStore
	Stats              domain.StatsStore
	KeyFn              KeyFunc
	KeyHeader          string
	TrustXForwardedFor bool
	RejectStatus       int
	// RetryAfter fixo; se 0, é derivado da espera que causou a recusa.
	RetryAfter time.Duration
	// MaxWait: requisições cuja espera cabe aqui são seguradas (pacing)
	// em vez de recusadas. 0 = só passa quem não precisa esperar.
	MaxWait time.Duration
	// Permits cobrados por requisição (padrão 1).
	Permits             int
	AddRateLimitHeaders bool
	Logger              *zap.Logger
}

type rateInfo interface {
	RPS() float64
	Burst() int
}

func DefaultKeyFunc(keyHeader string, trustXFF bool) KeyFunc {
	return func(r *http.Request) string {
		if keyHeader != "" {
			if v := strings.TrimSpace(r.Header.Get(keyHeader)); v != "" {
				return v
			}
		}

		if trustXFF {
			// pega o primeiro IP do X-Forwarded-For (cliente original)
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				if ip, _, _ := strings.Cut(xff, ","); strings.TrimSpace(ip) != "" {
					return strings.TrimSpace(ip)
				}
			}
		}

		// fallback: RemoteAddr
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host
		}
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
}

func Middleware(opts Options) func(next http.Handler) http.Handler {
	if opts.RejectStatus == 0 {
		opts.RejectStatus = http.StatusTooManyRequests
	}
	if opts.Permits <= 0 {
		opts.Permits = 1
	}
	if opts.KeyFn == nil {
		opts.KeyFn = DefaultKeyFunc(opts.KeyHeader, opts.TrustXForwardedFor)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	log := opts.Logger

	svc := application.Service{
		Store:      opts.Store,
		MaxWait:    opts.MaxWait,
		RetryAfter: opts.RetryAfter,
		Logger:     log,
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := opts.KeyFn(r)

			if opts.AddRateLimitHeaders {
				w.Header().Set("X-RateLimit-Key", key)
				if ri, ok := opts.Store.(rateInfo); ok {
					w.Header().Set("X-RateLimit-RPS", formatFloat(ri.RPS()))
					w.Header().Set("X-RateLimit-Burst", formatInt(ri.Burst()))
				}
			}

			dec, err := svc.Decide(domain.Key(key), opts.Permits)
			if err != nil {
				log.Error("rate limit decision failed", zap.String("key", key), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}

			if opts.Stats != nil {
				ev := domain.StatsEvent{
					Key:     domain.Key(key),
					Allowed: dec.Allowed,
					Permits: opts.Permits,
					Wait:    dec.Wait,
					Method:  r.Method,
					Path:    r.URL.Path,
					At:      time.Now(),
				}
				if err := opts.Stats.Record(r.Context(), ev); err != nil {
					log.Warn("rate limit stats record failed", zap.Error(err))
				}
			}

			if !dec.Allowed {
				if dec.RetryAfter > 0 {
					w.Header().Set("Retry-After", formatInt(retryAfterSeconds(dec.RetryAfter)))
				}
				http.Error(w, http.StatusText(opts.RejectStatus), opts.RejectStatus)
				return
			}

			if dec.Wait > 0 {
				if opts.AddRateLimitHeaders {
					w.Header().Set("X-RateLimit-Wait", formatFloat(dec.Wait.Seconds()))
				}
				if !hold(r, dec.Wait) {
					// cliente desistiu; a reserva continua consumida
					log.Debug("client gone while paced", zap.String("key", key), zap.Duration("wait", dec.Wait))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// hold segura a requisição por d; false se o contexto acabar antes.
func hold(r *http.Request, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-r.Context().Done():
		return false
	case <-t.C:
		return true
	}
}
