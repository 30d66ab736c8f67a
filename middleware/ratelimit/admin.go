package ratelimit

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"permit-gateway/middleware/ratelimit/domain"
	"permit-gateway/middleware/ratelimit/infra"

	"go.uber.org/zap"
)

// RateAdmin é o que o handler de admin precisa do store.
type RateAdmin interface {
	RPS() float64
	Burst() int
	SetRate(rps float64) error
}

type rateView struct {
	RPS      float64 `json:"rps"`
	Burst    int     `json:"burst"`
	Strategy string  `json:"strategy,omitempty"`
}

// AdminHandler expõe o rate atual (GET) e permite trocá-lo (PUT/POST ?rps=).
// A troca só afeta reservas futuras.
func AdminHandler(store RateAdmin, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
		case http.MethodPut, http.MethodPost:
			raw := r.URL.Query().Get("rps")
			rps, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				http.Error(w, "rps must be a number", http.StatusBadRequest)
				return
			}
			if err := store.SetRate(rps); err != nil {
				if errors.Is(err, domain.ErrInvalidArgument) {
					http.Error(w, err.Error(), http.StatusBadRequest)
					return
				}
				logger.Error("set rate failed", zap.Float64("rps", rps), zap.Error(err))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			logger.Info("rate updated via admin", zap.Float64("rps", rps), zap.String("remote", r.RemoteAddr))
		default:
			w.Header().Set("Allow", "GET, PUT, POST")
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}

		view := rateView{RPS: store.RPS(), Burst: store.Burst()}
		if s, ok := store.(interface{ Strategy() infra.Strategy }); ok {
			view.Strategy = string(s.Strategy())
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(view)
	})
}
