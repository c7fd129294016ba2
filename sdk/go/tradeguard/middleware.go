package tradeguard

import (
	"context"
	"errors"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// TradeExtractor reads the trade an HTTP request is about to place.
type TradeExtractor func(r *http.Request) (Trade, error)

// Middleware guards an HTTP endpoint that places trades. The trade is
// reserved before next runs, committed when next answers with a 2xx status
// and rolled back otherwise. Denied trades receive a 403 with a JSON body;
// requests the extractor rejects receive a 400.
func (c *Client) Middleware(extract TradeExtractor, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		trade, err := extract(r)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}

		_, err = c.Wrap(func(ctx context.Context, _ Trade) (any, error) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))
			if rec.status < 200 || rec.status >= 300 {
				return nil, errTradeNotPlaced
			}
			return nil, nil
		})(r.Context(), trade)

		var be *BlockedError
		switch {
		case err == nil, errors.Is(err, errTradeNotPlaced):
		case errors.As(err, &be):
			writeJSON(w, http.StatusForbidden, map[string]any{
				"blocked": true,
				"reason":  string(be.Reason),
				"check":   be.Check,
				"message": be.Message,
			})
		case errors.Is(err, ErrCommitFailed):
			// the response has been written already
			c.log.Error("trade placed but not recorded", zap.Error(err))
		default:
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
		}
	})
}

var errTradeNotPlaced = errors.New("handler did not place the trade")

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
