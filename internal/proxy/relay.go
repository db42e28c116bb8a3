package proxy

import (
	"context"
	"io"
	"net/http"

	"github.com/vyrodovalexey/authgw/internal/observability"
)

// Relay writes a backend response to the caller: the status code, the
// Content-Type when present, and the body byte for byte. No other backend
// header is copied. The caller closes resp.Body.
func Relay(ctx context.Context, w http.ResponseWriter, resp *http.Response, logger observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.WriteHeader(resp.StatusCode)

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		// Headers are already sent; the caller sees a truncated body.
		logger.WithContext(ctx).Warn("response relay interrupted",
			observability.String("status", resp.Status),
			observability.Int("bytes", int(n)),
			observability.Error(err),
		)
		return err
	}

	logger.WithContext(ctx).Debug("response relayed",
		observability.String("status", resp.Status),
		observability.Int("bytes", int(n)),
	)
	return nil
}
