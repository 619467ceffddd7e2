package ai

import (
	"context"
	"net/http"

	"github.com/ovaphlow/pitchfork/service-examredi-go/pkg/utilities"
)

type validator interface{ validate() error }

type payloadKey struct{}

// withPayload decodes and validates the body as T and stores it in the
// request context, rejecting the request before anything is charged.
func withPayload[T any](next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := new(T)
		if err := utilities.DecodeJSON(w, r, req); err != nil {
			utilities.WriteError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
		if v, ok := any(req).(validator); ok {
			if err := v.validate(); err != nil {
				utilities.WriteError(w, http.StatusBadRequest, err.Error())
				return
			}
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), payloadKey{}, req)))
	})
}

func payloadFrom[T any](ctx context.Context) (*T, bool) {
	v, ok := ctx.Value(payloadKey{}).(*T)
	return v, ok
}
