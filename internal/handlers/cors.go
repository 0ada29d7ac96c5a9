package handlers

import (
	"net/http"

	"github.com/rs/cors"
)

// WithCORS は全てのオリジンからのブラウザ呼び出しを許可するミドルウェアで h を包む
// User ヘッダーを含む任意のリクエストヘッダーを許可する
func WithCORS(h http.Handler) http.Handler {
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodHead,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
		},
		AllowedHeaders: []string{"*"},
	}).Handler(h)
}
