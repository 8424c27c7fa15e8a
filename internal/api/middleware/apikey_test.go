package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openinary/openinary/internal/api/handler"
)

func TestAPIKey(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name       string
		key        string
		header     string
		value      string
		wantStatus int
	}{
		{"disabled guard passes through", "", "", "", http.StatusOK},
		{"valid X-API-Key", "secret", "X-API-Key", "secret", http.StatusOK},
		{"valid bearer token", "secret", "Authorization", "Bearer secret", http.StatusOK},
		{"wrong key", "secret", "X-API-Key", "nope", http.StatusUnauthorized},
		{"missing key", "secret", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/queue/stats", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			rec := httptest.NewRecorder()
			APIKey(tt.key)(next).ServeHTTP(rec, req)
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if tt.wantStatus == http.StatusUnauthorized {
				var resp handler.ErrorResponse
				if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode: %v", err)
				}
				if resp.Error != "unauthorized" {
					t.Errorf("error = %q, want unauthorized", resp.Error)
				}
			}
		})
	}
}
