package httptransport

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRequestLoggerRecordsStatusAndBytes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/sync", nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "ERROR", line["level"])
	require.Equal(t, "/v1/sync", line["path"])
	require.EqualValues(t, http.StatusBadGateway, line["status"])
	require.EqualValues(t, len("upstream"), line["bytes"])
}

func TestNewServerAppliesConfig(t *testing.T) {
	cfg := DefaultServerConfig(":9999")
	server := NewServer(cfg, http.NotFoundHandler())
	require.Equal(t, ":9999", server.Addr)
	require.Equal(t, 5*time.Minute, server.WriteTimeout)
	require.Equal(t, cfg.ReadTimeout, server.ReadHeaderTimeout)
}
