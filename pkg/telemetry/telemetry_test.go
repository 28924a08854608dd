package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithoutEndpoint(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	shutdown, middleware, err := Init(context.Background(), "pxe-pilot", "", logger)
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/boot?mac=x", http.NoBody))
	assert.Equal(t, http.StatusTeapot, rr.Code)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request", entry["message"])
	assert.Equal(t, "GET", entry["method"])
	assert.Equal(t, "/boot", entry["path"])
	assert.EqualValues(t, http.StatusTeapot, entry["status"])
}

func TestMiddlewareLogsServerErrorsAtErrorLevel(t *testing.T) {
	var buf bytes.Buffer
	handler := Middleware("pxe-pilot", zerolog.New(&buf))(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nodes", http.NoBody))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "error", entry["level"])
}

func TestInitRequiresServiceName(t *testing.T) {
	_, _, err := Init(context.Background(), "", "", zerolog.Nop())
	assert.Error(t, err)
}

func TestNewTraceExporterRejectsHostlessURL(t *testing.T) {
	_, err := newTraceExporter(context.Background(), "http:///v1/traces")
	assert.Error(t, err)
}
