package httppush

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eclipse-ditto/ditto-sub022/client"
	"github.com/eclipse-ditto/ditto-sub022/connection"
	"github.com/eclipse-ditto/ditto-sub022/external"
)

func httpConnection(uri string, validateCerts bool) connection.Connection {
	return connection.Connection{
		ID:                   "http-1",
		Type:                 connection.TypeHTTPPush,
		Status:               connection.StatusOpen,
		URI:                  uri,
		ValidateCertificates: validateCerts,
	}
}

func TestSession_PublishPost(t *testing.T) {
	var gotPath, gotBody, gotContentType string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			return
		}
		gotPath = r.URL.Path
		gotContentType = r.Header.Get("Content-Type")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	s := New(httpConnection(server.URL, true), slog.Default())
	require.NoError(t, s.Connect(context.Background()))
	defer s.Disconnect(context.Background())

	target := connection.Target{Address: "POST:/telemetry", IssuedAckLabel: "http-ack"}
	msg := external.NewMessage(map[string]string{"content-type": "application/json"}).
		WithTextPayload(`{"on":true}`)

	ack, err := s.Publish(context.Background(), target, msg)
	require.NoError(t, err)
	require.NotNil(t, ack)
	assert.Equal(t, http.StatusCreated, ack.Status)
	assert.Equal(t, "/telemetry", gotPath)
	assert.Equal(t, `{"on":true}`, gotBody)
	assert.Equal(t, "application/json", gotContentType)
}

func TestSession_ErrorStatusWithoutAckLabel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	s := New(httpConnection(server.URL, true), slog.Default())
	require.NoError(t, s.Connect(context.Background()))

	_, err := s.Publish(context.Background(), connection.Target{Address: "events"}, external.NewMessage(nil))
	require.Error(t, err)
}

func TestSession_ErrorStatusBecomesFailedAck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodHead {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer server.Close()

	s := New(httpConnection(server.URL, true), slog.Default())
	require.NoError(t, s.Connect(context.Background()))

	ack, err := s.Publish(context.Background(),
		connection.Target{Address: "events", IssuedAckLabel: "http-ack"}, external.NewMessage(nil))
	require.NoError(t, err)
	require.NotNil(t, ack)
	assert.False(t, ack.IsSuccess())
}

func TestSession_SelfSignedCertificateSkipped(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	// With certificate validation disabled the self-signed endpoint is
	// reachable.
	relaxed := New(httpConnection(server.URL, false), slog.Default())
	require.NoError(t, client.Test(context.Background(), relaxed, time.Second))

	// With validation enabled the probe fails on the untrusted chain.
	strict := New(httpConnection(server.URL, true), slog.Default())
	err := strict.Connect(context.Background())
	require.Error(t, err)
}

func TestSplitAddress(t *testing.T) {
	tests := []struct {
		address string
		method  string
		path    string
	}{
		{"POST:/telemetry", http.MethodPost, "/telemetry"},
		{"put:/twin/state", http.MethodPut, "/twin/state"},
		{"events", http.MethodPost, "events"},
		{"weird:address", http.MethodPost, "weird:address"},
	}
	for _, tt := range tests {
		method, path := splitAddress(tt.address)
		assert.Equal(t, tt.method, method, tt.address)
		assert.Equal(t, tt.path, path, tt.address)
	}
}
