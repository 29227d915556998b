// Package httppush implements the HTTP push protocol session. Target
// addresses take the form "METHOD:/path"; a bare path is POSTed. HTTP push
// connections have no sources.
package httppush

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse-ditto/ditto-sub022/client"
	"github.com/eclipse-ditto/ditto-sub022/connection"
	gwerrors "github.com/eclipse-ditto/ditto-sub022/errors"
	"github.com/eclipse-ditto/ditto-sub022/external"
	"github.com/eclipse-ditto/ditto-sub022/pkg/tlsutil"
	"github.com/eclipse-ditto/ditto-sub022/signal"
)

// Session publishes signals as HTTP requests against the connection's base
// URI.
type Session struct {
	conn connection.Connection
	log  *slog.Logger

	mu     sync.Mutex
	base   *url.URL
	client *http.Client
	errs   chan error
}

// Factory builds httppush sessions. The inbound seam is unused; HTTP push is
// outbound only.
func Factory(conn connection.Connection, _ client.InboundFunc) (client.Session, error) {
	return New(conn, slog.Default()), nil
}

// New builds a disconnected session.
func New(conn connection.Connection, logger *slog.Logger) *Session {
	return &Session{
		conn: conn,
		log:  logger.With("connection_id", conn.ID, "protocol", "http-push"),
		errs: make(chan error, 1),
	}
}

// Errors never yields; HTTP requests carry their own failures.
func (s *Session) Errors() <-chan error { return s.errs }

// Connect builds the HTTP client and probes the endpoint with a HEAD
// request. Endpoints answering any HTTP status are considered reachable;
// only transport failures count as connect failures.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, err := url.Parse(s.conn.URI)
	if err != nil {
		return gwerrors.WrapFatal(err, "httppush", "Connect", "parse base URI")
	}

	transport := &http.Transport{
		TLSClientConfig: tlsutil.ClientConfig(s.conn.ValidateCertificates),
	}
	httpClient := &http.Client{Transport: transport, Timeout: 30 * time.Second}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, base.String(), nil)
	if err != nil {
		return gwerrors.WrapFatal(err, "httppush", "Connect", "build probe request")
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return gwerrors.WrapTransient(err, "httppush", "Connect", "probe endpoint")
	}
	drainAndClose(resp.Body)

	s.base = base
	s.client = httpClient
	return nil
}

// Disconnect drops idle connections.
func (s *Session) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		s.client.CloseIdleConnections()
		s.client = nil
		s.base = nil
	}
	return nil
}

// Publish issues one HTTP request for the message. The response status is
// reported as the issued acknowledgement's status, so a failing endpoint
// yields a failed acknowledgement rather than a session error.
func (s *Session) Publish(ctx context.Context, target connection.Target, msg external.Message) (*signal.Acknowledgement, error) {
	s.mu.Lock()
	httpClient := s.client
	base := s.base
	s.mu.Unlock()
	if httpClient == nil {
		return nil, gwerrors.ErrConnectionLost
	}

	method, path := splitAddress(target.Address)
	requestURL := base.JoinPath(path).String()
	req, err := http.NewRequestWithContext(ctx, method, requestURL, bytes.NewReader(msg.PayloadBytes()))
	if err != nil {
		return nil, gwerrors.WrapInvalid(err, "httppush", "Publish", "build request")
	}
	for k, v := range msg.Headers() {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, gwerrors.WrapTransient(err, "httppush", "Publish",
			fmt.Sprintf("%s %s", method, requestURL))
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))
	drainAndClose(resp.Body)

	if target.IssuedAckLabel == "" {
		if resp.StatusCode >= 400 {
			return nil, gwerrors.WrapTransient(gwerrors.ErrPublishFailed, "httppush", "Publish",
				fmt.Sprintf("endpoint answered %d", resp.StatusCode))
		}
		return nil, nil
	}

	payload := json.RawMessage(body)
	if !json.Valid(body) {
		payload, _ = json.Marshal(string(body))
	}
	ack := signal.Acknowledgement{
		Label:         target.IssuedAckLabel,
		Status:        resp.StatusCode,
		CorrelationID: msg.CorrelationID(),
		Payload:       payload,
	}
	return &ack, nil
}

// splitAddress parses "METHOD:/path". A missing method defaults to POST.
func splitAddress(address string) (method, path string) {
	if i := strings.Index(address, ":"); i >= 0 {
		candidate := strings.ToUpper(address[:i])
		switch candidate {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodGet, http.MethodDelete:
			return candidate, address[i+1:]
		}
	}
	return http.MethodPost, address
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
