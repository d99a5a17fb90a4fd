package weappauth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/porthorian/weappauth/pkg/platform"
	"github.com/porthorian/weappauth/pkg/session"
	"github.com/porthorian/weappauth/pkg/transport"
)

type scriptedReply struct {
	body string
	err  error
}

// scriptedTransport answers calls in order and remembers what it was asked.
type scriptedTransport struct {
	mu       sync.Mutex
	replies  []scriptedReply
	requests []transport.Request
	events   *[]string
}

func (s *scriptedTransport) Send(ctx context.Context, request transport.Request) (*transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, request)
	if s.events != nil {
		*s.events = append(*s.events, "send "+request.URL)
	}
	if len(s.replies) == 0 {
		return nil, errors.New("scripted transport: no reply left")
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	if reply.err != nil {
		return nil, reply.err
	}
	return &transport.Response{StatusCode: 200, Body: []byte(reply.body)}, nil
}

func (s *scriptedTransport) sent() []transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]transport.Request(nil), s.requests...)
}

func (s *scriptedTransport) sentTo(url string) int {
	count := 0
	for _, request := range s.sent() {
		if request.URL == url {
			count++
		}
	}
	return count
}

type harness struct {
	platform  *platform.Static
	transport *scriptedTransport
	store     *session.LocalStore
	auth      *Authenticator
	requester *Requester
	metrics   *countingMetrics
}

type countingMetrics struct {
	mu       sync.Mutex
	cached   int
	fresh    int
	failures []ErrorKind
	retries  int
	expired  int
}

func (m *countingMetrics) LoginSucceeded(cached bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cached {
		m.cached++
		return
	}
	m.fresh++
}

func (m *countingMetrics) LoginFailed(kind ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures = append(m.failures, kind)
}

func (m *countingMetrics) SessionRetried() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

func (m *countingMetrics) SessionExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired++
}

const testLoginURL = "https://api.example.com/auth"

func newHarness(t *testing.T, replies ...scriptedReply) *harness {
	t.Helper()

	h := &harness{
		platform: &platform.Static{
			Code:          "abc",
			EncryptedData: "enc",
			IV:            "iv",
			Info:          map[string]any{"id": 1},
		},
		transport: &scriptedTransport{replies: replies},
		store:     session.NewMemoryStore(),
		metrics:   &countingMetrics{},
	}

	auth, err := NewAuthenticator(AuthenticatorConfig{
		LoginURL:  testLoginURL,
		Platform:  h.platform,
		Transport: h.transport,
		Store:     h.store,
		Metrics:   h.metrics,
	})
	if err != nil {
		t.Fatalf("new authenticator: %v", err)
	}
	h.auth = auth

	requester, err := NewRequester(RequesterConfig{
		Auth:      auth,
		Transport: h.transport,
		Store:     h.store,
		Metrics:   h.metrics,
	})
	if err != nil {
		t.Fatalf("new requester: %v", err)
	}
	h.requester = requester

	return h
}

func okLogin(token string) scriptedReply {
	return scriptedReply{body: `{"code":0,"data":{"skey":"` + token + `","userinfo":true}}`}
}

func reply(body string) scriptedReply {
	return scriptedReply{body: body}
}

func requireKind(t *testing.T, err error, kind ErrorKind) *Error {
	t.Helper()
	var typed *Error
	if !errors.As(err, &typed) {
		t.Fatalf("expected *Error of kind %q, got %v", kind, err)
	}
	if typed.Kind != kind {
		t.Fatalf("expected kind %q, got %q (%v)", kind, typed.Kind, err)
	}
	return typed
}
