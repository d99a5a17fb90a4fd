package tunnel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-logr/logr"
	oerrors "github.com/porthorian/weappauth/pkg/errors"
	"github.com/porthorian/weappauth/pkg/session"
	"github.com/porthorian/weappauth/pkg/transport"
)

const (
	defaultReadLimit    = 1 << 20
	defaultWriteTimeout = 5 * time.Second
)

type Config struct {
	URL          string
	RequireLogin bool
	Header       http.Header
	Subprotocols []string
	// ReadLimit caps a single inbound message. Zero means 1 MiB.
	ReadLimit    int64
	WriteTimeout time.Duration

	Login      func(ctx context.Context) error
	Store      session.Store
	Logger     logr.Logger
	HTTPClient *http.Client
}

type Message struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

type Tunnel struct {
	conn         *websocket.Conn
	logger       logr.Logger
	writeTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

func Open(ctx context.Context, config Config) (*Tunnel, error) {
	if strings.TrimSpace(config.URL) == "" {
		return nil, oerrors.New(oerrors.KindInvalidParams, "tunnel: URL is required")
	}
	if config.Store == nil {
		return nil, oerrors.New(oerrors.KindInvalidParams, "tunnel: session store is required")
	}
	if config.Login == nil && config.RequireLogin {
		return nil, oerrors.New(oerrors.KindInvalidParams, "tunnel: login is required when RequireLogin is set")
	}

	logger := config.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	requireLogin := config.RequireLogin
	retried := false
	for {
		if requireLogin {
			if err := config.Login(ctx); err != nil {
				return nil, err
			}
		}

		conn, status, err := dial(ctx, config)
		if err == nil {
			readLimit := config.ReadLimit
			if readLimit <= 0 {
				readLimit = defaultReadLimit
			}
			conn.SetReadLimit(readLimit)

			writeTimeout := config.WriteTimeout
			if writeTimeout <= 0 {
				writeTimeout = defaultWriteTimeout
			}

			logger.V(1).Info("tunnel connected", "url", config.URL)
			return &Tunnel{conn: conn, logger: logger, writeTimeout: writeTimeout}, nil
		}

		if status != http.StatusUnauthorized {
			return nil, oerrors.Wrap(oerrors.KindRequestFailed, "tunnel: handshake failed", err)
		}

		config.Store.Clear(ctx)
		if retried || config.Login == nil {
			return nil, oerrors.Wrap(oerrors.KindSessionExpired, "tunnel: session rejected by server", err)
		}
		retried = true
		requireLogin = true
		logger.V(1).Info("tunnel handshake unauthorized, logging in again", "url", config.URL)
	}
}

func dial(ctx context.Context, config Config) (*websocket.Conn, int, error) {
	header := http.Header{}
	for name, values := range config.Header {
		if strings.EqualFold(strings.TrimSpace(name), transport.HeaderSkey) {
			continue
		}
		header[name] = append([]string(nil), values...)
	}
	if current, ok := config.Store.Get(ctx); ok {
		header.Set(transport.HeaderSkey, current.Token)
	}

	conn, resp, err := websocket.Dial(ctx, config.URL, &websocket.DialOptions{
		HTTPClient:   config.HTTPClient,
		HTTPHeader:   header,
		Subprotocols: config.Subprotocols,
	})
	status := 0
	if resp != nil {
		status = resp.StatusCode
		if resp.Body != nil {
			_ = resp.Body.Close()
		}
	}
	return conn, status, err
}

func (t *Tunnel) Emit(ctx context.Context, messageType string, content any) error {
	message := Message{Type: messageType}
	if content != nil {
		raw, ok := content.(json.RawMessage)
		if !ok {
			encoded, err := json.Marshal(content)
			if err != nil {
				return fmt.Errorf("tunnel: encode %s content: %w", messageType, err)
			}
			raw = encoded
		}
		message.Content = raw
	}

	data, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("tunnel: encode %s message: %w", messageType, err)
	}

	writeCtx, cancel := context.WithTimeout(ctx, t.writeTimeout)
	defer cancel()
	return t.conn.Write(writeCtx, websocket.MessageText, data)
}

func (t *Tunnel) Receive(ctx context.Context) (Message, error) {
	mt, data, err := t.conn.Read(ctx)
	if err != nil {
		return Message{}, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return Message{}, fmt.Errorf("tunnel: unsupported message type: %v", mt)
	}

	var message Message
	if err := json.Unmarshal(data, &message); err != nil {
		return Message{}, fmt.Errorf("tunnel: decode message: %w", err)
	}
	return message, nil
}

func (t *Tunnel) Close() error {
	if t == nil || t.conn == nil {
		return nil
	}
	t.closeOnce.Do(func() {
		t.closeErr = t.conn.Close(websocket.StatusNormalClosure, "bye")
		t.logger.V(1).Info("tunnel closed")
	})
	return t.closeErr
}
