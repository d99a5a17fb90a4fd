package httptransport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/porthorian/weappauth/pkg/transport"
)

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

var ErrResponseTooLarge = errors.New("http transport: response body exceeds limit")

type Config struct {
	Timeout         time.Duration
	UserAgent       string
	RequestIDHeader string
	MaxBodyBytes    int64
	Client          *http.Client
}

func DefaultConfig() Config {
	return Config{
		Timeout:         30 * time.Second,
		UserAgent:       "weappauth",
		RequestIDHeader: "X-Request-Id",
		MaxBodyBytes:    10 << 20,
	}
}

type Transport struct {
	client *http.Client
	config Config
}

var _ transport.Sender = (*Transport)(nil)

func New(config Config) *Transport {
	defaults := DefaultConfig()

	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if config.RequestIDHeader == "" {
		config.RequestIDHeader = defaults.RequestIDHeader
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = defaults.MaxBodyBytes
	}

	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	return &Transport{
		client: client,
		config: config,
	}
}

func (t *Transport) Send(ctx context.Context, request transport.Request) (*transport.Response, error) {
	method, ok := transport.NormalizeMethod(request.Method, http.MethodGet)
	if !ok {
		return nil, fmt.Errorf("http transport: unsupported method %q", request.Method)
	}

	header := http.Header{}
	for name, value := range request.Header {
		header.Set(name, value)
	}
	if header.Get("User-Agent") == "" {
		header.Set("User-Agent", t.config.UserAgent)
	}
	if header.Get(t.config.RequestIDHeader) == "" {
		header.Set(t.config.RequestIDHeader, uuid.NewString())
	}

	target, body, err := encodeData(method, request.URL, header, request.Data)
	if err != nil {
		return nil, err
	}

	httpRequest, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("http transport: build request: %w", err)
	}
	httpRequest.Header = header

	httpResponse, err := t.client.Do(httpRequest)
	if err != nil {
		return nil, fmt.Errorf("http transport: %s %s: %w", method, request.URL, err)
	}
	defer httpResponse.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResponse.Body, t.config.MaxBodyBytes+1))
	if err != nil {
		return nil, fmt.Errorf("http transport: read response: %w", err)
	}
	if int64(len(payload)) > t.config.MaxBodyBytes {
		return nil, ErrResponseTooLarge
	}

	return &transport.Response{
		StatusCode: httpResponse.StatusCode,
		Header:     httpResponse.Header,
		Body:       payload,
	}, nil
}

func encodeData(method string, target string, header http.Header, data any) (string, io.Reader, error) {
	if data == nil {
		return target, nil, nil
	}

	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		values, err := toValues(data)
		if err != nil {
			return "", nil, err
		}
		return appendQuery(target, values)
	}

	switch typed := data.(type) {
	case []byte:
		return target, bytes.NewReader(typed), nil
	case string:
		return target, strings.NewReader(typed), nil
	}

	if strings.HasPrefix(header.Get("Content-Type"), contentTypeForm) {
		values, err := toValues(data)
		if err != nil {
			return "", nil, err
		}
		return target, strings.NewReader(values.Encode()), nil
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return "", nil, fmt.Errorf("http transport: encode body: %w", err)
	}
	if header.Get("Content-Type") == "" {
		header.Set("Content-Type", contentTypeJSON)
	}
	return target, bytes.NewReader(payload), nil
}

func toValues(data any) (url.Values, error) {
	switch typed := data.(type) {
	case url.Values:
		return typed, nil
	case map[string]string:
		values := url.Values{}
		for key, value := range typed {
			values.Set(key, value)
		}
		return values, nil
	case string:
		return url.ParseQuery(typed)
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("http transport: encode query: %w", err)
	}
	var fields map[string]any
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&fields); err != nil {
		return nil, fmt.Errorf("http transport: data must encode to an object: %w", err)
	}

	values := url.Values{}
	for key, value := range fields {
		switch v := value.(type) {
		case string:
			values.Set(key, v)
		case nil:
			values.Set(key, "")
		case json.Number:
			values.Set(key, v.String())
		case bool:
			values.Set(key, fmt.Sprint(v))
		default:
			encoded, err := json.Marshal(v)
			if err != nil {
				return nil, err
			}
			values.Set(key, string(encoded))
		}
	}
	return values, nil
}

func appendQuery(target string, values url.Values) (string, io.Reader, error) {
	if len(values) == 0 {
		return target, nil, nil
	}

	parsed, err := url.Parse(target)
	if err != nil {
		return "", nil, fmt.Errorf("http transport: parse url: %w", err)
	}

	query := parsed.Query()
	for key, list := range values {
		for _, value := range list {
			query.Add(key, value)
		}
	}
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil, nil
}
