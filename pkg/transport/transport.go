package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"strings"
)

const (
	HeaderCode          = "X-WX-Code"
	HeaderEncryptedData = "X-WX-Encrypted-Data"
	HeaderIV            = "X-WX-IV"
	HeaderSkey          = "X-WX-Skey"
)

const (
	CodeSuccess        = 0
	CodeSessionInvalid = -1
)

type Request struct {
	URL    string
	Method string
	Header map[string]string
	Data   any
}

type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Sender performs one outbound call. A non-nil error means no response was
// received; any HTTP status that produced a response is a success here.
type Sender interface {
	Send(ctx context.Context, request Request) (*Response, error)
}

type SenderFunc func(ctx context.Context, request Request) (*Response, error)

func (f SenderFunc) Send(ctx context.Context, request Request) (*Response, error) {
	return f(ctx, request)
}

var methods = map[string]struct{}{
	http.MethodOptions: {},
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodTrace:   {},
	http.MethodConnect: {},
}

func NormalizeMethod(method string, fallback string) (string, bool) {
	normalized := strings.ToUpper(strings.TrimSpace(method))
	if normalized == "" {
		normalized = strings.ToUpper(strings.TrimSpace(fallback))
	}
	if normalized == "" {
		normalized = http.MethodGet
	}
	_, ok := methods[normalized]
	return normalized, ok
}

type Envelope struct {
	HasCode bool
	Code    int
	Error   string
	Message string
	Data    json.RawMessage
}

func DecodeEnvelope(body []byte) (Envelope, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return Envelope{}, false
	}

	envelope := Envelope{Data: fields["data"]}

	if raw, ok := fields["code"]; ok {
		var number float64
		if err := json.Unmarshal(raw, &number); err == nil && number == math.Trunc(number) {
			envelope.HasCode = true
			envelope.Code = int(number)
		}
	}
	envelope.Error = scalarText(fields["error"])
	envelope.Message = scalarText(fields["message"])

	return envelope, true
}

func (r *Response) Envelope() (Envelope, bool) {
	if r == nil {
		return Envelope{}, false
	}
	return DecodeEnvelope(r.Body)
}

// Truthy mirrors the loose truthiness servers rely on for flags such as
// `userinfo`: absent, null, false, 0 and "" are false.
func Truthy(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return false
	}

	switch string(trimmed) {
	case "null", "false", `""`:
		return false
	}

	if number, err := strconv.ParseFloat(string(trimmed), 64); err == nil {
		return number != 0
	}
	return true
}

func scalarText(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return ""
	}

	var text string
	if err := json.Unmarshal(trimmed, &text); err == nil {
		return text
	}
	return string(trimmed)
}
