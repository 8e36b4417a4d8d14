package carrier

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

type Kind string

const (
	KindUnsupportedCarrier    Kind = "unsupportedCarrier"
	KindNetwork               Kind = "networkError"
	KindParsing               Kind = "parsingError"
	KindNotFound              Kind = "trackingNumberNotFound"
	KindInvalidResponse       Kind = "invalidResponse"
	KindRateLimited           Kind = "rateLimited"
	KindInvalidTrackingNumber Kind = "invalidTrackingNumber"
	KindUnauthorized          Kind = "unauthorized"
	KindServer                Kind = "serverError"
)

type TrackingError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *TrackingError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TrackingError) Unwrap() error { return e.Err }

// Is позволяет писать errors.Is(err, carrier.ErrRateLimited).
func (e *TrackingError) Is(target error) bool {
	t, ok := target.(*TrackingError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

var (
	ErrUnsupportedCarrier = &TrackingError{Kind: KindUnsupportedCarrier}
	ErrNotFound           = &TrackingError{Kind: KindNotFound}
	ErrRateLimited        = &TrackingError{Kind: KindRateLimited}
	ErrUnauthorized       = &TrackingError{Kind: KindUnauthorized}
	ErrParsing            = &TrackingError{Kind: KindParsing}
	ErrNetwork            = &TrackingError{Kind: KindNetwork}
)

func NewError(kind Kind, msg string, err error) *TrackingError {
	return &TrackingError{Kind: kind, Message: msg, Err: err}
}

func NetworkError(err error) error {
	return NewError(KindNetwork, "", errors.Wrap(err, "do request"))
}

func ParsingError(err error) error {
	return NewError(KindParsing, "", err)
}

// KindOf returns "" for errors outside the taxonomy.
func KindOf(err error) Kind {
	var te *TrackingError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ""
}

func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// IsSystemic: ошибки, после которых нет смысла продолжать цикл опроса.
func IsSystemic(err error) bool {
	k := KindOf(err)
	return k == KindRateLimited || k == KindUnauthorized
}

// FromHTTPStatus maps a non-2xx response to the taxonomy. It returns nil for 2xx.
func FromHTTPStatus(code int, body []byte) error {
	switch {
	case code/100 == 2:
		return nil
	case code == http.StatusFound || code == http.StatusUnauthorized:
		return NewError(KindUnauthorized, "", nil)
	case code == http.StatusNotFound:
		return NewError(KindNotFound, "", nil)
	case code == http.StatusUnprocessableEntity:
		if msg := apiMessage(body); msg != "" {
			return NewError(KindServer, msg, nil)
		}
		return NewError(KindInvalidTrackingNumber, "", nil)
	case code == http.StatusTooManyRequests:
		return NewError(KindRateLimited, "", nil)
	default:
		if msg := apiMessage(body); msg != "" {
			return NewError(KindServer, msg, nil)
		}
		return NewError(KindServer, fmt.Sprintf("http %d", code), nil)
	}
}

func apiMessage(body []byte) string {
	var v struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &v) != nil {
		return ""
	}
	return v.Message
}
