// Package push defines the delivery contract shared by the notifier and the
// concrete push backends.
package push

import (
	"context"

	"github.com/pkg/errors"
)

// ErrInvalidToken: токен устройства больше не действует, его надо удалить.
var ErrInvalidToken = errors.New("invalid device token")

// Message is one notification: title, body and string data for the app.
type Message struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type Sender interface {
	Send(ctx context.Context, token string, m Message) error
}
