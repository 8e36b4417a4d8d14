package carrier

import (
	"context"
	"net/http"
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
)

// Provider: один бэкенд трекинга (API агрегатора, парсер сайта и т.д.).
type Provider interface {
	Name() string
	SupportedCarriers() []models.Carrier
	Track(ctx context.Context, number string, c models.Carrier) (models.TrackingResult, error)
}

// RelationSeeder: провайдеры с relation handle принимают уже известный handle,
// чтобы не импортировать номер повторно.
type RelationSeeder interface {
	SetRelation(ctx context.Context, number, relationID string) error
}

func Supports(p Provider, c models.Carrier) bool {
	for _, sc := range p.SupportedCarriers() {
		if sc == c {
			return true
		}
	}
	return false
}

// CheckSupported returns unsupportedCarrier when p does not claim c.
func CheckSupported(p Provider, c models.Carrier) error {
	if !Supports(p, c) {
		return NewError(KindUnsupportedCarrier, string(c), nil)
	}
	return nil
}

// DefaultHTTPClient: общий таймаут для всех адаптеров.
func DefaultHTTPClient() *http.Client {
	return &http.Client{Timeout: 10 * time.Second}
}

// UserAgent для скрейпинговых адаптеров.
const UserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1"
