// Package trackapi exposes carrier classification and live tracking over REST.
package trackapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/ParcelSync/internal/classifier"
	"github.com/BearBump/ParcelSync/internal/integrations/carrier"
	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/services/coordinator"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Tracker: то, что нужно API от координатора.
type Tracker interface {
	CanTrack(c models.Carrier) bool
	Track(ctx context.Context, number string, c models.Carrier) (models.TrackingResult, error)
	TrackAll(ctx context.Context, pkgs []*models.Package) map[uuid.UUID]coordinator.Outcome
}

type API struct {
	tracker  Tracker
	validate *validator.Validate
	timeout  time.Duration
	now      func() time.Time
}

func New(tracker Tracker) *API {
	return &API{
		tracker:  tracker,
		validate: validator.New(),
		timeout:  10 * time.Second,
		now:      time.Now,
	}
}

// WithTimeout ограничивает время на один запрос к провайдерам.
func (a *API) WithTimeout(d time.Duration) *API {
	if d > 0 {
		a.timeout = d
	}
	return a
}

// Routes монтируется под /api/v1.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/carriers", a.listCarriers)
	r.Post("/classify", a.classify)
	r.Post("/track", a.track)
	r.Post("/refresh", a.refresh)
	return r
}

type ClassifyRequest struct {
	TrackingNumber string `json:"tracking_number" validate:"required,max=64"`
}

type ClassifyResponse struct {
	TrackingNumber string             `json:"tracking_number"`
	Plausible      bool               `json:"plausible"`
	Candidates     []classifier.Match `json:"candidates"`
}

type TrackRequest struct {
	TrackingNumber string `json:"tracking_number" validate:"required,max=64"`
	Carrier        string `json:"carrier,omitempty"`
}

type RefreshRequest struct {
	Items []TrackRequest `json:"items" validate:"required,min=1,max=50,dive"`
}

type EventDTO struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Status      string    `json:"status"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
}

type TrackResponse struct {
	TrackingNumber string     `json:"tracking_number"`
	Carrier        string     `json:"carrier"`
	Status         string     `json:"status"`
	StoreName      string     `json:"store_name,omitempty"`
	ServiceType    string     `json:"service_type,omitempty"`
	PickupDeadline string     `json:"pickup_deadline,omitempty"`
	Events         []EventDTO `json:"events"`
	Error          *ErrorDTO  `json:"error,omitempty"`
}

type ErrorDTO struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type RefreshResponse struct {
	Results []TrackResponse `json:"results"`
}

type CarrierDTO struct {
	Carrier  string `json:"carrier"`
	Name     string `json:"name"`
	Category string `json:"category"`
	Method   string `json:"method"`
	Tracked  bool   `json:"tracked"`
}

func (a *API) listCarriers(w http.ResponseWriter, r *http.Request) {
	lang := r.URL.Query().Get("lang")
	out := make([]CarrierDTO, 0, len(models.AllCarriers()))
	for _, c := range models.AllCarriers() {
		info, _ := c.Info()
		out = append(out, CarrierDTO{
			Carrier:  string(c),
			Name:     c.DisplayName(lang),
			Category: string(info.Category),
			Method:   string(info.Method),
			Tracked:  a.tracker.CanTrack(c),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !a.decode(w, r, &req) {
		return
	}
	candidates := classifier.Classify(req.TrackingNumber)
	if candidates == nil {
		candidates = []classifier.Match{}
	}
	writeJSON(w, http.StatusOK, ClassifyResponse{
		TrackingNumber: classifier.Normalize(req.TrackingNumber),
		Plausible:      classifier.IsPlausibleFormat(req.TrackingNumber),
		Candidates:     candidates,
	})
}

func (a *API) track(w http.ResponseWriter, r *http.Request) {
	var req TrackRequest
	if !a.decode(w, r, &req) {
		return
	}
	number, c, err := resolve(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Kind, err.Message)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()

	res, trackErr := a.tracker.Track(ctx, number, c)
	if trackErr != nil {
		kind := carrier.KindOf(trackErr)
		slog.Warn("track", "tracking_number", number, "carrier", string(c), "error", trackErr.Error())
		writeError(w, statusForKind(kind), string(kind), trackErr.Error())
		return
	}
	writeJSON(w, http.StatusOK, toResponse(res))
}

// refresh опрашивает до 50 номеров параллельно; ошибка одного номера
// попадает в его элемент ответа.
func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if !a.decode(w, r, &req) {
		return
	}

	now := a.now()
	pkgs := make([]*models.Package, 0, len(req.Items))
	results := make([]TrackResponse, len(req.Items))
	index := make(map[uuid.UUID]int, len(req.Items))
	for i, item := range req.Items {
		number, c, err := resolve(item)
		if err != nil {
			results[i] = TrackResponse{TrackingNumber: item.TrackingNumber, Carrier: item.Carrier, Error: err}
			continue
		}
		p := models.NewPackage(number, c, now)
		index[p.ID] = i
		pkgs = append(pkgs, p)
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.timeout)
	defer cancel()

	for id, out := range a.tracker.TrackAll(ctx, pkgs) {
		i := index[id]
		if out.Err != nil {
			kind := carrier.KindOf(out.Err)
			if kind == "" {
				kind = carrier.KindNetwork
			}
			results[i] = TrackResponse{
				TrackingNumber: req.Items[i].TrackingNumber,
				Carrier:        req.Items[i].Carrier,
				Error:          &ErrorDTO{Kind: string(kind), Message: out.Err.Error()},
			}
			continue
		}
		results[i] = toResponse(out.Result)
	}
	writeJSON(w, http.StatusOK, RefreshResponse{Results: results})
}

// resolve нормализует номер и, если перевозчик не задан, берёт лучшего кандидата.
func resolve(req TrackRequest) (string, models.Carrier, *ErrorDTO) {
	number := classifier.Normalize(req.TrackingNumber)
	if !classifier.IsPlausibleFormat(number) {
		return "", "", &ErrorDTO{Kind: string(carrier.KindInvalidTrackingNumber), Message: "implausible tracking number"}
	}
	if req.Carrier != "" {
		c, ok := models.ParseCarrier(req.Carrier)
		if !ok {
			return "", "", &ErrorDTO{Kind: string(carrier.KindUnsupportedCarrier), Message: "unknown carrier " + req.Carrier}
		}
		return number, c, nil
	}
	best, ok := classifier.ClassifyBest(number)
	if !ok {
		return "", "", &ErrorDTO{Kind: string(carrier.KindUnsupportedCarrier), Message: "carrier could not be detected"}
	}
	return number, best.Carrier, nil
}

func toResponse(res models.TrackingResult) TrackResponse {
	out := TrackResponse{
		TrackingNumber: res.TrackingNumber,
		Carrier:        string(res.Carrier),
		Status:         string(res.CurrentStatus),
		StoreName:      res.StoreName,
		ServiceType:    res.ServiceType,
		PickupDeadline: res.PickupDeadline,
		Events:         make([]EventDTO, 0, len(res.Events)),
	}
	for _, e := range res.Events {
		out.Events = append(out.Events, EventDTO{
			ID:          e.ID.String(),
			Timestamp:   e.Timestamp,
			Status:      string(e.Status),
			Description: e.Description,
			Location:    e.Location,
		})
	}
	return out
}

func statusForKind(k carrier.Kind) int {
	switch k {
	case carrier.KindNotFound:
		return http.StatusNotFound
	case carrier.KindInvalidTrackingNumber, carrier.KindUnsupportedCarrier:
		return http.StatusBadRequest
	case carrier.KindRateLimited:
		return http.StatusTooManyRequests
	case carrier.KindUnauthorized, carrier.KindNetwork, carrier.KindServer:
		return http.StatusBadGateway
	case carrier.KindParsing, carrier.KindInvalidResponse:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", "invalid json: "+err.Error())
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalidRequest", "validation failed: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, ErrorDTO{Kind: kind, Message: msg})
}
