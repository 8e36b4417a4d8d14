package tracktw

import (
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/BearBump/ParcelSync/internal/normalizer"
)

type Carrier struct {
	ID   string  `json:"id"`
	Name string  `json:"name"`
	Logo *string `json:"logo,omitempty"`
}

type HistoryEntry struct {
	PackageID        string `json:"package_id"`
	Time             int64  `json:"time"`
	Status           string `json:"status"`
	CheckpointStatus string `json:"checkpoint_status"`
	CreatedAt        string `json:"created_at"`
}

func (h HistoryEntry) Timestamp() time.Time {
	return time.Unix(h.Time, 0).UTC()
}

func (h HistoryEntry) Canonical() models.Status {
	return normalizer.FromCheckpoint(h.CheckpointStatus, h.Status)
}

type TrackingResponse struct {
	ID             string         `json:"id"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
	CarrierID      string         `json:"carrier_id"`
	TrackingNumber string         `json:"tracking_number"`
	PackageHistory []HistoryEntry `json:"package_history"`
	Carrier        Carrier        `json:"carrier"`
}

// Latest: агрегатор отдаёт историю от новых к старым, первая запись актуальна.
func (r *TrackingResponse) Latest() (HistoryEntry, bool) {
	if len(r.PackageHistory) == 0 {
		return HistoryEntry{}, false
	}
	return r.PackageHistory[0], true
}

// ToResult keeps the provider's order and derives current status from the
// first entry.
func (r *TrackingResponse) ToResult(number string, c models.Carrier, relationID string) models.TrackingResult {
	res := models.TrackingResult{
		TrackingNumber: number,
		Carrier:        c,
		CurrentStatus:  models.StatusPending,
		RelationID:     relationID,
	}
	for _, h := range r.PackageHistory {
		res.Events = append(res.Events, models.NewTrackingEvent(
			number, h.Timestamp(), h.Canonical(), h.Status,
			normalizer.ExtractBracketLocation(h.Status),
		))
	}
	if latest, ok := r.Latest(); ok {
		res.CurrentStatus = latest.Canonical()
		res.StoreName = normalizer.ExtractBracketLocation(latest.Status)
	}
	return res
}

type UserProfile struct {
	Email        string `json:"email"`
	Name         string `json:"name"`
	PictureURL   string `json:"picture_url"`
	NotifyTypeID int    `json:"notify_type_id"`
	Telegram     bool   `json:"telegram"`
	Line         bool   `json:"line"`
}

type PackageDetail struct {
	ID                   string        `json:"id"`
	TrackingNumber       string        `json:"tracking_number"`
	CarrierID            string        `json:"carrier_id"`
	Carrier              Carrier       `json:"carrier"`
	LatestPackageHistory *HistoryEntry `json:"latest_package_history,omitempty"`
}

type PackageRelation struct {
	ID          string        `json:"id"`
	CreatedAt   string        `json:"created_at"`
	UpdatedAt   string        `json:"updated_at"`
	UserID      string        `json:"user_id"`
	PackageID   string        `json:"package_id"`
	Note        *string       `json:"note,omitempty"`
	NotifyState string        `json:"notify_state"`
	State       string        `json:"state"`
	Package     PackageDetail `json:"package"`
}

type PackageList struct {
	CurrentPage int               `json:"current_page"`
	Data        []PackageRelation `json:"data"`
	LastPage    int               `json:"last_page"`
	PerPage     int               `json:"per_page"`
	Total       int               `json:"total"`
}

type importRequest struct {
	CarrierID      string   `json:"carrier_id"`
	TrackingNumber []string `json:"tracking_number"`
	NotifyState    string   `json:"notify_state"`
}

type stateResponse struct {
	Success bool `json:"success"`
}
