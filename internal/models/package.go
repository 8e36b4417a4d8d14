package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// ErrPackageDeleted: облачная запись помечена удалённой, писать в неё нельзя.
var ErrPackageDeleted = errors.New("package is deleted")

type Package struct {
	ID                 uuid.UUID
	TrackingNumber     string
	Carrier            Carrier
	Status             Status
	Events             []TrackingEvent
	ExternalRelationID string
	LastUpdated        time.Time
	CreatedAt          time.Time
	IsArchived         bool

	CustomName         string
	PickupCode         string
	PickupLocation     string
	UserPickupLocation string
	StoreName          string
	LatestDescription  string
	ServiceType        string
	PickupDeadline     string
	PaymentMethod      string
	Amount             decimal.NullDecimal
	PurchasePlatform   string
	Notes              string
}

func NewPackage(trackingNumber string, c Carrier, now time.Time) *Package {
	return &Package{
		ID:             uuid.New(),
		TrackingNumber: trackingNumber,
		Carrier:        c,
		Status:         StatusPending,
		LastUpdated:    now.UTC(),
		CreatedAt:      now.UTC(),
	}
}

// IsCompleted: терминальный статус и история уже есть.
func (p *Package) IsCompleted() bool {
	return p.Status.IsTerminal() && len(p.Events) > 0
}

// DisplayName: customName или номер.
func (p *Package) DisplayName() string {
	if p.CustomName != "" {
		return p.CustomName
	}
	return p.TrackingNumber
}

// PickupPlace prefers the carrier-reported location over user input and store name.
func (p *Package) PickupPlace() string {
	switch {
	case p.PickupLocation != "":
		return p.PickupLocation
	case p.UserPickupLocation != "":
		return p.UserPickupLocation
	default:
		return p.StoreName
	}
}

// ApplyResult writes a provider result into the package. Events are merged by
// deterministic ID, so applying the same result twice is a no-op for history.
func (p *Package) ApplyResult(res TrackingResult, now time.Time) {
	p.Events = MergeEvents(p.Events, res.Events)
	p.Status = res.CurrentStatus
	if len(p.Events) > 0 && res.CurrentStatus == "" {
		p.Status = p.Events[0].Status
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	p.LastUpdated = now.UTC()

	if latest, ok := res.Latest(); ok {
		p.LatestDescription = latest.Description
		if latest.Location != "" {
			p.PickupLocation = latest.Location
		}
	}
	if res.StoreName != "" {
		p.StoreName = res.StoreName
	}
	if res.ServiceType != "" {
		p.ServiceType = res.ServiceType
	}
	if res.PickupDeadline != "" {
		p.PickupDeadline = res.PickupDeadline
	}
	if res.RelationID != "" {
		p.ExternalRelationID = res.RelationID
	}
}

func (p *Package) Clone() *Package {
	cp := *p
	cp.Events = append([]TrackingEvent(nil), p.Events...)
	return &cp
}

// SyncRecord: проекция Package в облачном хранилище.
type SyncRecord struct {
	Package
	UserID             string
	IsDeleted          bool
	DeletedAt          *time.Time
	LastNotifiedStatus Status
}

func (r *SyncRecord) IsActive() bool {
	return !r.IsArchived && !r.IsDeleted && !r.Status.IsTerminal() && r.ExternalRelationID != ""
}

type NotificationCategory string

const (
	NotifyArrival NotificationCategory = "arrival"
	NotifyShipped NotificationCategory = "shipped"
	NotifyAll     NotificationCategory = "all"
)

// Accepts reports whether a device with this preference wants a push for status.
func (c NotificationCategory) Accepts(s Status) bool {
	switch c {
	case NotifyArrival:
		return s == StatusArrivedAtStore
	case NotifyShipped:
		return s == StatusShipped || s == StatusInTransit
	default:
		return true
	}
}

type DeviceToken struct {
	DeviceID   string
	Token      string
	Category   NotificationCategory
	LastActive time.Time
}

type NotificationSettings struct {
	Enabled             bool
	ArrivalNotification bool
	ShippedNotification bool
	PickupReminder      bool
}

// UserProfile: документ users/{id}.
type UserProfile struct {
	ID       string
	Language string
	Settings NotificationSettings
	Devices  []DeviceToken
}
