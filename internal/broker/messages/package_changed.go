package messages

import (
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const TopicPackageChanged = "package.changed"

// Origin of the write, so consumers can tell their own echoes apart.
const OriginPoller = "poller"

type PackageChanged struct {
	UserID         string        `json:"user_id"`
	PackageID      uuid.UUID     `json:"package_id"`
	TrackingNumber string        `json:"tracking_number"`
	Origin         string        `json:"origin,omitempty"`
	ChangedAt      time.Time     `json:"changed_at"`
	IsDeleted      bool          `json:"is_deleted,omitempty"`
	PreviousStatus models.Status `json:"previous_status,omitempty"`
	Fields         PackageFields `json:"fields"`
}

// StatusChanged: запись действительно поменяла статус.
func (m PackageChanged) StatusChanged() bool {
	return m.Fields.Status != nil && *m.Fields.Status != m.PreviousStatus
}

// PackageFields is a partial package document. Nil means "not in the payload"
// and leaves the receiver's value untouched.
type PackageFields struct {
	Carrier            *models.Carrier  `json:"carrier,omitempty"`
	Status             *models.Status   `json:"status,omitempty"`
	ExternalRelationID *string          `json:"external_relation_id,omitempty"`
	LastUpdated        *time.Time       `json:"last_updated,omitempty"`
	CreatedAt          *time.Time       `json:"created_at,omitempty"`
	IsArchived         *bool            `json:"is_archived,omitempty"`
	CustomName         *string          `json:"custom_name,omitempty"`
	PickupCode         *string          `json:"pickup_code,omitempty"`
	PickupLocation     *string          `json:"pickup_location,omitempty"`
	UserPickupLocation *string          `json:"user_pickup_location,omitempty"`
	StoreName          *string          `json:"store_name,omitempty"`
	LatestDescription  *string          `json:"latest_description,omitempty"`
	ServiceType        *string          `json:"service_type,omitempty"`
	PickupDeadline     *string          `json:"pickup_deadline,omitempty"`
	PaymentMethod      *string          `json:"payment_method,omitempty"`
	Amount             *decimal.Decimal `json:"amount,omitempty"`
	PurchasePlatform   *string          `json:"purchase_platform,omitempty"`
	Notes              *string          `json:"notes,omitempty"`
}

// FieldsFromPackage: полный снимок пакета.
func FieldsFromPackage(p *models.Package) PackageFields {
	f := PackageFields{
		Carrier:            ptr(p.Carrier),
		Status:             ptr(p.Status),
		ExternalRelationID: ptr(p.ExternalRelationID),
		LastUpdated:        ptr(p.LastUpdated.UTC()),
		CreatedAt:          ptr(p.CreatedAt.UTC()),
		IsArchived:         ptr(p.IsArchived),
		CustomName:         ptr(p.CustomName),
		PickupCode:         ptr(p.PickupCode),
		PickupLocation:     ptr(p.PickupLocation),
		UserPickupLocation: ptr(p.UserPickupLocation),
		StoreName:          ptr(p.StoreName),
		LatestDescription:  ptr(p.LatestDescription),
		ServiceType:        ptr(p.ServiceType),
		PickupDeadline:     ptr(p.PickupDeadline),
		PaymentMethod:      ptr(p.PaymentMethod),
		PurchasePlatform:   ptr(p.PurchasePlatform),
		Notes:              ptr(p.Notes),
	}
	if p.Amount.Valid {
		f.Amount = ptr(p.Amount.Decimal)
	}
	return f
}

// ApplyTo overwrites only the fields present in f.
func (f PackageFields) ApplyTo(p *models.Package) {
	set(&p.Carrier, f.Carrier)
	set(&p.Status, f.Status)
	set(&p.ExternalRelationID, f.ExternalRelationID)
	set(&p.LastUpdated, f.LastUpdated)
	set(&p.CreatedAt, f.CreatedAt)
	set(&p.IsArchived, f.IsArchived)
	set(&p.CustomName, f.CustomName)
	set(&p.PickupCode, f.PickupCode)
	set(&p.PickupLocation, f.PickupLocation)
	set(&p.UserPickupLocation, f.UserPickupLocation)
	set(&p.StoreName, f.StoreName)
	set(&p.LatestDescription, f.LatestDescription)
	set(&p.ServiceType, f.ServiceType)
	set(&p.PickupDeadline, f.PickupDeadline)
	set(&p.PaymentMethod, f.PaymentMethod)
	set(&p.PurchasePlatform, f.PurchasePlatform)
	set(&p.Notes, f.Notes)
	if f.Amount != nil {
		p.Amount = decimal.NewNullDecimal(*f.Amount)
	}
}

func ptr[T any](v T) *T { return &v }

func set[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}
