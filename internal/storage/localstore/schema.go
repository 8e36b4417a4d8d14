package localstore

import (
	"time"

	"github.com/BearBump/ParcelSync/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type packageRow struct {
	ID                 string `gorm:"primaryKey;type:text"`
	TrackingNumber     string `gorm:"index;not null"`
	Carrier            string `gorm:"not null"`
	Status             string `gorm:"not null"`
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
	Amount             decimal.NullDecimal `gorm:"type:text"`
	PurchasePlatform   string
	Notes              string

	Events []eventRow `gorm:"foreignKey:PackageID;references:ID"`
}

func (packageRow) TableName() string { return "packages" }

type eventRow struct {
	PackageID   string    `gorm:"primaryKey;type:text"`
	ID          string    `gorm:"primaryKey;type:text"`
	Timestamp   time.Time `gorm:"index"`
	Status      string
	Description string
	Location    string
}

func (eventRow) TableName() string { return "package_events" }

func toRow(p *models.Package) packageRow {
	r := packageRow{
		ID:                 p.ID.String(),
		TrackingNumber:     p.TrackingNumber,
		Carrier:            string(p.Carrier),
		Status:             string(p.Status),
		ExternalRelationID: p.ExternalRelationID,
		LastUpdated:        p.LastUpdated.UTC(),
		CreatedAt:          p.CreatedAt.UTC(),
		IsArchived:         p.IsArchived,
		CustomName:         p.CustomName,
		PickupCode:         p.PickupCode,
		PickupLocation:     p.PickupLocation,
		UserPickupLocation: p.UserPickupLocation,
		StoreName:          p.StoreName,
		LatestDescription:  p.LatestDescription,
		ServiceType:        p.ServiceType,
		PickupDeadline:     p.PickupDeadline,
		PaymentMethod:      p.PaymentMethod,
		Amount:             p.Amount,
		PurchasePlatform:   p.PurchasePlatform,
		Notes:              p.Notes,
	}
	for _, e := range p.Events {
		r.Events = append(r.Events, eventRow{
			PackageID:   r.ID,
			ID:          e.ID.String(),
			Timestamp:   e.Timestamp.UTC(),
			Status:      string(e.Status),
			Description: e.Description,
			Location:    e.Location,
		})
	}
	return r
}

func fromRow(r packageRow) (*models.Package, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, err
	}
	p := &models.Package{
		ID:                 id,
		TrackingNumber:     r.TrackingNumber,
		Carrier:            models.Carrier(r.Carrier),
		Status:             models.ParseStatus(r.Status),
		ExternalRelationID: r.ExternalRelationID,
		LastUpdated:        r.LastUpdated.UTC(),
		CreatedAt:          r.CreatedAt.UTC(),
		IsArchived:         r.IsArchived,
		CustomName:         r.CustomName,
		PickupCode:         r.PickupCode,
		PickupLocation:     r.PickupLocation,
		UserPickupLocation: r.UserPickupLocation,
		StoreName:          r.StoreName,
		LatestDescription:  r.LatestDescription,
		ServiceType:        r.ServiceType,
		PickupDeadline:     r.PickupDeadline,
		PaymentMethod:      r.PaymentMethod,
		Amount:             r.Amount,
		PurchasePlatform:   r.PurchasePlatform,
		Notes:              r.Notes,
	}
	for _, e := range r.Events {
		eid, err := uuid.Parse(e.ID)
		if err != nil {
			return nil, err
		}
		p.Events = append(p.Events, models.TrackingEvent{
			ID:          eid,
			Timestamp:   e.Timestamp.UTC(),
			Status:      models.ParseStatus(e.Status),
			Description: e.Description,
			Location:    e.Location,
		})
	}
	models.SortEventsNewestFirst(p.Events)
	return p, nil
}
