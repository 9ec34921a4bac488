package models

import (
	"time"

	"github.com/google/uuid"
)

// BoxModel is the pricing tier of a box
type BoxModel string

const (
	BoxModelClassic BoxModel = "classic"
	BoxModelPro     BoxModel = "pro"
)

// IsValid reports whether the model is one of the known tiers
func (m BoxModel) IsValid() bool {
	return m == BoxModelClassic || m == BoxModelPro
}

// BoxStatus is the operational status of a box, independent of its bookings
type BoxStatus string

const (
	BoxStatusActive   BoxStatus = "active"
	BoxStatusInactive BoxStatus = "inactive"
)

// Location is a site hosting one or more stands
type Location struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	Name              string     `json:"name" db:"name"`
	Address           *string    `json:"address,omitempty" db:"address"`
	DistributorUserID *uuid.UUID `json:"distributor_user_id,omitempty" db:"distributor_user_id"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// Stand is a physical fixture holding boxes
type Stand struct {
	ID         uuid.UUID `json:"id" db:"id"`
	LocationID uuid.UUID `json:"location_id" db:"location_id"`
	Name       string    `json:"name" db:"name"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// Box is a physical rentable unit. LocationID and DistributorUserID are joined from its stand.
type Box struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	StandID           uuid.UUID  `json:"stand_id" db:"stand_id"`
	LocationID        uuid.UUID  `json:"location_id" db:"location_id"`
	DistributorUserID *uuid.UUID `json:"-" db:"distributor_user_id"`
	Model             BoxModel   `json:"model" db:"model"`
	Status            BoxStatus  `json:"status" db:"status"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
}

// IsOffered reports whether the box can be rented at all
func (b *Box) IsOffered() bool {
	return b.Status == BoxStatusActive
}
