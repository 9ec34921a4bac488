package services

import (
	"math"
	"time"

	"github.com/stowbox/rental-backend/internal/config"
	"github.com/stowbox/rental-backend/internal/models"
	"github.com/stowbox/rental-backend/pkg/interval"
)

// Pricing computes rental prices in minor currency units
type Pricing struct {
	cfg config.PricingConfig
}

// NewPricing creates a pricing calculator from configuration
func NewPricing(cfg config.PricingConfig) *Pricing {
	return &Pricing{cfg: cfg}
}

// Currency returns the ISO currency code prices are expressed in
func (p *Pricing) Currency() string {
	return p.cfg.Currency
}

// PricePerDay returns the tier-adjusted daily rate
func (p *Pricing) PricePerDay(model models.BoxModel) int64 {
	multiplier := p.cfg.ClassicMultiplier
	if model == models.BoxModelPro {
		multiplier = p.cfg.ProMultiplier
	}
	return int64(math.Round(float64(p.cfg.BaseDailyPrice) * multiplier))
}

// Quote prices a window; partial days are charged as full days
func (p *Pricing) Quote(model models.BoxModel, window interval.Interval) (days int, perDay int64, total int64) {
	days = RentalDays(window.Duration())
	perDay = p.PricePerDay(model)
	return days, perDay, perDay * int64(days)
}

// RentalDays rounds a duration up to whole days
func RentalDays(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	days := int(d / interval.Day)
	if d%interval.Day != 0 {
		days++
	}
	return days
}
