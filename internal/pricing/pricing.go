// Package pricing computes stay prices: nights times the nightly rate of the
// occupied spot type. It carries no state.
package pricing

import (
	"fmt"
	"math"
	"time"

	"camperpark/internal/models"
)

var nightlyRates = map[models.SpotType]float64{
	models.SpotTypeA:       10,
	models.SpotTypeB:       12,
	models.SpotTypeCB:      15,
	models.SpotTypeC:       18,
	models.SpotTypeCPlus:   36,
	models.SpotTypeSpecial: 25,
}

// NightlyRate returns the per-night rate for a spot type.
func NightlyRate(spotType models.SpotType) (float64, error) {
	rate, ok := nightlyRates[spotType]
	if !ok {
		return 0, fmt.Errorf("pricing: unknown spot type %q", spotType)
	}
	return rate, nil
}

// Nights counts billable nights between check-in and check-out: any started
// 24h period counts, minimum one night.
func Nights(checkIn, checkOut time.Time) int {
	if !checkOut.After(checkIn) {
		return 1
	}
	nights := int(math.Ceil(checkOut.Sub(checkIn).Hours() / 24))
	if nights < 1 {
		nights = 1
	}
	return nights
}

// StayPrice is nights times the spot-type rate.
func StayPrice(spotType models.SpotType, checkIn, checkOut time.Time) (float64, error) {
	rate, err := NightlyRate(spotType)
	if err != nil {
		return 0, err
	}
	return float64(Nights(checkIn, checkOut)) * rate, nil
}
