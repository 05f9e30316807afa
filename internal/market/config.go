package market

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/assetmarket/internal/domain"
)

// Config holds the engine's business parameters.
type Config struct {
	// PlatformFeeBps is applied to listings that do not set their own fee and
	// to every offer sale.
	PlatformFeeBps int
	// DefaultRoyaltyBps is used for offer sales when neither the asset nor its
	// collection has a registered royalty.
	DefaultRoyaltyBps      int
	MaxRoyaltyBps          int
	DefaultListingDuration time.Duration
	DefaultOfferDuration   time.Duration
	Retention              int
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{
		PlatformFeeBps:         250,
		DefaultRoyaltyBps:      0,
		MaxRoyaltyBps:          1000,
		DefaultListingDuration: 168 * time.Hour,
		DefaultOfferDuration:   72 * time.Hour,
		Retention:              DefaultRetention,
	}
}

func (c Config) validate() error {
	if c.PlatformFeeBps < 0 || c.PlatformFeeBps > domain.BpsDenominator {
		return fmt.Errorf("market: platform fee %d bps out of range", c.PlatformFeeBps)
	}
	if c.MaxRoyaltyBps < 0 || c.MaxRoyaltyBps > domain.BpsDenominator {
		return fmt.Errorf("market: max royalty %d bps out of range", c.MaxRoyaltyBps)
	}
	if c.DefaultRoyaltyBps < 0 || c.DefaultRoyaltyBps > c.MaxRoyaltyBps {
		return fmt.Errorf("market: default royalty %d bps out of range", c.DefaultRoyaltyBps)
	}
	if c.PlatformFeeBps+c.MaxRoyaltyBps > domain.BpsDenominator {
		return fmt.Errorf("market: platform fee plus max royalty exceeds %d bps", domain.BpsDenominator)
	}
	if c.DefaultListingDuration <= 0 || c.DefaultOfferDuration <= 0 {
		return fmt.Errorf("market: default durations must be positive")
	}
	return nil
}
