package repository

import (
	"context"

	"storeops-hvac/internal/domain"
)

// ZonesRepository reads zone and equipment records and persists push-cycle
// read-back state.
type ZonesRepository interface {
	ListSiteIDs(ctx context.Context) ([]string, error)
	ListZonesBySite(ctx context.Context, siteID string) ([]*domain.Zone, error)
	ListZones(ctx context.Context) ([]*domain.Zone, error)
	GetZone(ctx context.Context, zoneID string) (*domain.Zone, error)
	ListEquipmentByType(ctx context.Context, equipmentType string) ([]*domain.Equipment, error)

	// UpdateReadback persists the post-push device state and directive
	// text. The stored state is the source of truth for the next cycle's
	// idempotence check.
	UpdateReadback(ctx context.Context, zoneID string, state *domain.ThermostatState, directive string) error
}
