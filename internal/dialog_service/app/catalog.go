package app

import (
	"context"

	"github.com/google/uuid"
)

// Catalog lists the bookable services offered to a tenant's customers. The
// inventory subsystem owns the real catalog; the dialog engine only needs
// names to render the menu and match selections against.
type Catalog interface {
	ListServices(ctx context.Context, tenantID uuid.UUID) ([]string, error)
}

// StaticCatalog serves a fixed service list, used as the default and in tests.
type StaticCatalog struct {
	services []string
}

// NewStaticCatalog creates a StaticCatalog. An empty list falls back to a
// sensible salon default.
func NewStaticCatalog(services []string) *StaticCatalog {
	if len(services) == 0 {
		services = []string{"Haircut", "Manicure", "Massage", "Consultation"}
	}
	return &StaticCatalog{services: services}
}

func (c *StaticCatalog) ListServices(ctx context.Context, tenantID uuid.UUID) ([]string, error) {
	return c.services, nil
}
