package pg

import (
	"context"
	"strings"

	"github.com/georgysavva/scany/v2/sqlscan"

	"gatehouse.org/internal/auth"
)

const serviceColumns = `id::text AS id, name, created_at`

func (s *Store) ListServices(ctx context.Context) ([]auth.Service, error) {
	var services []auth.Service
	if err := sqlscan.Select(ctx, s.db, &services, `SELECT `+serviceColumns+` FROM services ORDER BY name`); err != nil {
		return nil, err
	}
	return services, nil
}

func (s *Store) GetService(ctx context.Context, id string) (auth.Service, error) {
	var svc auth.Service
	err := sqlscan.Get(ctx, s.db, &svc, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
	if err != nil {
		return auth.Service{}, mapScanError(err)
	}
	return svc, nil
}

func (s *Store) ServiceByName(ctx context.Context, name string) (auth.Service, error) {
	var svc auth.Service
	err := sqlscan.Get(ctx, s.db, &svc, `SELECT `+serviceColumns+` FROM services WHERE name = $1`, strings.TrimSpace(name))
	if err != nil {
		return auth.Service{}, mapScanError(err)
	}
	return svc, nil
}

func mapScanError(err error) error {
	if sqlscan.NotFound(err) {
		return auth.ErrNotFound
	}
	return mapError(err)
}
