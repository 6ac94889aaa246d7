package tenants

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/tenantbilling-backend/internal/dbtest"
)

func TestFindByID(t *testing.T) {
	conn := dbtest.Open(t)
	tenant := dbtest.CreateTenant(t, conn, "acme")
	repo := NewRepository(conn)

	got, err := repo.FindByID(context.Background(), tenant.ID)
	require.NoError(t, err)
	require.Equal(t, "acme", got.Name)

	missing, err := repo.FindByID(context.Background(), uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)
}
