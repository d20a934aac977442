package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"golang.org/x/crypto/bcrypt"

	"github.com/Nijaek/analytics-dashboard/internal/models"
	"github.com/Nijaek/analytics-dashboard/pkg/auth"
)

// SeedPassword is the plaintext behind every fixture account's hash.
const SeedPassword = "correct horse battery staple"

// UserColumns returns the column names in the store's user SELECT order.
func UserColumns() []string {
	return []string{"id", "email", "hashed_password", "full_name", "is_active", "is_superuser", "created_at"}
}

// ProjectColumns returns the column names in the store's project SELECT order.
func ProjectColumns() []string {
	return []string{"id", "name", "domain", "key_hash", "key_prefix", "owner_id", "created_at", "updated_at"}
}

// UserRows builds a sqlmock result set from the given users.
func UserRows(users ...models.User) *sqlmock.Rows {
	rows := sqlmock.NewRows(UserColumns())
	for _, u := range users {
		rows.AddRow(u.ID, u.Email, u.HashedPassword, u.FullName, u.IsActive, u.IsSuperuser, u.CreatedAt)
	}
	return rows
}

// ProjectRows builds a sqlmock result set from the given projects.
func ProjectRows(projects ...models.Project) *sqlmock.Rows {
	rows := sqlmock.NewRows(ProjectColumns())
	for _, p := range projects {
		rows.AddRow(p.ID, p.Name, p.Domain, p.KeyHash, p.KeyPrefix, p.OwnerID, p.CreatedAt, p.UpdatedAt)
	}
	return rows
}

// SeedUser returns a deterministic active account. Its password is
// SeedPassword, hashed at the cheapest bcrypt cost so tests stay fast.
func SeedUser(id int64) models.User {
	return models.User{
		ID:             id,
		Email:          fmt.Sprintf("user%d@example.com", id),
		HashedPassword: seedPasswordHash(),
		FullName:       fmt.Sprintf("Test User %d", id),
		IsActive:       true,
		CreatedAt:      time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC),
	}
}

// SeedProject returns a deterministic project owned by ownerID. The
// plaintext ingest key is returned alongside so tests can present it.
func SeedProject(id, ownerID int64) (models.Project, string) {
	key := fmt.Sprintf("proj_test-key-%d", id)
	domain := fmt.Sprintf("project%d.example.com", id)
	return models.Project{
		ID:        id,
		Name:      fmt.Sprintf("Project %d", id),
		Domain:    &domain,
		KeyHash:   auth.HashProjectKey(key),
		KeyPrefix: auth.KeyDisplayPrefix(key),
		OwnerID:   ownerID,
		CreatedAt: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2026, 1, 15, 10, 0, 0, 0, time.UTC),
	}, key
}

var (
	seedHashOnce sync.Once
	seedHash     string
)

func seedPasswordHash() string {
	seedHashOnce.Do(func() {
		h, err := auth.HashPassword(SeedPassword, bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		seedHash = h
	})
	return seedHash
}
