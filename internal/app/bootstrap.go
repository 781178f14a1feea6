package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Campus/internal/domain"
	"github.com/rs/zerolog/log"
)

// DefaultCommunities are created on first start.
var DefaultCommunities = []domain.Community{
	{Name: "AI & Machine Learning", Description: "Artificial Intelligence enthusiasts"},
	{Name: "Web Development", Description: "Frontend and backend developers"},
	{Name: "Cybersecurity", Description: "Security experts community"},
	{Name: "Data Science", Description: "Data analysis and visualization"},
	{Name: "Mobile Development", Description: "iOS and Android developers"},
	{Name: "Cloud Computing", Description: "AWS, Azure, GCP experts"},
	{Name: "Game Development", Description: "Game designers and developers"},
	{Name: "Open Source", Description: "Open source contributors"},
}

type SeedConfig struct {
	AdminName     string
	AdminEmail    string
	AdminPassword string
}

// Seed creates the default communities and the admin account. Rows that
// already exist are left untouched, so Seed is safe on every start.
func Seed(ctx context.Context, gw Gateway, accounts *Accounts, cfg SeedConfig) error {
	created := 0
	for _, c := range DefaultCommunities {
		err := gw.CreateCommunity(ctx, &c)
		switch {
		case err == nil:
			created++
		case errors.Is(err, domain.ErrConflict):
		default:
			return fmt.Errorf("seed community %q: %w", c.Name, err)
		}
	}

	if cfg.AdminEmail != "" {
		name := cfg.AdminName
		if name == "" {
			name = "Admin User"
		}
		_, err := accounts.createUser(ctx, name, domain.NormalizeEmail(cfg.AdminEmail), cfg.AdminPassword, domain.RoleAdmin)
		switch {
		case err == nil:
			log.Info().Str("module", "app.seed").Str("email", cfg.AdminEmail).Msg("admin account created")
		case errors.Is(err, domain.ErrConflict):
		default:
			return fmt.Errorf("seed admin: %w", err)
		}
	}
	log.Info().Str("module", "app.seed").Int("communities_created", created).Msg("seed complete")
	return nil
}
