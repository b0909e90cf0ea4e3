package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/unical-ir/ir-gateway/internal/app"
	"github.com/unical-ir/ir-gateway/internal/rbac"
	"github.com/unical-ir/ir-gateway/internal/shared"
	"github.com/unical-ir/ir-gateway/internal/users"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	deps, err := app.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open dependencies: %v", err)
	}
	defer deps.Close()

	fmt.Println("→ Seeding permission catalog...")
	added, err := deps.RBAC.EnsureCatalog(ctx)
	if err != nil {
		log.Fatalf("seed catalog: %v", err)
	}
	fmt.Printf("  %d permissions added\n", added)

	fmt.Println("→ Seeding roles and upstream groups...")
	created, err := deps.Roles.Bootstrap(ctx)
	if err != nil {
		log.Fatalf("seed roles: %v", err)
	}
	for _, role := range created {
		fmt.Printf("  %s → group %s\n", role.Name, role.UpstreamGroupID)
	}

	if email := os.Getenv("SEED_ADMIN_EMAIL"); email != "" {
		fmt.Println("→ Seeding super administrator...")
		if err := seedAdmin(ctx, deps, email, os.Getenv("SEED_ADMIN_PASSWORD")); err != nil {
			log.Fatalf("seed admin: %v", err)
		}
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedAdmin(ctx context.Context, deps *app.Dependencies, email, password string) error {
	user, err := deps.Users.Register(ctx, users.Registration{Email: email, Password: password, FirstName: "Super", LastName: "Admin"})
	switch {
	case errors.Is(err, shared.ErrAlreadyExists):
		creds, findErr := deps.UserRepo.FindByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
		if findErr != nil {
			return findErr
		}
		user.ID = creds.ID
	case err != nil:
		return err
	}
	return deps.Roles.Assign(ctx, user.ID, string(rbac.RoleSuperAdmin))
}
