// Seeding tool for local environments: creates a small referral network,
// places it in the binary tree and prints an operator token for the API.
// Usage (env overrides):
//
//	SEED_MEMBERS=15 SEED_OPERATOR_TTL=24h
//
// Reads DB_DRIVER, DATABASE_URL and JWT_SECRET via mlm/pkg/config. Reruns
// are safe: member IDs are derived from their index.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"mlm/internal/domain"
	"mlm/internal/middleware"
	"mlm/internal/network"
	"mlm/internal/repository/sqlstore"
	"mlm/internal/storage"
	"mlm/pkg/config"
	"mlm/pkg/errors"
	"mlm/pkg/logger"
)

func main() {
	log := logger.New("seed-network")

	cfg := config.Load()
	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}
	if cfg.Database.Driver == "memory" {
		log.Fatal("Seeding the in-memory store has no effect; set DB_DRIVER", nil)
	}

	members, err := strconv.Atoi(getenv("SEED_MEMBERS", "7"))
	if err != nil || members < 1 {
		log.Fatal("SEED_MEMBERS must be a positive integer", nil)
	}
	tokenTTL, err := time.ParseDuration(getenv("SEED_OPERATOR_TTL", "24h"))
	if err != nil {
		log.Fatal("SEED_OPERATOR_TTL must be a duration", nil)
	}

	ctx := context.Background()
	dialect := sqlstore.Dialect(cfg.Database.Driver)
	if err := sqlstore.MigrateUp(dialect, cfg.Database.URL); err != nil {
		log.Fatal("Failed to run migrations", map[string]interface{}{"error": err.Error()})
	}
	store, err := sqlstore.Open(ctx, sqlstore.Options{Dialect: dialect, URL: cfg.Database.URL})
	if err != nil {
		log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer store.Close()

	networkService := network.NewService(store, network.Config{MaxPlacementAttempts: cfg.Placement.MaxAttempts}, nil, nil, log)

	var sponsor *uuid.UUID
	for i := 0; i < members; i++ {
		id := memberID(i)
		ensureParticipant(ctx, store, log, id, fmt.Sprintf("Member %d", i+1), sponsor)
		placeParticipant(ctx, networkService, log, id)
		if sponsor == nil {
			sponsor = &id
		}
	}

	operatorID := uuid.NewSHA1(uuid.NameSpaceOID, []byte("mlm-seed-operator"))
	token, err := middleware.NewAuthMiddleware(cfg.JWT.Secret).IssueToken(operatorID, middleware.RoleOperator, jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(tokenTTL)),
	})
	if err != nil {
		log.Fatal("Failed to issue operator token", map[string]interface{}{"error": err.Error()})
	}

	fmt.Printf("OK: %d members seeded, root %s\n", members, memberID(0))
	fmt.Printf("Operator token: %s\n", token)
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func memberID(i int) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("mlm-seed-member-%d", i)))
}

func ensureParticipant(ctx context.Context, store storage.Store, log logger.Logger, id uuid.UUID, name string, referrer *uuid.UUID) {
	err := store.WithTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.CreateParticipant(ctx, &domain.Participant{
			ID:          id,
			DisplayName: name,
			ReferrerID:  referrer,
			CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
		})
	})
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		log.Fatal("CreateParticipant failed", map[string]interface{}{"participant_id": id, "error": err.Error()})
	}
}

func placeParticipant(ctx context.Context, svc *network.Service, log logger.Logger, id uuid.UUID) {
	result, err := svc.PlaceParticipant(ctx, id, nil)
	if errors.Is(err, errors.ErrAlreadyPlaced) {
		return
	}
	if err != nil {
		log.Fatal("Placement failed", map[string]interface{}{"participant_id": id, "error": err.Error()})
	}
	log.Info("Member placed", map[string]interface{}{
		"participant_id": id,
		"parent_id":      result.Node.ParentID,
		"position":       result.Node.Position,
	})
}
