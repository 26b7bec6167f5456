package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/config"
	"github.com/MrJamesThe3rd/immotrack/internal/http/auth"
)

func main() {
	_ = godotenv.Load()

	id := flag.String("id", "", "actor id (random when empty)")
	role := flag.String("role", string(actor.RoleAgency), "actor role")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	actorID := uuid.New()
	if *id != "" {
		if actorID, err = uuid.Parse(*id); err != nil {
			slog.Error("invalid actor id", "id", *id, "error", err)
			os.Exit(1)
		}
	}

	token, err := auth.New(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL).Issue(actor.Actor{ID: actorID, Role: actor.Role(*role)})
	if err != nil {
		slog.Error("failed to issue token", "error", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
