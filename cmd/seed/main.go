// Command seed loads demo users and messages into the configured backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Sivtheng/message-maxy/internal/app/domain/message"
	"github.com/Sivtheng/message-maxy/internal/app/services/messaging"
	"github.com/Sivtheng/message-maxy/internal/backend"
	"github.com/Sivtheng/message-maxy/internal/backend/provider"
	"github.com/Sivtheng/message-maxy/internal/config"
	"github.com/Sivtheng/message-maxy/pkg/logger"
)

type seedUser struct {
	Name     string `yaml:"name"`
	Email    string `yaml:"email"`
	Password string `yaml:"password"`
}

type seedMessage struct {
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Content string `yaml:"content"`
}

type seedFile struct {
	Users    []seedUser    `yaml:"users"`
	Messages []seedMessage `yaml:"messages"`
}

func readSeed(path string) (seedFile, error) {
	var seed seedFile
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return seed, err
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return seed, fmt.Errorf("parse %s: %w", path, err)
	}
	return seed, nil
}

func main() {
	var (
		envFile  = flag.String("env", ".env", "Optional .env file with backend settings")
		seedPath = flag.String("file", "seed.yaml", "YAML file listing users and messages")
	)
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Fatalf("load env (%s): %v", *envFile, err)
	}
	seed, err := readSeed(*seedPath)
	if err != nil {
		log.Fatalf("read seed: %v", err)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	lg := logger.New(cfg.Logging)
	handle, err := provider.Open(ctx, cfg, lg.Named("backend"))
	if err != nil {
		log.Fatalf("open backend: %v", err)
	}
	defer handle.Close()

	svc := messaging.New(handle, lg.Named("seed"))
	ids := make(map[string]string, len(seed.Users))
	for _, u := range seed.Users {
		uid, err := svc.Register(ctx, u.Name, u.Email, u.Password)
		if errors.Is(err, backend.ErrEmailInUse) {
			session, signInErr := svc.SignIn(ctx, u.Email, u.Password)
			if signInErr != nil {
				log.Fatalf("existing user %s: %v", u.Email, signInErr)
			}
			uid, err = session.Identity.UID, nil
		}
		if err != nil {
			log.Fatalf("register %s: %v", u.Email, err)
		}
		ids[u.Email] = uid
	}

	for i, m := range seed.Messages {
		from, to := ids[m.From], ids[m.To]
		if from == "" || to == "" {
			log.Fatalf("message %d: unknown sender or receiver %q -> %q", i, m.From, m.To)
		}
		if _, err := svc.AddMessage(ctx, message.Draft{SenderID: from, ReceiverID: to, Content: m.Content}); err != nil {
			log.Fatalf("message %d: %v", i, err)
		}
	}

	fmt.Printf("Seeded %d users and %d messages into the %s backend\n", len(ids), len(seed.Messages), cfg.Backend.Provider)
}
