// Command seed loads a small set of demo communities, posts and comments
// into the durable store. Useful for local development against an empty
// database; every write is keyed, so re-running it is harmless.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openagora/agora/internal/db"
	"github.com/openagora/agora/internal/models"
	"github.com/openagora/agora/pkg/config"
	"github.com/openagora/agora/pkg/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logging.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logging.GetLogger().Sync()

	logger := logging.GetLogger()
	logger.Info("Seeding demo data")

	database, err := db.New(&cfg.Database, cfg.Logging.Level)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	if err := database.Migrate(); err != nil {
		logger.Fatal("Failed to migrate database", zap.Error(err))
	}

	ctx := context.Background()
	if err := seed(ctx, database); err != nil {
		logger.Fatal("Seeding failed", zap.Error(err))
	}
	logger.Info("Seeding complete")
}

func seed(ctx context.Context, database *db.DB) error {
	repo := db.NewRepository(database.DB)
	communities := db.NewCommunityRepository(repo)
	posts := db.NewPostRepository(repo)
	comments := db.NewCommentRepository(repo)

	now := time.Now().UTC()

	demo := []models.Community{
		{
			ID:         "demo-gophers",
			Name:       "gophers",
			Visibility: models.VisibilityPublic,
			Admins:     models.IdentityList{"alice"},
			Moderators: models.IdentityList{"mod"},
			Members:    models.IdentityList{"alice", "bob", "mod"},
			CreatedAt:  now,
		},
		{
			ID:         "demo-backstage",
			Name:       "backstage",
			Visibility: models.VisibilityPrivate,
			Admins:     models.IdentityList{"alice"},
			Members:    models.IdentityList{"alice", "mod"},
			CreatedAt:  now,
		},
	}

	for i := range demo {
		existing, err := communities.GetByID(ctx, demo[i].ID)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if err := communities.Create(ctx, &demo[i]); err != nil {
			return err
		}
	}

	post := &models.Post{
		ID:          "demo-post-1",
		CommunityID: "demo-gophers",
		AuthorID:    "alice",
		Title:       "Welcome to gophers",
		Content:     "Say hello below.",
		Reactions:   models.ReactionMap{},
		CreatedAt:   now,
	}
	existing, err := posts.GetByID(ctx, post.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		if err := posts.Create(ctx, post); err != nil {
			return err
		}
		root := &models.Comment{
			ID:          uuid.NewString(),
			PostID:      post.ID,
			CommunityID: post.CommunityID,
			AuthorID:    "bob",
			Content:     "Hello!",
			Reactions:   models.ReactionMap{},
			CreatedAt:   now.Add(time.Minute),
		}
		if err := comments.Create(ctx, root); err != nil {
			return err
		}
		reply := &models.Comment{
			ID:          uuid.NewString(),
			PostID:      post.ID,
			CommunityID: post.CommunityID,
			AuthorID:    "alice",
			Content:     "Welcome aboard.",
			ParentID:    root.ID,
			Reactions:   models.ReactionMap{},
			CreatedAt:   now.Add(2 * time.Minute),
		}
		if err := comments.Create(ctx, reply); err != nil {
			return err
		}
	}

	return nil
}
