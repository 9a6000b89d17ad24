package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blackmichael/debate-feed/internal/api"
	"github.com/blackmichael/debate-feed/internal/config"
	"github.com/blackmichael/debate-feed/internal/domain"
	"github.com/blackmichael/debate-feed/internal/feed"
	"github.com/blackmichael/debate-feed/internal/httpserver"
	"github.com/blackmichael/debate-feed/internal/realtime"
	"github.com/blackmichael/debate-feed/internal/sqlite"
	"github.com/gorilla/websocket"
)

const localUserID = 1

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		archive    bool
		sortBy     string
		topicID    int64
		search     string
	)

	flag.StringVar(&configPath, "config", "", "Path to YAML config file (or set DEBATEFEED_CONFIG)")
	flag.BoolVar(&archive, "archive", false, "Persist observed replies to the local archive")
	flag.StringVar(&sortBy, "sort", "latest", "Post sort order: latest, popular, or controversial")
	flag.Int64Var(&topicID, "topic", 0, "Only watch posts in this topic")
	flag.StringVar(&search, "search", "", "Only watch posts matching this text")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	client := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout())

	dialer := realtime.NewDialer(realtime.Options{
		ReconnectInterval:    cfg.Push.ReconnectInterval(),
		MaxReconnectAttempts: cfg.Push.MaxReconnectAttempts,
	}, logger)
	conn := dialer.Conn(ctx, cfg.Push.URL)

	engine := feed.NewEngine(client, conn, cfg.Feed, localUserID, logger)
	engine.Start()
	defer engine.Stop()

	var repo *sqlite.Repository
	if archive {
		repo, err = sqlite.NewRepository(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		defer repo.Close()
		logger.Info("archiving replies", "path", cfg.Archive.Path)

		go runArchiveCleanup(ctx, repo, cfg.Archive, logger)
	}

	engine.SetReplyHook(func(reply domain.Reply) {
		logger.Info("reply",
			"post_id", reply.PostID,
			"author", reply.Author.Name,
			"body", reply.Body,
		)
		if repo != nil {
			if err := repo.SaveReply(ctx, &reply); err != nil {
				logger.Error("failed to archive reply", "error", err)
			}
		}
	})

	if cfg.Status.Enabled {
		server := httpserver.NewServer(cfg.Status.Port, engine, logger)
		go func() {
			if err := server.Start(); err != nil && err != http.ErrServerClosed {
				logger.Error("status server exited with error", "error", err)
			}
		}()
		defer server.Shutdown(context.Background())
	}

	opts := api.ListPostsOptions{
		Sort:    domain.SortOption(sortBy),
		TopicID: topicID,
		Search:  search,
	}
	if err := refreshListing(ctx, client, engine, opts, logger); err != nil {
		return err
	}

	go watchListing(ctx, client, engine, opts, logger)

	logger.Info("watching timeline", "push_url", cfg.Push.URL)

	sig := <-sigCh
	logger.Info("received signal, shutting down", "signal", sig)
	cancel()
	conn.Close(websocket.CloseNormalClosure, "shutting down")

	return nil
}

// refreshListing fetches the post listing, hands it to the engine, and opens
// the discussion of every post currently awaiting an automated response so
// its replies surface on the fast poll cadence.
func refreshListing(ctx context.Context, client *api.Client, engine *feed.Engine, opts api.ListPostsOptions, logger *slog.Logger) error {
	posts, err := client.ListPosts(ctx, opts)
	if err != nil {
		return fmt.Errorf("list posts: %w", err)
	}

	engine.ObservePosts(ctx, posts)
	engine.MarkListingFresh()
	for _, post := range posts {
		if engine.IsThinking(post.ID) {
			engine.ShowDiscussion(ctx, post.ID)
		}
	}

	logger.Info("listing refreshed", "posts", len(posts), "thinking", len(engine.Thinking()))
	return nil
}

// watchListing refetches the listing whenever a confirmed mutation has
// invalidated it, and on a slow fallback cadence to pick up new posts.
func watchListing(ctx context.Context, client *api.Client, engine *feed.Engine, opts api.ListPostsOptions, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := refreshListing(ctx, client, engine, opts, logger); err != nil {
			logger.Error("listing refresh failed", "error", err)
		}
	}
}

// runArchiveCleanup removes archived replies past the retention policy. It
// runs immediately on start and then repeats every minute until ctx is
// cancelled.
func runArchiveCleanup(ctx context.Context, repo *sqlite.Repository, cfg config.Archive, logger *slog.Logger) {
	cleanup := func() {
		deleted, err := repo.DeleteOldReplies(ctx, cfg.MaxAge(), cfg.MaxRows)
		if err != nil {
			logger.Error("archive cleanup failed", "error", err)
		} else if deleted > 0 {
			logger.Info("archive cleanup complete", "deleted", deleted)
		}
	}

	cleanup()

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cleanup()
		}
	}
}
