package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/blackmichael/debate-feed/internal/api"
	"github.com/blackmichael/debate-feed/internal/config"
	"github.com/blackmichael/debate-feed/internal/domain"
	"github.com/blackmichael/debate-feed/internal/feed"
	"github.com/blackmichael/debate-feed/internal/realtime"
	"github.com/gorilla/websocket"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		topicID    int64
		content    string
		userID     int64
		listTopics bool
		listUsers  bool
		newTopic   string
		describe   string
		watch      bool
	)

	flag.StringVar(&configPath, "config", "", "Path to YAML config file (or set DEBATEFEED_CONFIG)")
	flag.Int64Var(&topicID, "topic", 0, "Topic ID to post under")
	flag.StringVar(&content, "content", "", "Post body")
	flag.Int64Var(&userID, "user", 1, "Author user ID")
	flag.BoolVar(&listTopics, "topics", false, "List available topics instead of posting")
	flag.BoolVar(&listUsers, "users", false, "List participants instead of posting")
	flag.StringVar(&newTopic, "new-topic", "", "Create a topic with this name instead of posting")
	flag.StringVar(&describe, "describe", "", "Description for -new-topic")
	flag.BoolVar(&watch, "watch", false, "Stay connected and stream responses to the new post")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	client := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout())

	if listTopics {
		topics, err := client.ListTopics(ctx)
		if err != nil {
			return err
		}
		for _, t := range topics {
			fmt.Printf("%4d  %s (%d posts)\n", t.ID, t.Name, t.PostCount)
		}
		return nil
	}

	if listUsers {
		users, err := client.ListUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Printf("%4d  %s (%s)\n", u.ID, u.Name, u.Type)
		}
		return nil
	}

	if newTopic != "" {
		topic, err := client.CreateTopic(ctx, api.CreateTopicRequest{
			Name:        newTopic,
			Description: describe,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Topic created: id=%d name=%q\n", topic.ID, topic.Name)
		return nil
	}

	if topicID == 0 {
		return fmt.Errorf("--topic is required")
	}
	if content == "" {
		return fmt.Errorf("--content is required")
	}

	fmt.Printf("Creating post in topic %d...\n", topicID)
	post, err := client.CreatePost(ctx, api.CreatePostRequest{
		Content:   content,
		TopicID:   topicID,
		CreatedBy: userID,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Post created: id=%d topic=%q\n", post.ID, post.Topic.Name)

	if !watch {
		return nil
	}

	return watchPost(ctx, cfg, client, post, userID)
}

// watchPost keeps the process attached to the push channel and prints the
// discussion on the new post as automated participants respond.
func watchPost(ctx context.Context, cfg *config.Config, client *api.Client, post *domain.Post, userID int64) error {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	watchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	dialer := realtime.NewDialer(realtime.Options{
		ReconnectInterval:    cfg.Push.ReconnectInterval(),
		MaxReconnectAttempts: cfg.Push.MaxReconnectAttempts,
	}, logger)
	conn := dialer.Conn(watchCtx, cfg.Push.URL)

	engine := feed.NewEngine(client, conn, cfg.Feed, userID, logger)
	engine.Start()
	defer engine.Stop()

	engine.SetReplyHook(func(reply domain.Reply) {
		if reply.PostID != post.ID {
			return
		}
		fmt.Printf("%s: %s\n", reply.Author.Name, reply.Body)
	})

	engine.ObservePosts(watchCtx, []domain.Post{*post})
	engine.ShowDiscussion(watchCtx, post.ID)

	fmt.Println("Waiting for responses (ctrl-c to stop)...")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cancel()
	conn.Close(websocket.CloseNormalClosure, "done")
	return nil
}
