package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"classroom.app/discussion/common/logger"
	"classroom.app/discussion/common/otel"
	"classroom.app/discussion/core/config"
	"classroom.app/discussion/internal/cache"
	"classroom.app/discussion/internal/model"
	"classroom.app/discussion/internal/repository"
	"classroom.app/discussion/internal/transport"
	"classroom.app/discussion/internal/view"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: watch <discussion-id> [root-comment-id]")
		os.Exit(2)
	}
	discussionID, err := strconv.ParseInt(os.Args[1], 10, 64)
	if err != nil || discussionID <= 0 {
		fmt.Fprintf(os.Stderr, "invalid discussion id %q\n", os.Args[1])
		os.Exit(2)
	}

	cfg, err := config.Load(config.ServiceTypeWatch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize otel: %v\n", err)
		os.Exit(1)
	}
	logger.Setup(cfg)

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		slog.ErrorContext(ctx, "failed to parse redis url", "error", err)
		os.Exit(1)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	events := transport.NewClient(transport.NewRedisBroker(redisClient), transport.Config{
		MinBackoff:     cfg.Transport.MinBackoff,
		MaxBackoff:     cfg.Transport.MaxBackoff,
		ReceiveTimeout: cfg.Transport.ReceiveTimeout,
	})

	repo := repository.NewClient(repository.Config{
		BaseURL:       cfg.API.BaseURL,
		Timeout:       cfg.API.Timeout,
		RetryMax:      cfg.API.RetryMax,
		MaxTextLength: cfg.Comments.MaxLength,
	}, repository.StaticToken(cfg.API.Token))

	engine := cache.NewEngine(repo, cfg.API.PageSize)
	session := view.NewSession(engine, repo, events)
	out := &printer{out: os.Stdout, liked: session.Liked}

	engine.OnChange(func(scope cache.Scope) {
		title := fmt.Sprintf("discussion %d", scope.ID)
		if scope.Kind == cache.KindThread {
			title = fmt.Sprintf("thread %d", scope.ID)
		}
		out.snapshot(title, engine.Snapshot(scope))
	})

	if err := session.OpenDiscussion(ctx, discussionID); err != nil {
		out.message("! %v", err)
	}
	if len(os.Args) > 2 {
		if err := runCommand(ctx, session, out, "open "+os.Args[2]); err != nil {
			out.message("! %v", err)
		}
	}
	out.message("%s", usage)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case line, ok := <-lines:
			if !ok {
				break loop
			}
			err := runCommand(ctx, session, out, line)
			if errors.Is(err, errQuit) {
				break loop
			}
			if err != nil {
				out.message("! %v", err)
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	session.CloseDiscussion(shutdownCtx)
	session.Wait()

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}
}

var errQuit = errors.New("quit")

func runCommand(ctx context.Context, session *view.Session, out *printer, line string) error {
	cmd, err := parseCommand(line)
	if err != nil {
		return err
	}

	switch cmd.name {
	case "quit":
		return errQuit
	case "help":
		out.message("%s", usage)
	case "more":
		if session.State() == view.ThreadOpen {
			return session.LoadMoreReplies(ctx)
		}
		return session.LoadMoreRoots(ctx)
	case "open":
		root, ok := findRoot(session.Roots(), cmd.id)
		if !ok {
			return fmt.Errorf("comment %d is not a loaded root comment", cmd.id)
		}
		return session.SelectThread(ctx, root)
	case "close":
		return session.CloseThread()
	case "post":
		c, err := session.Submit(ctx, cmd.arg)
		if err != nil {
			return err
		}
		out.message("posted [%d]", c.ID)
	case "reply":
		c, err := session.Reply(ctx, cmd.arg)
		if err != nil {
			return err
		}
		out.message("replied [%d]", c.ID)
	case "like":
		if session.ToggleLike(cmd.id) {
			out.message("liked [%d]", cmd.id)
		} else {
			out.message("unliked [%d]", cmd.id)
		}
	case "refresh":
		return session.Refresh(ctx)
	}
	return nil
}

func findRoot(snap cache.Snapshot, id int64) (model.Comment, bool) {
	for _, c := range snap.Items {
		if c.ID == id {
			return c, true
		}
	}
	return model.Comment{}, false
}
