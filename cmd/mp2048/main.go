package main

import (
    "bufio"
    "context"
    "encoding/base64"
    "errors"
    "fmt"
    "io"
    "log"
    "os"
    "os/signal"
    "strings"
    "sync"
    "syscall"
    "time"

    "github.com/maxxNcode/MP-2048/internal/adapter/gamepresenter"
    "github.com/maxxNcode/MP-2048/internal/authority"
    "github.com/maxxNcode/MP-2048/internal/board"
    appcfg "github.com/maxxNcode/MP-2048/internal/config"
    "github.com/maxxNcode/MP-2048/internal/gamedto"
    "github.com/maxxNcode/MP-2048/internal/msgcat"
    "github.com/maxxNcode/MP-2048/internal/obslog"
    "github.com/maxxNcode/MP-2048/internal/remote"
    "github.com/maxxNcode/MP-2048/internal/render"
    "github.com/maxxNcode/MP-2048/internal/replica"
    "github.com/maxxNcode/MP-2048/internal/turn"
    "go.uber.org/zap"
)

const usage = "usage: mp2048 [solo | create | join <CODE>]"

func main() {
    mode, code, err := parseArgs(os.Args[1:])
    if err != nil {
        log.Fatal(usage)
    }

    cfg, err := appcfg.Load()
    if err != nil {
        log.Fatalf("config error: %v", err)
    }
    if err := cfg.ValidateClient(mode != "solo"); err != nil {
        log.Fatalf("config error: %v", err)
    }
    if err := obslog.InitFromEnv("mp2048"); err != nil {
        log.Fatalf("logger init error: %v", err)
    }
    logger := obslog.Named("client")
    defer func() { _ = obslog.L().Sync() }()

    cat, err := msgcat.New(cfg.MessagesDir)
    if err != nil {
        log.Fatalf("message catalog error: %v", err)
    }
    formatter := gamepresenter.NewFormatter(cat)

    var renderer render.BoardRenderer
    if cfg.BoardPNGPath != "" {
        renderer = render.NewPNGRenderer()
    }
    out := &console{w: os.Stdout}
    presenter := gamepresenter.NewPresenter(formatter, renderer, out.print, func(img string) error {
        return writeBoardImage(cfg.BoardPNGPath, img)
    })

    ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer stop()

    var (
        client  *remote.Client
        leaders authority.LeaderboardReader
    )
    if cfg.AuthorityURL != "" {
        client = remote.NewClient(cfg.AuthorityURL,
            remote.WithWebSocketURL(cfg.AuthorityWSURL),
            remote.WithLogger(obslog.Named("remote")),
        )
        leaders = client
    }

    ctlOpts := []turn.Option{
        turn.WithTurnTimeout(cfg.TurnTimeout),
        turn.WithLogger(obslog.Named("turn")),
    }
    if client != nil {
        ctlOpts = append(ctlOpts, turn.WithScoreRecorder(client))
    }

    var (
        ctl        *turn.Controller
        replicator *replica.Sync
    )
    switch mode {
    case "solo":
        ctl = turn.NewSolo(cfg.UserID, ctlOpts...)
        _ = presenter.Notify(cat.Text("app.solo_intro", nil))
    case "create", "join":
        roomID, err := openRoom(ctx, client, mode, code, cfg.UserID)
        if err != nil {
            key := "create_failed"
            if mode == "join" {
                key = "join_failed"
            }
            _ = presenter.Failure(key, err)
            os.Exit(1)
        }
        ctl = turn.NewShared(client, roomID, cfg.UserID, ctlOpts...)
        replicator = replica.New(client, roomID, ctl,
            replica.WithPollInterval(cfg.PollInterval),
            replica.WithLogger(obslog.Named("replica")),
        )
        ctl.SetAfterMove(replicator.AfterMove)
    }
    logger.Info("client_start",
        zap.String("mode", mode),
        zap.String("user_id", cfg.UserID),
        zap.String("username", cfg.Username),
        zap.String("room_id", ctl.RoomID()),
    )
    if cfg.Username != "" {
        _ = presenter.Notify(cat.Text("app.player", map[string]any{"Name": cfg.Username}))
    }

    announced := false
    online := false
    var mu sync.Mutex
    ctl.OnChange(func(v gamedto.View) {
        mu.Lock()
        defer mu.Unlock()
        if v.Mode == gamedto.ModeShared {
            if v.Code != "" && !announced {
                announced = true
                key := "room.joined"
                if mode == "create" {
                    key = "room.created"
                }
                _ = presenter.Notify(cat.Text(key, map[string]any{"Code": v.Code}))
                if v.Phase == gamedto.PhaseIdle {
                    _ = presenter.Notify(cat.Text("room.waiting", map[string]any{"Code": v.Code}))
                }
            }
            if v.Online != online {
                online = v.Online
                if online {
                    _ = presenter.Notify(cat.Text("notify.push_online", nil))
                } else {
                    _ = presenter.Notify(cat.Text("notify.push_offline", nil))
                }
            }
        }
        if err := presenter.Present(ctx, v); err != nil {
            logger.Warn("present_error", zap.Error(err))
        }
    })

    if replicator != nil {
        replicator.Start(ctx)
    } else {
        _ = presenter.Present(ctx, ctl.View())
    }
    go ctl.Watch(ctx, time.Second, countdown(presenter, formatter))

    lines := make(chan string)
    go readLines(os.Stdin, lines)

loop:
    for {
        select {
        case <-ctx.Done():
            break loop
        case line, ok := <-lines:
            if !ok {
                break loop
            }
            if !handleLine(ctx, ctl, leaders, presenter, cat, line) {
                break loop
            }
        }
    }

    if replicator != nil {
        replicator.Stop()
    }
    ctl.Close()
    logger.Info("client_stop")
}

func parseArgs(args []string) (mode, code string, err error) {
    if len(args) == 0 {
        return "solo", "", nil
    }
    switch strings.ToLower(args[0]) {
    case "solo", "create":
        return strings.ToLower(args[0]), "", nil
    case "join":
        if len(args) < 2 || strings.TrimSpace(args[1]) == "" {
            return "", "", errors.New("join needs a room code")
        }
        return "join", strings.TrimSpace(args[1]), nil
    }
    return "", "", fmt.Errorf("unknown mode %q", args[0])
}

func openRoom(ctx context.Context, client *remote.Client, mode, code, userID string) (string, error) {
    cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
    defer cancel()
    if mode == "create" {
        return client.CreateRoom(cctx, userID)
    }
    return client.JoinRoom(cctx, code, userID)
}

// handleLine runs one input command. It returns false when the user quits.
func handleLine(ctx context.Context, ctl *turn.Controller, leaders authority.LeaderboardReader, p *gamepresenter.Presenter, cat *msgcat.Catalog, line string) bool {
    cmd := strings.ToLower(strings.TrimSpace(line))
    switch cmd {
    case "":
        return true
    case "q", "quit", "exit":
        return false
    case "help", "?":
        _ = p.Notify(cat.Text("app.help", nil))
        return true
    case "new":
        if err := ctl.NewGame(); errors.Is(err, turn.ErrSoloOnly) {
            _ = p.Notify(cat.Text("notify.solo_only", nil))
        }
        return true
    case "resign":
        if err := ctl.Resign(ctx, false); err != nil {
            notifyControllerError(p, "resign_unconfirmed", err)
        }
        return true
    case "top", "leaderboard":
        showLeaderboard(ctx, leaders, p, cat)
        return true
    }

    dir, err := board.ParseDirection(cmd)
    if err != nil {
        _ = p.Notify(cat.Text("notify.unknown_command", map[string]any{"Input": cmd}))
        return true
    }
    if err := ctl.RequestMove(ctx, dir); err != nil {
        notifyControllerError(p, "move_failed", err)
    }
    return true
}

func showLeaderboard(ctx context.Context, leaders authority.LeaderboardReader, p *gamepresenter.Presenter, cat *msgcat.Catalog) {
    if leaders == nil {
        _ = p.Notify(cat.Text("notify.leaderboard_unavailable", nil))
        return
    }
    cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
    defer cancel()
    lb, err := leaders.Leaderboard(cctx, 10)
    if err != nil {
        _ = p.Failure("leaderboard_failed", err)
        return
    }
    _ = p.Leaderboard(lb)
}

func notifyControllerError(p *gamepresenter.Presenter, key string, err error) {
    switch {
    case errors.Is(err, turn.ErrScoreUnrecorded):
        _ = p.Failure("score_unrecorded", err)
    case errors.Is(err, turn.ErrClosed):
    default:
        _ = p.Failure(key, err)
    }
}

// countdown prints the turn line when five or fewer seconds remain on the local player's turn.
func countdown(p *gamepresenter.Presenter, f *gamepresenter.Formatter) func(gamedto.View) {
    last := int64(-1)
    return func(v gamedto.View) {
        if v.Mode != gamedto.ModeShared || v.Phase != gamedto.PhaseActive || v.TurnStatus != gamedto.TurnYours {
            last = -1
            return
        }
        secs := (v.RemainingMs + 999) / 1000
        if secs > 5 || secs == last {
            return
        }
        last = secs
        _ = p.Notify(f.Turn(v))
    }
}

func readLines(r io.Reader, out chan<- string) {
    defer close(out)
    sc := bufio.NewScanner(r)
    for sc.Scan() {
        out <- sc.Text()
    }
}

func writeBoardImage(path, encoded string) error {
    if path == "" {
        return nil
    }
    raw, err := base64.StdEncoding.DecodeString(encoded)
    if err != nil {
        return fmt.Errorf("decode board image: %w", err)
    }
    tmp := path + ".tmp"
    if err := os.WriteFile(tmp, raw, 0o644); err != nil {
        return fmt.Errorf("write board image: %w", err)
    }
    return os.Rename(tmp, path)
}

// console serialises writes from the input loop, the replica goroutines and the countdown.
type console struct {
    mu sync.Mutex
    w  io.Writer
}

func (c *console) print(message string) error {
    c.mu.Lock()
    defer c.mu.Unlock()
    _, err := fmt.Fprintln(c.w, message)
    return err
}
