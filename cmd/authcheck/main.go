package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/maxxNcode/MP-2048/internal/authority"
	"github.com/maxxNcode/MP-2048/internal/gamedto"
	"github.com/maxxNcode/MP-2048/internal/remote"
)

// authcheck probes a running authority: health, then optionally a room read
// and a short watch of its push channel.
func main() {
	baseURL := os.Getenv("AUTHORITY_URL")
	wsURL := os.Getenv("AUTHORITY_WS_URL")
	roomID := os.Getenv("ROOM_ID")

	if baseURL == "" {
		log.Fatal("AUTHORITY_URL is required")
	}

	client := remote.NewClient(baseURL,
		remote.WithWebSocketURL(wsURL),
		remote.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		log.Printf("/healthz error: %v", err)
	} else {
		log.Println("/healthz ok")
	}
	if lb, err := client.Leaderboard(ctx, 5); err != nil {
		log.Printf("/leaderboard error: %v", err)
	} else {
		log.Printf("/leaderboard ok solo=%d standings=%d", len(lb.Solo), len(lb.Standings))
	}

	if roomID == "" {
		log.Println("ROOM_ID not set; skipping room check")
		return
	}
	s, err := client.FetchSession(ctx, roomID)
	if err != nil {
		log.Printf("room read error: %v", err)
		return
	}
	log.Printf("room %s code=%s status=%s turn=%s moves=%d rev=%d", s.ID, s.Code, s.Status, s.CurrentTurnPlayerID, s.MoveCount, s.Revision)

	sub, err := client.Subscribe(context.Background(), roomID, authority.SubscribeHandler{
		OnChange: func(row *gamedto.Session) {
			fmt.Printf("push rev=%d status=%s turn=%s moves=%d\n", row.Revision, row.Status, row.CurrentTurnPlayerID, row.MoveCount)
		},
		OnState: func(online bool) {
			log.Printf("push online=%v", online)
		},
	})
	if err != nil {
		log.Printf("subscribe error: %v", err)
		return
	}
	defer func() { _ = sub.Close() }()

	// Observe for a short window
	t := time.NewTimer(10 * time.Second)
	<-t.C
}
