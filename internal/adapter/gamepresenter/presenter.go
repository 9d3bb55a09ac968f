package gamepresenter

import (
	"context"
	"encoding/base64"
	"strings"

	"github.com/maxxNcode/MP-2048/internal/gamedto"
	"github.com/maxxNcode/MP-2048/internal/render"
)

// Presenter delivers formatted views and board images without coupling to the input loop.
type Presenter struct {
	formatter   *Formatter
	renderer    render.BoardRenderer
	sendMessage func(message string) error
	sendImage   func(imageBase64 string) error
}

func NewPresenter(formatter *Formatter, renderer render.BoardRenderer, sendMessage func(message string) error, sendImage func(imageBase64 string) error) *Presenter {
	if formatter == nil {
		formatter = NewFormatter(nil)
	}
	return &Presenter{
		formatter:   formatter,
		renderer:    renderer,
		sendMessage: sendMessage,
		sendImage:   sendImage,
	}
}

func (p *Presenter) Present(ctx context.Context, v gamedto.View) error {
	if p == nil {
		return nil
	}
	if p.sendMessage != nil {
		if err := p.sendMessage(p.formatter.View(v)); err != nil {
			return err
		}
	}
	if p.renderer == nil || p.sendImage == nil {
		return nil
	}
	title := "2048"
	if v.Code != "" {
		title = "2048 " + v.Code
	}
	turn := ""
	if v.Mode == gamedto.ModeShared && v.Phase != gamedto.PhaseFinished {
		turn = p.formatter.Turn(v)
	} else if v.Phase == gamedto.PhaseFinished {
		turn = strings.SplitN(p.formatter.Outcome(v), "\n", 2)[0]
	}
	png, err := p.renderer.RenderPNG(ctx, v.Board, render.Options{Title: title, Turn: turn, Score: v.Score, Spawn: v.Spawn})
	if err != nil {
		return err
	}
	return p.sendImage(base64.StdEncoding.EncodeToString(png))
}

// Notify sends a one-line notice; blank text is ignored.
func (p *Presenter) Notify(text string) error {
	if p == nil || p.sendMessage == nil {
		return nil
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return p.sendMessage(text)
}

func (p *Presenter) Failure(key string, err error) error {
	return p.Notify(p.formatter.Failure(key, err))
}

func (p *Presenter) Leaderboard(lb *gamedto.Leaderboard) error {
	return p.Notify(p.formatter.Leaderboard(lb))
}
