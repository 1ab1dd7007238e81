package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gorilla/websocket"

	"github.com/sudorandom/noc-stream/internal/logging"
)

type CLI struct {
	URL      string        `help:"Websocket endpoint of a running noc-viewer." default:"ws://localhost:8080/ws" env:"NOC_WATCH_URL"`
	Timeout  time.Duration `help:"How long to run before exiting (0 for infinite)."`
	Interval time.Duration `help:"How often to redraw the report." default:"1s"`
	Pause    bool          `help:"Toggle pause on the viewer after connecting."`
}

func (c *CLI) Run() error {
	log := logging.NewFromEnv()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	log.Info(ctx, "connecting", logging.String("url", c.URL))
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.Close()
	}()

	stats := NewStats(time.Now())

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				return
			}
			stats.Record(message)
		}
	}()

	if c.Pause {
		if err := conn.WriteJSON(map[string]string{"action": "pause"}); err != nil {
			log.Warn(ctx, "pause request failed", logging.Err(err))
		}
	}

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			stats.Report(os.Stdout, time.Now())
			return nil
		case <-ticker.C:
			stats.Report(os.Stdout, time.Now())
		case <-ctx.Done():
			log.Info(context.Background(), "stopping")
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			select {
			case <-done:
			case <-time.After(time.Second):
			}
			stats.Report(os.Stdout, time.Now())
			return nil
		}
	}
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("noc-watch"),
		kong.Description("Tail a noc-viewer websocket and report simulation churn."),
	)
	ctx.FatalIfErrorf(cli.Run())
}
