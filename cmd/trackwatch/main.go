// trackwatch - prints the changeset stream of a running trackd
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-trackables/internal/httpc"
	"github.com/teslashibe/go-trackables/internal/log"
	"github.com/teslashibe/go-trackables/pkg/web"
)

func main() {
	addr := flag.String("addr", "localhost:8080", "trackd address")
	subsystem := flag.String("subsystem", "", "Only show this subsystem")
	raw := flag.Bool("raw", false, "Print events as received")
	status := flag.Bool("status", false, "Print subsystem status and exit")
	start := flag.String("start", "", "Start a subsystem before watching")
	stop := flag.String("stop", "", "Stop a subsystem and exit")
	flag.Parse()
	log.Init(os.Getenv("LOG_LEVEL"))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	api := httpc.New(*addr)
	switch {
	case *status:
		list, err := api.Subsystems(ctx)
		if err != nil {
			log.Error("status failed", "error", err)
			os.Exit(1)
		}
		for _, st := range list {
			fmt.Print(describe(st))
		}
		return
	case *stop != "":
		st, err := api.Stop(ctx, *stop)
		if err != nil {
			log.Error("stop failed", "subsystem", *stop, "error", err)
			os.Exit(1)
		}
		fmt.Print(describe(st))
		return
	case *start != "":
		if _, err := api.Start(ctx, *start); err != nil {
			log.Error("start failed", "subsystem", *start, "error", err)
			os.Exit(1)
		}
	}

	if err := watch(ctx, *addr, *subsystem, *raw); err != nil {
		log.Error("watch failed", "error", err)
		os.Exit(1)
	}
}

func watch(ctx context.Context, addr, only string, raw bool) error {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws/changes"}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u.String(), err)
	}
	defer conn.Close()
	log.Info("connected", "url", u.String())

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}

		var ev web.Event[json.RawMessage]
		if err := json.Unmarshal(data, &ev); err != nil {
			log.Warn("bad event", "error", err)
			continue
		}
		if only != "" && ev.Subsystem != only {
			continue
		}
		if raw {
			fmt.Println(string(data))
			continue
		}
		fmt.Print(summarize(ev))
	}
}

// summarize renders one line per record
func summarize(ev web.Event[json.RawMessage]) string {
	out := fmt.Sprintf("%s #%d %s  +%d ~%d -%d\n", ev.Subsystem, ev.Seq, ev.Time.Format("15:04:05.000"),
		len(ev.Added), len(ev.Updated), len(ev.Removed))
	for _, group := range []struct {
		mark string
		recs []json.RawMessage
	}{{"+", ev.Added}, {"~", ev.Updated}, {"-", ev.Removed}} {
		for _, rec := range group.recs {
			out += fmt.Sprintf("  %s %s\n", group.mark, rec)
		}
	}
	return out
}

func describe(st web.SubsystemStatus) string {
	state := "stopped"
	if st.Running {
		state = "running"
	}
	out := fmt.Sprintf("%-12s %-8s %-8s live=%d polls=%d failures=%d rejected=%d\n",
		st.ID, st.Kind, state, st.Live, st.Stats.Polls, st.Stats.Failures, st.Stats.Rejected)
	if st.Stats.LastError != "" {
		out += "  last error: " + st.Stats.LastError + "\n"
	}
	return out
}
