// Command chattail prints the live chat feed of a running chatdeck server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/you/chatdeck/internal/core"
	"github.com/you/chatdeck/internal/feedclient"
	"github.com/you/chatdeck/internal/hub"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		url     string
		emotes  bool
		noTimes bool
	)
	flag.StringVar(&url, "url", "ws://127.0.0.1:8765/ws", "chatdeck WebSocket URL")
	flag.BoolVar(&emotes, "emotes", false, "List resolved emotes after each message")
	flag.BoolVar(&noTimes, "no-times", false, "Omit timestamps")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	p := printer{out: os.Stdout, emotes: emotes, times: !noTimes}
	client := feedclient.New(feedclient.Config{
		URL: url,
		OnState: func(s feedclient.State, err error) {
			if err != nil {
				log.Printf("chattail: %s: %v", s, err)
				return
			}
			log.Printf("chattail: %s", s)
		},
	}, p.handle)

	err := client.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("chattail: %v", err)
	}
}

type printer struct {
	out    io.Writer
	emotes bool
	times  bool
}

func (p printer) handle(ev hub.Event) {
	switch ev.Type {
	case hub.EventHistory:
		fmt.Fprintf(p.out, "--- %d recent messages ---\n", len(ev.History))
		for _, msg := range ev.History {
			p.print(msg)
		}
	case hub.EventMessage:
		p.print(ev.Message)
	}
}

func (p printer) print(msg core.ChatMessage) {
	var b strings.Builder
	if p.times {
		b.WriteString(msg.Timestamp.Local().Format(time.TimeOnly))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "[%s] ", msg.Platform)
	if msg.IsAction {
		fmt.Fprintf(&b, "* %s %s", msg.User.DisplayName, msg.Message)
	} else {
		fmt.Fprintf(&b, "%s: %s", msg.User.DisplayName, msg.Message)
	}
	if p.emotes && len(msg.Emotes) > 0 {
		codes := make([]string, 0, len(msg.Emotes))
		for _, e := range msg.Emotes {
			codes = append(codes, fmt.Sprintf("%s(%s)", e.Code, e.Provider))
		}
		fmt.Fprintf(&b, "  {%s}", strings.Join(codes, " "))
	}
	fmt.Fprintln(p.out, b.String())
}
