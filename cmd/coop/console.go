package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/haasonsaas/coop/internal/router"
	"github.com/haasonsaas/coop/internal/turn"
)

// runConsole reads one line at a time from in, dispatches each as a
// terminal-channel Inbound message, and prints the turn's event stream to
// out. This is the interactive front-end stood up by "coop run" — the
// concrete channel clients (Signal, Telegram, a real TUI) are the external
// collaborators Coop's router only depends on through the Inbound/Sink
// interfaces, and are not built here.
func runConsole(ctx context.Context, r *router.Router, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "coop console — type a message and press enter (ctrl-d to exit)")
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		sink := turn.CallbackSink(func(e turn.Event) {
			printEvent(out, e)
		})

		dispatched, err := r.Dispatch(ctx, router.Inbound{
			Channel:   router.TerminalChannel,
			Sender:    "local",
			Content:   line,
			Timestamp: time.Now(),
			Kind:      router.KindText,
		}, sink)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
		if !dispatched {
			fmt.Fprintln(out, "(message not dispatchable)")
		}
	}
	return scanner.Err()
}

func printEvent(out io.Writer, e turn.Event) {
	switch e.Kind {
	case turn.EventPartial:
		fmt.Fprint(out, e.Text)
	case turn.EventToolStart:
		fmt.Fprintf(out, "\n[tool] %s(%s)\n", e.ToolName, e.ToolArgs)
	case turn.EventToolResult:
		fmt.Fprintf(out, "[result] %s\n", e.ToolOutput)
	case turn.EventDone:
		fmt.Fprintln(out)
		if e.Err != nil {
			fmt.Fprintf(out, "error: %v\n", e.Err)
		}
	}
}
