// chatrelay CLI - terminal client for the chat relay
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/eldtechnologies/chatrelay/clients/go/chatrelay"
)

func main() {
	url := os.Getenv("CHATRELAY_URL")
	if url == "" {
		url = "ws://localhost:3000/ws"
	}
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
	client, err := chatrelay.Dial(dialCtx, url)
	dialCancel()
	exitOnError(err)
	defer client.Close()

	go readInput(ctx, client)

	roster := make(map[string]string) // connection ID -> username

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-client.Events():
			if !ok {
				if err := client.Err(); err != nil {
					fmt.Fprintf(os.Stderr, "connection lost: %v\n", err)
					os.Exit(1)
				}
				return
			}
			printEvent(ev, roster)
		}
	}
}

func readInput(ctx context.Context, client *chatrelay.Client) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := client.Send(line); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
		}
	}
}

func printEvent(ev chatrelay.Event, roster map[string]string) {
	switch ev.Name {
	case chatrelay.EventMemberHistory:
		members, err := ev.Members()
		if err != nil {
			return
		}
		names := make([]string, 0, len(members))
		for id, m := range members {
			roster[id] = m.Username
			names = append(names, m.Username)
		}
		sort.Strings(names)
		fmt.Printf("* %d online\n", len(names))
		for _, n := range names {
			fmt.Printf("  %s\n", n)
		}

	case chatrelay.EventMessageHistory:
		msgs, err := ev.Messages()
		if err != nil {
			return
		}
		for _, m := range msgs {
			printMessage(m)
		}

	case chatrelay.EventMessages:
		if m, err := ev.Message(); err == nil {
			printMessage(m)
		}

	case chatrelay.EventMemberAdd:
		if m, err := ev.Member(); err == nil {
			roster[m.Socket] = m.Username
			fmt.Printf("* %s joined\n", m.Username)
		}

	case chatrelay.EventMemberDelete:
		if id, err := ev.ConnectionID(); err == nil {
			name, ok := roster[id]
			if !ok {
				name = id
			}
			delete(roster, id)
			fmt.Printf("* %s left\n", name)
		}
	}
}

func printMessage(m chatrelay.Message) {
	ts := time.UnixMilli(m.Date).Format("2006-01-02 15:04:05")
	fmt.Printf("[%s] %s: %s\n", ts, m.Username, m.Body)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
