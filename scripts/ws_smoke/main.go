// Command ws_smoke runs an end-to-end check against a live server: two fresh
// accounts exchange a message over REST and both receive the realtime push.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/vovakirdan/trix-server/internal/client"
	"github.com/vovakirdan/trix-server/internal/proto"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ws_smoke: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	text := flag.String("text", "hello from smoke test", "message text to send")
	timeout := flag.Duration("timeout", 10*time.Second, "total timeout for the run")
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	suffix := uuid.NewString()[:8]
	sender, err := signup(ctx, *server, "smoke-a-"+suffix)
	if err != nil {
		return err
	}
	receiver, err := signup(ctx, *server, "smoke-b-"+suffix)
	if err != nil {
		return err
	}

	senderStream, err := sender.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect sender: %w", err)
	}
	defer senderStream.Close()
	receiverStream, err := receiver.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect receiver: %w", err)
	}
	defer receiverStream.Close()

	// Wait for registration so the push is not missed.
	for _, s := range []*client.Stream{senderStream, receiverStream} {
		if _, err := waitFor(ctx, s, proto.EventNamePresence); err != nil {
			return err
		}
	}

	sent, err := sender.Send(ctx, receiver.Username(), *text)
	if err != nil {
		return fmt.Errorf("send: %w", err)
	}
	fmt.Printf("sent id=%s chat=%s ts=%d\n", sent.ID, sent.Chat, sent.TS)

	for name, s := range map[string]*client.Stream{"sender": senderStream, "receiver": receiverStream} {
		ev, err := waitFor(ctx, s, proto.EventNameMessage)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if ev.Message.ID != sent.ID {
			return fmt.Errorf("%s: got message %s, want %s", name, ev.Message.ID, sent.ID)
		}
		fmt.Printf("%s received %q from %s\n", name, ev.Message.Text, ev.Message.Sender)
	}

	if err := receiverStream.Ack(ctx, sent.ID); err != nil {
		return fmt.Errorf("ack: %w", err)
	}

	history, err := receiver.Messages(ctx, sent.Chat, 0)
	if err != nil {
		return fmt.Errorf("history: %w", err)
	}
	fmt.Printf("history has %d message(s)\n", len(history))
	fmt.Println("OK")
	return nil
}

func signup(ctx context.Context, server, username string) (*client.Client, error) {
	c := client.New(server, nil)
	if err := c.Register(ctx, username, "smoke-password"); err != nil {
		return nil, fmt.Errorf("register %s: %w", username, err)
	}
	if err := c.Login(ctx, username, "smoke-password"); err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	return c, nil
}

func waitFor(ctx context.Context, s *client.Stream, name string) (client.Event, error) {
	for {
		ev, err := s.Next(ctx)
		if err != nil {
			return client.Event{}, fmt.Errorf("waiting for %s: %w", name, err)
		}
		if ev.Err != nil {
			return client.Event{}, errors.New("server error: " + ev.Err.Code)
		}
		if ev.Name == name {
			return ev, nil
		}
	}
}
