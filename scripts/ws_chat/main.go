// Command ws_chat is an interactive terminal client.
//
//	/open <user>     switch to the conversation with user
//	/chats           list conversations with unread counters
//	/online          list online users
//	/rename <name>   change your username
//	/quit            exit
//
// Any other line is sent to the open conversation.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
	"github.com/gookit/color"
	"golang.org/x/term"

	"github.com/vovakirdan/trix-server/internal/chat"
	"github.com/vovakirdan/trix-server/internal/client"
	"github.com/vovakirdan/trix-server/internal/log"
	"github.com/vovakirdan/trix-server/internal/proto"
	"github.com/vovakirdan/trix-server/internal/syncengine"
)

// typingIdle is how long after the last keystroke "stopped typing" is sent.
const typingIdle = 900 * time.Millisecond

// stdin is shared by the password prompt and the input loop.
var stdin = bufio.NewReader(os.Stdin)

var (
	mineStyle   = color.New(color.FgLightRed, color.OpBold)
	theirsStyle = color.New(color.FgWhite)
	systemStyle = color.New(color.FgGray)
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ws_chat: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	server := flag.String("server", "http://localhost:8080", "server base URL")
	user := flag.String("user", "", "username")
	register := flag.Bool("register", false, "register the account before logging in")
	peer := flag.String("to", "", "conversation to open on start")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := log.New("warn")
	c := client.New(*server, nil)

	password, err := readPassword()
	if err != nil {
		return err
	}
	if *register {
		if err := c.Register(ctx, *user, password); err != nil {
			return fmt.Errorf("register: %w", err)
		}
	}
	if err := c.Login(ctx, *user, password); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	stream, err := c.Connect(ctx)
	if err != nil {
		return err
	}
	defer stream.Close()

	ui := &terminal{
		ctx:    ctx,
		client: c,
		stream: stream,
		engine: syncengine.New(c, c.Username(), syncengine.Options{}),
	}
	ui.printf(systemStyle, "logged in as %s; /open <user> to start", c.Username())

	if *peer != "" {
		ui.open(*peer)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		defer cancel()
		ui.readStream(runCtx)
	}()
	go syncengine.NewPoller(ui.engine, syncengine.DefaultPollInterval, ui.showNew, logger).Run(runCtx)
	go ui.watchTyping(runCtx)

	return ui.input(runCtx, cancel)
}

func readPassword() (string, error) {
	fmt.Fprint(os.Stderr, "password: ")
	if term.IsTerminal(int(os.Stdin.Fd())) {
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		return string(pw), err
	}
	line, err := stdin.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}

type terminal struct {
	ctx    context.Context
	client *client.Client
	stream *client.Stream
	engine *syncengine.Engine

	mu      sync.Mutex
	raw     bool
	line    []rune
	peer    string
	showing bool // typing indicator currently shown

	typingMu    sync.Mutex
	typingSent  bool
	typingTimer *time.Timer
}

func (t *terminal) printf(style color.Style, format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.printLocked(style.Sprintf(format, args...))
}

// printLocked writes a line above the prompt and redraws the input buffer.
func (t *terminal) printLocked(text string) {
	if t.raw {
		fmt.Printf("\r\x1b[2K%s\r\n%s", strings.ReplaceAll(text, "\n", "\r\n"), t.promptLocked())
		return
	}
	fmt.Println(text)
}

func (t *terminal) promptLocked() string {
	name := t.peer
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("[%s]> %s", name, string(t.line))
}

func (t *terminal) render(m proto.Message) {
	style := theirsStyle
	if m.Sender == t.engine.Me() {
		style = mineStyle
	}
	stamp := time.UnixMilli(m.TS).Format("15:04:05")
	if m.Chat == t.engine.Active() {
		t.printf(style, "%s %s: %s", stamp, m.Sender, m.Text)
		return
	}
	t.printf(systemStyle, "new message in %s (%d unread)", m.Chat, t.engine.Unread(m.Chat))
}

func (t *terminal) showNew(msgs []proto.Message) {
	for _, m := range msgs {
		t.render(m)
	}
}

func (t *terminal) open(peer string) {
	chatID, history, err := t.engine.OpenWith(t.ctx, peer)
	if err != nil {
		t.printf(systemStyle, "open %s: %v", peer, err)
		return
	}
	conv, err := chat.ParseConversationID(chatID)
	if err != nil {
		return
	}
	other, _ := conv.Other(t.engine.Me())
	t.mu.Lock()
	t.peer = other
	t.mu.Unlock()

	t.printf(systemStyle, "--- %s ---", chatID)
	for _, m := range history {
		t.render(m)
	}
}

func (t *terminal) readStream(ctx context.Context) {
	for {
		ev, err := t.stream.Next(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				t.printf(systemStyle, "connection lost: %v", err)
			}
			return
		}

		switch {
		case ev.Message != nil:
			if t.engine.Apply(*ev.Message) {
				t.render(*ev.Message)
			}
			if ev.Message.Sender != t.engine.Me() {
				_ = t.stream.Ack(ctx, ev.Message.ID)
			}
		case ev.Presence != nil:
			t.engine.SetPresence(ev.Presence.Username, ev.Presence.Online)
		case ev.Typing != nil:
			t.engine.SetTyping(ev.Typing.From, ev.Typing.IsTyping)
		case ev.Rename != nil:
			t.engine.Rename(ev.Rename.From, ev.Rename.To)
			t.mu.Lock()
			if t.peer == ev.Rename.From {
				t.peer = ev.Rename.To
			}
			t.mu.Unlock()
			t.printf(systemStyle, "%s is now %s", ev.Rename.From, ev.Rename.To)
		case ev.Err != nil:
			t.printf(systemStyle, "server: %s", ev.Err.Code)
		}
	}
}

// watchTyping shows and hides the peer's typing indicator.
func (t *terminal) watchTyping(ctx context.Context) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		t.mu.Lock()
		peer := t.peer
		t.mu.Unlock()
		typing := peer != "" && t.engine.IsTyping(peer)

		t.mu.Lock()
		if typing != t.showing {
			t.showing = typing
			if typing {
				t.printLocked(systemStyle.Sprintf("%s is typing...", peer))
			}
		}
		t.mu.Unlock()
	}
}

// keystroke marks the user as typing and schedules the stop signal.
func (t *terminal) keystroke() {
	t.mu.Lock()
	peer := t.peer
	t.mu.Unlock()
	if peer == "" {
		return
	}

	t.typingMu.Lock()
	defer t.typingMu.Unlock()
	if !t.typingSent {
		t.typingSent = true
		_ = t.stream.Typing(t.ctx, peer, true)
	}
	if t.typingTimer != nil {
		t.typingTimer.Stop()
	}
	t.typingTimer = time.AfterFunc(typingIdle, func() { t.stopTyping(peer) })
}

func (t *terminal) stopTyping(peer string) {
	t.typingMu.Lock()
	defer t.typingMu.Unlock()
	if t.typingTimer != nil {
		t.typingTimer.Stop()
		t.typingTimer = nil
	}
	if t.typingSent {
		t.typingSent = false
		_ = t.stream.Typing(t.ctx, peer, false)
	}
}

func (t *terminal) input(ctx context.Context, cancel context.CancelFunc) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return t.lineInput(ctx, cancel)
	}

	state, err := term.MakeRaw(fd)
	if err != nil {
		return t.lineInput(ctx, cancel)
	}
	defer func() { _ = term.Restore(fd, state) }()

	t.mu.Lock()
	t.raw = true
	fmt.Print(t.promptLocked())
	t.mu.Unlock()

	keys := make(chan rune)
	go func() {
		defer close(keys)
		for {
			k, _, err := stdin.ReadRune()
			if err != nil {
				return
			}
			keys <- k
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case k, ok := <-keys:
			if !ok {
				return nil
			}
			switch k {
			case 3, 4: // Ctrl+C, Ctrl+D
				cancel()
				return nil
			case '\r', '\n':
				t.mu.Lock()
				line := string(t.line)
				t.line = t.line[:0]
				fmt.Print("\r\n" + t.promptLocked())
				t.mu.Unlock()
				if t.handle(line) {
					cancel()
					return nil
				}
			case 127, '\b':
				t.mu.Lock()
				if len(t.line) > 0 {
					t.line = t.line[:len(t.line)-1]
				}
				fmt.Print("\r\x1b[2K" + t.promptLocked())
				t.mu.Unlock()
			default:
				if k < 32 || k == utf8.RuneError {
					continue
				}
				t.mu.Lock()
				t.line = append(t.line, k)
				fmt.Print(string(k))
				t.mu.Unlock()
				t.keystroke()
			}
		}
	}
}

func (t *terminal) lineInput(ctx context.Context, cancel context.CancelFunc) error {
	scanner := bufio.NewScanner(stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		if t.handle(scanner.Text()) {
			cancel()
			return nil
		}
	}
	return scanner.Err()
}

// handle runs one input line and reports whether the client should exit.
func (t *terminal) handle(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/open":
		t.open(arg)
	case "/chats":
		for _, id := range t.engine.Conversations() {
			t.printf(systemStyle, "%s (%d unread)", id, t.engine.Unread(id))
		}
	case "/online":
		t.printf(systemStyle, "online: %s", strings.Join(t.engine.Online(), ", "))
	case "/rename":
		old := t.client.Username()
		if err := t.client.Rename(t.ctx, arg); err != nil {
			t.printf(systemStyle, "rename: %v", err)
			return false
		}
		t.engine.Rename(old, t.client.Username())
		t.printf(systemStyle, "you are now %s", t.client.Username())
	default:
		t.mu.Lock()
		peer := t.peer
		t.mu.Unlock()
		if peer == "" {
			t.printf(systemStyle, "no open conversation; use /open <user>")
			return false
		}
		t.stopTyping(peer)
		msg, err := t.client.Send(t.ctx, peer, line)
		if err != nil {
			var apiErr *client.APIError
			if errors.As(err, &apiErr) {
				t.printf(systemStyle, "send failed: %s", apiErr.Code)
			} else {
				t.printf(systemStyle, "send failed: %v", err)
			}
			return false
		}
		if t.engine.Apply(msg) {
			t.render(msg)
		}
	}
	return false
}
