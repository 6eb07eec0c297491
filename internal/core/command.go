package core

import "github.com/vovakirdan/trix-server/internal/chat"

// commandKind describes what a caller wants the hub goroutine to do.
type commandKind int

const (
	commandRegister commandKind = iota
	commandUnregister
	commandPublish
	commandTyping
	commandRename
	commandOnline
)

// command is the only way to touch hub state from outside Run.
type command struct {
	kind     commandKind
	client   *Client
	message  chat.Message
	to       string
	isTyping bool
	from     string
	done     chan struct{}
	online   chan []string
}
