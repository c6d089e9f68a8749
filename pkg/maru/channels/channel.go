// Package channels defines the outbound channel contract the Maru runtime
// consumes. A channel delivers inbound chat events and lets the runtime send,
// edit and delete messages, show typing indicators, and download files. The
// runtime never talks to a chat platform directly; everything goes through
// the Channel interface so platform specifics stay out of the core.
package channels

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MessageType identifies the kind of inbound event content.
type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
)

// DefaultMaxMessageLength is the longest single outbound message. Replies
// above this are split before sending.
const DefaultMaxMessageLength = 4096

// IncomingMessage is an inbound chat event delivered by a channel.
type IncomingMessage struct {
	// ChatID identifies the conversation the event belongs to.
	ChatID int64

	// UserID identifies the sender.
	UserID int64

	// Type is the event content type.
	Type MessageType

	// Text is the message text (for MessageText).
	Text string

	// Caption is the accompanying text for image messages.
	Caption string

	// FileID references the image payload for download via DownloadFile.
	FileID string

	// Timestamp is when the platform received the message.
	Timestamp time.Time
}

// Channel is the outbound channel contract.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram").
	Name() string

	// Connect establishes the connection and starts delivering events.
	Connect(ctx context.Context) error

	// Disconnect stops the channel.
	Disconnect() error

	// SendMessage sends text to a chat and returns the platform message ID.
	SendMessage(ctx context.Context, chatID int64, text string) (int64, error)

	// EditMessage replaces the text of a previously sent message.
	EditMessage(ctx context.Context, chatID, messageID int64, text string) error

	// DeleteMessage removes a previously sent message.
	DeleteMessage(ctx context.Context, chatID, messageID int64) error

	// SendTyping shows a typing indicator in the chat.
	SendTyping(ctx context.Context, chatID int64) error

	// DownloadFile fetches the raw bytes of a referenced file.
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)

	// Receive returns the stream of inbound events.
	Receive() <-chan *IncomingMessage
}

// Errors shared by channel implementations.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrFileTooLarge        = fmt.Errorf("file exceeds the size limit")
)

// SplitMessage splits text into chunks no longer than maxLen. Splits prefer
// newline boundaries, then spaces, then hard cuts. maxLen <= 0 uses the
// default limit.
func SplitMessage(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}
	if len(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	for len(text) > maxLen {
		cut := lastBoundary(text[:maxLen], '\n')
		if cut <= 0 {
			cut = lastBoundary(text[:maxLen], ' ')
		}
		if cut <= 0 {
			cut = runeBoundary(text, maxLen)
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n "))
		text = strings.TrimLeft(text[cut:], "\n ")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// Truncate cuts text to at most maxLen bytes without splitting a rune.
// Platforms reject payloads that end mid-rune.
func Truncate(text string, maxLen int) string {
	if maxLen <= 0 || len(text) <= maxLen {
		return text
	}
	return text[:runeBoundary(text, maxLen)]
}

// lastBoundary returns the index just after the last occurrence of sep,
// or -1 if sep does not occur.
func lastBoundary(s string, sep byte) int {
	idx := strings.LastIndexByte(s, sep)
	if idx < 0 {
		return -1
	}
	return idx + 1
}

// runeBoundary backs cut up until text[cut] starts a rune, so a hard cut
// never splits a multi-byte character. Invalid UTF-8 cuts at cut as-is.
func runeBoundary(text string, cut int) int {
	n := cut
	for n > 0 && !utf8.RuneStart(text[n]) {
		n--
	}
	if n == 0 {
		return cut
	}
	return n
}
