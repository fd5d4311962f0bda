package transport

import "context"

// Update is one inbound event from the messaging platform.
type Update struct {
	Message *Message
}

// Message is a platform-neutral view of an incoming direct message.
type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string

	// ReplyPhotoID is the file id of the largest photo in the message this
	// one replies to, if any. Used by /setpicture.
	ReplyPhotoID string
}

// Adapter is the transport boundary: receive updates, send messages and
// photos, fetch files. The core never talks to the platform directly.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, channel, picturePath string) error
	DownloadPhoto(ctx context.Context, fileID, destPath string) error
}

// BotCommand is a command menu entry.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is an optional interface adapters can implement to
// publish the platform command menu.
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
