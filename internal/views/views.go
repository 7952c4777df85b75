// Package views renders the server side chat pages. JSON clients never
// reach it; handlers only render here when the client prefers text/html.
package views

import (
	"embed"
	"html/template"
	"io"

	"github.com/unimarket/campus-market/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.New("").Funcs(template.FuncMap{
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
}).ParseFS(templateFS, "templates/*.html"))

type InboxEntry struct {
	ConversationID int64
	Partner        models.ChatPartner
	Preview        string
	Timestamp      string
	UnreadCount    int
}

type InboxPage struct {
	Entries     []InboxEntry
	TotalUnread int
}

type RoomPage struct {
	ConversationID int64
	ViewerID       int64
	Partner        models.ChatPartner
	Messages       []models.MessageView
	LastMessageID  int64
	Errors         map[string]string
	Draft          string
}

func RenderInbox(w io.Writer, page InboxPage) error {
	return pages.ExecuteTemplate(w, "inbox.html", page)
}

func RenderRoom(w io.Writer, page RoomPage) error {
	return pages.ExecuteTemplate(w, "room.html", page)
}
