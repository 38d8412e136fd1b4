package chat

import "time"

// VisitorSession is the visitor context kept in the ephemeral store so that it
// survives reconnects to another relay instance.
type VisitorSession struct {
	VisitorID      string    `json:"visitorId"`
	WidgetID       string    `json:"widgetId"`
	ConversationID string    `json:"conversationId"`
	FirstSeen      time.Time `json:"firstSeen"`
	LastSeen       time.Time `json:"lastSeen"`
	Joins          int       `json:"joins"`
}
