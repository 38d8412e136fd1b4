package chat

import (
	"fmt"

	nanoid "github.com/jaevor/go-nanoid"
)

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

var generateID func() string

func init() {
	gen, err := nanoid.CustomASCII(idAlphabet, 16)
	if err != nil {
		panic(fmt.Sprintf("chat: nanoid generator: %v", err))
	}
	generateID = gen
}

// NewConversationID returns a fresh "cnv_" identifier.
func NewConversationID() string {
	return "cnv_" + generateID()
}

// NewMessageID returns a fresh "msg_" identifier.
func NewMessageID() string {
	return "msg_" + generateID()
}
