package devserver

import (
	"math/rand/v2"
	"strings"
)

// Responder produces the bot's reply to one message.
type Responder interface {
	Reply(message string) string
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(message string) string

// Reply calls f.
func (f ResponderFunc) Reply(message string) string {
	return f(message)
}

type cannedRule struct {
	keywords []string
	reply    string
}

var cannedRules = []cannedRule{
	{keywords: []string{"hello", "hi", "hey"}, reply: "Hello! How can I assist you today?"},
	{keywords: []string{"how are you"}, reply: "I'm just a bot, but I'm functioning perfectly! How can I help you?"},
	{keywords: []string{"name"}, reply: "I'm your friendly ChatUp assistant. What's on your mind?"},
	{keywords: []string{"thank"}, reply: "You're welcome! Is there anything else I can help with?"},
	{keywords: []string{"bye", "goodbye"}, reply: "Goodbye! Feel free to come back if you have more questions."},
	{keywords: []string{"help"}, reply: "I can help answer your questions. Just type your query and I'll do my best to assist you!"},
}

var cannedDefaults = []string{
	"That's interesting. Tell me more about that.",
	"I understand. How else can I assist you?",
	"Thanks for sharing. Do you have any other questions?",
	"I'm here to help. What else would you like to know?",
	"That's a great point. Is there anything specific you'd like to discuss?",
	"I've processed your message. How else can I be of service?",
}

// CannedResponder answers by keyword and falls back to a rotating set of
// generic replies. Keywords match anywhere in the message, so "this" counts
// as "hi".
type CannedResponder struct {
	pick func(n int) int
}

// NewCannedResponder builds a responder; pick chooses a default reply index
// and defaults to a random choice.
func NewCannedResponder(pick func(n int) int) *CannedResponder {
	if pick == nil {
		pick = rand.IntN
	}
	return &CannedResponder{pick: pick}
}

// Reply implements Responder.
func (c *CannedResponder) Reply(message string) string {
	lower := strings.ToLower(message)
	for _, rule := range cannedRules {
		for _, keyword := range rule.keywords {
			if strings.Contains(lower, keyword) {
				return rule.reply
			}
		}
	}
	idx := c.pick(len(cannedDefaults))
	if idx < 0 || idx >= len(cannedDefaults) {
		idx = 0
	}
	return cannedDefaults[idx]
}
