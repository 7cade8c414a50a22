package openairtc

import (
	"sync"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type ItemType string

const (
	ItemTypeMessage            ItemType = "message"
	ItemTypeFunctionCall       ItemType = "function_call"
	ItemTypeFunctionCallOutput ItemType = "function_call_output"
)

// ConversationItem is one transcript entry. Optional fields are nil until the
// server populates them and are never cleared afterwards.
type ConversationItem struct {
	ID                 string
	Role               Role
	Type               ItemType
	Text               *string
	Audio              []byte // PCM16 at RealtimeSampleRate
	FunctionCall       *FunctionCall
	FunctionCallOutput *string
}

type FunctionCall struct {
	ID        string
	Name      string
	Arguments string
}

// AudioAt returns the item's audio resampled to sampleRate.
func (i ConversationItem) AudioAt(sampleRate int) ([]byte, error) {
	return ResamplePCM16(i.Audio, RealtimeSampleRate, sampleRate)
}

func (i ConversationItem) clone() ConversationItem {
	c := i
	if i.Text != nil {
		text := *i.Text
		c.Text = &text
	}
	if i.Audio != nil {
		c.Audio = append([]byte(nil), i.Audio...)
	}
	if i.FunctionCall != nil {
		fc := *i.FunctionCall
		c.FunctionCall = &fc
	}
	if i.FunctionCallOutput != nil {
		out := *i.FunctionCallOutput
		c.FunctionCallOutput = &out
	}
	return c
}

// ItemPatch describes a change to a conversation item. Role and Type are only
// used when the item does not exist yet.
type ItemPatch struct {
	Role Role
	Type ItemType

	Text *string
	// AppendText appends Text instead of replacing the current text.
	AppendText bool

	// Audio is always appended.
	Audio []byte

	FunctionCall *FunctionCall
	// AppendArguments appends FunctionCall.Arguments instead of replacing them.
	AppendArguments bool

	FunctionCallOutput *string
}

// Conversation is the ordered transcript of a session. Items are only added,
// never removed, until Reset.
type Conversation struct {
	mu    sync.RWMutex
	items []*ConversationItem
	index map[string]*ConversationItem
}

func NewConversation() *Conversation {
	return &Conversation{index: make(map[string]*ConversationItem)}
}

// Upsert creates the item or merges patch into it and returns a copy of the
// result.
func (c *Conversation) Upsert(id string, patch ItemPatch) (ConversationItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.index[id]
	if !ok {
		if id == "" || patch.Role == "" || patch.Type == "" {
			return ConversationItem{}, ErrIncompleteItem
		}
		item = &ConversationItem{ID: id, Role: patch.Role, Type: patch.Type}
		c.items = append(c.items, item)
		c.index[id] = item
	}

	merge(item, patch)

	return item.clone(), nil
}

func merge(item *ConversationItem, patch ItemPatch) {
	if patch.Text != nil {
		switch {
		case item.Text == nil:
			text := *patch.Text
			item.Text = &text
		case patch.AppendText:
			text := *item.Text + *patch.Text
			item.Text = &text
		default:
			text := *patch.Text
			item.Text = &text
		}
	}

	if len(patch.Audio) > 0 {
		item.Audio = append(item.Audio, patch.Audio...)
	}

	if fc := patch.FunctionCall; fc != nil {
		if item.FunctionCall == nil {
			item.FunctionCall = &FunctionCall{}
		}
		if fc.ID != "" {
			item.FunctionCall.ID = fc.ID
		}
		if fc.Name != "" {
			item.FunctionCall.Name = fc.Name
		}
		switch {
		case patch.AppendArguments:
			item.FunctionCall.Arguments += fc.Arguments
		case fc.Arguments != "":
			item.FunctionCall.Arguments = fc.Arguments
		}
	}

	if patch.FunctionCallOutput != nil {
		out := *patch.FunctionCallOutput
		item.FunctionCallOutput = &out
	}
}

// Items returns a copy of the transcript in insertion order.
func (c *Conversation) Items() []ConversationItem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	items := make([]ConversationItem, len(c.items))
	for i, item := range c.items {
		items[i] = item.clone()
	}
	return items
}

func (c *Conversation) Item(id string) (ConversationItem, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	item, ok := c.index[id]
	if !ok {
		return ConversationItem{}, false
	}
	return item.clone(), true
}

func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.index = make(map[string]*ConversationItem)
}
