package channels

import (
	"context"
	"strings"
	"testing"

	"niabot/pkg/bus"
)

func TestBaseChannel_IsAllowed(t *testing.T) {
	c := NewBaseChannel("discord", "owner-123", nil)

	if !c.IsAllowed("owner-123") {
		t.Error("owner should be allowed")
	}
	if c.IsAllowed("stranger-456") {
		t.Error("non-owner should be rejected")
	}

	// No owner configured means nobody gets in.
	locked := NewBaseChannel("discord", "", nil)
	if locked.IsAllowed("anyone") {
		t.Error("unset owner should lock the channel down")
	}
}

func TestBaseChannel_HandleMessagePublishesForOwnerOnly(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()

	c := NewBaseChannel("discord", "owner-123", mb)

	c.HandleMessage("stranger", "chat-1", "hello", "", nil)
	c.HandleMessage("owner-123", "chat-1", "hello", "https://cdn/img.png", map[string]string{"message_id": "m-1"})

	ctx := context.Background()
	msg, ok := mb.ConsumeInbound(ctx)
	if !ok {
		t.Fatal("expected one inbound message")
	}
	if msg.SenderID != "owner-123" || msg.AttachmentURL != "https://cdn/img.png" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.Metadata["message_id"] != "m-1" {
		t.Errorf("metadata lost: %v", msg.Metadata)
	}
}

func TestSplitMessage_ShortMessageSingleChunk(t *testing.T) {
	chunks := splitMessage("hello world", 1500)
	if len(chunks) != 1 || chunks[0] != "hello world" {
		t.Errorf("unexpected chunks: %v", chunks)
	}
}

func TestSplitMessage_SplitsOnNewlines(t *testing.T) {
	content := strings.Repeat("line of text\n", 200)
	chunks := splitMessage(content, 1500)

	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, chunk := range chunks {
		if len(chunk) > 2000 {
			t.Errorf("chunk %d length %d exceeds hard limit", i, len(chunk))
		}
	}

	joined := strings.Join(chunks, "\n")
	if !strings.HasPrefix(joined, "line of text") {
		t.Error("content mangled by split")
	}
}

func TestSplitMessage_KeepsCodeBlockIntact(t *testing.T) {
	code := "```go\n" + strings.Repeat("x := 1\n", 50) + "```"
	content := strings.Repeat("filler text here\n", 80) + code

	chunks := splitMessage(content, 1500)

	for i, chunk := range chunks {
		if strings.Count(chunk, "```")%2 != 0 {
			t.Errorf("chunk %d ends inside a code block", i)
		}
	}
}

func TestFindLastUnclosedCodeBlock(t *testing.T) {
	if idx := findLastUnclosedCodeBlock("no blocks here"); idx != -1 {
		t.Errorf("idx = %d, want -1", idx)
	}
	if idx := findLastUnclosedCodeBlock("closed ```a``` pair"); idx != -1 {
		t.Errorf("idx = %d, want -1 for balanced blocks", idx)
	}
	text := "before ```go\ncode"
	if idx := findLastUnclosedCodeBlock(text); idx != 7 {
		t.Errorf("idx = %d, want 7", idx)
	}
}
