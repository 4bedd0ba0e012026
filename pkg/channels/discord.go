package channels

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"niabot/pkg/bus"
	"niabot/pkg/config"
	"niabot/pkg/logger"
	"niabot/pkg/utils"
)

const (
	sendTimeout           = 10 * time.Second
	typingRefreshInterval = 8 * time.Second
	fieldNoticeLifetime   = 5 * time.Second

	silenceEmoji = "👍"
	failureEmoji = "❌"
)

// DiscordChannel is a single-owner DM transport. Messages from anyone but
// the owner are ignored; proactive messages with no chat id go to the
// owner's DM channel.
type DiscordChannel struct {
	*BaseChannel
	session  *discordgo.Session
	config   config.DiscordConfig
	typing   map[string]*typingSession
	typingMu sync.Mutex

	dmMu        sync.Mutex
	dmChannelID string
}

type typingSession struct {
	pending int
	cancel  context.CancelFunc
}

func NewDiscordChannel(cfg config.DiscordConfig, bus *bus.MessageBus) (*DiscordChannel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}

	base := NewBaseChannel("discord", cfg.OwnerID, bus)

	return &DiscordChannel{
		BaseChannel: base,
		session:     session,
		config:      cfg,
		typing:      make(map[string]*typingSession),
	}, nil
}

func (c *DiscordChannel) Start(ctx context.Context) error {
	logger.InfoC("discord", "Starting Discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}

	c.setRunning(true)

	botUser, err := c.session.User("@me")
	if err != nil {
		return fmt.Errorf("failed to get bot user: %w", err)
	}
	logger.InfoCF("discord", "Discord bot connected", map[string]interface{}{
		"username": botUser.Username,
		"user_id":  botUser.ID,
	})

	return nil
}

func (c *DiscordChannel) Stop(ctx context.Context) error {
	logger.InfoC("discord", "Stopping Discord bot")
	c.setRunning(false)
	c.stopAllTyping()

	if err := c.session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}

	return nil
}

// Send delivers one finished turn. An empty Content is intentional
// silence: the original message gets a 👍 reaction instead of text. A
// delivery failure leaves a ❌ reaction on the original message.
func (c *DiscordChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("discord bot not running")
	}

	channelID := msg.ChatID
	if channelID == "" {
		// Proactive turn: no originating message, deliver to the owner DM.
		id, err := c.ownerDMChannel()
		if err != nil {
			return err
		}
		channelID = id
	}
	defer c.endTyping(channelID)

	if strings.TrimSpace(msg.Content) == "" {
		c.react(channelID, msg.ReplyToID, silenceEmoji)
		return nil
	}

	chunks := splitMessage(msg.Content, 1500) // Discord caps messages at 2000 chars, leave headroom for natural splits

	for _, chunk := range chunks {
		if err := c.sendChunk(ctx, channelID, chunk); err != nil {
			c.react(channelID, msg.ReplyToID, failureEmoji)
			return err
		}
	}

	if len(msg.UpdatedFields) > 0 {
		c.sendFieldNotice(channelID, msg.UpdatedFields)
	}

	return nil
}

// react adds a best-effort emoji reaction; failures only get logged.
func (c *DiscordChannel) react(channelID, messageID, emoji string) {
	if channelID == "" || messageID == "" {
		return
	}
	if err := c.session.MessageReactionAdd(channelID, messageID, emoji); err != nil {
		logger.DebugCF("discord", "Failed to add reaction", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

// sendFieldNotice posts a transient "Updated fields: ..." message and
// deletes it a few seconds later.
func (c *DiscordChannel) sendFieldNotice(channelID string, fields []string) {
	notice, err := c.session.ChannelMessageSend(channelID,
		fmt.Sprintf("Updated fields: %s", strings.Join(fields, ", ")))
	if err != nil {
		logger.DebugCF("discord", "Failed to send field notice", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	time.AfterFunc(fieldNoticeLifetime, func() {
		if err := c.session.ChannelMessageDelete(channelID, notice.ID); err != nil {
			logger.DebugCF("discord", "Failed to delete field notice", map[string]interface{}{
				"error": err.Error(),
			})
		}
	})
}

// ownerDMChannel resolves (and caches) the DM channel with the owner.
func (c *DiscordChannel) ownerDMChannel() (string, error) {
	c.dmMu.Lock()
	defer c.dmMu.Unlock()

	if c.dmChannelID != "" {
		return c.dmChannelID, nil
	}

	ch, err := c.session.UserChannelCreate(c.config.OwnerID)
	if err != nil {
		return "", fmt.Errorf("failed to open owner DM channel: %w", err)
	}
	c.dmChannelID = ch.ID
	return ch.ID, nil
}

// splitMessage splits long messages into chunks, preserving code block
// integrity. Uses natural boundaries (newlines, spaces) and extends
// messages slightly to avoid breaking code blocks.
func splitMessage(content string, limit int) []string {
	var messages []string

	for len(content) > 0 {
		if len(content) <= limit {
			messages = append(messages, content)
			break
		}

		msgEnd := findLastNewline(content[:limit], 200)
		if msgEnd <= 0 {
			msgEnd = findLastSpace(content[:limit], 100)
		}
		if msgEnd <= 0 {
			msgEnd = limit
		}

		candidate := content[:msgEnd]
		unclosedIdx := findLastUnclosedCodeBlock(candidate)

		if unclosedIdx >= 0 {
			// Would end mid code block. Try to extend to the closing ```.
			extendedLimit := limit + 500
			if len(content) > extendedLimit {
				closingIdx := findNextClosingCodeBlock(content, msgEnd)
				if closingIdx > 0 && closingIdx <= extendedLimit {
					msgEnd = closingIdx
				} else {
					msgEnd = findLastNewline(content[:unclosedIdx], 200)
					if msgEnd <= 0 {
						msgEnd = findLastSpace(content[:unclosedIdx], 100)
					}
					if msgEnd <= 0 {
						msgEnd = unclosedIdx
					}
				}
			} else {
				msgEnd = len(content)
			}
		}

		if msgEnd <= 0 {
			msgEnd = limit
		}

		messages = append(messages, content[:msgEnd])
		content = strings.TrimSpace(content[msgEnd:])
	}

	return messages
}

// findLastUnclosedCodeBlock finds the last opening ``` without a closing
// ```. Returns -1 if all code blocks are complete.
func findLastUnclosedCodeBlock(text string) int {
	count := 0
	lastOpenIdx := -1

	for i := 0; i < len(text); i++ {
		if i+2 < len(text) && text[i] == '`' && text[i+1] == '`' && text[i+2] == '`' {
			if count == 0 {
				lastOpenIdx = i
			}
			count++
			i += 2
		}
	}

	if count%2 == 1 {
		return lastOpenIdx
	}
	return -1
}

// findNextClosingCodeBlock returns the position after the next closing
// ``` from startIdx, or -1.
func findNextClosingCodeBlock(text string, startIdx int) int {
	for i := startIdx; i < len(text); i++ {
		if i+2 < len(text) && text[i] == '`' && text[i+1] == '`' && text[i+2] == '`' {
			return i + 3
		}
	}
	return -1
}

// findLastNewline finds the last newline within the final searchWindow
// characters, or -1.
func findLastNewline(s string, searchWindow int) int {
	searchStart := len(s) - searchWindow
	if searchStart < 0 {
		searchStart = 0
	}
	for i := len(s) - 1; i >= searchStart; i-- {
		if s[i] == '\n' {
			return i
		}
	}
	return -1
}

// findLastSpace finds the last space within the final searchWindow
// characters, or -1.
func findLastSpace(s string, searchWindow int) int {
	searchStart := len(s) - searchWindow
	if searchStart < 0 {
		searchStart = 0
	}
	for i := len(s) - 1; i >= searchStart; i-- {
		if s[i] == ' ' || s[i] == '\t' {
			return i
		}
	}
	return -1
}

func (c *DiscordChannel) sendChunk(ctx context.Context, channelID, content string) error {
	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := c.session.ChannelMessageSend(channelID, content)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("failed to send discord message: %w", err)
		}
		return nil
	case <-sendCtx.Done():
		return fmt.Errorf("send message timeout: %w", sendCtx.Err())
	}
}

func (c *DiscordChannel) sendTyping(channelID string) {
	if channelID == "" || c.session == nil {
		return
	}
	if err := c.session.ChannelTyping(channelID); err != nil {
		logger.ErrorCF("discord", "Failed to send typing indicator", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func (c *DiscordChannel) beginTyping(channelID string) {
	if channelID == "" {
		return
	}

	c.typingMu.Lock()
	if sess, ok := c.typing[channelID]; ok {
		sess.pending++
		c.typingMu.Unlock()
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.typing[channelID] = &typingSession{
		pending: 1,
		cancel:  cancel,
	}
	c.typingMu.Unlock()

	c.sendTyping(channelID)

	go func() {
		ticker := time.NewTicker(typingRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !c.IsRunning() {
					return
				}
				c.sendTyping(channelID)
			}
		}
	}()
}

func (c *DiscordChannel) endTyping(channelID string) {
	if channelID == "" {
		return
	}

	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	sess, ok := c.typing[channelID]
	if !ok {
		return
	}
	sess.pending--
	if sess.pending > 0 {
		return
	}
	delete(c.typing, channelID)
	sess.cancel()
}

func (c *DiscordChannel) stopAllTyping() {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()

	for channelID, sess := range c.typing {
		sess.cancel()
		delete(c.typing, channelID)
	}
}

func (c *DiscordChannel) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m == nil || m.Author == nil {
		return
	}

	if m.Author.ID == s.State.User.ID {
		return
	}

	// Single-owner DMs only: guild messages and strangers are ignored.
	if m.GuildID != "" {
		return
	}
	if !c.IsAllowed(m.Author.ID) {
		logger.DebugCF("discord", "Message rejected, sender is not the owner", map[string]interface{}{
			"user_id": m.Author.ID,
		})
		return
	}

	content := m.Content
	attachmentURL := ""
	if len(m.Attachments) > 0 {
		attachmentURL = m.Attachments[0].URL
	}

	if content == "" && attachmentURL == "" {
		return
	}
	if content == "" {
		content = "[media only]"
	}

	c.beginTyping(m.ChannelID)

	logger.DebugCF("discord", "Received message", map[string]interface{}{
		"sender_id": m.Author.ID,
		"preview":   utils.Truncate(content, 50),
	})

	metadata := map[string]string{
		"message_id": m.ID,
		"username":   m.Author.Username,
		"channel_id": m.ChannelID,
	}

	c.HandleMessage(m.Author.ID, m.ChannelID, content, attachmentURL, metadata)
}
