// Package notify pushes mining events to Discord and Telegram webhooks.
package notify

import (
	"bytes"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/luna-net/luna-node/internal/chain"
	"github.com/luna-net/luna-node/internal/config"
	"github.com/luna-net/luna-node/internal/node"
	"github.com/luna-net/luna-node/internal/util"
)

// Retry configuration
const (
	MaxRetries     = 3
	RetryBaseDelay = 2 * time.Second
)

// Notifier consumes orchestrator events and forwards the interesting
// ones to the configured webhooks. It runs on its own subscription and
// never blocks the mining loop.
type Notifier struct {
	cfg    *config.NotifyConfig
	client *http.Client
	cancel func()
}

// NewNotifier creates a new notifier
func NewNotifier(cfg *config.NotifyConfig) *Notifier {
	return &Notifier{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Start subscribes to the event bus and dispatches in the background
func (n *Notifier) Start(bus *node.EventBus) {
	if !n.cfg.Enabled {
		util.Info("Webhook notifications disabled")
		return
	}
	if n.cfg.DiscordURL == "" && (n.cfg.TelegramBot == "" || n.cfg.TelegramChat == "") {
		util.Warn("Webhook notifications enabled but no webhook configured")
		return
	}

	events, cancel := bus.Subscribe(64)
	n.cancel = cancel

	go func() {
		for event := range events {
			n.dispatch(event)
		}
	}()

	util.Info("Webhook notifications enabled")
}

// Stop releases the event subscription
func (n *Notifier) Stop() {
	if n.cancel != nil {
		n.cancel()
	}
}

func (n *Notifier) dispatch(event node.Event) {
	switch event.Type {
	case node.EventBlockMined:
		n.notifyBlockMined(event.Block, event.Reward)
	case node.EventMiningStarted:
		n.notifyText("Mining started", 0x0099FF)
	case node.EventMiningStopped:
		n.notifyText("Mining stopped", 0x808080)
	case node.EventAddressRequired:
		n.notifyText("Mining blocked: payout address missing or invalid", 0xFF0000)
	}
}

// notifyBlockMined announces an accepted block on all configured webhooks
func (n *Notifier) notifyBlockMined(block *chain.Block, reward float64) {
	if block == nil {
		return
	}

	if n.cfg.DiscordURL != "" {
		embed := DiscordEmbed{
			Title:       "Block Mined!",
			Description: fmt.Sprintf("**%s** mined a new block", n.cfg.NodeName),
			Color:       0x00FF00,
			Fields: []DiscordField{
				{Name: "Height", Value: fmt.Sprintf("%d", block.Index), Inline: true},
				{Name: "Reward", Value: fmt.Sprintf("%.2f LUN", reward), Inline: true},
				{Name: "Difficulty", Value: fmt.Sprintf("%d", block.Difficulty), Inline: true},
				{Name: "Miner", Value: truncateAddress(block.Miner), Inline: true},
				{Name: "Hash", Value: truncateHash(block.Hash), Inline: false},
			},
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Footer:    &DiscordFooter{Text: n.cfg.NodeName},
		}
		go n.sendDiscordMessage(DiscordMessage{Embeds: []DiscordEmbed{embed}})
	}

	if n.cfg.TelegramBot != "" && n.cfg.TelegramChat != "" {
		text := fmt.Sprintf(
			"*Block Mined!*\n\n"+
				"Height: `%d`\n"+
				"Reward: `%.2f LUN`\n"+
				"Difficulty: `%d`\n"+
				"Miner: `%s`\n"+
				"Hash: `%s`",
			block.Index, reward, block.Difficulty,
			truncateAddress(block.Miner), truncateHash(block.Hash),
		)
		go n.sendTelegramMessage(text)
	}
}

// notifyText sends a plain one-line announcement
func (n *Notifier) notifyText(text string, color int) {
	if n.cfg.DiscordURL != "" {
		embed := DiscordEmbed{
			Description: fmt.Sprintf("**%s**: %s", n.cfg.NodeName, text),
			Color:       color,
			Timestamp:   time.Now().UTC().Format(time.RFC3339),
		}
		go n.sendDiscordMessage(DiscordMessage{Embeds: []DiscordEmbed{embed}})
	}

	if n.cfg.TelegramBot != "" && n.cfg.TelegramChat != "" {
		go n.sendTelegramMessage(fmt.Sprintf("*%s*: %s", n.cfg.NodeName, text))
	}
}

// DiscordEmbed represents a Discord embed object
type DiscordEmbed struct {
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Color       int            `json:"color,omitempty"`
	Fields      []DiscordField `json:"fields,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Footer      *DiscordFooter `json:"footer,omitempty"`
}

// DiscordField represents a field in a Discord embed
type DiscordField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// DiscordFooter represents the footer of a Discord embed
type DiscordFooter struct {
	Text string `json:"text"`
}

// DiscordMessage represents a Discord webhook message
type DiscordMessage struct {
	Content string         `json:"content,omitempty"`
	Embeds  []DiscordEmbed `json:"embeds,omitempty"`
}

// sendDiscordMessage posts to the Discord webhook with exponential backoff
func (n *Notifier) sendDiscordMessage(msg DiscordMessage) {
	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("Failed to marshal Discord message: %v", err)
		return
	}

	n.postWithRetry("Discord", n.cfg.DiscordURL, body)
}

// TelegramMessage represents a Telegram bot message
type TelegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// sendTelegramMessage posts via the Telegram Bot API with exponential backoff
func (n *Notifier) sendTelegramMessage(text string) {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", n.cfg.TelegramBot)

	msg := TelegramMessage{
		ChatID:    n.cfg.TelegramChat,
		Text:      text,
		ParseMode: "Markdown",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		util.Warnf("Failed to marshal Telegram message: %v", err)
		return
	}

	n.postWithRetry("Telegram", url, body)
}

// postWithRetry delivers one webhook payload: 2s, 4s, 8s backoff, with a
// longer pause on a 429.
func (n *Notifier) postWithRetry(kind, url string, body []byte) {
	var lastErr error
	for attempt := 0; attempt < MaxRetries; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay * time.Duration(1<<uint(attempt-1))
			time.Sleep(delay)
		}

		resp, err := n.client.Post(url, "application/json", bytes.NewReader(body))
		if err != nil {
			lastErr = err
			continue
		}

		resp.Body.Close()

		if resp.StatusCode < 400 {
			return
		}

		if resp.StatusCode == 429 {
			time.Sleep(5 * time.Second)
			continue
		}

		lastErr = fmt.Errorf("status %d", resp.StatusCode)
	}

	if lastErr != nil {
		util.Warnf("Failed to send %s notification after %d retries: %v", kind, MaxRetries, lastErr)
	}
}

// truncateAddress returns a shortened address for display
func truncateAddress(addr string) string {
	if len(addr) <= 16 {
		return addr
	}
	return addr[:8] + "..." + addr[len(addr)-6:]
}

// truncateHash returns a shortened hash for display
func truncateHash(hash string) string {
	if len(hash) <= 20 {
		return hash
	}
	return hash[:10] + "..." + hash[len(hash)-8:]
}
