package notify

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Discord posts to a channel webhook. It is the operator's feed of every
// client notification.
type Discord struct {
	session *discordgo.Session
	id      string
	token   string
}

func NewDiscord(webhookURL string) (*Discord, error) {
	id, token, err := ParseWebhookURL(webhookURL)
	if err != nil {
		return nil, err
	}
	s, err := discordgo.New("")
	if err != nil {
		return nil, err
	}
	return &Discord{session: s, id: id, token: token}, nil
}

// ParseWebhookURL splits https://discord.com/api/webhooks/<id>/<token>.
func ParseWebhookURL(raw string) (id, token string, err error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("parse webhook url: %w", err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "webhooks" && parts[i+1] != "" && parts[i+2] != "" {
			return parts[i+1], parts[i+2], nil
		}
	}
	return "", "", fmt.Errorf("webhook url %q has no id/token", raw)
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, msg Outgoing) error {
	return d.Post(ctx, FormatOperatorLine(msg))
}

func (d *Discord) Post(ctx context.Context, content string) error {
	_, err := d.session.WebhookExecute(d.id, d.token, false, &discordgo.WebhookParams{
		Content:  truncate(content, 2000),
		Username: "KMFX",
	}, discordgo.WithContext(ctx))
	return err
}

func FormatOperatorLine(msg Outgoing) string {
	return fmt.Sprintf("**%s** [%s] %s (#%d): %s", msg.Title, msg.Category, msg.AccountName, msg.AccountID, msg.Message)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
