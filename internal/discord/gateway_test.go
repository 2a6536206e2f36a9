package discord

import (
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
)

func message(authorID string, bot bool, content string) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{Message: &discordgo.Message{
		ID:        "m1",
		ChannelID: "c1",
		GuildID:   "g1",
		Content:   content,
		Author:    &discordgo.User{ID: authorID, Bot: bot},
	}}
}

func TestRequestFor(t *testing.T) {
	req, ok := requestFor(message("u1", false, "-s bal"), "self")
	if !ok {
		t.Fatalf("user message ignored")
	}
	if req.Origin.PlayerID != "u1" || req.Origin.GuildID != "g1" || req.Origin.ChannelID != "c1" || req.Content != "-s bal" {
		t.Fatalf("request = %+v", req)
	}
	if _, ok := requestFor(message("other-bot", true, "-s bal"), "self"); ok {
		t.Fatalf("bot message accepted")
	}
	if _, ok := requestFor(message("self", false, "-s bal"), "self"); ok {
		t.Fatalf("own message accepted")
	}
	if _, ok := requestFor(&discordgo.MessageCreate{Message: &discordgo.Message{}}, "self"); ok {
		t.Fatalf("message without author accepted")
	}
}

func TestSplitMessageShort(t *testing.T) {
	parts := splitMessage("hello", 2000)
	if len(parts) != 1 || parts[0] != "hello" {
		t.Fatalf("parts = %q", parts)
	}
}

func TestSplitMessageKeepsFences(t *testing.T) {
	var b strings.Builder
	b.WriteString("header\n```\n")
	for i := 0; i < 40; i++ {
		b.WriteString("Fighter: 1,000,000\n")
	}
	b.WriteString("```")
	parts := splitMessage(b.String(), 200)
	if len(parts) < 2 {
		t.Fatalf("expected a split, got %d parts", len(parts))
	}
	for i, p := range parts {
		if len(p) > 200 {
			t.Fatalf("part %d is %d bytes", i, len(p))
		}
		if strings.Count(p, "```")%2 != 0 {
			t.Fatalf("part %d has an unbalanced fence: %q", i, p)
		}
	}
	if got := strings.Count(strings.Join(parts, "\n"), "Fighter"); got != 40 {
		t.Fatalf("lost lines: %d", got)
	}
}

func TestSplitMessageLongLine(t *testing.T) {
	parts := splitMessage(strings.Repeat("x", 450), 100)
	total := 0
	for i, p := range parts {
		if len(p) > 100 {
			t.Fatalf("part %d is %d bytes", i, len(p))
		}
		total += len(p)
	}
	if total != 450 {
		t.Fatalf("total = %d", total)
	}
}
