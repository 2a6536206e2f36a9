// Package discord connects the command dispatcher and the notification
// scheduler to a Discord bot session.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"shipsbot/internal/commands"
	"shipsbot/internal/game"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"
)

// maxMessageLen is Discord's hard limit on message content.
const maxMessageLen = 2000

type Handler interface {
	Handle(ctx context.Context, req commands.Request) (reply string, handled bool)
}

type Gateway struct {
	session        *discordgo.Session
	handler        Handler
	log            *slog.Logger
	limiter        *rate.Limiter
	commandTimeout time.Duration

	baseCtx context.Context
	remove  func()
}

type Option func(*Gateway)

// WithSendRate limits outbound messages across all channels.
func WithSendRate(r float64, burst int) Option {
	return func(g *Gateway) {
		if r > 0 && burst > 0 {
			g.limiter = rate.NewLimiter(rate.Limit(r), burst)
		}
	}
}

func WithCommandTimeout(d time.Duration) Option {
	return func(g *Gateway) { g.commandTimeout = d }
}

func New(token string, logger *slog.Logger, opts ...Option) (*Gateway, error) {
	if logger == nil {
		logger = slog.Default()
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent
	g := &Gateway{
		session:        session,
		log:            logger,
		limiter:        rate.NewLimiter(rate.Inf, 1),
		commandTimeout: 30 * time.Second,
		baseCtx:        context.Background(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Open connects to the gateway and starts passing messages to handler.
// Commands run under ctx until Close.
func (g *Gateway) Open(ctx context.Context, handler Handler) error {
	g.baseCtx = ctx
	g.handler = handler
	g.remove = g.session.AddHandler(g.onMessage)
	if err := g.session.Open(); err != nil {
		g.remove()
		return fmt.Errorf("open discord session: %w", err)
	}
	g.log.Info("discord connected")
	return nil
}

func (g *Gateway) Close() error {
	if g.remove != nil {
		g.remove()
	}
	return g.session.Close()
}

func (g *Gateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	selfID := ""
	if s.State != nil && s.State.User != nil {
		selfID = s.State.User.ID
	}
	req, ok := requestFor(m, selfID)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(g.baseCtx, g.commandTimeout)
	defer cancel()

	reply, handled := g.handler.Handle(ctx, req)
	if !handled || reply == "" {
		return
	}
	if err := g.Send(ctx, m.ChannelID, reply); err != nil {
		g.log.Warn("reply failed", "channel_id", m.ChannelID, "player_id", req.Origin.PlayerID, "err", err)
	}
}

func requestFor(m *discordgo.MessageCreate, selfID string) (commands.Request, bool) {
	if m == nil || m.Message == nil || m.Author == nil {
		return commands.Request{}, false
	}
	if m.Author.Bot || m.Author.ID == selfID {
		return commands.Request{}, false
	}
	return commands.Request{
		Origin: game.Origin{
			PlayerID:  m.Author.ID,
			GuildID:   m.GuildID,
			ChannelID: m.ChannelID,
		},
		Content: m.Content,
	}, true
}

// Reachable reports whether the bot can still see the channel. The state
// cache is tried first and the REST API second.
func (g *Gateway) Reachable(guildID, channelID string) bool {
	if channelID == "" {
		return false
	}
	if guildID != "" {
		if _, err := g.session.State.Guild(guildID); err != nil {
			if _, err := g.session.Guild(guildID); err != nil {
				return false
			}
		}
	}
	if _, err := g.session.State.Channel(channelID); err == nil {
		return true
	}
	_, err := g.session.Channel(channelID)
	return err == nil
}

func (g *Gateway) Send(ctx context.Context, channelID, content string) error {
	for _, part := range splitMessage(content, maxMessageLen) {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := g.session.ChannelMessageSend(channelID, part, discordgo.WithContext(ctx)); err != nil {
			return fmt.Errorf("send to %s: %w", channelID, err)
		}
	}
	return nil
}

// splitMessage breaks content into pieces of at most limit bytes, preferring
// line boundaries. Code fences cut in half are closed and reopened.
func splitMessage(content string, limit int) []string {
	if len(content) <= limit {
		return []string{content}
	}
	const fence = "```"
	var (
		parts  []string
		cur    strings.Builder
		inCode bool
	)
	flush := func() {
		if cur.Len() == 0 || (inCode && cur.Len() == len(fence)+1) {
			return
		}
		s := strings.TrimRight(cur.String(), "\n")
		if inCode {
			s += "\n" + fence
		}
		parts = append(parts, s)
		cur.Reset()
		if inCode {
			cur.WriteString(fence + "\n")
		}
	}
	budget := limit - len(fence) - 1
	for _, line := range strings.SplitAfter(content, "\n") {
		for len(line) > budget-len(fence)-1 {
			flush()
			cut := budget - cur.Len()
			cur.WriteString(line[:cut])
			line = line[cut:]
		}
		if cur.Len()+len(line) > budget {
			flush()
		}
		cur.WriteString(line)
		if strings.Count(line, fence)%2 == 1 {
			inCode = !inCode
		}
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
