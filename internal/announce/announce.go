// Package announce posts finished story beats to a Discord text channel so a
// group can follow a session from chat. Announcements are best-effort: a
// failed post is logged and never affects narration.
package announce

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
)

// maxMessageLen is Discord's hard limit for a single message.
const maxMessageLen = 2000

// maxHeaderLen caps the announcement header so an oversized session ID or
// action can never consume the whole message.
const maxHeaderLen = 512

// Sender posts a message to a channel. *discordgo.Session satisfies it; tests
// substitute their own.
type Sender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Announcer posts scene announcements to a fixed channel.
type Announcer struct {
	sender    Sender
	channelID string
	logger    *slog.Logger
}

// New creates an Announcer posting via sender to channelID.
func New(sender Sender, channelID string, logger *slog.Logger) (*Announcer, error) {
	if sender == nil {
		return nil, errors.New("announce: sender must not be nil")
	}
	if channelID == "" {
		return nil, errors.New("announce: channelID must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{sender: sender, channelID: channelID, logger: logger}, nil
}

// Connect opens a Discord session with the given bot token and returns an
// Announcer bound to it. The caller owns the returned session and should
// close it on shutdown.
func Connect(token, channelID string, logger *slog.Logger) (*Announcer, *discordgo.Session, error) {
	if token == "" {
		return nil, nil, errors.New("announce: token must not be empty")
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, nil, fmt.Errorf("announce: create session: %w", err)
	}
	if err := dg.Open(); err != nil {
		return nil, nil, fmt.Errorf("announce: open gateway: %w", err)
	}
	a, err := New(dg, channelID, logger)
	if err != nil {
		dg.Close()
		return nil, nil, err
	}
	return a, dg, nil
}

// SceneComplete posts one finished beat. Long scenes are truncated to fit
// Discord's message limit. Errors are logged, never returned.
func (a *Announcer) SceneComplete(sessionID, action, scene string) {
	msg := formatScene(sessionID, action, scene)
	if _, err := a.sender.ChannelMessageSend(a.channelID, msg); err != nil {
		a.logger.Warn("scene announcement failed",
			"channel", a.channelID,
			"session", sessionID,
			"error", err,
		)
	}
}

// formatScene renders the announcement, truncating the header and scene so
// the whole message stays under Discord's limit. Both sessionID and action
// arrive from the client, so neither may be trusted to be short.
func formatScene(sessionID, action, scene string) string {
	header := fmt.Sprintf("**[%s]** _%s_\n", sessionID, strings.TrimSpace(action))
	if len(header) > maxHeaderLen {
		header = truncate(header, maxHeaderLen) + "\n"
	}
	scene = strings.TrimSpace(scene)
	if budget := maxMessageLen - len(header); len(scene) > budget {
		scene = truncate(scene, budget)
	}
	return header + scene
}

// truncate cuts s to at most max bytes, ending on a rune boundary with an
// ellipsis marking the cut.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	const ellipsis = "…"
	cut := max - len(ellipsis)
	if cut <= 0 {
		return ""
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + ellipsis
}
