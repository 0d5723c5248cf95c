package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/matheus3301/huddle/internal/api"
	"github.com/matheus3301/huddle/internal/config"
	"github.com/matheus3301/huddle/internal/conversation"
	"github.com/matheus3301/huddle/internal/delivery"
	"github.com/matheus3301/huddle/internal/presence"
	"github.com/matheus3301/huddle/internal/profile"
)

type command struct {
	usage     string
	help      string
	minArgs   int
	streaming bool
	run       func(ctx context.Context, c *api.Client, out *printer, args []string) error

	// local commands run without a daemon.
	local func(profileName string, out *printer, args []string) error
}

var commandOrder = []string{
	"init", "status", "chats", "search", "open", "close", "send", "retry",
	"log", "presence", "unread", "pin", "watch",
}

var commands = map[string]command{
	"init":     {usage: "--api-url u --socket-url u", help: "Write this profile to config.toml", local: cmdInit},
	"status":   {usage: "", help: "Show daemon and connection status", run: cmdStatus},
	"chats":    {usage: "[page]", help: "List conversations", run: cmdChats},
	"search":   {usage: "<query...>", help: "Search conversations", minArgs: 1, run: cmdSearch},
	"open":     {usage: "<conv> <peer>", help: "Join, watch presence and mark read", minArgs: 2, run: cmdOpen},
	"close":    {usage: "<conv> <peer>", help: "Leave, unwatch and blur", minArgs: 2, run: cmdClose},
	"send":     {usage: "<conv> <text...>", help: "Send a message", minArgs: 2, run: cmdSend},
	"retry":    {usage: "<localId>", help: "Retry a failed message", minArgs: 1, run: cmdRetry},
	"log":      {usage: "<conv>", help: "Show a conversation log", minArgs: 1, run: cmdLog},
	"presence": {usage: "<peer>", help: "Show a peer's presence", minArgs: 1, run: cmdPresence},
	"unread":   {usage: "[--sync] [conv]", help: "Show unread totals", run: cmdUnread},
	"pin":      {usage: "<conv> on|off", help: "Pin or unpin a conversation", minArgs: 2, run: cmdPin},
	"watch":    {usage: "[prefix]", help: "Stream daemon events", streaming: true, run: cmdWatch},
}

func cmdStatus(ctx context.Context, c *api.Client, out *printer, _ []string) error {
	resp, err := c.Status(ctx)
	if err != nil {
		return err
	}
	return out.emit(resp, func(w io.Writer) {
		fmt.Fprintf(w, "Profile:       %s\n", bold(resp.Profile))
		fmt.Fprintf(w, "User:          %s\n", resp.UserID)
		fmt.Fprintf(w, "Connection:    %s\n", stateColor(resp.State))
		if !resp.ConnectedAt.IsZero() {
			fmt.Fprintf(w, "Connected:     %s\n", ago(resp.ConnectedAt))
		}
		fmt.Fprintf(w, "Uptime:        %s\n", (time.Duration(resp.UptimeMs) * time.Millisecond).Round(time.Second))
		fmt.Fprintf(w, "Conversations: %d\n", resp.Conversations)
		fmt.Fprintf(w, "Pending sends: %d\n", resp.PendingSends)
		fmt.Fprintf(w, "Event streams: %d", resp.Events.Subscribers)
		if resp.Events.Dropped > 0 {
			fmt.Fprintf(w, " %s", yellow(fmt.Sprintf("(%d dropped)", resp.Events.Dropped)))
		}
		fmt.Fprintln(w)
		if resp.Cache != nil {
			fmt.Fprintf(w, "Cache:         %d conversations, %d messages\n", resp.Cache.Conversations, resp.Cache.Messages)
		}
		if resp.LastError != "" {
			fmt.Fprintf(w, "Last error:    %s\n", red(resp.LastError))
		}
	})
}

func cmdChats(ctx context.Context, c *api.Client, out *printer, args []string) error {
	page := 1
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("invalid page %q", args[0])
		}
		page = n
	}
	resp, err := c.ListConversations(ctx, page, 0)
	if err != nil {
		return err
	}
	return out.emit(resp, func(w io.Writer) {
		printConversations(w, resp.Conversations)
		if resp.HasNextPage {
			fmt.Fprintf(w, "%s\n", dim(fmt.Sprintf("more: huddlectl chats %d", resp.Page+1)))
		}
	})
}

func cmdSearch(ctx context.Context, c *api.Client, out *printer, args []string) error {
	resp, err := c.Search(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return out.emit(resp, func(w io.Writer) {
		printConversations(w, resp.Conversations)
	})
}

func printConversations(w io.Writer, convs []conversation.Conversation) {
	if len(convs) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}
	for _, conv := range convs {
		pin := " "
		if conv.Pinned {
			pin = magenta("*")
		}
		unread := "   "
		if conv.UnreadCount > 0 {
			unread = cyan(fmt.Sprintf("%3d", conv.UnreadCount))
		}
		fmt.Fprintf(w, "%s %s %-24s %s %s  %s\n",
			pin, unread, truncate(conv.ParticipantDisplay, 24), dim(clock(conv.LastMessageAt)),
			truncate(conv.LastMessagePreview, 48), dim(conv.ID))
	}
}

// cmdOpen acquires a conversation's room, presence watch and focus. A failed
// step releases the ones already taken.
func cmdOpen(ctx context.Context, c *api.Client, out *printer, args []string) error {
	convID, peerID := args[0], args[1]
	if err := c.Join(ctx, convID, peerID); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	st, err := c.Watch(ctx, peerID)
	if err != nil {
		_ = c.Leave(ctx, convID)
		return fmt.Errorf("watch: %w", err)
	}
	if err := c.Focus(ctx, convID); err != nil {
		_ = c.Unwatch(ctx, peerID)
		_ = c.Leave(ctx, convID)
		return fmt.Errorf("focus: %w", err)
	}
	return out.emit(st, func(w io.Writer) {
		fmt.Fprintf(w, "Opened %s with %s (%s)\n", bold(convID), peerID, presenceLabel(st.Status))
	})
}

// cmdClose releases every part of an open conversation, even when one fails.
func cmdClose(ctx context.Context, c *api.Client, out *printer, args []string) error {
	convID, peerID := args[0], args[1]
	err := errors.Join(
		c.Leave(ctx, convID),
		c.Unwatch(ctx, peerID),
		c.Blur(ctx, convID),
	)
	if err != nil {
		return err
	}
	return out.emit(api.Empty{}, func(w io.Writer) {
		fmt.Fprintf(w, "Closed %s\n", convID)
	})
}

func cmdSend(ctx context.Context, c *api.Client, out *printer, args []string) error {
	resp, err := c.Send(ctx, args[0], strings.Join(args[1:], " "), "")
	if err != nil {
		return err
	}
	return out.emit(resp, func(w io.Writer) {
		fmt.Fprintf(w, "Queued %s\n", resp.LocalID)
	})
}

func cmdRetry(ctx context.Context, c *api.Client, out *printer, args []string) error {
	if err := c.Retry(ctx, args[0]); err != nil {
		return err
	}
	return out.emit(api.Empty{}, func(w io.Writer) {
		fmt.Fprintf(w, "Retrying %s\n", args[0])
	})
}

func cmdLog(ctx context.Context, c *api.Client, out *printer, args []string) error {
	resp, err := c.History(ctx, args[0])
	if err != nil {
		return err
	}
	return out.emit(resp, func(w io.Writer) {
		if len(resp.Messages) == 0 {
			fmt.Fprintln(w, "No messages.")
			return
		}
		for _, m := range resp.Messages {
			printMessage(w, m)
		}
	})
}

func printMessage(w io.Writer, m delivery.Message) {
	text := m.Content
	if m.AttachmentRef != "" {
		text = strings.TrimSpace(text + " " + dim("["+m.AttachmentRef+"]"))
	}
	line := fmt.Sprintf("%s %s: %s", dim(clock(m.CreatedAt)), bold(m.SenderID), text)
	if m.State != delivery.Confirmed {
		line += " " + stateColor(string(m.State))
		if m.FailReason != "" {
			line += dim(" ("+m.FailReason+", retry "+m.LocalID+")")
		}
	}
	fmt.Fprintln(w, line)
}

func cmdPresence(ctx context.Context, c *api.Client, out *printer, args []string) error {
	resp, err := c.Presence(ctx, args[0])
	if err != nil {
		return err
	}
	return out.emit(resp, func(w io.Writer) {
		fmt.Fprintf(w, "%s: %s\n", args[0], presenceLabel(resp.Status))
	})
}

func presenceLabel(s presence.Status) string {
	switch {
	case !s.Known:
		return dim("unknown")
	case s.Online:
		return green("online")
	case s.Stale:
		return yellow("offline") + dim(" (stale, last seen "+ago(s.LastSeenAt)+")")
	default:
		return "offline" + dim(" (last seen "+ago(s.LastSeenAt)+")")
	}
}

func cmdUnread(ctx context.Context, c *api.Client, out *printer, args []string) error {
	flags := flag.NewFlagSet("unread", flag.ContinueOnError)
	sync := flags.Bool("sync", false, "refresh totals from the backend first")
	if err := flags.Parse(args); err != nil {
		return err
	}
	resp, err := c.Unread(ctx, *sync, flags.Arg(0))
	if err != nil {
		return err
	}
	return out.emit(resp, func(w io.Writer) {
		if resp.Conversation != nil {
			fmt.Fprintf(w, "%s: %s unread\n", bold(resp.ConversationID), cyan(*resp.Conversation))
		}
		fmt.Fprintf(w, "Unread: %s messages in %d conversations\n", cyan(resp.Totals.Messages), resp.Totals.Chats)
		if resp.Server != nil {
			fmt.Fprintf(w, "Backend: %d messages in %d conversations %s\n",
				resp.Server.Messages, resp.Server.Chats, dim("(synced "+ago(resp.Server.SyncedAt)+")"))
		}
	})
}

func cmdPin(ctx context.Context, c *api.Client, out *printer, args []string) error {
	var value bool
	switch args[1] {
	case "on":
		value = true
	case "off":
	default:
		return fmt.Errorf("pin value must be on or off, got %q", args[1])
	}
	resp, err := c.Pin(ctx, args[0], value)
	if err != nil {
		return err
	}
	return out.emit(resp, func(w io.Writer) {
		printConversations(w, []conversation.Conversation{resp.Conversation})
	})
}

func cmdWatch(ctx context.Context, c *api.Client, out *printer, args []string) error {
	prefix := ""
	if len(args) > 0 {
		prefix = args[0]
	}
	err := c.WatchEvents(ctx, prefix, func(env *api.EventEnvelope) error {
		return out.emit(env, func(w io.Writer) {
			fmt.Fprintf(w, "%s %s %s\n", dim(env.OccurredAt.Local().Format(time.TimeOnly)), cyan(env.Kind), string(env.Payload))
		})
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

type initResult struct {
	Profile    string `json:"profile"`
	ConfigPath string `json:"configPath"`
	Default    bool   `json:"default"`
}

// cmdInit writes the profile's endpoints and credentials into config.toml,
// keeping every other profile as it was.
func cmdInit(profileName string, out *printer, args []string) error {
	flags := flag.NewFlagSet("init", flag.ContinueOnError)
	apiURL := flags.String("api-url", "", "backend REST base URL")
	socketURL := flags.String("socket-url", "", "backend websocket URL")
	token := flags.String("token", "", "bearer token")
	userID := flags.String("user-id", "", "user id, derived from the token when empty")
	makeDefault := flags.Bool("default", false, "make this the default profile")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *apiURL == "" || *socketURL == "" {
		return errors.New("--api-url and --socket-url are required")
	}

	path := profile.ConfigPath()
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg, err = &config.Config{}, nil
	}
	if err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	if cfg.Profiles == nil {
		cfg.Profiles = make(map[string]config.Profile)
	}
	p := cfg.Profiles[profileName]
	p.APIURL = *apiURL
	p.SocketURL = *socketURL
	if *token != "" {
		p.Token = *token
	}
	if *userID != "" {
		p.UserID = *userID
	}
	cfg.Profiles[profileName] = p
	if *makeDefault || cfg.DefaultProfile == "" {
		cfg.DefaultProfile = profileName
	}
	if err := config.Save(path, cfg); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}

	res := initResult{Profile: profileName, ConfigPath: path, Default: cfg.DefaultProfile == profileName}
	return out.emit(res, func(w io.Writer) {
		fmt.Fprintf(w, "Wrote profile %s to %s\n", bold(profileName), path)
		if res.Default {
			fmt.Fprintln(w, dim("default profile"))
		}
	})
}
