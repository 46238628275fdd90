package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/messenger/client-go/internal/api"
	"github.com/messenger/client-go/internal/chat"
	"github.com/messenger/client-go/internal/config"
	"github.com/messenger/client-go/internal/logger"
	"github.com/messenger/client-go/internal/model"
	"github.com/messenger/client-go/internal/realtime"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var conversationsCmd = &cobra.Command{
	Use:   "conversations",
	Short: "List your conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, _ := setup()
		page, err := client.Conversations(cmd.Context(), cfg.ConversationPageSize, "")
		if err != nil {
			return err
		}
		for _, c := range page.Rows {
			line := fmt.Sprintf("%s  [%s]  %s", c.ID, c.Kind, c.DisplayName())
			if c.LastMessage != nil {
				line += "  | " + truncate(c.LastMessage.Content, 40)
			}
			fmt.Println(line)
		}
		if page.NextCursor != "" {
			fmt.Printf("(more: cursor %s)\n", page.NextCursor)
		}
		return nil
	},
}

var friendsCmd = &cobra.Command{
	Use:   "friends",
	Short: "List accepted friends",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, _ := setup()
		page, err := client.Friends(cmd.Context(), cfg.FriendPageSize, "")
		if err != nil {
			return err
		}
		for _, f := range page.Rows {
			status := f.Presence
			if status == "" {
				status = model.PresenceOffline
			}
			fmt.Printf("%s  %-20s  %s\n", f.FriendID, f.Name, status)
		}
		return nil
	},
}

var openCmd = &cobra.Command{
	Use:   "open <conversation-id | friend-id>",
	Short: "Open a conversation and chat interactively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, client, token := setup()
		selfID := flagUserID
		if selfID == "" {
			selfID = os.Getenv("CHAT_USER_ID")
		}
		if selfID == "" {
			return fmt.Errorf("own user id required (--user or CHAT_USER_ID)")
		}

		ctx := cmd.Context()
		sock := realtime.NewSocket(cfg.SocketURL, token, realtime.SocketOptions{
			WriteTimeout: cfg.SocketWriteTimeout,
			PongTimeout:  cfg.SocketPongTimeout,
			AckTimeout:   cfg.SocketAckTimeout,
			SendBuffer:   cfg.SocketSendBuffer,
		})
		if err := sock.Connect(ctx); err != nil {
			return err
		}
		defer sock.Close()

		session := chat.NewSession(client, sock, selfID, chat.SessionOptions{
			ConversationPageSize: cfg.ConversationPageSize,
			MessagePageSize:      cfg.MessagePageSize,
			FriendPageSize:       cfg.FriendPageSize,
			TypingDebounce:       cfg.TypingDebounce,
		})
		defer session.Close()

		if err := session.LoadConversations(ctx); err != nil {
			return err
		}
		if err := session.LoadFriends(ctx); err != nil {
			logger.Errorf("load friends: %v", err)
		}

		target := args[0]
		if model.IsConversationID(target) {
			if err := session.SelectGroup(ctx, target); err != nil {
				return err
			}
		} else if err := session.SelectFriend(ctx, target); err != nil {
			return err
		}
		if session.ActiveConversation() == "" {
			return fmt.Errorf("no conversation selected")
		}

		return runLoop(ctx, session)
	},
}

// runLoop is the interactive message view: inbound events redraw the
// tail, stdin lines are sent, /more pages history, /quit leaves.
func runLoop(ctx context.Context, session *chat.Session) error {
	render := func() {
		msgs := session.Stream().Messages()
		start := 0
		if len(msgs) > 20 {
			start = len(msgs) - 20
		}
		fmt.Print("\033[2J\033[H")
		for _, m := range msgs[start:] {
			who := m.SenderID
			if m.Mine {
				who = "me"
			}
			marker := ""
			switch {
			case m.Pending():
				marker = " …"
			case m.Status == model.MessageStatusRead:
				marker = " ✓✓"
			}
			fmt.Printf("%s  %s: %s%s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content, marker)
		}
		if typing := session.TypingUsers(); len(typing) > 0 {
			fmt.Printf("(%s typing...)\n", strings.Join(typing, ", "))
		}
		fmt.Print("> ")
	}
	session.Stream().SetOnChange(render)
	session.SetOnChange(render)
	render()

	sc := bufio.NewScanner(os.Stdin)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			render()
			continue
		case "/quit", "/q":
			session.ClearSelection()
			return nil
		case "/more":
			if err := session.Stream().LoadMore(ctx); err != nil {
				fmt.Printf("load more: %v\n> ", err)
			}
			continue
		}
		session.TypingActivity()
		if err := session.SendMessage(ctx, line); err != nil {
			fmt.Printf("send failed: %v\n> ", err)
		}
	}
	return sc.Err()
}

// setup loads config and builds the REST client, prompting for the token
// when neither the flag nor CHAT_TOKEN provides one.
func setup() (*config.Config, *api.Client, string) {
	cfg := config.Load()
	if flagServerURL != "" {
		cfg.ServerURL = flagServerURL
	}
	if flagSocketURL != "" {
		cfg.SocketURL = flagSocketURL
	}

	token := flagToken
	if token == "" {
		token = os.Getenv("CHAT_TOKEN")
	}
	if token == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprint(os.Stderr, "token: ")
		if raw, err := term.ReadPassword(int(os.Stdin.Fd())); err == nil {
			token = strings.TrimSpace(string(raw))
		}
		fmt.Fprintln(os.Stderr)
	}

	return cfg, api.NewClient(cfg.ServerURL, token, cfg.RequestTimeout), token
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
