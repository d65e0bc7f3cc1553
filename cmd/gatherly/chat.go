package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	gatherly "github.com/gatherly-app/gatherly/sdk/golang"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(chatCmd)
}

var chatCmd = &cobra.Command{
	Use:   "chat <event-id>",
	Short: "Chat in an event room",
	Long: `Join the chat room of an event. Each line read from stdin is sent as a
message and incoming messages are printed as they arrive. Ctrl-D or Ctrl-C leaves.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		roomID, err := parseEventID(args[0])
		if err != nil {
			return err
		}

		a, err := openApp()
		if err != nil {
			return err
		}
		defer a.close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		token, err := gatherly.LoadCredential(ctx, a.store)
		if err != nil {
			return err
		}
		if token == "" {
			return errors.New("not signed in: run 'gatherly login' first")
		}

		chat := a.newChat()
		defer chat.Close()

		ended := make(chan gatherly.ChatState, 1)
		chat.OnMessage(func(_ int64, msg gatherly.ChatMessage) {
			fmt.Printf("[%s] %d: %s\n", msg.CreatedAt.Local().Format("15:04:05"), msg.SenderID, msg.Content)
		})
		chat.OnStateChange(func(_ int64, state gatherly.ChatState) {
			if verbose {
				fmt.Fprintf(os.Stderr, "-- %s\n", state)
			}
			if state == gatherly.ChatClosed || state == gatherly.ChatErrored {
				select {
				case ended <- state:
				default:
				}
			}
		})

		if err := chat.Connect(ctx, roomID, token); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Connected to room %d. Type a message and press Enter.\n", roomID)

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return chat.Disconnect(roomID)
			case state := <-ended:
				if state == gatherly.ChatErrored {
					return errors.New("chat connection lost")
				}
				fmt.Fprintln(os.Stderr, "Room closed by server.")
				return nil
			case line, ok := <-lines:
				if !ok {
					return chat.Disconnect(roomID)
				}
				err := chat.Send(ctx, roomID, line)
				if errors.Is(err, gatherly.ErrEmptyMessage) {
					continue
				}
				if err != nil {
					fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
				}
			}
		}
	},
}
