package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"companion/internal/graph"
)

var chatThread string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with Ava from the terminal",
	Long: `Runs the conversation pipeline against stdin instead of WhatsApp.
Useful for trying prompts and memory behavior without a webhook setup.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatThread, "thread", "", "thread ID to continue (default: a fresh one)")
}

func runChat(cmd *cobra.Command, args []string) error {
	a, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer a.store.Close()

	threadID := chatThread
	if threadID == "" {
		threadID = "local-" + uuid.NewString()[:8]
	}

	fmt.Printf("Chatting as thread %s. Type /quit to exit.\n\n", threadID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			break
		}

		result, err := a.pipeline.Run(context.Background(), threadID, line)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}

		switch result.Workflow {
		case graph.WorkflowInfoPoint:
			fmt.Printf("ava> [would send %s card: %v]\n", result.InfoPointType, result.InfoPointParams)
		case graph.WorkflowAudio:
			fmt.Printf("ava> [voice note, %d bytes] %s\n", len(result.Audio), result.Text)
		default:
			fmt.Printf("ava> %s\n", result.Text)
		}
	}

	return scanner.Err()
}
