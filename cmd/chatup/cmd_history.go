package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kingrea/chatup/internal/api"
	"github.com/kingrea/chatup/internal/conversation"
	"github.com/kingrea/chatup/internal/pipeline"
	"github.com/kingrea/chatup/internal/presenter"
)

var (
	historyShowID string
	sendNewChat   bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List conversations stored on the server",
	Long: `Loads the conversation history from the server into the local cache and
prints it newest first. Use --show to print one conversation's transcript.`,
	RunE: runHistory,
}

var sendCmd = &cobra.Command{
	Use:   "send [message]",
	Short: "Send one message and print the reply",
	Long: `Sends a message to the active conversation (or a new one with --new) and
prints the reply. The active conversation is the same one the TUI resumes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	historyCmd.Flags().StringVar(&historyShowID, "show", "", "Print the transcript of this conversation id")
	sendCmd.Flags().BoolVar(&sendNewChat, "new", false, "Start a new conversation")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, err := openManager(true)
	if err != nil {
		return err
	}
	defer mgr.Close()
	if err := mgr.Start(ctx, true); err != nil {
		return err
	}
	if _, err := mgr.Synchronizer().LoadHistory(ctx, mgr.User().Email); err != nil {
		color.New(color.FgYellow).Fprintf(cmd.ErrOrStderr(), "Showing cached history: %s\n",
			api.Message(err, "the chat service is unreachable"))
	}
	out := cmd.OutOrStdout()
	if historyShowID != "" {
		conv, ok := mgr.State().Cache().Get(historyShowID)
		if !ok {
			return fmt.Errorf("conversation %s not found", historyShowID)
		}
		you := color.New(color.FgBlue, color.Bold).SprintFunc()
		bot := color.New(color.FgRed, color.Bold).SprintFunc()
		for _, msg := range conv.Messages {
			label := bot("Assistant")
			if msg.Sender == conversation.SenderUser {
				label = you("You")
			}
			fmt.Fprintf(out, "%s %s\n%s\n\n", label, msg.Timestamp.Local().Format("Jan 2 15:04"), msg.Text)
		}
		return nil
	}
	entries := mgr.Presenter().Entries()
	if len(entries) == 0 {
		fmt.Fprintln(out, "No conversations yet.")
		return nil
	}
	printEntries(cmd, entries)
	return nil
}

func printEntries(cmd *cobra.Command, entries []presenter.Entry) {
	out := cmd.OutOrStdout()
	bold := color.New(color.Bold).SprintFunc()
	dim := color.New(color.FgHiBlack).SprintFunc()
	active := color.New(color.FgGreen, color.Bold).SprintFunc()
	for _, entry := range entries {
		marker := " "
		if entry.Active {
			marker = active("●")
		}
		preview := strings.ReplaceAll(entry.Preview, "\n", " ")
		if len([]rune(preview)) > 60 {
			preview = string([]rune(preview)[:60]) + "..."
		}
		fmt.Fprintf(out, "%s %s  %s  %s\n", marker, bold(entry.Label), dim(entry.Timestamp.Local().Format("2006-01-02 15:04")), dim(entry.ID))
		if preview != "" {
			fmt.Fprintf(out, "    %s\n", preview)
		}
	}
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	mgr, err := openManager(true)
	if err != nil {
		return err
	}
	defer mgr.Close()
	if err := mgr.Start(ctx, !sendNewChat); err != nil {
		return err
	}
	p, err := mgr.NewPipeline(nil, nil, nil)
	if err != nil {
		return err
	}
	result := p.Send(ctx, strings.Join(args, " "))
	if result.Skipped {
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), result.Reply.Text)
	if result.Stage == pipeline.StageFailed {
		return fmt.Errorf("send failed: %w", result.Err)
	}
	if _, err := mgr.Synchronizer().LoadHistory(ctx, mgr.User().Email); err != nil {
		logger.Warn("refresh after send", zap.Error(err))
	}
	return mgr.Touch(ctx)
}
