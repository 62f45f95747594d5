package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/RichardoC/forumtech/internal/chat"
	"github.com/RichardoC/forumtech/internal/models"
	"github.com/peterh/liner"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	gatewayURL string
	verbose    bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "forumchat [question]",
	Short: "Talk to the forum assistant from a terminal",
	Long: `forumchat streams answers from the forum's chat gateway.

Run without arguments for an interactive conversation. Type /clear to start
over and /quit to leave. With a question as argument, it prints a single
answer and exits.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		out := cmd.OutOrStdout()
		printer := &answerPrinter{out: out}
		session := chat.NewSession(
			chat.NewClient(gatewayURL, nil),
			chat.WithObserver(printer.observe),
			chat.WithLogger(logger),
		)
		defer session.Close()

		if len(args) > 0 {
			session.SetInput(strings.Join(args, " "))
			err := session.Submit(ctx)
			fmt.Fprintln(out)
			return err
		}
		return runInteractive(ctx, session, printer)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "url", "http://localhost:8100", "base URL of the chat gateway")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runInteractive(ctx context.Context, session *chat.Session, printer *answerPrinter) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		input, err := line.Prompt("vous> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		input = strings.TrimSpace(input)
		switch input {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/clear":
			session.Clear()
			printer.reset()
			fmt.Fprintln(printer.out, "Conversation effacée.")
			continue
		}
		line.AppendHistory(input)

		session.SetInput(input)
		err = session.Submit(ctx)
		fmt.Fprintln(printer.out)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Fprintf(printer.out, "Erreur: %s\n", session.Snapshot().Err)
		}
	}
}

// answerPrinter writes the assistant message as it grows.
type answerPrinter struct {
	out io.Writer

	mu      sync.Mutex
	index   int
	printed int
}

func (p *answerPrinter) observe(s chat.Snapshot) {
	if s.State != chat.StateStreaming {
		return
	}
	n := len(s.Messages)
	if n == 0 || s.Messages[n-1].Role != models.RoleAssistant {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.index != n-1 {
		p.index = n - 1
		p.printed = 0
		fmt.Fprint(p.out, "assistant> ")
	}
	content := s.Messages[n-1].Content
	if len(content) > p.printed {
		fmt.Fprint(p.out, content[p.printed:])
		p.printed = len(content)
	}
}

func (p *answerPrinter) reset() {
	p.mu.Lock()
	p.index = 0
	p.printed = 0
	p.mu.Unlock()
}
