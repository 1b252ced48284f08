package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/samsaffron/storyloom/internal/chat"
	"github.com/samsaffron/storyloom/internal/config"
	"github.com/samsaffron/storyloom/internal/llm"
	"github.com/samsaffron/storyloom/internal/session"
	"github.com/samsaffron/storyloom/internal/signal"
	"github.com/samsaffron/storyloom/internal/tools"
	"github.com/samsaffron/storyloom/internal/ui"
)

var (
	chatResume       string
	chatIncognito    bool
	chatOnLimit      string
	chatProvider     string
	chatModel        string
	chatName         string
	chatSystem       string
	chatProject      string
	chatWebSearch    bool
	chatShowThinking bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the writing assistant",
	Long: `Start an interactive chat, or send a single message when one is given.

Inside the chat:
  /regen   regenerate the last reply
  /quit    leave the chat
Ctrl-C cancels the reply in progress; the text streamed so far is kept.

When the assistant keeps calling tools past loop.limit rounds you are asked
whether to stop, continue or let it finish. Without a terminal, --on-limit
answers instead (stop, continue, continue:N or unlimited).`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatResume, "resume", "", "Resume the session with this id")
	chatCmd.Flags().BoolVar(&chatIncognito, "incognito", false, "Do not save this session")
	chatCmd.Flags().StringVar(&chatOnLimit, "on-limit", "", "Answer for the tool round limit: stop, continue[:N] or unlimited")
	chatCmd.Flags().StringVarP(&chatProvider, "provider", "p", "", "Override the provider (backend, openai, anthropic, gemini, mock)")
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "Override the model (model type for the backend)")
	chatCmd.Flags().StringVar(&chatName, "name", "", "Name for a new session")
	chatCmd.Flags().StringVar(&chatSystem, "system", "", "System prompt for a new session")
	chatCmd.Flags().StringVar(&chatProject, "project", "", "Project id sent with tool calls")
	chatCmd.Flags().BoolVarP(&chatWebSearch, "web-search", "s", false, "Allow the assistant to search the web")
	chatCmd.Flags().BoolVar(&chatShowThinking, "thinking", false, "Show the model's reasoning while it streams")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	cfg.ApplyOverrides(chatProvider, chatModel)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	ctx := cmd.Context()

	pc := cfg.ProviderConfig()
	pc.Logger = logger
	transport, err := llm.NewTransport(pc)
	if err != nil {
		return err
	}

	rawStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer rawStore.Close()
	var store session.Store = session.NewLoggingStore(rawStore, logger)

	toolset, err := buildTools(ctx, cfg)
	if err != nil {
		return err
	}
	defer toolset.Close()

	sess, err := loadOrCreateSession(ctx, store, cfg)
	if err != nil {
		return err
	}

	decider, err := loopDecider(chatOnLimit, cfg.Loop.ExtendBy, ui.IsTTY(os.Stdin))
	if err != nil {
		return err
	}

	orch := chat.NewOrchestrator(sess, chat.Options{
		Transport:  transport,
		Dispatcher: tools.NewDispatcher(toolset.registry, logger),
		Store:      store,
		Decider:    decider,
		LoopLimit:  cfg.Loop.Limit,
		ExtendBy:   cfg.Loop.ExtendBy,
		Logger:     logger,
	})

	out := cmd.OutOrStdout()
	printer := ui.NewPrinter(out, ui.PrinterOptions{
		ShowThinking: chatShowThinking,
		Animate:      ui.IsTTY(os.Stdout),
	})

	if len(args) > 0 {
		ctx, stop := signal.NotifyContext(ctx)
		defer stop()
		res, err := runTurn(ctx, orch, printer, strings.Join(args, " "), false, false)
		if res.Cancelled {
			return nil
		}
		return err
	}
	return repl(ctx, cmd.InOrStdin(), out, orch, printer)
}

func loadOrCreateSession(ctx context.Context, store session.Store, cfg *config.Config) (*session.Session, error) {
	if chatResume != "" {
		sess, err := store.Get(ctx, chatResume)
		if errors.Is(err, session.ErrNotFound) {
			return nil, fmt.Errorf("session %s not found", chatResume)
		}
		return sess, err
	}

	sess := session.New(chatName)
	sess.SystemPrompt = cfg.SystemPrompt
	if chatSystem != "" {
		sess.SystemPrompt = chatSystem
	}
	sess.ModelType = cfg.ModelType
	sess.AllowWebSearch = cfg.WebSearch || chatWebSearch
	sess.ProjectID = chatProject
	sess.IsIncognito = chatIncognito
	if err := store.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// loopDecider picks how loop-limit questions are answered. An explicit
// answer always wins; otherwise terminals get a prompt and everything else
// stops.
func loopDecider(onLimit string, extendBy int, interactive bool) (chat.LoopDecider, error) {
	if onLimit == "" {
		if interactive {
			return &ui.LoopPrompt{ExtendBy: extendBy}, nil
		}
		onLimit = "stop"
	}
	d, err := ui.ParseDecision(onLimit, extendBy)
	if err != nil {
		return nil, fmt.Errorf("--on-limit: %w", err)
	}
	return ui.FixedDecider(d), nil
}

// runTurn runs one turn with SIGINT cancelling it. When report is set,
// failures are printed instead of being left to the caller.
func runTurn(ctx context.Context, orch *chat.Orchestrator, printer *ui.Printer, text string, regen, report bool) (chat.TurnResult, error) {
	printer.Waiting()
	release := signal.Trap(orch.Cancel)
	defer release()

	var (
		res chat.TurnResult
		err error
	)
	if regen {
		res, err = orch.Regenerate(ctx, printer)
	} else {
		res, err = orch.StartTurn(ctx, text, printer)
	}
	if report {
		printer.Finish(res, err)
	} else {
		printer.Finish(res, nil)
	}
	return res, err
}

func repl(ctx context.Context, in io.Reader, out io.Writer, orch *chat.Orchestrator, printer *ui.Printer) error {
	styles := ui.NewStyles(out)
	sess := orch.Session()
	banner := fmt.Sprintf("Session %s", sess.ID)
	if sess.IsIncognito {
		banner += " (incognito)"
	}
	fmt.Fprintln(out, styles.Muted.Render(banner+". /regen regenerates the last reply, /quit exits."))

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, styles.Prompt.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help":
			fmt.Fprintln(out, "/regen  regenerate the last reply\n/quit   leave the chat")
		case line == "/regen":
			runTurn(ctx, orch, printer, "", true, true)
		case strings.HasPrefix(line, "/"):
			fmt.Fprintln(out, styles.Error.Render("unknown command "+line+" (try /help)"))
		default:
			runTurn(ctx, orch, printer, line, false, true)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
