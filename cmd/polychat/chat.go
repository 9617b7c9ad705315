package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Dhanuzh/polychat/internal/dispatch"
	"github.com/Dhanuzh/polychat/internal/session"
)

const chatHelp = `Commands:
  /model <id>      switch model (clears the conversation)
  /reset           clear the conversation
  /export <file>   write the transcript as JSON
  /quit            leave`

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with one model, keeping the conversation",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			model, _ := cmd.Flags().GetString("model")
			if model == "" {
				model = a.cfg.DefaultModel
			}
			if model == "" {
				return &dispatch.ValidationError{Field: "model", Message: "select a model with --model or default_model"}
			}

			sess := session.New(a.dispatcher, a.registry)
			if err := sess.SelectModel(model); err != nil {
				return err
			}

			r := newREPL(os.Stdin, os.Stdout, os.Stderr, sess, a.registry, isTerminal(os.Stdout))
			r.interactive = isTerminal(os.Stdin)
			return r.run(cmd.Context())
		},
	}
	cmd.Flags().String("model", "", "Model to chat with (default: default_model)")
	return cmd
}

// repl is the line-oriented focused chat.
type repl struct {
	in          io.Reader
	out         io.Writer
	errOut      io.Writer
	session     *session.Session
	models      dispatch.Models
	interactive bool

	name lipgloss.Style
	errs lipgloss.Style
}

func newREPL(in io.Reader, out, errOut io.Writer, sess *session.Session, models dispatch.Models, color bool) *repl {
	r := &repl{
		in:      in,
		out:     out,
		errOut:  errOut,
		session: sess,
		models:  models,
		name:    lipgloss.NewStyle(),
		errs:    lipgloss.NewStyle(),
	}
	if color {
		r.name = r.name.Bold(true).Foreground(lipgloss.Color("#a6e3a1"))
		r.errs = r.errs.Foreground(lipgloss.Color("#f38ba8"))
	}
	return r
}

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintf(r.out, "Chatting with %s. Type /help for commands.\n", r.modelName())

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if r.interactive {
			fmt.Fprint(r.out, "> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := r.command(line); quit {
				return nil
			}
			continue
		}
		r.send(ctx, line)
	}
	return scanner.Err()
}

// command runs a slash command and reports whether the REPL should exit.
func (r *repl) command(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(r.out, chatHelp)
	case "/reset":
		if err := r.session.Reset(); err != nil {
			r.fail(err)
			return false
		}
		fmt.Fprintln(r.out, "Conversation cleared.")
	case "/model":
		if arg == "" {
			fmt.Fprintf(r.out, "Current model: %s\n", r.session.Model())
			return false
		}
		if err := r.session.SelectModel(arg); err != nil {
			r.fail(err)
			return false
		}
		fmt.Fprintf(r.out, "Now chatting with %s.\n", r.modelName())
	case "/export":
		if arg == "" {
			arg = fmt.Sprintf("polychat-%s.json", r.session.ID)
		}
		data, err := r.session.Export()
		if err != nil {
			r.fail(err)
			return false
		}
		if err := os.WriteFile(arg, data, 0o644); err != nil {
			r.fail(fmt.Errorf("failed to write %s: %w", arg, err))
			return false
		}
		fmt.Fprintf(r.out, "Transcript written to %s\n", arg)
	default:
		fmt.Fprintf(r.errOut, "unknown command %s (try /help)\n", name)
	}
	return false
}

func (r *repl) send(ctx context.Context, message string) {
	ctx, stop := interruptContext(ctx)
	defer stop()

	sink := &deltaSink{out: r.out, errOut: r.errOut, label: r.name.Render(r.modelName() + ":"), errs: r.errs}
	out, err := r.session.Send(ctx, message, sink)
	if err != nil {
		r.fail(err)
		return
	}
	if !out.Failed() {
		fmt.Fprintln(r.out)
	}
}

func (r *repl) fail(err error) {
	fmt.Fprintln(r.errOut, r.errs.Render(err.Error()))
}

func (r *repl) modelName() string {
	id := r.session.Model()
	if m, ok := r.models.GetModel(id); ok {
		return m.DisplayName()
	}
	return id
}

// deltaSink writes a single model's reply as it grows. Only the new suffix
// of each snapshot is printed; a snapshot that does not extend the previous
// one (a fallback after a broken stream) is printed in full on a new line.
type deltaSink struct {
	out    io.Writer
	errOut io.Writer
	label  string
	errs   lipgloss.Style

	mu      sync.Mutex
	shown   string
	started bool
}

func (s *deltaSink) AppendUserMessage(modelID, text string, attachments []dispatch.Attachment) {}

func (s *deltaSink) BeginTyping(modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		fmt.Fprint(s.out, s.label+" ")
		s.started = true
	}
}

func (s *deltaSink) EndTyping(modelID string) {}

func (s *deltaSink) UpdateAssistantText(modelID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case strings.HasPrefix(text, s.shown):
		fmt.Fprint(s.out, text[len(s.shown):])
	default:
		fmt.Fprint(s.out, "\n"+text)
	}
	s.shown = text
}

func (s *deltaSink) AppendError(modelID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shown != "" {
		fmt.Fprintln(s.out)
	}
	fmt.Fprintln(s.errOut, s.errs.Render(text))
}
