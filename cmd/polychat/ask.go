package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/Dhanuzh/polychat/internal/dispatch"
	"github.com/Dhanuzh/polychat/internal/provider"
)

// errAllFailed makes ask exit non-zero when no model produced a reply.
var errAllFailed = errors.New("every model failed")

func askCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Send one message to several models and print every reply",
		Long: `Send one message to every enabled model (or the ones named with --models)
and print each reply as it completes. The message is read from stdin when no
argument is given.

Exits 0 when at least one model answered.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			if message == "" && !term.IsTerminal(int(os.Stdin.Fd())) {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return fmt.Errorf("failed to read stdin: %w", err)
				}
				message = strings.TrimSpace(string(data))
			}

			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ids, _ := cmd.Flags().GetStringSlice("models")
			all, _ := cmd.Flags().GetBool("all")
			models, err := resolveModels(a.registry, a.selection, ids, all)
			if err != nil {
				return err
			}

			var attachments []dispatch.Attachment
			paths, _ := cmd.Flags().GetStringSlice("attach")
			for _, p := range paths {
				att, err := dispatch.LoadAttachment(p)
				if err != nil {
					return err
				}
				attachments = append(attachments, att)
			}

			ctx, stop := interruptContext(cmd.Context())
			defer stop()

			out := newTextSink(os.Stdout, a.registry, isTerminal(os.Stdout))
			outcomes, err := a.coordinator.FanOut(ctx, dispatch.NewRequest(message, models, attachments...), out)
			if err != nil {
				return err
			}
			return out.summary(outcomes)
		},
	}
	cmd.Flags().StringSliceP("models", "m", nil, `Models to ask, ids or globs like "openai/*" (default: every enabled model)`)
	cmd.Flags().Bool("all", false, "Ask every chat model, including disabled ones")
	cmd.Flags().StringSlice("attach", nil, "Files to attach")
	return cmd
}

// resolveModels picks the fan-out targets: explicit ids or globs win, then
// --all, then the enabled selection.
func resolveModels(registry *provider.Registry, sel *dispatch.Selection, patterns []string, all bool) ([]string, error) {
	if len(patterns) > 0 {
		ids, unmatched, err := registry.Expand(patterns...)
		if err != nil {
			return nil, &dispatch.ValidationError{Field: "models", Message: err.Error()}
		}
		if len(unmatched) > 0 {
			return nil, &dispatch.ValidationError{Field: "models", Message: fmt.Sprintf("no model matches %s", strings.Join(unmatched, ", "))}
		}
		literal := make(map[string]bool, len(patterns))
		for _, p := range patterns {
			literal[strings.TrimSpace(p)] = true
		}
		targets := make([]string, 0, len(ids))
		for _, id := range ids {
			m, ok := registry.GetModel(id)
			if !ok {
				return nil, &dispatch.ValidationError{Field: "models", Message: fmt.Sprintf("unknown model %q (see polychat models)", id)}
			}
			if !m.Capabilities.Text {
				// Globs quietly skip image models; naming one is an error.
				if literal[id] {
					return nil, &dispatch.ValidationError{Field: "models", Message: fmt.Sprintf("model %q does not produce text", id)}
				}
				continue
			}
			targets = append(targets, id)
		}
		return targets, nil
	}
	chat := registry.ListChatModelIDs()
	if all {
		return chat, nil
	}
	return sel.Filter(chat), nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// textSink prints each model's reply as one block once it is final.
// Streaming updates are held back so concurrent replies never interleave.
type textSink struct {
	w        io.Writer
	registry *provider.Registry
	width    int

	header lipgloss.Style
	errs   lipgloss.Style
	dim    lipgloss.Style

	mu      sync.Mutex
	started map[string]time.Time
	ended   map[string]bool
	printed map[string]bool
}

func newTextSink(w io.Writer, registry *provider.Registry, color bool) *textSink {
	s := &textSink{
		w:        w,
		registry: registry,
		width:    80,
		header:   lipgloss.NewStyle(),
		errs:     lipgloss.NewStyle(),
		dim:      lipgloss.NewStyle(),
		started:  make(map[string]time.Time),
		ended:    make(map[string]bool),
		printed:  make(map[string]bool),
	}
	if color {
		if cols, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && cols > 0 {
			s.width = cols
		}
		s.header = s.header.Bold(true).Foreground(lipgloss.Color("#89b4fa"))
		s.errs = s.errs.Foreground(lipgloss.Color("#f38ba8"))
		s.dim = s.dim.Foreground(lipgloss.Color("#6c7086"))
	}
	return s
}

func (s *textSink) AppendUserMessage(modelID, text string, attachments []dispatch.Attachment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started[modelID] = time.Now()
}

func (s *textSink) BeginTyping(modelID string) {}

func (s *textSink) EndTyping(modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended[modelID] = true
}

func (s *textSink) UpdateAssistantText(modelID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Before EndTyping this is a streaming snapshot.
	if !s.ended[modelID] || s.printed[modelID] {
		return
	}
	s.printBlock(modelID, text, false)
}

func (s *textSink) AppendError(modelID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.printed[modelID] {
		return
	}
	s.printBlock(modelID, text, true)
}

func (s *textSink) printBlock(modelID, text string, failed bool) {
	s.printed[modelID] = true

	name := modelID
	if m, ok := s.registry.GetModel(modelID); ok {
		name = m.DisplayName()
	}
	elapsed := ""
	if t, ok := s.started[modelID]; ok {
		elapsed = time.Since(t).Round(100 * time.Millisecond).String()
	}

	title := s.header.Render(name) + " " + s.dim.Render(modelID+" · "+elapsed)
	rule := s.dim.Render(strings.Repeat("─", min(s.width, 80)))
	body := text
	if failed {
		body = s.errs.Render(text)
	}
	fmt.Fprintf(s.w, "%s\n%s\n%s\n\n", title, rule, body)
}

// summary prints the tally and returns errAllFailed when nothing answered.
func (s *textSink) summary(outcomes []dispatch.Outcome) error {
	failed := 0
	for _, o := range outcomes {
		if o.Failed() {
			failed++
		}
	}
	fmt.Fprintln(s.w, s.dim.Render(fmt.Sprintf("%d of %d models answered", len(outcomes)-failed, len(outcomes))))
	if len(outcomes) > 0 && failed == len(outcomes) {
		return errAllFailed
	}
	return nil
}
