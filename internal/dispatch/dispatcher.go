package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Dhanuzh/polychat/internal/normalize"
	"github.com/Dhanuzh/polychat/internal/provider"
)

// ImagesUnsupported is shown instead of a reply when a fan-out message
// carries attachments.
const ImagesUnsupported = "Image analysis is not supported in multi-model mode yet."

// ErrEmptyStream is returned by the streaming tier when the stream ended
// without a single text fragment.
var ErrEmptyStream = errors.New("stream produced no text")

// Models resolves model ids to descriptors. *provider.Registry implements it.
type Models interface {
	GetModel(id string) (*provider.ModelDescriptor, bool)
}

// Options are the generation defaults used when a descriptor has none.
type Options struct {
	MaxTokens   int
	Temperature float64
}

// Dispatcher sends one message to one model, falling back through the
// transport tiers until one succeeds.
type Dispatcher struct {
	gateway provider.Gateway
	models  Models
	opts    Options
}

// NewDispatcher creates a dispatcher for the given gateway and model catalog.
func NewDispatcher(gateway provider.Gateway, models Models, opts Options) *Dispatcher {
	return &Dispatcher{gateway: gateway, models: models, opts: opts}
}

// SystemPrompt is the identity instruction sent first in every conversation.
func SystemPrompt(name string) string {
	return fmt.Sprintf("You are %s. Always identify yourself correctly as %s when asked about your identity. Do not claim to be a different model.", name, name)
}

// Turns builds the turn sequence for a call: the system turn, the history and
// the new user message. History that already starts with a system turn is
// used as-is.
func Turns(m *provider.ModelDescriptor, history []provider.Message, message string) []provider.Message {
	turns := make([]provider.Message, 0, len(history)+2)
	if len(history) == 0 || history[0].Role != provider.RoleSystem {
		turns = append(turns, provider.Message{Role: provider.RoleSystem, Content: SystemPrompt(m.DisplayName())})
	}
	turns = append(turns, history...)
	return append(turns, provider.Message{Role: provider.RoleUser, Content: message})
}

// Dispatch runs one model's dispatch to a terminal outcome. Progress and
// errors are reported to sink under modelID only; nothing is returned as an
// error and a panic inside the dispatch becomes a failed outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, modelID, message string, history []provider.Message, attachments []Attachment, sink Sink) (out Outcome) {
	start := time.Now()
	out = Outcome{ModelID: modelID, State: StateStreaming, Tier: TierStream}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("model", modelID).Interface("panic", r).Msg("dispatch panicked")
			out.State = StateFailed
			out.Text = ""
			out.Err = fmt.Errorf("dispatch panicked: %v", r)
			d.reportFailure(sink, modelID, out.Err)
		}
		out.Elapsed = time.Since(start)
	}()

	sink.BeginTyping(modelID)

	if len(attachments) > 0 {
		log.Debug().Str("model", modelID).Int("attachments", len(attachments)).Msg("attachments present, skipping gateway")
		return d.complete(sink, out, ImagesUnsupported)
	}

	m, ok := d.models.GetModel(modelID)
	if !ok {
		out.State = StateFailed
		out.Err = fmt.Errorf("unknown model %q", modelID)
		d.reportFailure(sink, modelID, out.Err)
		return out
	}

	turns := Turns(m, history, message)
	maxTokens, temperature := provider.ResolveParams(m, d.opts.MaxTokens, d.opts.Temperature)
	base := provider.ChatRequest{
		Model:       modelID,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		Extras:      m.Params.Extras,
	}

	tier := TierStream
	for {
		out.Tier = tier
		log.Debug().Str("model", modelID).Stringer("tier", tier).Msg("attempting transport")

		text, err := d.attempt(ctx, tier, base, turns, message, sink)
		s, next := advance(tier, err)
		switch s {
		case stepDone:
			return d.complete(sink, out, text)
		case stepNext:
			log.Warn().Err(err).Str("model", modelID).Stringer("tier", tier).Stringer("next", next).Msg("transport failed, falling back")
			tier = next
		default:
			out.State = StateFailed
			out.Err = &TransportError{Tier: tier, Model: modelID, Err: err}
			log.Warn().Err(err).Str("model", modelID).Stringer("tier", tier).Msg("all transports failed")
			d.reportFailure(sink, modelID, err)
			return out
		}
	}
}

func (d *Dispatcher) attempt(ctx context.Context, tier Tier, base provider.ChatRequest, turns []provider.Message, message string, sink Sink) (string, error) {
	req := base
	switch tier {
	case TierStream:
		req.Messages = turns
		req.Stream = true
		return d.stream(ctx, &req, sink)
	case TierBlocking:
		req.Messages = turns
		return d.blocking(ctx, &req)
	case TierFlattened:
		req.Prompt = provider.FlattenPrompt(turns[0].Content, message)
		return d.blocking(ctx, &req)
	default:
		return "", fmt.Errorf("unknown tier %s", tier)
	}
}

// stream consumes an incremental reply, pushing the growing buffer to the
// sink after each fragment.
func (d *Dispatcher) stream(ctx context.Context, req *provider.ChatRequest, sink Sink) (string, error) {
	s, err := d.gateway.ChatStream(ctx, req)
	if err != nil {
		return "", err
	}
	defer s.Close()

	var buf strings.Builder
	for {
		chunk, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("after %d bytes: %w", buf.Len(), err)
		}
		piece, ok := normalize.Fragment(chunk)
		if !ok || piece == "" {
			continue
		}
		buf.WriteString(piece)
		sink.UpdateAssistantText(req.Model, buf.String())
	}

	if buf.Len() == 0 {
		return "", ErrEmptyStream
	}
	return buf.String(), nil
}

func (d *Dispatcher) blocking(ctx context.Context, req *provider.ChatRequest) (string, error) {
	resp, err := d.gateway.Chat(ctx, req)
	if err != nil {
		return "", err
	}
	return normalize.Normalize(resp), nil
}

func (d *Dispatcher) complete(sink Sink, out Outcome, text string) Outcome {
	out.State = StateComplete
	out.Text = text
	sink.EndTyping(out.ModelID)
	sink.UpdateAssistantText(out.ModelID, text)
	return out
}

func (d *Dispatcher) reportFailure(sink Sink, modelID string, err error) {
	defer recoverSink(modelID)
	sink.EndTyping(modelID)
	sink.AppendError(modelID, "Error: "+provider.FriendlyMessage(err))
}

// appendError reports a failure that happened before the model was called.
func appendError(sink Sink, modelID string, err error) {
	defer recoverSink(modelID)
	sink.AppendError(modelID, "Error: "+provider.FriendlyMessage(err))
}

func recoverSink(modelID string) {
	if r := recover(); r != nil {
		log.Error().Str("model", modelID).Interface("panic", r).Msg("sink panicked while reporting failure")
	}
}
