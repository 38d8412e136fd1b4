// Package responder streams an assistant reply into a conversation room.
//
// One Run call handles one user message and moves through
// Idle → RequestSent → Streaming → {Completed, Cancelled, Errored}.
package responder

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	"github.com/zhouzirui/chat-relay/backend/internal/service/ai"
)

// State is the lifecycle position of one generation.
type State int

const (
	Idle State = iota
	RequestSent
	Streaming
	Completed
	Cancelled
	Errored
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case RequestSent:
		return "request_sent"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Errored:
		return "errored"
	default:
		return "unknown"
	}
}

// DefaultHistoryTurns is how many prior messages are sent to the provider.
const DefaultHistoryTurns = 10

const aiErrorMessage = "Failed to get AI response"

// Publisher fans an event out to a room, skipping the exclude connection.
type Publisher interface {
	Publish(ctx context.Context, conversationID string, event chat.Event, exclude string) error
}

// Transcript stores and returns conversation messages.
type Transcript interface {
	SaveMessage(ctx context.Context, message chat.Message) error
	LoadTranscript(ctx context.Context, conversationID string, limit int) ([]chat.Message, error)
}

// Options tunes the provider request.
type Options struct {
	Model        string
	SystemPrompt string
	MaxTokens    int
	HistoryTurns int
	// Timeout bounds one generation; zero disables it.
	Timeout time.Duration
}

// Job is one accepted user message.
type Job struct {
	ConversationID string
	ConnectionID   string
	Content        string
	// History is the transcript tail that preceded Content, filled by Accept.
	History []chat.Message
	// Notify sends a frame to the triggering connection only.
	Notify func(chat.Event)
}

// Responder drives generations. It is safe for concurrent use; each Run
// owns its own StreamingResponse.
type Responder struct {
	provider   ai.Provider
	publisher  Publisher
	transcript Transcript
	opts       Options
}

func New(provider ai.Provider, publisher Publisher, transcript Transcript, opts Options) *Responder {
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = DefaultHistoryTurns
	}
	return &Responder{provider: provider, publisher: publisher, transcript: transcript, opts: opts}
}

// Accept loads the transcript tail, then publishes and stores the user
// message. It runs on the caller's goroutine so messages from one connection
// reach the room in the order they were sent. The returned job carries the
// history for Run.
func (r *Responder) Accept(ctx context.Context, job Job) Job {
	logger := log.With().Str("component", "responder").Str("conv_id", job.ConversationID).
		Str("conn_id", job.ConnectionID).Logger()

	history, err := r.transcript.LoadTranscript(ctx, job.ConversationID, r.opts.HistoryTurns)
	if err != nil {
		logger.Warn().Err(err).Msg("load transcript failed, continuing without history")
		history = nil
	}
	job.History = history

	userMsg := chat.NewMessage(job.ConversationID, chat.RoleUser, job.Content)
	r.publish(ctx, job.ConversationID, chat.MessageReceived(userMsg))
	if err := r.transcript.SaveMessage(ctx, userMsg); err != nil {
		logger.Warn().Err(err).Msg("save user message failed")
	}
	return job
}

// Run streams the reply to an accepted job and returns the terminal state.
// Cancelling ctx aborts the provider call; no further chunk or completion is
// published after that.
func (r *Responder) Run(ctx context.Context, job Job) State {
	logger := log.With().Str("component", "responder").Str("conv_id", job.ConversationID).
		Str("conn_id", job.ConnectionID).Logger()

	genCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	messageID := chat.NewMessageID()
	logger = logger.With().Str("message_id", messageID).Logger()
	state := RequestSent

	stream, err := r.provider.Stream(genCtx, ai.Request{
		Model:     r.opts.Model,
		System:    r.opts.SystemPrompt,
		History:   job.History,
		Prompt:    job.Content,
		MaxTokens: r.opts.MaxTokens,
	})
	if err != nil {
		if ctx.Err() != nil {
			return r.cancel(ctx, job, logger)
		}
		return r.fail(ctx, job, err, logger)
	}
	defer stream.Close()

	var text strings.Builder
	for {
		delta, err := stream.Recv()
		if ctx.Err() != nil {
			return r.cancel(ctx, job, logger)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return r.fail(ctx, job, err, logger)
		}
		if delta == "" {
			continue
		}
		if state == RequestSent {
			state = Streaming
			r.publish(ctx, job.ConversationID, chat.TypingUpdate(chat.AssistantVisitorID, true))
		}
		if ctx.Err() != nil {
			return r.cancel(ctx, job, logger)
		}
		text.WriteString(delta)
		r.publish(ctx, job.ConversationID, chat.AgentStreaming(job.ConversationID, messageID, delta))
	}

	r.publish(ctx, job.ConversationID, chat.TypingUpdate(chat.AssistantVisitorID, false))
	r.publish(ctx, job.ConversationID, chat.AgentComplete(job.ConversationID, messageID))

	reply := chat.NewMessage(job.ConversationID, chat.RoleAssistant, text.String())
	reply.ID = messageID
	r.publish(ctx, job.ConversationID, chat.MessageReceived(reply))
	if err := r.transcript.SaveMessage(ctx, reply); err != nil {
		logger.Warn().Err(err).Msg("save assistant message failed")
	}

	logger.Debug().Int("length", text.Len()).Msg("generation completed")
	return Completed
}

// fail clears the assistant indicator and reports AI_ERROR to the sender.
func (r *Responder) fail(ctx context.Context, job Job, err error, logger zerolog.Logger) State {
	logger.Warn().Err(err).Msg("generation failed")
	r.publish(ctx, job.ConversationID, chat.TypingUpdate(chat.AssistantVisitorID, false))
	if job.Notify != nil {
		job.Notify(chat.Error(chat.CodeAIError, aiErrorMessage))
	}
	return Errored
}

// cancel discards the rest of the stream. The typing indicator is still
// cleared for the members that remain in the room.
func (r *Responder) cancel(ctx context.Context, job Job, logger zerolog.Logger) State {
	logger.Info().Err(context.Cause(ctx)).Msg("generation cancelled")
	r.publish(context.WithoutCancel(ctx), job.ConversationID, chat.TypingUpdate(chat.AssistantVisitorID, false))
	return Cancelled
}

func (r *Responder) publish(ctx context.Context, conversationID string, event chat.Event) {
	if err := r.publisher.Publish(ctx, conversationID, event, ""); err != nil {
		log.Error().Err(err).Str("component", "responder").Str("conv_id", conversationID).
			Str("event", event.Name).Msg("publish failed")
	}
}
