// Package session implements the bounded-context conversation: preamble and
// memory composition, token-usage accounting with rotation at a context
// threshold, and the per-turn write/bash permission guard. It is
// deliberately independent of every domain type in internal/store — a
// Session only knows about prompts, turns and usage, never about teams or
// tasks. internal/dispatcher is what wires a Session to a particular agent.
package session

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const defaultMaxContextTokens = 80_000

// TurnRequest is what a Session hands to the underlying model runtime for
// one turn.
type TurnRequest struct {
	Message         string
	ExternalHandle  string // empty starts a fresh runtime-side conversation
	Model           string
	CWD             string
	AddDirs         []string
	DisallowedTools []string
	PermissionMode  string
	Guard           *PermissionGuard
}

// TurnResult is what the runtime reports back for one turn.
type TurnResult struct {
	Text           string
	ExternalHandle string
	Usage          TokenDelta
}

// TurnExecutor is the model runtime a Session drives. APIExecutor
// (executor.go, over internal/api.Client for the direct Anthropic API or
// Bedrock) is the production implementation; tests and
// internal/dispatcher's simulation harness
// substitute a fake.
type TurnExecutor interface {
	Turn(ctx context.Context, req TurnRequest) (TurnResult, error)
}

// Config is the construction-time configuration of a Session. Fields left
// zero take the documented default.
type Config struct {
	Preamble string
	Memory   string
	CWD      string

	// MaxContextTokens is the rotation threshold. Zero means the default
	// of 80,000.
	MaxContextTokens int64
	// RotationPrompt, if non-empty, is sent to the model to request its
	// own summary before a hard reset. Empty means hard-reset-only.
	RotationPrompt string
	// OnRotation is invoked after every rotation with the new memory (nil
	// if the rotation could not produce one).
	OnRotation func(memory *string)

	Model string

	// AllowedWritePaths restricts Edit/Write tools to these prefixes. Nil
	// means unrestricted.
	AllowedWritePaths  []string
	DeniedBashPatterns []string
	// AllowedDomains, if non-nil, gates any host a Bash command's command
	// line references. Nil means unrestricted.
	AllowedDomains func(domain string) bool

	AddDirs         []string
	DisallowedTools []string
	PermissionMode  string
}

// Session is a live conversation with an external model, independent of any
// domain type.
type Session struct {
	mu sync.Mutex

	executor TurnExecutor
	cfg      Config
	guard    *PermissionGuard

	id         string
	generation int

	memory         string
	externalHandle string
	usage          Usage
	turns          int

	// rotationSuppressed is set while a rotation's own summary turn is in
	// flight, so needsRotation never re-triggers rotation from inside
	// rotate() itself.
	rotationSuppressed bool
}

// New creates a Session in generation 0 with a fresh id and the configured
// (possibly empty) starting memory.
func New(executor TurnExecutor, cfg Config) *Session {
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = defaultMaxContextTokens
	}
	guard := &PermissionGuard{
		AllowedWritePaths:  cfg.AllowedWritePaths,
		DeniedBashPatterns: cfg.DeniedBashPatterns,
		AllowedDomains:     cfg.AllowedDomains,
	}
	return &Session{
		executor: executor,
		cfg:      cfg,
		guard:    guard,
		id:       uuid.NewString(),
		memory:   cfg.Memory,
	}
}

// ID returns the session's current identity, which changes on every
// rotation.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Generation returns the number of rotations/resets this session has gone
// through.
func (s *Session) Generation() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Memory returns the current accumulated context.
func (s *Session) Memory() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.memory
}

// Usage returns the usage accumulated since the last rotation.
func (s *Session) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// IsActive reports whether the session has a live runtime-side handle to
// resume.
func (s *Session) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.externalHandle != ""
}

// ExternalHandle returns the current runtime-side handle, or "" if the
// session has never sent a turn since its last reset.
func (s *Session) ExternalHandle() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.externalHandle
}

// Turns returns the number of turns sent since the last rotation.
func (s *Session) Turns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.turns
}

// needsRotation locks must already be held by the caller.
func (s *Session) needsRotation() bool {
	if s.rotationSuppressed {
		return false
	}
	return s.usage.InputTokens > s.cfg.MaxContextTokens
}

// Send runs one turn of the conversation, rotating first if the
// accumulated usage has crossed the context threshold. It composes the
// first-turn-of-generation preamble/memory/prompt envelope automatically.
func (s *Session) Send(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	if s.needsRotation() {
		s.mu.Unlock()
		if err := s.Rotate(ctx, ""); err != nil {
			return "", fmt.Errorf("rotate before send: %w", err)
		}
		s.mu.Lock()
	}

	message := prompt
	if s.turns == 0 {
		message = s.composeFirstTurn(prompt)
	}
	req := TurnRequest{
		Message:         message,
		ExternalHandle:  s.externalHandle,
		Model:           s.cfg.Model,
		CWD:             s.cfg.CWD,
		AddDirs:         s.cfg.AddDirs,
		DisallowedTools: s.cfg.DisallowedTools,
		PermissionMode:  s.cfg.PermissionMode,
	}
	if s.guard.Active() {
		req.Guard = s.guard
	}
	s.mu.Unlock()

	result, err := s.executor.Turn(ctx, req)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.usage.add(result.Usage)
	s.turns++
	s.externalHandle = result.ExternalHandle
	s.mu.Unlock()

	return result.Text, nil
}

// composeFirstTurn builds the turn-0 envelope as "## PREAMBLE", the
// preamble, an optional "## MEMORY" section, then the prompt, each
// separated by a blank line, matching original_source/delegate/session.py's
// "\n\n".join(["## PREAMBLE", preamble, "## MEMORY", memory, prompt]).
func (s *Session) composeFirstTurn(prompt string) string {
	parts := []string{"## PREAMBLE", s.cfg.Preamble}
	if s.memory != "" {
		parts = append(parts, "## MEMORY", s.memory)
	}
	parts = append(parts, prompt)
	return strings.Join(parts, "\n\n")
}

// Rotate runs the rotation protocol: optionally asking the model for a
// summary of itself, replacing memory, notifying the caller, and performing
// a hard reset. summaryPromptOverride, if non-empty, takes precedence over
// the configured RotationPrompt for this call only.
func (s *Session) Rotate(ctx context.Context, summaryPromptOverride string) error {
	s.mu.Lock()
	summaryPrompt := s.cfg.RotationPrompt
	if summaryPromptOverride != "" {
		summaryPrompt = summaryPromptOverride
	}
	active := s.externalHandle != ""
	s.mu.Unlock()

	summary := ""
	summaryFailed := false

	if summaryPrompt != "" && active {
		s.mu.Lock()
		s.rotationSuppressed = true
		req := TurnRequest{
			Message:        summaryPrompt,
			ExternalHandle: s.externalHandle,
			Model:          s.cfg.Model,
			CWD:            s.cfg.CWD,
		}
		s.mu.Unlock()

		result, err := s.executor.Turn(ctx, req)

		s.mu.Lock()
		s.rotationSuppressed = false
		s.mu.Unlock()

		if err != nil {
			// A failed summary turn still proceeds to the hard reset
			// below: losing the summary beats a stuck session.
			summaryFailed = true
		} else {
			s.mu.Lock()
			s.usage.add(result.Usage)
			s.mu.Unlock()
			summary = result.Text
		}
	}

	s.mu.Lock()
	s.memory = summary
	if s.cfg.OnRotation != nil {
		cb := s.cfg.OnRotation
		memory := s.memory
		var arg *string
		if !summaryFailed {
			arg = &memory
		}
		s.mu.Unlock()
		cb(arg)
		s.mu.Lock()
	}

	s.id = uuid.NewString()
	s.externalHandle = ""
	s.usage = Usage{}
	s.turns = 0
	s.generation++
	s.mu.Unlock()

	return nil
}
