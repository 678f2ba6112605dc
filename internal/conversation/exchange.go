package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lexiqai/voice-client/internal/transcript"
)

// Exchange runs the non-streaming path: text in, a full reply, synthesized
// speech scheduled for playback. An open streaming session is torn down first.
// Failures are returned and surfaced without affecting any other state.
func (m *Session) Exchange(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("empty message")
	}
	if m.replier == nil || m.synth == nil {
		return errors.New("non-streaming exchange is not configured")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.res != nil {
		m.logger.Info().Msg("Closing streaming session for a text exchange")
		m.teardownLocked(nil)
	}
	m.cancelExchangeLocked()
	ctx, cancel := context.WithCancel(ctx)
	m.exchangeGen++
	gen := m.exchangeGen
	m.exchangeEnd = cancel

	m.transcripts.Add(transcript.RoleLocal, text)
	m.errMsg = ""
	m.pose = PoseThinking
	m.notifyLocked()
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if gen == m.exchangeGen {
			m.exchangeEnd = nil
		}
		m.mu.Unlock()
		cancel()
	}()

	reply, err := m.replier.Reply(ctx, text)
	if err != nil {
		return m.exchangeFailed(gen, fmt.Errorf("text reply failed: %w", err))
	}

	m.mu.Lock()
	if gen != m.exchangeGen {
		m.mu.Unlock()
		return ErrExchangeCancelled
	}
	m.transcripts.Add(transcript.RoleRemote, reply)
	m.notifyLocked()
	m.mu.Unlock()

	chunk, err := m.synth.Synthesize(ctx, reply)
	if err != nil {
		return m.exchangeFailed(gen, fmt.Errorf("speech synthesis failed: %w", err))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.exchangeGen {
		return ErrExchangeCancelled
	}
	if _, err := m.playbackLocked().Enqueue(chunk); err != nil {
		m.errMsg = fmt.Sprintf("playback failed: %v", err)
		m.pose = m.restingPoseLocked()
		m.notifyLocked()
		return err
	}
	m.restartIdleTimerLocked()
	return nil
}

func (m *Session) exchangeFailed(gen uint64, err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if gen != m.exchangeGen {
		return ErrExchangeCancelled
	}
	m.logger.Error().Err(err).Msg("Text exchange failed")
	m.errMsg = err.Error()
	m.pose = m.restingPoseLocked()
	m.notifyLocked()
	return err
}

// cancelExchangeLocked abandons any in-flight exchange
func (m *Session) cancelExchangeLocked() {
	if m.exchangeEnd != nil {
		m.exchangeEnd()
		m.exchangeEnd = nil
	}
	m.exchangeGen++
}
