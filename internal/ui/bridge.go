package ui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"

	"github.com/xiaot623/farmerassist/internal/chat"
	"github.com/xiaot623/farmerassist/internal/domain"
)

// Bridge forwards session renders and notifications into a running Bubble
// Tea program. Until a program is attached they are dropped.
type Bridge struct {
	mu      sync.RWMutex
	program *tea.Program
}

// Attach routes further updates to p.
func (b *Bridge) Attach(p *tea.Program) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.program = p
}

func (b *Bridge) send(msg tea.Msg) {
	b.mu.RLock()
	p := b.program
	b.mu.RUnlock()
	if p != nil {
		p.Send(msg)
	}
}

// Render implements chat.Renderer.
func (b *Bridge) Render(s chat.Snapshot) {
	b.send(snapshotMsg(s))
}

// Notify implements chat.Notifier.
func (b *Bridge) Notify(n domain.Notification) {
	b.send(notificationMsg(n))
}

// RunWidget runs the widget for session full-screen until the user quits or
// ctx is cancelled. session must render and notify through bridge.
func RunWidget(ctx context.Context, session *chat.Session, bridge *Bridge, opts ...tea.ProgramOption) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts = append([]tea.ProgramOption{tea.WithAltScreen(), tea.WithContext(ctx)}, opts...)
	p := tea.NewProgram(NewWidget(ctx, session), opts...)
	bridge.Attach(p)
	defer bridge.Attach(nil)

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return errors.Wrap(err, "run chat widget")
	}
	return nil
}
