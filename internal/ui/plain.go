package ui

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/farmerassist/internal/chat"
	"github.com/xiaot623/farmerassist/internal/domain"
)

// QuitCommand ends an interactive session.
const QuitCommand = "/quit"

// Plain is a line-mode render surface. Assistant answers are printed as
// they stream; user turns are not echoed since the terminal already shows
// them.
type Plain struct {
	out    io.Writer
	errOut io.Writer

	mu sync.Mutex
	// printed counts transcript entries that are fully on screen.
	printed int
	// open is set while the entry at index printed is partially printed.
	open    bool
	partial int
}

// NewPlain creates a line-mode surface writing answers to out and
// notifications to errOut.
func NewPlain(out, errOut io.Writer) *Plain {
	return &Plain{out: out, errOut: errOut}
}

// Render prints whatever part of the transcript is not on screen yet.
func (p *Plain) Render(s chat.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(s.Transcript)
	onScreen := p.printed
	if p.open {
		onScreen++
	}
	if n < onScreen {
		if p.open {
			fmt.Fprintln(p.out, mutedStyle.Render(" [resposta descartada]"))
		}
		p.open = false
		p.partial = 0
		p.printed = n
	}

	for i := p.printed; i < n; i++ {
		msg := s.Transcript[i]
		if msg.Role == domain.RoleUser {
			p.printed++
			continue
		}
		if !p.open {
			fmt.Fprint(p.out, assistantLabel.Render(Title+": "))
			p.open = true
			p.partial = 0
		}
		if p.partial <= len(msg.Content) {
			fmt.Fprint(p.out, msg.Content[p.partial:])
		}
		p.partial = len(msg.Content)

		if i == n-1 && s.Pending {
			break
		}
		fmt.Fprintln(p.out)
		p.open = false
		p.partial = 0
		p.printed++
	}
}

// Notify prints a notification on the error stream.
func (p *Plain) Notify(n domain.Notification) {
	p.mu.Lock()
	defer p.mu.Unlock()

	style := infoToast
	if n.Kind == domain.NotificationError {
		style = errorToast
	}
	fmt.Fprintln(p.errOut, style.Render(fmt.Sprintf("[%s] %s", n.Kind, n.Message)))
}

// Run reads questions line by line from in until EOF, QuitCommand or
// context cancellation. Each question is submitted synchronously, so the
// next prompt only appears once the answer has streamed.
func (p *Plain) Run(ctx context.Context, session *chat.Session, in io.Reader) error {
	p.Render(session.Snapshot())
	fmt.Fprintf(p.out, "Commands: %s to exit\n\n", QuitCommand)

	scanner := bufio.NewScanner(in)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		fmt.Fprint(p.out, promptStyle.Render("> "))
		if !scanner.Scan() {
			fmt.Fprintln(p.out)
			return scanner.Err()
		}

		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == QuitCommand {
			fmt.Fprintln(p.out, "Até logo!")
			return nil
		}

		outcome, err := session.SubmitQuestion(ctx, input)
		log.Debug().Str("session_id", session.ID()).Stringer("outcome", outcome).AnErr("error", err).Msg("question submitted")
	}
}
