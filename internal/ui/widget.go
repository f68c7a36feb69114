package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/farmerassist/internal/chat"
	"github.com/xiaot623/farmerassist/internal/domain"
)

// ToastTTL is how long a notification stays on screen.
const ToastTTL = 4 * time.Second

const (
	defaultWidth  = 80
	defaultHeight = 24
	// header, spinner line, toasts and input
	chromeHeight = 6
	renderCache  = 128
)

type snapshotMsg chat.Snapshot

type notificationMsg domain.Notification

type toastExpiredMsg struct{ id int }

type submitDoneMsg struct {
	outcome chat.Outcome
	err     error
}

type toast struct {
	id int
	n  domain.Notification
}

// Widget is the Bubble Tea model of the floating chat widget. Closing it
// hides the conversation without resetting the session.
type Widget struct {
	ctx     context.Context
	session *chat.Session

	open       bool
	submitting bool
	snap       chat.Snapshot

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model
	markdown *glamour.TermRenderer
	rendered map[string]string

	toasts  []toast
	toastID int

	width  int
	height int
}

// NewWidget creates the widget model for session, opened.
func NewWidget(ctx context.Context, session *chat.Session) Widget {
	ti := textinput.New()
	ti.Placeholder = Placeholder
	ti.CharLimit = 500
	ti.Prompt = promptStyle.Render("> ")
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(primary)

	w := Widget{
		ctx:      ctx,
		session:  session,
		open:     true,
		snap:     session.Snapshot(),
		input:    ti,
		spinner:  sp,
		viewport: viewport.New(defaultWidth, defaultHeight-chromeHeight),
		rendered: make(map[string]string),
	}
	w.resize(defaultWidth, defaultHeight)
	return w
}

func (w Widget) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, w.spinner.Tick)
}

func (w Widget) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch ev := msg.(type) {
	case tea.WindowSizeMsg:
		w.resize(ev.Width, ev.Height)
		w.refresh()
		return w, nil

	case tea.KeyMsg:
		switch ev.String() {
		case "ctrl+c":
			return w, tea.Quit
		case "ctrl+o":
			w.open = !w.open
			if w.open {
				w.refresh()
			}
			return w, nil
		case "esc":
			w.open = false
			return w, nil
		case "enter":
			if !w.open {
				w.open = true
				w.refresh()
				return w, nil
			}
			return w.submit()
		}

	case snapshotMsg:
		prev := w.snap
		w.snap = chat.Snapshot(ev)
		if w.snap.Pending && !prev.Pending {
			// the question was accepted
			w.input.Reset()
		}
		if w.snap.QuotaExhausted {
			w.input.Placeholder = LimitPlaceholder
			w.input.Blur()
		}
		w.refresh()
		return w, nil

	case notificationMsg:
		w.toastID++
		id := w.toastID
		w.toasts = append(w.toasts, toast{id: id, n: domain.Notification(ev)})
		return w, tea.Tick(ToastTTL, func(time.Time) tea.Msg { return toastExpiredMsg{id: id} })

	case toastExpiredMsg:
		for i, t := range w.toasts {
			if t.id == ev.id {
				w.toasts = append(w.toasts[:i], w.toasts[i+1:]...)
				break
			}
		}
		return w, nil

	case submitDoneMsg:
		w.submitting = false
		log.Debug().Str("session_id", w.session.ID()).Stringer("outcome", ev.outcome).AnErr("error", ev.err).Msg("question submitted")
		return w, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		w.spinner, cmd = w.spinner.Update(msg)
		return w, cmd
	}

	var cmds []tea.Cmd
	var cmd tea.Cmd
	if w.open && !w.snap.QuotaExhausted {
		w.input, cmd = w.input.Update(msg)
		cmds = append(cmds, cmd)
	}
	w.viewport, cmd = w.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return w, tea.Batch(cmds...)
}

// submit hands the input to the session unless an exchange is in flight
// or the quota is used up.
func (w Widget) submit() (tea.Model, tea.Cmd) {
	text := strings.TrimSpace(w.input.Value())
	if text == "" || w.submitting || w.snap.Pending || w.snap.QuotaExhausted {
		return w, nil
	}
	w.submitting = true
	return w, submitCmd(w.ctx, w.session, text)
}

func submitCmd(ctx context.Context, session *chat.Session, text string) tea.Cmd {
	return func() tea.Msg {
		outcome, err := session.SubmitQuestion(ctx, text)
		return submitDoneMsg{outcome: outcome, err: err}
	}
}

func (w *Widget) resize(width, height int) {
	w.width, w.height = width, height
	w.viewport.Width = width
	w.viewport.Height = max(height-chromeHeight, 3)
	w.input.Width = max(width-4, 10)

	r, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"),
		glamour.WithWordWrap(w.bubbleWidth()-4),
	)
	if err != nil {
		log.Warn().Err(err).Msg("markdown renderer unavailable, showing raw text")
		r = nil
	}
	w.markdown = r
	w.rendered = make(map[string]string)
}

func (w Widget) bubbleWidth() int {
	return max(w.width*8/10, 20)
}

// refresh rebuilds the transcript view and keeps it scrolled to the end.
func (w *Widget) refresh() {
	var b strings.Builder
	last := len(w.snap.Transcript) - 1
	for i, msg := range w.snap.Transcript {
		if i > 0 {
			b.WriteString("\n")
		}
		streaming := i == last && w.snap.Pending
		b.WriteString(w.renderMessage(msg, streaming))
		b.WriteString("\n")
	}
	w.viewport.SetContent(b.String())
	w.viewport.GotoBottom()
}

func (w *Widget) renderMessage(msg domain.Message, streaming bool) string {
	bubble := w.bubbleWidth()
	if msg.Role == domain.RoleUser {
		text := userBubbleStyle.MaxWidth(bubble).Render(msg.Content)
		return lipgloss.PlaceHorizontal(w.width, lipgloss.Right, text)
	}
	return assistantBubbleStyle.Width(bubble).Render(w.markdownOf(msg.Content, streaming))
}

// markdownOf renders assistant markdown. Answers still streaming are shown
// raw so that half-written markup does not flicker.
func (w *Widget) markdownOf(content string, streaming bool) string {
	if streaming || w.markdown == nil {
		return content
	}
	if out, ok := w.rendered[content]; ok {
		return out
	}
	out, err := w.markdown.Render(content)
	if err != nil {
		return content
	}
	out = strings.Trim(out, "\n")
	if len(w.rendered) >= renderCache {
		w.rendered = make(map[string]string)
	}
	w.rendered[content] = out
	return out
}

func (w Widget) View() string {
	if !w.open {
		return launcherStyle.Render("💬 "+Title) + mutedStyle.Render("  enter/ctrl+o abre o chat · ctrl+c sai")
	}

	header := headerStyle.Width(w.width).Render("💬 " + Title)
	status := mutedStyle.Render(remainingLabel(w.snap.Remaining()))
	if w.snap.Pending && !w.snap.QuotaExhausted {
		status = w.spinner.View() + " " + mutedStyle.Render("pensando...")
	}

	var toasts []string
	for _, t := range w.toasts {
		style := infoToast
		if t.n.Kind == domain.NotificationError {
			style = errorToast
		}
		toasts = append(toasts, style.Render("● "+t.n.Message))
	}

	parts := []string{header, w.viewport.View(), status}
	parts = append(parts, toasts...)
	parts = append(parts, w.input.View(), mutedStyle.Render("esc fecha · ctrl+c sai"))
	return strings.Join(parts, "\n")
}

func remainingLabel(n int) string {
	switch n {
	case 0:
		return "Sem perguntas restantes"
	case 1:
		return "1 pergunta restante"
	default:
		return fmt.Sprintf("%d perguntas restantes", n)
	}
}
