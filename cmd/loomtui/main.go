// Terminal client for writing and branching a story conversation locally.
//
// Usage:
//
//	go run cmd/loomtui/main.go
//
// Commands:
//
//	/fork <name>   - Fork a new branch at the latest message
//	/branches      - Open the branch picker
//	/back          - Navigate back in branch history
//	/forward       - Navigate forward in branch history
//	/rename <name> - Rename the current branch
//	/exit          - Exit the program
//	<message>      - Append a message to the current branch
package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/storyloom/storyloom/pkg/convo"
	"github.com/storyloom/storyloom/pkg/storage"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("2")).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("5")).
			Bold(true)

	systemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	cursorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	selectedItemStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)
	errorStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
)

type state int

const (
	stateChatting state = iota
	stateSelectingBranch
)

type errMsg struct{ err error }
type threadUpdateMsg string

type model struct {
	engine  *convo.Engine
	updates <-chan string

	state      state
	branches   []convo.Branch
	cursor     int
	listOffset int
	width      int
	height     int
	err        error

	viewport viewport.Model
	textarea textarea.Model
}

func initialModel(engine *convo.Engine) model {
	ta := textarea.New()
	ta.Placeholder = "Write something..."
	ta.Focus()
	ta.Prompt = "┃ "
	ta.CharLimit = 2000

	ta.SetWidth(80)
	ta.SetHeight(3)

	ta.FocusedStyle.CursorLine = lipgloss.NewStyle()
	ta.ShowLineNumbers = false

	vp := viewport.New(80, 20)
	vp.SetContent("Welcome! Type a message, or /fork <name> to branch the story.")

	return model{
		engine:   engine,
		updates:  engine.Subscribe(),
		state:    stateChatting,
		viewport: vp,
		textarea: ta,
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.refreshView(), waitForUpdate(m.updates))
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	var tiCmd, vpCmd tea.Cmd
	// Keeps Enter presses in the branch picker out of the textarea.
	switch msg.(type) {
	case tea.KeyMsg:
		if m.state == stateChatting {
			m.textarea, tiCmd = m.textarea.Update(msg)
			cmds = append(cmds, tiCmd)
		}
	default:
		m.textarea, tiCmd = m.textarea.Update(msg)
		cmds = append(cmds, tiCmd)
	}

	m.viewport, vpCmd = m.viewport.Update(msg)
	cmds = append(cmds, vpCmd)

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.textarea.SetWidth(msg.Width)
		m.viewport.Height = msg.Height - m.textarea.Height() - 3
		if m.viewport.Height < 0 {
			m.viewport.Height = 0
		}

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEsc:
			if m.state == stateSelectingBranch {
				m.state = stateChatting
				m.textarea.Focus()
				return m, nil
			}
			return m, tea.Quit
		case tea.KeyEnter:
			if m.state == stateSelectingBranch {
				return m.selectBranch()
			}
			m.err = nil
			return m.submit()
		case tea.KeyUp:
			if m.state == stateSelectingBranch && m.cursor > 0 {
				m.cursor--
				if m.cursor < m.listOffset {
					m.listOffset = m.cursor
				}
			}
		case tea.KeyDown:
			if m.state == stateSelectingBranch && m.cursor < len(m.branches)-1 {
				m.cursor++
				maxViewable := m.height - 7
				if maxViewable < 1 {
					maxViewable = 1
				}
				if m.cursor >= m.listOffset+maxViewable {
					m.listOffset = m.cursor - maxViewable + 1
				}
			}
		case tea.KeyDelete:
			if m.state == stateSelectingBranch && m.cursor < len(m.branches) {
				id := m.branches[m.cursor].ID
				if err := m.engine.DeleteBranch(id); err != nil {
					m.err = err
					return m, nil
				}
				m.branches = m.engine.AvailableBranches()
				if m.cursor >= len(m.branches) {
					m.cursor = len(m.branches) - 1
				}
				return m, m.refreshView()
			}
		}

	case threadUpdateMsg:
		cmds = append(cmds, m.refreshView(), waitForUpdate(m.updates))

	case viewContentMsg:
		m.viewport.SetContent(string(msg))
		m.viewport.GotoBottom()

	case errMsg:
		m.err = msg.err
	}

	return m, tea.Batch(cmds...)
}

func (m model) View() string {
	var errorView string
	if m.err != nil {
		errorView = errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	}

	if m.state == stateSelectingBranch {
		header := titleStyle.Render("Branches")

		maxViewable := m.height - 7
		if maxViewable < 1 {
			maxViewable = 1
		}

		start := m.listOffset
		end := start + maxViewable
		if end > len(m.branches) {
			end = len(m.branches)
		}

		var optionsView []string
		for i := start; i < end; i++ {
			b := m.branches[i]
			cursor := " "
			line := fmt.Sprintf("%s (%d messages)", b.Name, len(b.OwnMessageIDs))
			if b.IsActive {
				line += " *"
			}
			if m.cursor == i {
				cursor = ">"
				line = selectedItemStyle.Render(line)
			}
			optionsView = append(optionsView, fmt.Sprintf("%s %s", cursorStyle.Render(cursor), line))
		}

		list := lipgloss.JoinVertical(lipgloss.Left, optionsView...)
		footer := "Enter to switch, Del to delete, Esc to cancel."

		return lipgloss.JoinVertical(lipgloss.Left, header, "", list, "", footer, errorView)
	}

	header := "Storyloom"
	nav := m.engine.Navigation()
	for _, b := range m.engine.AvailableBranches() {
		if b.ID == nav.CurrentBranchID {
			header = fmt.Sprintf("Storyloom — %s", b.Name)
			break
		}
	}

	return lipgloss.JoinVertical(
		lipgloss.Left,
		titleStyle.Render(header),
		"",
		m.viewport.View(),
		"",
		errorView,
		m.textarea.View(),
	)
}

// Actions

func (m model) selectBranch() (model, tea.Cmd) {
	if m.cursor >= len(m.branches) {
		return m, nil
	}
	if err := m.engine.SwitchToBranch(m.branches[m.cursor].ID); err != nil {
		m.err = err
		return m, nil
	}
	m.state = stateChatting
	m.textarea.Focus()
	return m, m.refreshView()
}

func (m model) submit() (model, tea.Cmd) {
	v := strings.TrimSpace(m.textarea.Value())
	if v == "" {
		return m, nil
	}
	m.textarea.Reset()

	if strings.HasPrefix(v, "/") {
		return m.runCommand(v)
	}

	return m, func() tea.Msg {
		if _, err := m.engine.SendMessage(v, convo.RoleUser); err != nil {
			return errMsg{err}
		}
		return nil
	}
}

func (m model) runCommand(v string) (model, tea.Cmd) {
	cmd, arg, _ := strings.Cut(v, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/exit":
		return m, tea.Quit

	case "/branches":
		m.branches = m.engine.AvailableBranches()
		m.state = stateSelectingBranch
		m.cursor = 0
		m.listOffset = 0
		m.textarea.Blur()
		return m, nil

	case "/fork":
		if arg == "" {
			m.err = fmt.Errorf("usage: /fork <name>")
			return m, nil
		}
		branch, err := m.engine.CreateBranch(arg, "")
		if err != nil {
			m.err = err
			return m, nil
		}
		if err := m.engine.SwitchToBranch(branch.ID); err != nil {
			m.err = err
			return m, nil
		}
		return m, m.refreshView()

	case "/back":
		m.engine.GoBack()
		return m, m.refreshView()

	case "/forward":
		m.engine.GoForward()
		return m, m.refreshView()

	case "/rename":
		if arg == "" {
			m.err = fmt.Errorf("usage: /rename <name>")
			return m, nil
		}
		nav := m.engine.Navigation()
		if err := m.engine.RenameBranch(nav.CurrentBranchID, arg); err != nil {
			m.err = err
			return m, nil
		}
		return m, m.refreshView()

	default:
		m.err = fmt.Errorf("unknown command %q", cmd)
		return m, nil
	}
}

type viewContentMsg string

func (m model) refreshView() tea.Cmd {
	return func() tea.Msg {
		messages := m.engine.CurrentBranchMessages()

		var sb strings.Builder
		for _, msg := range messages {
			switch msg.Role {
			case convo.RoleUser:
				sb.WriteString(userStyle.Render("You: "))
			case convo.RoleAssistant:
				sb.WriteString(assistantStyle.Render("Storyloom: "))
			default:
				sb.WriteString(systemStyle.Render(string(msg.Role) + ": "))
			}
			sb.WriteString("\n")
			sb.WriteString(msg.Content)
			sb.WriteString("\n\n")
		}

		return viewContentMsg(sb.String())
	}
}

func waitForUpdate(sub <-chan string) tea.Cmd {
	return func() tea.Msg {
		id, ok := <-sub
		if !ok {
			return nil
		}
		return threadUpdateMsg(id)
	}
}

// --- Main ---

func main() {
	// Log to a file so slog output does not corrupt the TUI.
	f, err := os.OpenFile("loomtui.log", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer f.Close()

	logLevel := slog.LevelInfo
	switch strings.ToUpper(os.Getenv("LOG_LEVEL")) {
	case "DEBUG":
		logLevel = slog.LevelDebug
	case "WARN":
		logLevel = slog.LevelWarn
	case "ERROR":
		logLevel = slog.LevelError
	}
	handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	dbPath := os.Getenv("STORYLOOM_DB")
	if dbPath == "" {
		wd, _ := os.Getwd()
		dbPath = filepath.Join(wd, "data", "storyloom.db")
	}
	os.MkdirAll(filepath.Dir(dbPath), 0755)

	store, err := storage.OpenSQLite(dbPath)
	if err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}
	defer store.Close()

	engine := convo.New(store)

	topic := os.Getenv("STORYLOOM_TOPIC")
	if topic == "" {
		topic = "untitled story"
	}
	if _, err := engine.Initialize(convo.Config{Topic: topic}); err != nil {
		fmt.Println("fatal:", err)
		os.Exit(1)
	}

	p := tea.NewProgram(initialModel(engine))
	if _, err := p.Run(); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
		os.Exit(1)
	}
}
