// Package tui provides a terminal user interface for groove2groove
package tui

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/james-see/groove2groove/pkg/instruments"
	"github.com/james-see/groove2groove/pkg/pipeline"
	"github.com/james-see/groove2groove/pkg/session"
	"github.com/james-see/groove2groove/pkg/slots"
)

var (
	grooveGreen  = lipgloss.Color("#39FF14")
	grooveYellow = lipgloss.Color("#FFFF00")
	silverGray   = lipgloss.Color("#C0C0C0")
	darkGray     = lipgloss.Color("#333333")
	dimGray      = lipgloss.Color("#666666")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(grooveGreen).
			Background(darkGray).
			Padding(0, 2).
			MarginBottom(1)

	menuStyle = lipgloss.NewStyle().
			Foreground(silverGray).
			PaddingLeft(2)

	selectedStyle = lipgloss.NewStyle().
			Foreground(grooveGreen).
			Bold(true).
			PaddingLeft(2)

	detailStyle = lipgloss.NewStyle().
			Foreground(grooveYellow).
			PaddingLeft(4)

	disabledStyle = lipgloss.NewStyle().
			Foreground(dimGray)

	statusStyle = lipgloss.NewStyle().
			Foreground(grooveYellow).
			PaddingTop(1)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF0000")).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(dimGray).
			MarginTop(1)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(grooveGreen).
			Padding(1, 2)
)

// State represents the current TUI state
type State int

const (
	StateSlots State = iota
	StateFilePicker
	StateWorking
)

// tempoStep is the tempo change applied by +/-
const tempoStep = 5.0

// Model represents the TUI model
type Model struct {
	session    *session.Coordinator
	outputDir  string
	state      State
	slotIndex  int
	instrIndex int
	filePicker filepicker.Model
	spinner    spinner.Model
	working    string
	status     string
	err        error
	width      int
	height     int
}

// loadDoneMsg signals that a file was loaded into a slot
type loadDoneMsg struct {
	slot slots.ID
	file string
	view slots.View
	err  error
}

// generateDoneMsg signals that a generation request finished
type generateDoneMsg struct {
	slot slots.ID
	view slots.View
	err  error
}

// New creates a TUI model over sess. Saved files are written to outputDir.
func New(sess *session.Coordinator, outputDir string) Model {
	fp := filepicker.New()
	fp.AllowedTypes = []string{".mid", ".midi", ".pb", ".ns", ".notesequence"}
	fp.CurrentDirectory, _ = os.Getwd()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(grooveGreen)

	return Model{
		session:    sess,
		outputDir:  outputDir,
		state:      StateSlots,
		filePicker: fp,
		spinner:    s,
	}
}

// Init initializes the TUI model
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) currentSlot() slots.ID {
	return slots.Order[m.slotIndex]
}

func (m Model) currentView() slots.View {
	v, _ := m.session.Store().Slot(m.currentSlot())
	return v
}

// Update handles TUI updates
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	// The file picker needs to receive every message while open
	if m.state == StateFilePicker {
		if keyMsg, ok := msg.(tea.KeyMsg); ok {
			switch keyMsg.String() {
			case "esc":
				m.state = StateSlots
				return m, nil
			case "ctrl+c":
				return m, tea.Quit
			}
		}

		var cmd tea.Cmd
		m.filePicker, cmd = m.filePicker.Update(msg)

		if didSelect, path := m.filePicker.DidSelectFile(msg); didSelect {
			m.state = StateWorking
			m.working = fmt.Sprintf("Loading %s into %s", filepath.Base(path), m.currentSlot())
			return m, tea.Batch(m.spinner.Tick, m.loadFile(m.currentSlot(), path))
		}
		return m, cmd
	}

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.filePicker.SetHeight(msg.Height - 10)
		return m, nil

	case tea.KeyMsg:
		if m.state == StateSlots {
			return m.updateSlots(msg)
		}
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case loadDoneMsg:
		m.state = StateSlots
		m.err = msg.err
		if msg.err == nil {
			m.status = fmt.Sprintf("Loaded %s into %s", filepath.Base(msg.file), msg.slot)
			m.instrIndex = 0
		}
		return m, nil

	case generateDoneMsg:
		m.state = StateSlots
		m.err = msg.err
		if msg.err == nil {
			m.status = fmt.Sprintf("Generated %s", msg.view.Name())
			m.instrIndex = 0
		}
		return m, nil
	}

	return m, nil
}

func (m Model) updateSlots(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	id := m.currentSlot()
	controls := m.session.Controls()[id]
	v := m.currentView()

	m.err = nil
	switch msg.String() {
	case "up", "k":
		if m.slotIndex > 0 {
			m.slotIndex--
			m.instrIndex = 0
		}
	case "down", "j":
		if m.slotIndex < len(slots.Order)-1 {
			m.slotIndex++
			m.instrIndex = 0
		}
	case "left", "h":
		if m.instrIndex > 0 {
			m.instrIndex--
		}
	case "right", "l":
		if m.instrIndex < len(v.Instruments)-1 {
			m.instrIndex++
		}
	case " ", "space":
		if controls.EditInstruments && m.instrIndex < len(v.Instruments) {
			_, m.err = m.session.ToggleInstrument(id, v.Instruments[m.instrIndex].Key)
		}
	case "[", "]", "{", "}":
		if controls.EditWindow {
			m.err = m.nudgeWindow(id, v, msg.String())
		}
	case "+", "=", "-":
		if controls.Tempo {
			delta := tempoStep
			if msg.String() == "-" {
				delta = -tempoStep
			}
			if qpm := v.Tempo() + delta; qpm > 0 {
				_, m.err = m.session.OnTempoChanged(id, qpm)
			}
		}
	case "o", "enter":
		if controls.Load {
			m.state = StateFilePicker
			return m, m.filePicker.Init()
		}
	case "g":
		if controls.Generate {
			m.state = StateWorking
			m.working = fmt.Sprintf("Generating %s", id)
			return m, tea.Batch(m.spinner.Tick, m.generate(id))
		}
	case "s":
		if controls.Save {
			m.status, m.err = m.save(id)
		}
	case "e":
		m.status, m.err = m.export()
	case "q", "ctrl+c":
		return m, tea.Quit
	}
	return m, nil
}

// nudgeWindow moves the window end with [ ] and the start with { }
func (m Model) nudgeWindow(id slots.ID, v slots.View, key string) error {
	w := v.Window
	limit := pipeline.FullWindow(v.Full).End
	switch key {
	case "[":
		if w.End > w.Start {
			w.End--
		}
	case "]":
		if w.End < limit {
			w.End++
		}
	case "{":
		if w.Start > 0 {
			w.Start--
		}
	case "}":
		if w.Start < w.End {
			w.Start++
		}
	}
	if w == v.Window {
		return nil
	}
	_, err := m.session.OnTimeWindowChanged(id, w)
	return err
}

func (m Model) loadFile(id slots.ID, path string) tea.Cmd {
	sess := m.session
	return func() tea.Msg {
		data, err := os.ReadFile(path)
		if err != nil {
			return loadDoneMsg{slot: id, file: path, err: err}
		}
		v, err := sess.LoadFile(context.Background(), id, filepath.Base(path), data)
		return loadDoneMsg{slot: id, file: path, view: v, err: err}
	}
}

func (m Model) generate(id slots.ID) tea.Cmd {
	sess := m.session
	return func() tea.Msg {
		v, err := sess.Generate(context.Background(), id)
		return generateDoneMsg{slot: id, view: v, err: err}
	}
}

func (m Model) save(id slots.ID) (string, error) {
	data, name, err := m.session.Save(id)
	if err != nil {
		return "", err
	}
	path := filepath.Join(m.outputDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return "Saved " + path, nil
}

func (m Model) export() (string, error) {
	data, err := m.session.Export()
	if err != nil {
		return "", err
	}
	path := filepath.Join(m.outputDir, "groove2groove-session.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	return "Exported session to " + path, nil
}

// View renders the TUI
func (m Model) View() string {
	var s strings.Builder

	s.WriteString(asciiLogo())
	s.WriteString("\n")

	switch m.state {
	case StateSlots:
		s.WriteString(m.viewSlots())
		s.WriteString("\n")
		s.WriteString(helpStyle.Render("↑/↓: slot • ←/→: instrument • space: toggle • [ ] { }: window • +/-: tempo\no: load • g: generate • s: save • e: export session • q: quit"))
	case StateFilePicker:
		s.WriteString(m.viewFilePicker())
	case StateWorking:
		s.WriteString(m.viewWorking())
	}

	return s.String()
}

func (m Model) viewSlots() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" SLOTS "))
	s.WriteString("\n\n")

	views := m.session.Store().Views()
	controls := m.session.Controls()
	playback := m.session.Playback()

	for i, id := range slots.Order {
		v := views[id]
		line := fmt.Sprintf("%-8s %s", id, slotSummary(v, playback.Playing == id))
		if i != m.slotIndex {
			s.WriteString(menuStyle.Render("  " + line))
			s.WriteString("\n")
			continue
		}

		s.WriteString(selectedStyle.Render("▸ " + line))
		s.WriteString("\n")
		if v.Ready() {
			s.WriteString(detailStyle.Render(m.instrumentLine(v)))
			s.WriteString("\n")
		}
		s.WriteString(detailStyle.Render(controlLine(controls[id])))
		s.WriteString("\n")
	}

	if m.err != nil {
		s.WriteString("\n")
		s.WriteString(errorStyle.Render("✗ " + m.err.Error()))
	} else if m.status != "" {
		s.WriteString(statusStyle.Render(m.status))
	}

	return boxStyle.Render(s.String())
}

func slotSummary(v slots.View, playing bool) string {
	switch {
	case v.Busy:
		return "busy"
	case !v.Ready():
		return disabledStyle.Render("empty")
	}
	summary := fmt.Sprintf("%s  %d notes  window %d-%d  %.1f qpm",
		v.Name(), len(v.Effective.Notes), v.Window.Start, v.Window.End, v.Tempo())
	if playing {
		summary += "  ♪"
	}
	return summary
}

func (m Model) instrumentLine(v slots.View) string {
	parts := make([]string, 0, len(v.Instruments))
	for i, e := range v.Instruments {
		box := "[ ]"
		if v.Selected.Has(e.Key) {
			box = "[x]"
		}
		label := fmt.Sprintf("%s %s", box, instrumentLabel(e))
		if i == m.instrIndex {
			label = "›" + label
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, "  ")
}

func instrumentLabel(e instruments.Entry) string {
	if e.IsDrum {
		return e.Label()
	}
	return fmt.Sprintf("%d:%s", e.Key, e.Label())
}

func controlLine(c slots.Controls) string {
	flag := func(name string, on bool) string {
		if on {
			return name
		}
		return disabledStyle.Render(name)
	}
	return strings.Join([]string{
		flag("load", c.Load),
		flag("window", c.EditWindow),
		flag("instruments", c.EditInstruments),
		flag("tempo", c.Tempo),
		flag("save", c.Save),
		flag("generate", c.Generate),
	}, " ")
}

func (m Model) viewFilePicker() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(fmt.Sprintf(" LOAD %s ", strings.ToUpper(string(m.currentSlot())))))
	s.WriteString("\n\n")
	s.WriteString(m.filePicker.View())
	s.WriteString("\n")
	s.WriteString(helpStyle.Render("esc: back to slots"))

	return s.String()
}

func (m Model) viewWorking() string {
	var s strings.Builder

	s.WriteString(titleStyle.Render(" WORKING "))
	s.WriteString("\n\n")
	s.WriteString(fmt.Sprintf("%s %s...\n", m.spinner.View(), m.working))

	return boxStyle.Render(s.String())
}

func asciiLogo() string {
	logo := `
   ____ ____   ___   _____     _______ ____   ____ ____   ___   _____     _______
  / ___|  _ \ / _ \ / _ \ \   / / ____|___ \ / ___|  _ \ / _ \ / _ \ \   / / ____|
 | |  _| |_) | | | | | | \ \ / /|  _|   __) | |  _| |_) | | | | | | \ \ / /|  _|
 | |_| |  _ <| |_| | |_| |\ V / | |___ / __/| |_| |  _ <| |_| | |_| |\ V / | |___
  \____|_| \_\\___/ \___/  \_/  |_____|_____|\____|_| \_\\___/ \___/  \_/  |_____|
`
	return lipgloss.NewStyle().Foreground(grooveGreen).Render(logo)
}

// Run starts the TUI application
func Run(sess *session.Coordinator, outputDir string) error {
	p := tea.NewProgram(New(sess, outputDir), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
