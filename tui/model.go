package tui

import (
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"go-ripple/grid"
	"go-ripple/midi"
	"go-ripple/sequencer"
	"go-ripple/session"
	"go-ripple/theme"
	"go-ripple/widgets"
)

type focus int

const (
	focusGrid focus = iota
	focusSaves
	focusPeers
)

type inputMode int

const (
	inputNone inputMode = iota
	inputSaveName
	inputRename
)

const tempoStep = 5.0

type Model struct {
	Manager   *sequencer.Manager
	DeviceMgr *midi.DeviceManager // nil when MIDI is unavailable
	Theme     *theme.Theme

	cursor     grid.Cell
	focus      focus
	saveSel    int
	peerSel    int
	mode       inputMode
	input      string
	status     string
	quitting   bool
	controller midi.Controller // current controller (may be nil)
}

type UpdateMsg struct{}

type DeviceEventMsg midi.DeviceEvent

func NewModel(manager *sequencer.Manager, deviceMgr *midi.DeviceManager, th *theme.Theme) Model {
	return Model{
		Manager:   manager,
		DeviceMgr: deviceMgr,
		Theme:     th,
	}
}

func ListenForUpdates(manager *sequencer.Manager) tea.Cmd {
	return func() tea.Msg {
		<-manager.UpdateChan
		return UpdateMsg{}
	}
}

func ListenForDevices(deviceMgr *midi.DeviceManager) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-deviceMgr.Events()
		if !ok {
			return nil
		}
		return DeviceEventMsg(event)
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{ListenForUpdates(m.Manager)}
	if m.DeviceMgr != nil {
		cmds = append(cmds, ListenForDevices(m.DeviceMgr))
	}
	return tea.Batch(cmds...)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if m.mode != inputNone {
			return m.updateInput(msg), nil
		}
		return m.updateKey(msg)

	case UpdateMsg:
		m.clampSelections()
		return m, ListenForUpdates(m.Manager)

	case DeviceEventMsg:
		event := midi.DeviceEvent(msg)
		if event.Type == midi.DeviceConnected {
			m.controller = event.Controller
			m.Manager.SetController(event.Controller)

			// Listen for pad events from the controller
			go func() {
				for pad := range event.Controller.PadEvents() {
					m.Manager.HandlePad(pad.Row, pad.Col)
				}
			}()
			m.status = "controller connected: " + event.ID
		} else if event.Type == midi.DeviceDisconnected {
			if m.controller != nil && m.controller.ID() == event.ID {
				m.controller = nil
				m.Manager.SetController(nil)
			}
			m.status = "controller disconnected: " + event.ID
		}
		return m, ListenForDevices(m.DeviceMgr)
	}

	return m, nil
}

func (m Model) updateKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		m.Manager.Stop()
		return m, tea.Quit

	case "tab":
		m.focus = (m.focus + 1) % 3
		return m, nil

	case "p":
		m.Manager.TogglePlay()
		return m, nil

	case "+", "=":
		m.setErr(m.Manager.SetTempo(m.Manager.State().Tempo + tempoStep))
		return m, nil

	case "-", "_":
		m.setErr(m.Manager.SetTempo(m.Manager.State().Tempo - tempoStep))
		return m, nil

	case "t":
		m.setErr(m.Manager.NextTuning())
		return m, nil

	case "1", "2", "3", "4":
		m.Manager.SetPage(int(key[0] - '1'))
		return m, nil

	case "S":
		m.mode, m.input = inputSaveName, ""
		return m, nil

	case "N":
		m.mode, m.input = inputRename, ""
		return m, nil
	}

	switch m.focus {
	case focusGrid:
		m.updateGrid(key)
	case focusSaves:
		m.updateSaves(key)
	case focusPeers:
		m.updatePeers(key)
	}
	return m, nil
}

func (m *Model) updateGrid(key string) {
	switch key {
	case "up", "k":
		m.cursor.Row = max(0, m.cursor.Row-1)
	case "down", "j":
		m.cursor.Row = min(grid.GridSize-1, m.cursor.Row+1)
	case "left", "h":
		m.cursor.Col = max(0, m.cursor.Col-1)
	case "right", "l":
		m.cursor.Col = min(grid.GridSize-1, m.cursor.Col+1)
	case " ", "space", "enter":
		m.Manager.Toggle(m.cursor)
	case "c":
		m.Manager.Clear()
	}
}

func (m *Model) updateSaves(key string) {
	saves := m.Manager.Saves()
	switch key {
	case "up", "k":
		m.saveSel = max(0, m.saveSel-1)
	case "down", "j":
		m.saveSel = min(len(saves)-1, m.saveSel+1)
	case "enter", " ", "space":
		if m.saveSel < len(saves) {
			if m.setErr(m.Manager.Load(saves[m.saveSel].ID)) {
				m.status = "loaded " + saves[m.saveSel].Name
			}
		}
	case "x", "delete":
		if m.saveSel < len(saves) {
			m.setErr(m.Manager.DeleteSave(saves[m.saveSel].ID))
		}
	}
	m.clampSelections()
}

func (m *Model) updatePeers(key string) {
	rows := m.peerRows()
	switch key {
	case "up", "k":
		m.peerSel = max(0, m.peerSel-1)
	case "down", "j":
		m.peerSel = min(len(rows)-1, m.peerSel+1)
	case "b":
		if m.peerSel < len(rows) && rows[m.peerSel].participant != nil {
			p := rows[m.peerSel].participant
			if m.setErr(m.Manager.Block(p.Record.ID)) {
				m.status = "blocked " + p.Record.Name
			}
		}
	case "u":
		if m.peerSel < len(rows) && rows[m.peerSel].block != nil {
			b := rows[m.peerSel].block
			if m.setErr(m.Manager.Undeny(b.Address)) {
				m.status = "unblocked " + b.Name
			}
		}
	}
	m.clampSelections()
}

// peerRow is one line of the peers panel: a visible participant or an
// entry of the local denylist
type peerRow struct {
	participant *session.Participant
	block       *session.Block
}

// peerRows lists visible participants followed by blocked addresses.
// Denied records are filtered out of the participant list, so blocks are
// only reachable through the denylist rows.
func (m Model) peerRows() []peerRow {
	var rows []peerRow
	for _, p := range m.Manager.Participants() {
		if p.Blocked {
			continue
		}
		rows = append(rows, peerRow{participant: &p})
	}
	if local := m.Manager.Local(); local != nil {
		for _, b := range local.Blocks {
			rows = append(rows, peerRow{block: &b})
		}
	}
	return rows
}

func (m Model) updateInput(msg tea.KeyMsg) Model {
	switch msg.Type {
	case tea.KeyEsc:
		m.mode, m.input = inputNone, ""
	case tea.KeyEnter:
		name := strings.TrimSpace(m.input)
		mode := m.mode
		m.mode, m.input = inputNone, ""
		if name == "" {
			return m
		}
		switch mode {
		case inputSaveName:
			if _, err := m.Manager.SaveAs(name); m.setErr(err) {
				m.status = "saved " + name
			}
		case inputRename:
			if m.setErr(m.Manager.SetName(name)) {
				m.status = "renamed to " + name
			}
		}
	case tea.KeyBackspace:
		if r := []rune(m.input); len(r) > 0 {
			m.input = string(r[:len(r)-1])
		}
	case tea.KeySpace:
		m.input += " "
	case tea.KeyRunes:
		m.input += string(msg.Runes)
	}
	return m
}

// setErr shows err in the status line and reports whether it was nil
func (m *Model) setErr(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, session.ErrUnresolved):
		// the participant left between render and keypress
		m.status = "participant no longer present"
	default:
		m.status = "error: " + err.Error()
	}
	return false
}

func (m *Model) clampSelections() {
	m.saveSel = max(0, min(m.saveSel, len(m.Manager.Saves())-1))
	m.peerSel = max(0, min(m.peerSel, len(m.peerRows())-1))
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}

	st := m.Manager.State()

	headerStyle := lipgloss.NewStyle().Foreground(m.Theme.Accent())
	dimStyle := lipgloss.NewStyle().Foreground(m.Theme.Muted())
	panelStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.Theme.Muted()).
		Padding(0, 1)
	focusedPanel := panelStyle.BorderForeground(m.Theme.Accent())

	playState := "STOP"
	if st.Playing {
		playState = "PLAY"
	}
	deviceStatus := ""
	if m.controller != nil {
		deviceStatus = fmt.Sprintf("  LP:page %d", st.Page+1)
	}
	name := "(signed out)"
	if local := m.Manager.Local(); local != nil {
		name = local.Name
	}
	header := headerStyle.Render(fmt.Sprintf("go-ripple  %s  %3.0fbpm  %s  col:%02d  %s%s",
		playState, st.Tempo, st.Tuning.Name, st.Column, name, deviceStatus))

	var labels [grid.GridSize]string
	for i := range labels {
		labels[i] = st.Tuning.Pitch(i)
	}
	board := widgets.RenderBoard(widgets.BoardView{
		Snapshot: m.Manager.Board().Snapshot(),
		Tuning:   st.Tuning.Color,
		Cursor:   m.cursor,
		Page:     st.Page,
		Playing:  st.Playing,
		Column:   st.Column,
	}, m.Theme, labels)

	style := func(f focus) lipgloss.Style {
		if m.focus == f {
			return focusedPanel
		}
		return panelStyle
	}

	side := lipgloss.JoinVertical(lipgloss.Left,
		style(focusSaves).Render(m.savesView()),
		style(focusPeers).Render(m.peersView()),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, style(focusGrid).Render(board), " ", side)

	help := dimStyle.Render("tab:panel  hjkl:move  space:toggle  p:play  +/-:tempo  t:tuning  c:clear  S:save  N:name  1-4:pad page  q:quit")

	var out strings.Builder
	out.WriteString("\n")
	out.WriteString(header)
	out.WriteString("\n\n")
	out.WriteString(body)
	out.WriteString("\n")

	switch m.mode {
	case inputSaveName:
		out.WriteString(headerStyle.Render("save as: ") + m.input + "█")
	case inputRename:
		out.WriteString(headerStyle.Render("name: ") + m.input + "█")
	default:
		out.WriteString(help)
	}
	if m.status != "" {
		out.WriteString("\n")
		out.WriteString(lipgloss.NewStyle().Foreground(m.Theme.Warning()).Render(m.status))
	}
	return out.String()
}

func (m Model) savesView() string {
	saves := m.Manager.Saves()
	lines := []string{"Saves  (enter:load x:delete)"}
	if len(saves) == 0 {
		lines = append(lines, "  none yet")
	}
	for i, s := range saves {
		lines = append(lines, fmt.Sprintf("%s %-14s %-16s %3.0f", m.pointer(focusSaves, i == m.saveSel), s.Name, s.Tuning, s.Tempo))
	}
	return strings.Join(lines, "\n")
}

func (m Model) peersView() string {
	lines := []string{fmt.Sprintf("Peers  %d connected  (b:block u:unblock)", m.Manager.Connections())}
	for i, row := range m.peerRows() {
		label := ""
		if row.participant != nil {
			label = peerLabel(*row.participant)
		} else {
			label = blockLabel(*row.block)
		}
		lines = append(lines, fmt.Sprintf("%s %s", m.pointer(focusPeers, i == m.peerSel), label))
	}
	return strings.Join(lines, "\n")
}

func (m Model) pointer(f focus, selected bool) string {
	if m.focus == f && selected {
		return ">"
	}
	return " "
}

func peerLabel(p session.Participant) string {
	label := fmt.Sprintf("%-14s %s", p.Record.Name, shortKey(p.Address))
	if p.Self {
		label += " (you)"
	}
	return label
}

func blockLabel(b session.Block) string {
	return fmt.Sprintf("%-14s %s [blocked]", b.Name, shortKey(b.Address))
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
