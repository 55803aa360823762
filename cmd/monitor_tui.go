// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"

	"github.com/Thermoquad/cellwarden/pkg/board"
	"github.com/Thermoquad/cellwarden/pkg/console"
	"github.com/Thermoquad/cellwarden/pkg/errstatus"
	"github.com/Thermoquad/cellwarden/pkg/ltc6804/sim"
)

const (
	monitorRefresh = 200 * time.Millisecond
	maxEvents      = 200
)

//////////////////////////////////////////////////////////////
// Key bindings
//////////////////////////////////////////////////////////////

type monitorKeyMap struct {
	Charge    key.Binding
	Balance   key.Binding
	Standby   key.Binding
	Stop      key.Binding
	Heartbeat key.Binding
	Discharge key.Binding
	Request   key.Binding
	Fault     key.Binding
	OpenWire  key.Binding
	Command   key.Binding
	Help      key.Binding
	Quit      key.Binding
}

func (k monitorKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Charge, k.Balance, k.Standby, k.Command, k.Help, k.Quit}
}

func (k monitorKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Charge, k.Balance, k.Standby, k.Stop},
		{k.Heartbeat, k.Discharge, k.Request},
		{k.Fault, k.OpenWire},
		{k.Command, k.Help, k.Quit},
	}
}

var monitorKeys = monitorKeyMap{
	Charge:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "console: charge")),
	Balance:   key.NewBinding(key.WithKeys("b"), key.WithHelp("b", "console: balance")),
	Standby:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "console: standby")),
	Stop:      key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "console: withdraw")),
	Heartbeat: key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "vcu heartbeat on/off")),
	Discharge: key.NewBinding(key.WithKeys("d"), key.WithHelp("d", "vcu discharge on/off")),
	Request:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "vcu discharge request")),
	Fault:     key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "charger error on/off")),
	OpenWire:  key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "open wire on/off")),
	Command:   key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "command line")),
	Help:      key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
	Quit:      key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
}

//////////////////////////////////////////////////////////////
// Model
//////////////////////////////////////////////////////////////

type monitorModel struct {
	board   *board.Board
	console *console.Console
	plant   *plant
	drv     *sim.Driver
	eventCh <-chan eventEntry

	state    board.State
	plantSt  plantState
	openWire bool

	cells  table.Model
	input  textinput.Model
	help   help.Model
	events []eventEntry

	width    int
	height   int
	quitting bool
}

type monitorTickMsg time.Time

func newMonitorModel(b *board.Board, con *console.Console, pl *plant, drv *sim.Driver, events <-chan eventEntry) monitorModel {
	ti := textinput.New()
	ti.Placeholder = "help"
	ti.Prompt = "cmd> "
	ti.CharLimit = 64
	ti.Width = 40

	cells := table.New(
		table.WithColumns([]table.Column{
			{Title: "Cell", Width: 5},
			{Title: "Module", Width: 7},
			{Title: "mV", Width: 6},
			{Title: "Bal", Width: 4},
		}),
		table.WithHeight(12),
		table.WithFocused(false),
	)

	return monitorModel{
		board:   b,
		console: con,
		plant:   pl,
		drv:     drv,
		eventCh: events,
		cells:   cells,
		input:   ti,
		help:    help.New(),
		width:   80,
		height:  24,
	}
}

func (m monitorModel) Init() tea.Cmd {
	return monitorTickCmd()
}

func monitorTickCmd() tea.Cmd {
	return tea.Tick(monitorRefresh, func(t time.Time) tea.Msg {
		return monitorTickMsg(t)
	})
}

func (m monitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.cells.SetHeight(max(5, msg.Height-24))

	case monitorTickMsg:
		m.refresh()
		return m, monitorTickCmd()

	case tea.KeyMsg:
		if m.input.Focused() {
			return m.updateInput(msg)
		}
		return m.updateKeys(msg)
	}
	return m, nil
}

func (m monitorModel) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEnter:
		if line := strings.TrimSpace(m.input.Value()); line != "" {
			m.console.Feed(line)
		}
		m.input.SetValue("")
		return m, nil
	case tea.KeyEsc, tea.KeyTab:
		m.input.Blur()
		return m, nil
	case tea.KeyCtrlC:
		m.quitting = true
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m monitorModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, monitorKeys.Quit):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, monitorKeys.Command):
		return m, m.input.Focus()
	case key.Matches(msg, monitorKeys.Help):
		m.help.ShowAll = !m.help.ShowAll
	case key.Matches(msg, monitorKeys.Charge):
		m.console.Feed("mode charge")
	case key.Matches(msg, monitorKeys.Balance):
		m.console.Feed("mode balance")
	case key.Matches(msg, monitorKeys.Standby):
		m.console.Feed("mode standby")
	case key.Matches(msg, monitorKeys.Stop):
		m.console.Feed("stop")
	case key.Matches(msg, monitorKeys.Heartbeat):
		m.plant.heartbeat.Store(!m.plant.heartbeat.Load())
	case key.Matches(msg, monitorKeys.Discharge):
		m.plant.discharge.Store(!m.plant.discharge.Load())
	case key.Matches(msg, monitorKeys.Request):
		m.plant.dischargeReq.Store(true)
	case key.Matches(msg, monitorKeys.Fault):
		m.plant.fault.Store(!m.plant.fault.Load())
	case key.Matches(msg, monitorKeys.OpenWire):
		m.openWire = !m.openWire
		if m.openWire {
			m.drv.InjectOpenWire(0, 1)
		} else {
			m.drv.ClearOpenWire()
		}
	}
	return m, nil
}

func (m *monitorModel) refresh() {
	m.state = m.board.State()
	m.plantSt = m.plant.state()

drain:
	for {
		select {
		case e := <-m.eventCh:
			m.events = append(m.events, e)
		default:
			break drain
		}
	}
	if len(m.events) > maxEvents {
		m.events = m.events[len(m.events)-maxEvents:]
	}

	rows := make([]table.Row, 0, len(m.state.Status.CellVoltagesmV))
	module, inModule := 0, 0
	for i, v := range m.state.Status.CellVoltagesmV {
		for module < len(m.state.Config.ModuleCellCount) && inModule >= int(m.state.Config.ModuleCellCount[module]) {
			module++
			inModule = 0
		}
		inModule++
		bal := ""
		if i < len(m.state.Balance) && m.state.Balance[i] {
			bal = "●"
		}
		rows = append(rows, table.Row{
			fmt.Sprintf("%d", i),
			fmt.Sprintf("%d", module),
			fmt.Sprintf("%d", v),
			bal,
		})
	}
	m.cells.SetRows(rows)
}

//////////////////////////////////////////////////////////////
// View
//////////////////////////////////////////////////////////////

var (
	monTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			Background(lipgloss.Color("235")).
			Padding(0, 1)
	monHeaderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	monLabelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	monValueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	monErrorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	monWarnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	monBoxStyle    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

func onOff(v bool) string {
	if v {
		return monValueStyle.Render("on")
	}
	return monHeaderStyle.Render("off")
}

func (m monitorModel) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	st := m.state
	var s strings.Builder
	s.WriteString(monTitleStyle.Render("CELLWARDEN - PACK MONITOR"))
	s.WriteString("\n")
	s.WriteString(monHeaderStyle.Render(fmt.Sprintf("tick %d | cycles %d | %d cells in %d modules",
		st.Tick, st.Cycles, st.Config.TotalCells(), st.Config.NumModules)))
	s.WriteString("\n\n")

	var status strings.Builder
	fmt.Fprintf(&status, "%s %s   %s %s   %s %s   %s %s\n",
		monLabelStyle.Render("Mode:"), monValueStyle.Render(st.Mode.String()),
		monLabelStyle.Render("Requested:"), monValueStyle.Render(st.Requested.String()),
		monLabelStyle.Render("Charge:"), monValueStyle.Render(st.Charge.String()),
		monLabelStyle.Render("Monitor:"), monValueStyle.Render(st.Monitor.String()),
	)
	fmt.Fprintf(&status, "%s %d-%d mV   %s %d mV   %s %d mA\n",
		monLabelStyle.Render("Cells:"), st.Status.PackCellMinmV, st.Status.PackCellMaxmV,
		monLabelStyle.Render("Pack:"), st.Status.PackVoltagemV,
		monLabelStyle.Render("Current:"), st.Status.PackCurrentmA,
	)
	fmt.Fprintf(&status, "%s %s (req %s)   %s %s   %s %d mV %d mA\n",
		monLabelStyle.Render("Contactors:"), onOff(st.ContactorsClosed), onOff(st.CloseRequested),
		monLabelStyle.Render("Charger:"), onOff(st.ChargerOn),
		monLabelStyle.Render("Target:"), st.ChargeReq.ChargeVoltagemV, st.ChargeReq.ChargeCurrentmA,
	)
	if st.ChargeComplete {
		status.WriteString(monValueStyle.Render("Charge complete, withdraw the request to continue"))
		status.WriteString("\n")
	}
	if st.Status.OpenWire.Valid {
		status.WriteString(monErrorStyle.Render(fmt.Sprintf("Open wire: module %d wire %d",
			st.Status.OpenWire.Module, st.Status.OpenWire.Wire)))
		status.WriteString("\n")
	}
	fmt.Fprintf(&status, "%s rx %d tx %d err %d hb %d vcu %d",
		monLabelStyle.Render("CAN:"), st.Bus.RxFrames, st.Bus.TxFrames, st.Bus.TxErrors, st.Bus.Heartbeats, st.Bus.VCUMessages)

	var plantBox strings.Builder
	pst := m.plantSt
	fmt.Fprintf(&plantBox, "%s %s\n", monLabelStyle.Render("VCU heartbeat:"), onOff(pst.Heartbeat))
	fmt.Fprintf(&plantBox, "%s %s\n", monLabelStyle.Render("VCU discharge:"), onOff(pst.Discharge))
	fmt.Fprintf(&plantBox, "%s %s\n", monLabelStyle.Render("Discharge resp:"), pst.Ready)
	fmt.Fprintf(&plantBox, "%s %s\n", monLabelStyle.Render("Charger error:"), onOff(pst.Fault))
	fmt.Fprintf(&plantBox, "%s %d cA\n", monLabelStyle.Render("Charger out:"), pst.OutputcA)
	fmt.Fprintf(&plantBox, "%s %s", monLabelStyle.Render("Open wire:"), onOff(m.openWire))

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		monBoxStyle.Render(status.String()),
		" ",
		monBoxStyle.Render(plantBox.String()),
	))
	s.WriteString("\n")

	s.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		monBoxStyle.Render(m.cells.View()),
		" ",
		monBoxStyle.Render(m.faultsView()),
	))
	s.WriteString("\n")

	s.WriteString(monLabelStyle.Render("Recent Events:"))
	s.WriteString("\n")
	s.WriteString(monBoxStyle.Width(max(20, m.width-4)).Render(m.eventsView(6)))
	s.WriteString("\n")

	s.WriteString(m.input.View())
	s.WriteString("\n")
	s.WriteString(m.help.View(monitorKeys))
	return s.String()
}

func (m monitorModel) faultsView() string {
	var b strings.Builder
	b.WriteString(monLabelStyle.Render("Faults"))
	b.WriteString("\n")
	for i, f := range errstatus.All {
		if i >= len(m.state.Faults) {
			break
		}
		fs := m.state.Faults[i]
		switch {
		case fs.Asserted:
			b.WriteString(monErrorStyle.Render(fmt.Sprintf("%-14s ASSERTED x%d", f, fs.Count)))
		case fs.Count > 0:
			b.WriteString(monWarnStyle.Render(fmt.Sprintf("%-14s ok (last x%d)", f, fs.Count)))
		default:
			b.WriteString(monHeaderStyle.Render(fmt.Sprintf("%-14s ok", f)))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (m monitorModel) eventsView(lines int) string {
	if len(m.events) == 0 {
		return monHeaderStyle.Render("  (no events yet)")
	}
	start := max(0, len(m.events)-lines)

	var b strings.Builder
	for _, e := range m.events[start:] {
		ts := monHeaderStyle.Render(e.timestamp.Format("15:04:05.000"))
		switch {
		case e.level <= logrus.ErrorLevel:
			fmt.Fprintf(&b, "%s %s\n", ts, monErrorStyle.Render("✗ "+e.message))
		case e.level == logrus.WarnLevel:
			fmt.Fprintf(&b, "%s %s\n", ts, monWarnStyle.Render("! "+e.message))
		default:
			fmt.Fprintf(&b, "%s %s\n", ts, "ℹ "+e.message)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}
