package view

import (
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
)

// LateModel lists the in-progress schedules with overdue installments.
type LateModel struct {
	CommonModel
	ledgerService *ledger.Service

	table  table.Model
	report []ledger.LateSchedule

	loading bool
	err     error
}

func NewLateModel(ledgerSvc *ledger.Service) LateModel {
	columns := []table.Column{
		{Title: "Schedule", Width: 10},
		{Title: "Sale", Width: 10},
		{Title: "Late", Width: 6},
		{Title: "Oldest due", Width: 12},
		{Title: "Overdue", Width: 16},
		{Title: "Remaining", Width: 16},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	t.SetStyles(tableStyles())

	return LateModel{
		ledgerService: ledgerSvc,
		table:         t,
		loading:       true,
	}
}

func (m LateModel) Title() string     { return "Late Installments" }
func (m LateModel) ShortHelp() string { return "Esc: back | r: refresh" }

func (m LateModel) Init() tea.Cmd {
	return m.loadCmd()
}

func (m LateModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadLateMsg:
		m.loading = false
		m.err = msg.err
		m.report = msg.report
		m.refreshTable()

		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			return m, Back
		case "r":
			m.loading = true
			return m, m.loadCmd()
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)

	return m, cmd
}

func (m LateModel) View() string {
	if m.loading {
		return lipgloss.NewStyle().Padding(2).Render("Loading late installments...")
	}

	if m.err != nil {
		return lipgloss.NewStyle().Padding(2).Render(fmt.Sprintf("Error: %v", m.err))
	}

	if len(m.report) == 0 {
		return lipgloss.NewStyle().Padding(2).Render("No late installments.\n\n(Esc to back)")
	}

	var overdue int64
	for _, ls := range m.report {
		overdue += ls.Overdue
	}

	header := fmt.Sprintf("%d schedules late, %s overdue as of %s",
		len(m.report), activeStyle(FormatAmount(overdue)), FormatDate(m.ledgerService.Now()))

	return lipgloss.NewStyle().Padding(1).Render(lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().PaddingBottom(1).Render(header),
		lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240")).
			Render(m.table.View()),
	))
}

func (m *LateModel) refreshTable() {
	rows := make([]table.Row, 0, len(m.report))
	for _, ls := range m.report {
		oldest := ls.Late[0].DueDate
		for _, inst := range ls.Late[1:] {
			if inst.DueDate.Before(oldest) {
				oldest = inst.DueDate
			}
		}

		rows = append(rows, table.Row{
			shortID(ls.Schedule.ID),
			shortID(ls.Schedule.SaleID),
			fmt.Sprint(len(ls.Late)),
			FormatDate(oldest),
			FormatAmount(ls.Overdue),
			FormatAmount(ls.Schedule.RemainingAmount),
		})
	}
	m.table.SetRows(rows)
}

type loadLateMsg struct {
	report []ledger.LateSchedule
	err    error
}

func (m LateModel) loadCmd() tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := DbCtx()
		defer cancel()

		report, err := m.ledgerService.LateReport(ctx)
		return loadLateMsg{report: report, err: err}
	}
}
