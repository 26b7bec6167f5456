package view

import (
	"errors"
	"fmt"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/apperr"
	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
	"github.com/MrJamesThe3rd/immotrack/internal/sale"
)

type scheduleAction int

const (
	actionNone scheduleAction = iota
	actionPayment
	actionReschedule
	actionRevise
	actionNotes
	actionRefund
)

// OpenImportMsg asks the root model to import a plan for a sale.
type OpenImportMsg struct {
	Sale *sale.Sale
}

type ScheduleModel struct {
	CommonModel
	ledgerService *ledger.Service
	actor         actor.Actor
	sale          *sale.Sale

	schedule *ledger.Schedule
	missing  bool
	table    table.Model

	action scheduleAction
	form   *huh.Form

	loading bool
	err     error
	status  string

	// Form bindings
	formValue   string
	formConfirm bool
}

func NewScheduleModel(ledgerSvc *ledger.Service, a actor.Actor, sl *sale.Sale) ScheduleModel {
	columns := []table.Column{
		{Title: "#", Width: 3},
		{Title: "Due", Width: 12},
		{Title: "Amount", Width: 16},
		{Title: "Status", Width: 10},
		{Title: "Paid on", Width: 12},
		{Title: "Notes", Width: 30},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(12),
	)
	t.SetStyles(tableStyles())

	return ScheduleModel{
		ledgerService: ledgerSvc,
		actor:         a,
		sale:          sl,
		table:         t,
		loading:       true,
	}
}

func (m ScheduleModel) Title() string { return "Schedule" }
func (m ScheduleModel) ShortHelp() string {
	if m.action != actionNone {
		return "Navigate form | Esc: cancel"
	}
	if m.missing {
		return "Esc: back | i: import plan"
	}
	return "Esc: back | p: payment | d: reschedule | a: revise amount | n: notes | R: refund & relist"
}

func (m ScheduleModel) Init() tea.Cmd {
	return m.loadCmd()
}

func (m ScheduleModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadScheduleMsg:
		m.loading = false
		m.missing = errors.Is(msg.err, apperr.ErrNotFound)
		if msg.err != nil && !m.missing {
			m.err = msg.err
			return m, nil
		}
		m.schedule = msg.schedule
		m.refreshTable()
		return m, nil

	case scheduleActionMsg:
		m.action = actionNone
		m.form = nil
		m.table.Focus()
		if msg.err != nil {
			m.status = fmt.Sprintf("Error [%s]: %v", apperr.CodeOf(msg.err), msg.err)
			return m, nil
		}
		m.status = msg.status
		m.schedule = msg.schedule
		m.refreshTable()
		return m, nil
	}

	if m.action != actionNone {
		return m.updateForm(msg)
	}

	keyMsg, ok := msg.(tea.KeyMsg)
	if ok {
		switch keyMsg.String() {
		case "esc":
			return m, Back
		case "i":
			if m.missing {
				sl := m.sale
				return m, func() tea.Msg { return OpenImportMsg{Sale: sl} }
			}
		case "p":
			return m.enterForm(actionPayment)
		case "d":
			return m.enterForm(actionReschedule)
		case "a":
			return m.enterForm(actionRevise)
		case "n":
			return m.enterForm(actionNotes)
		case "R":
			return m.enterForm(actionRefund)
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m ScheduleModel) selected() *ledger.Installment {
	if m.schedule == nil {
		return nil
	}

	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.schedule.Installments) {
		return nil
	}

	return &m.schedule.Installments[idx]
}

func (m ScheduleModel) enterForm(action scheduleAction) (tea.Model, tea.Cmd) {
	inst := m.selected()
	if inst == nil {
		return m, nil
	}

	m.formValue = ""
	m.formConfirm = false

	var field huh.Field

	switch action {
	case actionPayment:
		field = huh.NewInput().Title("Paid on (empty = today)").Placeholder("2006-01-02").
			Value(&m.formValue).Validate(validateDate)
	case actionReschedule:
		m.formValue = FormatDate(inst.DueDate)
		field = huh.NewInput().Title("New due date").Value(&m.formValue).Validate(validateDate)
	case actionRevise:
		field = huh.NewInput().Title(fmt.Sprintf("New amount (now %s)", FormatAmount(inst.Amount))).
			Value(&m.formValue).Validate(validateAmount)
	case actionNotes:
		m.formValue = inst.Notes
		field = huh.NewText().Title("Notes").Value(&m.formValue)
	case actionRefund:
		field = huh.NewConfirm().
			Title(fmt.Sprintf("Refund %s to the client, relist the unit and cancel the sale?",
				FormatAmount(m.schedule.PaidAmount))).
			Affirmative("Refund").
			Negative("No").
			Value(&m.formConfirm)
	}

	m.form = huh.NewForm(huh.NewGroup(field)).WithWidth(45).WithShowHelp(false)
	m.action = action
	m.table.Blur()

	return m, m.form.Init()
}

func (m ScheduleModel) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEsc {
		m.action = actionNone
		m.form = nil
		m.table.Focus()
		return m, nil
	}

	form, cmd := m.form.Update(msg)
	if f, ok := form.(*huh.Form); ok {
		m.form = f
	}

	if m.form.State != huh.StateCompleted {
		return m, cmd
	}

	if m.action == actionRefund && !m.formConfirm {
		m.action = actionNone
		m.form = nil
		m.table.Focus()
		return m, nil
	}

	return m, m.applyCmd(m.action, m.formValue)
}

func (m ScheduleModel) View() string {
	if m.loading {
		return lipgloss.NewStyle().Padding(2).Render("Loading schedule...")
	}

	if m.err != nil {
		return lipgloss.NewStyle().Padding(2).Render(fmt.Sprintf("Error: %v\n\n(Esc to back)", m.err))
	}

	title := fmt.Sprintf("Sale %s (%s)", shortID(m.sale.ID), m.sale.Status)

	if m.missing {
		return lipgloss.NewStyle().Padding(2).Render(
			title + "\n\nNo installment schedule yet.\n\n(i to import a plan, Esc to back)")
	}

	s := m.schedule
	summary := fmt.Sprintf("%s\nSchedule %s [%s]  Total %s  Paid %s  Remaining %s",
		title, shortID(s.ID), activeStyle(string(s.Status)),
		FormatAmount(s.TotalAmount), FormatAmount(s.PaidAmount), FormatAmount(s.RemainingAmount))

	if s.RefundedAmount > 0 {
		summary += fmt.Sprintf("  Refunded %s", FormatAmount(s.RefundedAmount))
	}

	tableView := lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Render(m.table.View())

	content := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().PaddingBottom(1).Render(summary),
		tableView,
	)

	if m.form != nil {
		panel := lipgloss.NewStyle().
			Padding(1, 2).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Width(48).
			Render(m.form.View())

		content = lipgloss.JoinHorizontal(lipgloss.Top, content, panel)
	}

	if m.status != "" {
		content = lipgloss.NewStyle().Faint(true).Render(m.status) + "\n" + content
	}

	return lipgloss.NewStyle().Padding(1).Render(content)
}

var statusColors = map[ledger.InstallmentStatus]lipgloss.Color{
	ledger.InstallmentPaid:      "46",
	ledger.InstallmentLate:      "196",
	ledger.InstallmentUpcoming:  "250",
	ledger.InstallmentCancelled: "240",
}

func (m *ScheduleModel) refreshTable() {
	if m.schedule == nil {
		m.table.SetRows(nil)
		return
	}

	now := m.ledgerService.Now()

	rows := make([]table.Row, 0, len(m.schedule.Installments))
	for i, inst := range m.schedule.Installments {
		status := m.schedule.StatusOf(inst, now)

		rows = append(rows, table.Row{
			fmt.Sprint(i + 1),
			FormatDate(inst.DueDate),
			FormatAmount(inst.Amount),
			lipgloss.NewStyle().Foreground(statusColors[status]).Render(string(status)),
			formatOptionalDate(inst.ActualPaymentDate),
			inst.Notes,
		})
	}
	m.table.SetRows(rows)
}

// Messages

type loadScheduleMsg struct {
	schedule *ledger.Schedule
	err      error
}

func (m ScheduleModel) loadCmd() tea.Cmd {
	saleID := m.sale.ID

	return func() tea.Msg {
		ctx, cancel := DbCtx()
		defer cancel()

		sched, err := m.ledgerService.GetBySale(ctx, saleID)
		return loadScheduleMsg{schedule: sched, err: err}
	}
}

type scheduleActionMsg struct {
	schedule *ledger.Schedule
	status   string
	err      error
}

func (m ScheduleModel) applyCmd(action scheduleAction, value string) tea.Cmd {
	inst := m.selected()
	if inst == nil {
		return nil
	}

	var (
		schedID = m.schedule.ID
		instID  = inst.ID
	)

	return func() tea.Msg {
		ctx, cancel := DbCtx()
		defer cancel()

		var (
			sched  *ledger.Schedule
			err    error
			status string
		)

		switch action {
		case actionPayment:
			paidOn, _ := ParseDate(value)
			sched, err = m.ledgerService.RecordPayment(ctx, m.actor, schedID, instID, paidOn)
			status = "Payment recorded."
		case actionReschedule:
			due, _ := ParseDate(value)
			sched, err = m.ledgerService.Reschedule(ctx, m.actor, schedID, instID, due)
			status = "Installment rescheduled."
		case actionRevise:
			amount, _ := ParseAmount(value)
			sched, err = m.ledgerService.ReviseAmount(ctx, m.actor, schedID, instID, amount)
			status = "Amount revised."
		case actionNotes:
			sched, err = m.ledgerService.UpdateNotes(ctx, m.actor, schedID, instID, value)
			status = "Notes saved."
		case actionRefund:
			sched, err = m.ledgerService.RefundAndRelist(ctx, m.actor, schedID)
			status = "Refund issued, unit relisted, sale cancelled."
		}

		return scheduleActionMsg{schedule: sched, status: status, err: err}
	}
}
