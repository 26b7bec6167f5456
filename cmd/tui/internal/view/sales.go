package view

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/sale"
)

type salesState int

const (
	salesStateBrowse salesState = iota
	salesStateCancel
	salesStateFinalize
)

var statusFilters = []*sale.Status{
	nil,
	new(sale.StatusAwaitingNotary),
	new(sale.StatusInNotaryProcessing),
	new(sale.StatusAwaitingSignatures),
	new(sale.StatusSigned),
	new(sale.StatusFinalized),
	new(sale.StatusCancelled),
}

// OpenScheduleMsg asks the root model to show the schedule of a sale.
type OpenScheduleMsg struct {
	Sale *sale.Sale
}

type SalesModel struct {
	CommonModel
	saleService *sale.Service
	actor       actor.Actor

	state salesState
	table table.Model
	sales []*sale.Sale
	form  *huh.Form

	statusFilterIdx int

	loading bool
	err     error
	status  string

	// Form bindings
	formReason  string
	formConfirm bool
}

func NewSalesModel(saleSvc *sale.Service, a actor.Actor) SalesModel {
	columns := []table.Column{
		{Title: "Created", Width: 12},
		{Title: "Sale", Width: 10},
		{Title: "Status", Width: 22},
		{Title: "Price", Width: 16},
		{Title: "Signatures", Width: 12},
		{Title: "Notary", Width: 10},
	}

	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	t.SetStyles(tableStyles())

	return SalesModel{
		saleService: saleSvc,
		actor:       a,
		table:       t,
		loading:     true,
	}
}

func tableStyles() table.Styles {
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)

	return s
}

func (m SalesModel) Title() string { return "Sales" }
func (m SalesModel) ShortHelp() string {
	if m.state != salesStateBrowse {
		return "Navigate form | Esc: cancel"
	}
	return "Esc: back | Enter: schedule | f: finalize | c: cancel | s: status filter | r: refresh"
}

func (m SalesModel) Init() tea.Cmd {
	return m.loadSalesCmd()
}

func (m SalesModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case loadSalesMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.sales = msg.sales
		m.refreshTable()
		return m, nil

	case saleActionMsg:
		m.status = msg.status
		if msg.err != nil {
			m.status = fmt.Sprintf("Error: %v", msg.err)
		}
		m.state = salesStateBrowse
		m.form = nil
		m.table.Focus()
		return m, m.loadSalesCmd()

	case tea.WindowSizeMsg:
		m.table.SetHeight(msg.Height - 10)
		return m, nil
	}

	if m.state == salesStateBrowse {
		return m.updateBrowse(msg)
	}

	return m.updateForm(msg)
}

func (m SalesModel) updateBrowse(msg tea.Msg) (tea.Model, tea.Cmd) {
	keyMsg, ok := msg.(tea.KeyMsg)
	if ok {
		switch keyMsg.String() {
		case "esc":
			return m, Back
		case "r":
			m.loading = true
			return m, m.loadSalesCmd()
		case "s":
			m.statusFilterIdx = (m.statusFilterIdx + 1) % len(statusFilters)
			return m, m.loadSalesCmd()
		case "enter":
			if sl := m.selected(); sl != nil {
				return m, func() tea.Msg { return OpenScheduleMsg{Sale: sl} }
			}
		case "c":
			return m.enterForm(salesStateCancel)
		case "f":
			return m.enterForm(salesStateFinalize)
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m SalesModel) selected() *sale.Sale {
	idx := m.table.Cursor()
	if idx < 0 || idx >= len(m.sales) {
		return nil
	}

	return m.sales[idx]
}

func (m SalesModel) enterForm(state salesState) (tea.Model, tea.Cmd) {
	sl := m.selected()
	if sl == nil {
		return m, nil
	}

	m.formReason = ""
	m.formConfirm = false

	confirm := huh.NewConfirm().
		Key("confirm").
		Affirmative("Yes").
		Negative("No").
		Value(&m.formConfirm)

	switch state {
	case salesStateCancel:
		m.form = huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Key("reason").
					Title("Reason").
					Value(&m.formReason),
				confirm.Title(fmt.Sprintf("Cancel sale %s and release its unit?", shortID(sl.ID))),
			),
		)
	case salesStateFinalize:
		m.form = huh.NewForm(
			huh.NewGroup(
				confirm.Title(fmt.Sprintf("Release %s to the agency and finalize?", FormatAmount(sl.SalePrice))),
			),
		)
	}

	m.form = m.form.WithWidth(45).WithShowHelp(false)
	m.state = state
	m.table.Blur()

	return m, m.form.Init()
}

func (m SalesModel) updateForm(msg tea.Msg) (tea.Model, tea.Cmd) {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && keyMsg.Type == tea.KeyEsc {
		m.state = salesStateBrowse
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

	if !m.formConfirm {
		m.state = salesStateBrowse
		m.form = nil
		m.table.Focus()
		return m, nil
	}

	return m, m.actionCmd(m.state)
}

func (m SalesModel) View() string {
	if m.loading {
		return lipgloss.NewStyle().Padding(2).Render("Loading sales...")
	}

	if m.err != nil {
		return lipgloss.NewStyle().Padding(2).Render(fmt.Sprintf("Error: %v", m.err))
	}

	label := "All"
	if f := statusFilters[m.statusFilterIdx]; f != nil {
		label = string(*f)
	}

	header := fmt.Sprintf("Acting as %s | Filter: [s] Status: %s", m.actor.Role, activeStyle(label))

	tableView := lipgloss.NewStyle().
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		Render(m.table.View())

	content := lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().PaddingBottom(1).Render(header),
		tableView,
	)

	if m.state != salesStateBrowse && m.form != nil {
		panel := lipgloss.NewStyle().
			Padding(1, 2).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("63")).
			Width(48).
			Render(m.form.View())

		content = lipgloss.JoinHorizontal(lipgloss.Top, content, panel)
	} else if sl := m.selected(); sl != nil && len(sl.History) > 0 {
		last := sl.History[len(sl.History)-1]
		content += "\n" + lipgloss.NewStyle().Faint(true).Render(
			fmt.Sprintf("Last: %s %s by %s", FormatDate(last.At), last.Description, last.ActorRole))
	}

	if m.status != "" {
		content = lipgloss.NewStyle().Faint(true).Render(m.status) + "\n" + content
	}

	return lipgloss.NewStyle().Padding(1).Render(content)
}

func activeStyle(s string) string {
	return lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Render(s)
}

func (m *SalesModel) refreshTable() {
	rows := make([]table.Row, 0, len(m.sales))
	for _, sl := range m.sales {
		notary := "-"
		if sl.NotaryID != nil {
			notary = shortID(*sl.NotaryID)
		}

		rows = append(rows, table.Row{
			FormatDate(sl.CreatedAt),
			shortID(sl.ID),
			string(sl.Status),
			FormatAmount(sl.SalePrice),
			signatureMarks(sl.Signatures),
			notary,
		})
	}
	m.table.SetRows(rows)
}

func signatureMarks(s sale.Signatures) string {
	var b strings.Builder
	for _, party := range sale.SigningParties {
		if s.Signed(party) {
			b.WriteString(strings.ToUpper(string(party)[:1]))
			continue
		}
		b.WriteString(".")
	}

	return b.String()
}

// Messages

type loadSalesMsg struct {
	sales []*sale.Sale
	err   error
}

func (m SalesModel) loadSalesCmd() tea.Cmd {
	filter := sale.ListFilter{Status: statusFilters[m.statusFilterIdx]}

	return func() tea.Msg {
		ctx, cancel := DbCtx()
		defer cancel()

		sales, err := m.saleService.List(ctx, filter)
		return loadSalesMsg{sales: sales, err: err}
	}
}

type saleActionMsg struct {
	status string
	err    error
}

func (m SalesModel) actionCmd(state salesState) tea.Cmd {
	sl := m.selected()
	if sl == nil {
		return nil
	}

	reason := m.formReason

	return func() tea.Msg {
		ctx, cancel := DbCtx()
		defer cancel()

		var err error

		switch state {
		case salesStateCancel:
			_, err = m.saleService.Cancel(ctx, m.actor, sl.ID, reason)
		case salesStateFinalize:
			_, err = m.saleService.Finalize(ctx, m.actor, sl.ID)
		}

		return saleActionMsg{status: fmt.Sprintf("Sale %s updated.", shortID(sl.ID)), err: err}
	}
}
