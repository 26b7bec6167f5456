package view

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/bubbles/filepicker"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/importer"
	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
	"github.com/MrJamesThe3rd/immotrack/internal/sale"
)

type importState int

const (
	importStateFilePick importState = iota
	importStateParsing
	importStatePreview
	importStateResult
)

type PlanImportModel struct {
	CommonModel
	ledgerService *ledger.Service
	importService *importer.Service
	actor         actor.Actor
	sale          *sale.Sale

	state      importState
	filePicker filepicker.Model

	plan     []ledger.PlanItem
	total    int64
	planList list.Model

	status string
	err    error
}

func NewPlanImportModel(ledgerSvc *ledger.Service, impSvc *importer.Service, a actor.Actor, sl *sale.Sale) PlanImportModel {
	fp := filepicker.New()
	fp.CurrentDirectory, _ = os.Getwd()
	fp.AllowedTypes = []string{".csv", ".txt"}
	fp.ShowHidden = false
	fp.DirAllowed = false
	fp.FileAllowed = true
	fp.SetHeight(15)

	return PlanImportModel{
		ledgerService: ledgerSvc,
		importService: impSvc,
		actor:         a,
		sale:          sl,
		filePicker:    fp,
	}
}

func (m PlanImportModel) Title() string { return "Import Plan" }

func (m PlanImportModel) ShortHelp() string {
	if m.state == importStatePreview {
		return "Enter: create schedule | Esc: pick another file"
	}

	return "Esc: back | Enter: select"
}

func (m PlanImportModel) Init() tea.Cmd {
	return m.filePicker.Init()
}

func (m PlanImportModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.Type == tea.KeyEsc {
			return m.handleEsc()
		}

		if m.state == importStatePreview {
			if msg.Type == tea.KeyEnter {
				return m, m.createCmd()
			}

			var cmd tea.Cmd
			m.planList, cmd = m.planList.Update(msg)

			return m, cmd
		}

	case parseResultMsg:
		if msg.err != nil {
			m.state = importStateResult
			m.err = msg.err
			m.status = fmt.Sprintf("Error: %v", msg.err)

			return m, nil
		}

		m.plan = msg.plan
		m.total = msg.total
		m.state = importStatePreview

		items := make([]list.Item, len(m.plan))
		for i, p := range m.plan {
			items[i] = planItem{item: p, index: i}
		}

		m.planList = list.New(items, planDelegate{}, 80, 20)
		m.planList.Title = fmt.Sprintf("%d installments, total %s (sale price %s)",
			len(m.plan), FormatAmount(m.total), FormatAmount(m.sale.SalePrice))
		m.planList.SetShowStatusBar(false)
		m.planList.SetFilteringEnabled(false)
		m.planList.SetShowHelp(false)

		return m, nil

	case createResultMsg:
		m.state = importStateResult
		if msg.err != nil {
			m.err = msg.err
			m.status = fmt.Sprintf("Error: %v", msg.err)

			return m, nil
		}

		m.status = fmt.Sprintf("Schedule %s created with %d installments.", shortID(msg.schedule.ID), len(msg.schedule.Installments))

		return m, nil
	}

	if m.state != importStateFilePick {
		return m, nil
	}

	var cmd tea.Cmd
	m.filePicker, cmd = m.filePicker.Update(msg)

	if didSelect, path := m.filePicker.DidSelectFile(msg); didSelect {
		m.state = importStateParsing
		m.status = fmt.Sprintf("Reading %s...", path)

		return m, m.parseCmd(path)
	}

	return m, cmd
}

func (m PlanImportModel) handleEsc() (tea.Model, tea.Cmd) {
	switch m.state {
	case importStatePreview:
		m.state = importStateFilePick
		m.plan = nil

		return m, m.filePicker.Init()
	case importStateResult:
		if m.err == nil {
			return m, Back
		}

		m.state = importStateFilePick
		m.err = nil
		m.status = ""

		return m, m.filePicker.Init()
	}

	return m, Back
}

func (m PlanImportModel) View() string {
	switch m.state {
	case importStateFilePick:
		return lipgloss.NewStyle().Padding(1).Render(
			fmt.Sprintf("Select plan file for sale %s:\n\n%s", shortID(m.sale.ID), m.filePicker.View()),
		)
	case importStateParsing:
		return lipgloss.NewStyle().Padding(2).Render(m.status)
	case importStatePreview:
		return lipgloss.NewStyle().Padding(1).Render(m.planList.View())
	case importStateResult:
		return m.viewResult()
	}

	return ""
}

func (m PlanImportModel) viewResult() string {
	style := lipgloss.NewStyle().Padding(2)
	if m.err != nil {
		return style.Render(
			lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Render(m.status) +
				"\n\n(Esc to go back)",
		)
	}

	return style.Render(
		lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Render(m.status) +
			"\n\n(Esc to go back)",
	)
}

// Messages

type parseResultMsg struct {
	plan  []ledger.PlanItem
	total int64
	err   error
}

type createResultMsg struct {
	schedule *ledger.Schedule
	err      error
}

func (m PlanImportModel) parseCmd(path string) tea.Cmd {
	return func() tea.Msg {
		f, err := os.Open(path)
		if err != nil {
			return parseResultMsg{err: err}
		}
		defer f.Close()

		plan, total, err := m.importService.Import(importer.FormatCSV, f)
		if err != nil {
			return parseResultMsg{err: err}
		}

		return parseResultMsg{plan: plan, total: total}
	}
}

func (m PlanImportModel) createCmd() tea.Cmd {
	plan := m.plan
	total := m.total
	saleID := m.sale.ID

	return func() tea.Msg {
		ctx, cancel := DbCtx()
		defer cancel()

		sched, err := m.ledgerService.CreateSchedule(ctx, m.actor, saleID, total, plan)

		return createResultMsg{schedule: sched, err: err}
	}
}

// Plan preview list

type planItem struct {
	item  ledger.PlanItem
	index int
}

func (i planItem) Title() string       { return "" }
func (i planItem) Description() string { return "" }
func (i planItem) FilterValue() string { return "" }

type planDelegate struct{}

func (d planDelegate) Height() int                             { return 1 }
func (d planDelegate) Spacing() int                            { return 0 }
func (d planDelegate) Update(_ tea.Msg, _ *list.Model) tea.Cmd { return nil }

func (d planDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	item, ok := listItem.(planItem)
	if !ok {
		return
	}

	cursor := "  "
	if index == m.Index() {
		cursor = "> "
	}

	fmt.Fprintf(w, "%s%2d. %s  %14s  %s", cursor, item.index+1,
		FormatDate(item.item.DueDate), FormatAmount(item.item.Amount), item.item.Notes)
}
