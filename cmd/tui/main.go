package main

import (
	"log/slog"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/MrJamesThe3rd/immotrack/cmd/tui/internal/view"
	"github.com/MrJamesThe3rd/immotrack/internal/actor"
	"github.com/MrJamesThe3rd/immotrack/internal/config"
	"github.com/MrJamesThe3rd/immotrack/internal/database"
	"github.com/MrJamesThe3rd/immotrack/internal/funds"
	"github.com/MrJamesThe3rd/immotrack/internal/importer"
	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
	ledgerStore "github.com/MrJamesThe3rd/immotrack/internal/ledger/store"
	"github.com/MrJamesThe3rd/immotrack/internal/memstore"
	"github.com/MrJamesThe3rd/immotrack/internal/registry"
	"github.com/MrJamesThe3rd/immotrack/internal/sale"
	saleStore "github.com/MrJamesThe3rd/immotrack/internal/sale/store"
)

type model struct {
	saleService   *sale.Service
	ledgerService *ledger.Service
	importService *importer.Service
	actor         actor.Actor

	// stack of open screens; empty means the menu.
	screens []view.Screen
}

func initialModel() model {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	a := actor.Actor{ID: uuid.New(), Role: actor.Role(cfg.TUI.ActorRole)}
	if cfg.TUI.ActorID != "" {
		if a.ID, err = uuid.Parse(cfg.TUI.ActorID); err != nil {
			slog.Error("invalid TUI_ACTOR_ID", "error", err)
			os.Exit(1)
		}
	}

	if !a.Role.Valid() {
		slog.Error("invalid TUI_ACTOR_ROLE", "role", a.Role)
		os.Exit(1)
	}

	var (
		units    sale.UnitRegistry = registry.NewMemory()
		fundsSvc sale.Funds        = funds.NewMemory()
	)

	if cfg.Registry.URL != "" {
		units = registry.NewClient(cfg.Registry.URL, cfg.Registry.Token)
	}

	if cfg.Funds.URL != "" {
		fundsSvc = funds.NewClient(cfg.Funds.URL, cfg.Funds.Token)
	}

	revision, err := ledger.ParseRevisionMode(cfg.Ledger.AmountRevision)
	if err != nil {
		slog.Error("invalid ledger config", "error", err)
		os.Exit(1)
	}

	var (
		saleRepo   sale.Repository
		ledgerRepo ledger.Repository
	)

	if cfg.DB.Driver == "memory" {
		store := memstore.New()
		saleRepo, ledgerRepo = store.Sales(), store.Ledger()
	} else {
		db, err := database.New(cfg.ConnectionString())
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}

		saleRepo, ledgerRepo = saleStore.New(db), ledgerStore.New(db)
	}

	ledgerService := ledger.NewService(ledgerRepo, units, fundsSvc, ledger.WithRevisionMode(revision))

	return model{
		saleService:   sale.NewService(saleRepo, units, fundsSvc, sale.WithScheduleCloser(ledgerService)),
		ledgerService: ledgerService,
		importService: importer.NewService(),
		actor:         a,
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func (m model) push(s view.Screen) (tea.Model, tea.Cmd) {
	m.screens = append(m.screens, s)
	return m, s.Init()
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if len(m.screens) == 0 {
			switch msg.String() {
			case "ctrl+c", "q":
				return m, tea.Quit
			case "1":
				return m.push(view.NewSalesModel(m.saleService, m.actor))
			case "2":
				return m.push(view.NewLateModel(m.ledgerService))
			}

			return m, nil
		}

		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
	case view.BackMsg:
		if len(m.screens) == 0 {
			return m, nil
		}

		m.screens = m.screens[:len(m.screens)-1]
		if len(m.screens) == 0 {
			return m, nil
		}

		return m, m.screens[len(m.screens)-1].Init()
	case view.OpenScheduleMsg:
		return m.push(view.NewScheduleModel(m.ledgerService, m.actor, msg.Sale))
	case view.OpenImportMsg:
		return m.push(view.NewPlanImportModel(m.ledgerService, m.importService, m.actor, msg.Sale))
	}

	if len(m.screens) == 0 {
		return m, nil
	}

	top := len(m.screens) - 1

	next, cmd := m.screens[top].Update(msg)
	if s, ok := next.(view.Screen); ok {
		m.screens = append(m.screens[:top:top], s)
	}

	return m, cmd
}

var helpStyle = lipgloss.NewStyle().Faint(true).PaddingLeft(1)

func (m model) View() string {
	if len(m.screens) == 0 {
		return lipgloss.NewStyle().Padding(2).Render(
			"Immotrack (" + string(m.actor.Role) + ")\n\n" +
				"1. Sales\n" +
				"2. Late Installments\n\n" +
				"q. Quit",
		)
	}

	s := m.screens[len(m.screens)-1]

	return lipgloss.JoinVertical(lipgloss.Left,
		lipgloss.NewStyle().Bold(true).PaddingLeft(1).Render(s.Title()),
		s.View(),
		helpStyle.Render(s.ShortHelp()),
	)
}

func main() {
	p := tea.NewProgram(initialModel())
	if _, err := p.Run(); err != nil {
		slog.Error("failed to run TUI", "error", err)
		os.Exit(1)
	}
}
