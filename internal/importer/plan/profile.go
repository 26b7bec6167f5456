package plan

// Profile describes the column layout of a plan spreadsheet export.
// Supporting another layout is just adding a Profile to the profiles slice.
type Profile struct {
	Name      string
	DateCol   string
	AmountCol string
	NotesCol  string // optional
}

// requiredCols returns the column names that must be present for this profile to match.
func (p Profile) requiredCols() []string {
	return []string{p.DateCol, p.AmountCol}
}

// profiles is the ordered list of plan layouts to try during auto-detection.
// More specific profiles should come first to avoid false matches.
var profiles = []Profile{
	{
		Name:      "échéancier",
		DateCol:   "Échéance",
		AmountCol: "Montant",
		NotesCol:  "Libellé",
	},
	{
		Name:      "due date",
		DateCol:   "Due date",
		AmountCol: "Amount",
		NotesCol:  "Notes",
	},
	{
		Name:      "generic",
		DateCol:   "Date",
		AmountCol: "Amount",
		NotesCol:  "Notes",
	},
}

// dateLayouts are tried in order for every due date cell.
var dateLayouts = []string{
	"02/01/2006",
	"02-01-2006",
	"2006-01-02",
}
