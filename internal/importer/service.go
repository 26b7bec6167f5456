package importer

import (
	"fmt"
	"io"

	"github.com/MrJamesThe3rd/immotrack/internal/importer/plan"
	"github.com/MrJamesThe3rd/immotrack/internal/ledger"
)

type Service struct {
	csvImporter Importer
}

func NewService() *Service {
	return &Service{
		csvImporter: plan.NewParser(),
	}
}

// Import parses a plan file into plan items. The total of the resulting
// schedule is the sum of the item amounts.
func (s *Service) Import(format Format, r io.Reader) ([]ledger.PlanItem, int64, error) {
	var importer Importer

	switch format {
	case FormatCSV:
		importer = s.csvImporter
	default:
		return nil, 0, fmt.Errorf("unknown plan format: %s", format)
	}

	items, err := importer.Parse(r)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	for _, item := range items {
		total += item.Amount
	}

	return items, total, nil
}
