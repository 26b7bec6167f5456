package importer_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrJamesThe3rd/immotrack/internal/importer"
)

func TestService_Import(t *testing.T) {
	type testCase struct {
		name      string
		format    importer.Format
		content   string
		wantLen   int
		wantTotal int64
		wantErr   bool
	}

	tests := []testCase{
		{
			name:      "CSV",
			format:    importer.FormatCSV,
			content:   "Échéance;Montant\n01/04/2026;100,00\n01/05/2026;200,00\n",
			wantLen:   2,
			wantTotal: 30_000,
		},
		{
			name:    "UnknownFormat",
			format:  "xlsx",
			content: "",
			wantErr: true,
		},
		{
			name:    "ParseError",
			format:  importer.FormatCSV,
			content: "nothing useful",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items, total, err := importer.NewService().Import(tt.format, strings.NewReader(tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Len(t, items, tt.wantLen)
			assert.Equal(t, tt.wantTotal, total)
		})
	}
}
