package plan_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"

	"github.com/MrJamesThe3rd/immotrack/internal/importer/plan"
)

func date(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func TestParser_Echeancier(t *testing.T) {
	csv := `Programme Les Terrasses - Lot B12
Acquéreur;M. et Mme Martin

Échéance;Montant;Libellé
01/04/2026;75.000,00;Signature de l'acte
01/07/2026;100 000,00;Achèvement des fondations
01/10/2026;75.000,00;Mise hors d'eau
Total;250.000,00;
`

	items, err := plan.NewParser().Parse(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, date(2026, 4, 1), items[0].DueDate)
	assert.Equal(t, int64(7_500_000), items[0].Amount)
	assert.Equal(t, "Signature de l'acte", items[0].Notes)

	assert.Equal(t, int64(10_000_000), items[1].Amount)
	assert.Equal(t, date(2026, 10, 1), items[2].DueDate)
}

func TestParser_CommaSeparatedDotDecimals(t *testing.T) {
	csv := `Due date,Amount,Notes
2026-04-01,"1,250.50",deposit
2026-05-01,749.50,
`

	items, err := plan.NewParser().Parse(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, int64(125_050), items[0].Amount)
	assert.Equal(t, "deposit", items[0].Notes)
	assert.Equal(t, int64(74_950), items[1].Amount)
	assert.Equal(t, "", items[1].Notes)
}

func TestParser_GenericWithoutNotes(t *testing.T) {
	csv := `Amount;Date
100;01-04-2026
2.500;01-05-2026
`

	items, err := plan.NewParser().Parse(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, int64(10_000), items[0].Amount)
	assert.Equal(t, int64(250_000), items[1].Amount)
	assert.Equal(t, date(2026, 5, 1), items[1].DueDate)
}

func TestParser_Latin1Encoding(t *testing.T) {
	utf8CSV := "Échéance;Montant;Libellé\n01/04/2026;10,00;Réservation\n"

	latin1Bytes, err := charmap.Windows1252.NewEncoder().Bytes([]byte(utf8CSV))
	require.NoError(t, err)

	items, err := plan.NewParser().Parse(bytes.NewReader(latin1Bytes))
	require.NoError(t, err)
	require.Len(t, items, 1)

	assert.Equal(t, "Réservation", items[0].Notes)
	assert.Equal(t, int64(1000), items[0].Amount)
}

func TestParser_UnknownLayout(t *testing.T) {
	_, err := plan.NewParser().Parse(strings.NewReader("Jour;Somme\n01/04/2026;10,00\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no matching plan format")
}

func TestParser_InvalidAmount(t *testing.T) {
	csv := `Échéance;Montant
01/04/2026;dix euros
`

	_, err := plan.NewParser().Parse(strings.NewReader(csv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "row 2")
}

func TestParser_HeaderOnly(t *testing.T) {
	items, err := plan.NewParser().Parse(strings.NewReader("Échéance;Montant"))
	require.NoError(t, err)
	assert.Empty(t, items)
}
