package view

import (
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var inputLayouts = []string{time.DateOnly, "02/01/2006", "02-01-2006"}

// ParseDate reads a form date; an empty string means today.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}

	for _, layout := range inputLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, errors.New("use YYYY-MM-DD or DD/MM/YYYY")
}

// ParseAmount reads a form amount in euros ("1500", "1 500,50") into cents.
func ParseAmount(s string) (int64, error) {
	clean := strings.NewReplacer(" ", "", "\u00a0", "", "€", "").Replace(strings.TrimSpace(s))
	clean = strings.ReplaceAll(clean, ",", ".")

	d, err := decimal.NewFromString(clean)
	if err != nil {
		return 0, errors.New("not an amount")
	}

	if !d.IsPositive() {
		return 0, errors.New("amount must be positive")
	}

	return d.Shift(2).Round(0).IntPart(), nil
}

func validateDate(s string) error {
	_, err := ParseDate(s)
	return err
}

func validateAmount(s string) error {
	_, err := ParseAmount(s)
	return err
}
