package billing

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

var requiredColumns = []string{"id", "customer", "amount", "created"}

// CSVSource reads charges from a provider CSV export with a header row.
//
// Recognized columns are id, customer, amount (minor units), currency,
// created (unix seconds or RFC3339) and paid. Column order is free and
// unknown columns are ignored. A missing paid column means every charge is
// paid.
type CSVSource struct {
	open func() (io.ReadCloser, error)
	name string
}

// NewCSVSource reads from r. The reader is consumed by the first Charges call.
func NewCSVSource(r io.Reader) *CSVSource {
	return &CSVSource{
		open: func() (io.ReadCloser, error) { return io.NopCloser(r), nil },
		name: "reader",
	}
}

// NewCSVFileSource reads the export at path on every Charges call.
func NewCSVFileSource(path string) *CSVSource {
	return &CSVSource{
		open: func() (io.ReadCloser, error) { return os.Open(path) },
		name: path,
	}
}

// Charges parses the whole export. Any malformed row fails the call with the
// line number of the offending record.
func (s *CSVSource) Charges(ctx context.Context) ([]Charge, error) {
	rc, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("open charges export: %w", err)
	}
	defer rc.Close()

	r := csv.NewReader(rc)
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s: missing header row", s.name)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", s.name, err)
	}

	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range requiredColumns {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", s.name, c)
		}
	}

	var charges []Charge
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		line, _ := r.FieldPos(0)

		ch, err := parseRecord(rec, cols)
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", s.name, line, err)
		}
		charges = append(charges, ch)
	}
	return charges, nil
}

func parseRecord(rec []string, cols map[string]int) (Charge, error) {
	field := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	ch := Charge{
		ID:         field("id"),
		CustomerID: field("customer"),
		Currency:   strings.ToLower(field("currency")),
		Paid:       true,
	}
	if ch.ID == "" {
		return Charge{}, fmt.Errorf("empty charge id")
	}

	amount, err := strconv.ParseInt(field("amount"), 10, 64)
	if err != nil {
		return Charge{}, fmt.Errorf("charge %s: invalid amount %q", ch.ID, field("amount"))
	}
	ch.AmountMinor = amount

	if ch.Created, err = parseCreated(field("created")); err != nil {
		return Charge{}, fmt.Errorf("charge %s: %w", ch.ID, err)
	}

	if v := field("paid"); v != "" {
		if ch.Paid, err = strconv.ParseBool(v); err != nil {
			return Charge{}, fmt.Errorf("charge %s: invalid paid flag %q", ch.ID, v)
		}
	}
	return ch, nil
}

func parseCreated(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("empty created timestamp")
	}
	if secs, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid created timestamp %q", v)
	}
	return t.UTC(), nil
}
