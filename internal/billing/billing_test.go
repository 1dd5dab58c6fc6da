package billing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Kazza-miya/cascade-sales-dashboard/internal/core"
)

func TestChargePayment(t *testing.T) {
	created := time.Date(2025, time.March, 31, 23, 30, 0, 0, time.FixedZone("JST", 9*3600))

	tests := []struct {
		name       string
		charge     Charge
		exponent   int32
		wantAmount string
		wantDate   string
		wantSkip   bool
		wantErr    error
	}{
		{
			name:       "cents",
			charge:     Charge{ID: "ch_1", CustomerID: "cus_1", AmountMinor: 12345, Created: created, Paid: true},
			exponent:   2,
			wantAmount: "123.45",
			wantDate:   "2025-03-31",
		},
		{
			name:       "default exponent",
			charge:     Charge{ID: "ch_2", CustomerID: "cus_1", AmountMinor: 500, Created: created, Paid: true},
			exponent:   -1,
			wantAmount: "5",
			wantDate:   "2025-03-31",
		},
		{
			name:       "zero-decimal currency",
			charge:     Charge{ID: "ch_3", CustomerID: "cus_1", AmountMinor: 1000, Currency: "jpy", Created: created, Paid: true},
			exponent:   0,
			wantAmount: "1000",
			wantDate:   "2025-03-31",
		},
		{
			name:       "utc day boundary",
			charge:     Charge{ID: "ch_4", CustomerID: "cus_1", AmountMinor: 100, Created: time.Date(2025, time.April, 1, 8, 0, 0, 0, time.FixedZone("JST", 9*3600)), Paid: true},
			exponent:   2,
			wantAmount: "1",
			wantDate:   "2025-03-31",
		},
		{
			name:     "unpaid",
			charge:   Charge{ID: "ch_5", CustomerID: "cus_1", AmountMinor: 100, Created: created},
			exponent: 2,
			wantSkip: true,
		},
		{
			name:     "guest charge",
			charge:   Charge{ID: "ch_6", AmountMinor: 100, Created: created, Paid: true},
			exponent: 2,
			wantSkip: true,
		},
		{
			name:     "negative amount",
			charge:   Charge{ID: "ch_7", CustomerID: "cus_1", AmountMinor: -100, Created: created, Paid: true},
			exponent: 2,
			wantErr:  core.ErrNegativeAmount,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.charge.Payment(tt.exponent)
			if tt.wantSkip {
				if !errors.Is(err, ErrSkipCharge) {
					t.Fatalf("Payment() error = %v, want ErrSkipCharge", err)
				}
				return
			}
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Payment() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Payment() error = %v", err)
			}
			if !p.Amount.Equal(decimal.RequireFromString(tt.wantAmount)) {
				t.Errorf("amount = %s, want %s", p.Amount, tt.wantAmount)
			}
			if got := p.PaidAt.Format(core.DateLayout); got != tt.wantDate {
				t.Errorf("paid date = %s, want %s", got, tt.wantDate)
			}
			if p.PaidAt.Location() != time.UTC {
				t.Errorf("paid date location = %v, want UTC", p.PaidAt.Location())
			}
			if p.ChargeID != tt.charge.ID || p.CustomerID != tt.charge.CustomerID {
				t.Errorf("payment = %+v", p)
			}
		})
	}
}

func TestChargeCheckCurrency(t *testing.T) {
	tests := []struct {
		name     string
		currency string
		ledger   string
		wantErr  bool
	}{
		{"same currency", "usd", "usd", false},
		{"case insensitive", "usd", "USD", false},
		{"any currency without ledger", "eur", "", false},
		{"charge without currency", "", "usd", false},
		{"foreign currency", "eur", "usd", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Charge{ID: "ch_1", Currency: tt.currency}.CheckCurrency(tt.ledger)
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckCurrency() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && (!errors.Is(err, ErrForeignCurrency) || !errors.Is(err, ErrSkipCharge)) {
				t.Errorf("error %v should wrap ErrForeignCurrency and ErrSkipCharge", err)
			}
		})
	}
}

func TestCSVSource(t *testing.T) {
	input := `id,customer,amount,currency,created,paid
ch_1,cus_A,1000,JPY,1735689600,true
ch_2, cus_B ,250,usd,2025-02-10T12:00:00Z,false
ch_3,,999,usd,1735689600,true
`
	charges, err := NewCSVSource(strings.NewReader(input)).Charges(context.Background())
	if err != nil {
		t.Fatalf("Charges() error = %v", err)
	}
	if len(charges) != 3 {
		t.Fatalf("got %d charges, want 3", len(charges))
	}

	first := charges[0]
	if first.ID != "ch_1" || first.CustomerID != "cus_A" || first.AmountMinor != 1000 || first.Currency != "jpy" || !first.Paid {
		t.Errorf("first charge = %+v", first)
	}
	if !first.Created.Equal(time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first created = %v", first.Created)
	}

	second := charges[1]
	if second.CustomerID != "cus_B" || second.Paid {
		t.Errorf("second charge = %+v", second)
	}
	if !second.Created.Equal(time.Date(2025, time.February, 10, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("second created = %v", second.Created)
	}
}

func TestCSVSourceColumnOrderAndDefaults(t *testing.T) {
	input := "created,amount,customer,id\n1735689600,100,cus_A,ch_1\n"
	charges, err := NewCSVSource(strings.NewReader(input)).Charges(context.Background())
	if err != nil {
		t.Fatalf("Charges() error = %v", err)
	}
	if len(charges) != 1 || !charges[0].Paid || charges[0].ID != "ch_1" {
		t.Fatalf("charges = %+v", charges)
	}
}

func TestCSVSourceErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "empty input", input: "", want: "missing header"},
		{name: "missing column", input: "id,customer,amount\nch_1,cus_A,1\n", want: `missing column "created"`},
		{name: "bad amount", input: "id,customer,amount,created\nch_1,cus_A,1.5,1735689600\n", want: "line 2"},
		{name: "bad created", input: "id,customer,amount,created\nch_1,cus_A,1,yesterday\n", want: "invalid created timestamp"},
		{name: "bad paid", input: "id,customer,amount,created,paid\nch_1,cus_A,1,1735689600,maybe\n", want: "invalid paid flag"},
		{name: "empty id", input: "id,customer,amount,created\n,cus_A,1,1735689600\n", want: "empty charge id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCSVSource(strings.NewReader(tt.input)).Charges(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Charges() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestCSVFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "charges.csv")
	if err := os.WriteFile(path, []byte("id,customer,amount,created\nch_1,cus_A,100,1735689600\n"), 0644); err != nil {
		t.Fatal(err)
	}

	src := NewCSVFileSource(path)
	for i := 0; i < 2; i++ {
		charges, err := src.Charges(context.Background())
		if err != nil || len(charges) != 1 {
			t.Fatalf("Charges() #%d = %v, %v", i+1, charges, err)
		}
	}

	if _, err := NewCSVFileSource(filepath.Join(t.TempDir(), "missing.csv")).Charges(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestCSVSourceHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewCSVSource(strings.NewReader("id,customer,amount,created\nch_1,cus_A,1,1735689600\n")).Charges(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Charges() error = %v, want context.Canceled", err)
	}
}
