package storage

import (
	"errors"
	"fmt"
	"time"
)

// dialect holds the statements whose syntax differs between drivers.
type dialect struct {
	name          string
	upsertPayment string
}

var dialects = map[string]dialect{
	DriverSQLite: {
		name: DriverSQLite,
		upsertPayment: `INSERT INTO payments (charge_id, customer_id, amount, paid_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(charge_id) DO UPDATE SET
				customer_id = excluded.customer_id,
				amount = excluded.amount,
				paid_at = excluded.paid_at`,
	},
	DriverMySQL: {
		name: DriverMySQL,
		upsertPayment: `INSERT INTO payments (charge_id, customer_id, amount, paid_at)
			VALUES (?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
				customer_id = VALUES(customer_id),
				amount = VALUES(amount),
				paid_at = VALUES(paid_at)`,
	},
}

func dialectFor(driver string) dialect {
	return dialects[driver]
}

// errBadTime is wrapped when a stored date cannot be parsed.
var errBadTime = errors.New("unparseable stored time")

var dbTimeLayouts = []string{
	"2006-01-02",
	timestampLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
}

// dbTime scans DATE and DATETIME columns whether the driver hands back a
// time.Time (MySQL with parseTime) or text (SQLite). Values are UTC.
type dbTime struct {
	time.Time
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		return fmt.Errorf("%w: NULL", errBadTime)
	default:
		return fmt.Errorf("unsupported time type %T", src)
	}
}

func (t *dbTime) parse(s string) error {
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("%w: %q", errBadTime, s)
}
