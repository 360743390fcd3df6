package reference

import (
	"time"

	"github.com/ehr/clinicdesk/internal/platform/apiclient"
)

// Catalog is the set of dropdown lists loaded once per composer session.
type Catalog struct {
	Doctors     []apiclient.Doctor     `json:"doctors"`
	TestTypes   []apiclient.TestType   `json:"testTypes"`
	Medications []apiclient.Medication `json:"medications"`
	Procedures  []apiclient.Procedure  `json:"procedures"`
	Consumables []apiclient.Consumable `json:"consumables"`
	LoadedAt    time.Time              `json:"loadedAt"`
}

func (c *Catalog) Medication(id string) (apiclient.Medication, bool) {
	if c != nil {
		for _, m := range c.Medications {
			if m.ID == id {
				return m, true
			}
		}
	}
	return apiclient.Medication{}, false
}

func (c *Catalog) TestType(id string) (apiclient.TestType, bool) {
	if c != nil {
		for _, t := range c.TestTypes {
			if t.ID == id {
				return t, true
			}
		}
	}
	return apiclient.TestType{}, false
}

func (c *Catalog) Procedure(id string) (apiclient.Procedure, bool) {
	if c != nil {
		for _, p := range c.Procedures {
			if p.ID == id {
				return p, true
			}
		}
	}
	return apiclient.Procedure{}, false
}

// Consumable looks up a consumable by its charge id.
func (c *Catalog) Consumable(chargeID string) (apiclient.Consumable, bool) {
	if c != nil {
		for _, item := range c.Consumables {
			if item.ID == chargeID {
				return item, true
			}
		}
	}
	return apiclient.Consumable{}, false
}

// InventoryStatus is the stock position of one medication across batches.
type InventoryStatus struct {
	TotalQuantity int     `json:"totalQuantity"`
	HasStock      bool    `json:"hasStock"`
	SellPrice     float64 `json:"sellPrice"`
}

// AggregateInventory folds batches into a status per medication. Expired
// batches do not count towards stock. The sell price is taken from the
// first batch that still has stock, falling back to the first batch seen.
func AggregateInventory(batches []apiclient.InventoryBatch, now time.Time) map[string]InventoryStatus {
	out := make(map[string]InventoryStatus)
	priced := make(map[string]bool)

	for _, b := range batches {
		if b.MedicationID == "" {
			continue
		}
		st, seen := out[b.MedicationID]
		if !seen {
			st.SellPrice = b.SellPrice
		}

		usable := b.Quantity > 0 && (b.ExpiryDate == nil || b.ExpiryDate.After(now))
		if usable {
			st.TotalQuantity += b.Quantity
			st.HasStock = true
			if !priced[b.MedicationID] {
				st.SellPrice = b.SellPrice
				priced[b.MedicationID] = true
			}
		}
		out[b.MedicationID] = st
	}
	return out
}
