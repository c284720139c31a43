package benchmark

import (
	"encoding/json"
	"fmt"

	"github.com/mschirtzinger/sitesync/internal/staging"
)

// Workload record counts before the per-item records.
const fixedRecords = 4 // unit, name, store, location

// WorkloadSize returns how many records GenerateWorkload produces.
func WorkloadSize(numItems, stockLinesPerItem int) int {
	return fixedRecords + numItems*(1+stockLinesPerItem)
}

// GenerateWorkload creates a synthetic site batch: one unit, name, store
// and location, then numItems items (every third with a barcode) each with
// stockLinesPerItem stock lines. Records are returned dependents first so
// integration has to rely on table ordering.
func GenerateWorkload(numItems, stockLinesPerItem int) []*staging.Record {
	records := make([]*staging.Record, 0, WorkloadSize(numItems, stockLinesPerItem))

	for i := 0; i < numItems; i++ {
		itemID := fmt.Sprintf("item-%05d", i)
		for j := 0; j < stockLinesPerItem; j++ {
			lineID := fmt.Sprintf("line-%05d-%02d", i, j)
			records = append(records, record("item_line", lineID, map[string]any{
				"ID":          lineID,
				"item_ID":     itemID,
				"store_ID":    "bench-store",
				"location_ID": "bench-location",
				"batch":       fmt.Sprintf("B%03d", j),
				"pack_size":   10,
				"available":   float64(10 + j),
				"quantity":    float64(10 + j),
				"expiry_date": "2028-01-31",
			}))
		}
	}

	// Weighted toward general items
	types := []string{"general", "general", "general", "service"}
	for i := 0; i < numItems; i++ {
		itemID := fmt.Sprintf("item-%05d", i)
		data := map[string]any{
			"ID":                itemID,
			"item_name":         fmt.Sprintf("Bench item %d", i),
			"code":              fmt.Sprintf("B%05d", i),
			"unit_ID":           "bench-unit",
			"default_pack_size": 10,
			"type_of":           types[i%len(types)],
		}
		if i%3 == 0 {
			data["barcode"] = fmt.Sprintf("9%012d", i)
		}
		records = append(records, record("item", itemID, data))
	}

	records = append(records,
		record("location", "bench-location", map[string]any{
			"ID": "bench-location", "Description": "Main shelf", "code": "MS",
			"store_ID": "bench-store", "hold": false,
		}),
		record("store", "bench-store", map[string]any{
			"ID": "bench-store", "name_ID": "bench-name", "code": "BEN",
			"sync_id_remote_site": 1,
		}),
		record("name", "bench-name", map[string]any{
			"ID": "bench-name", "name": "Bench Facility", "code": "BF",
			"type": "facility", "customer": false, "supplier": false,
		}),
		record("unit", "bench-unit", map[string]any{
			"ID": "bench-unit", "units": "Tablet", "comment": "", "order_number": 1,
		}),
	)
	return records
}

func record(table, id string, data map[string]any) *staging.Record {
	raw, err := json.Marshal(data)
	if err != nil {
		panic(fmt.Sprintf("benchmark record %s/%s: %v", table, id, err))
	}
	return &staging.Record{
		TableName: table,
		RecordID:  id,
		Action:    staging.ActionUpsert,
		Data:      raw,
	}
}
