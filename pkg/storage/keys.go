package storage

import (
	"fmt"
)

// Key schema for Pebble storage
//
// Headers, one key per dataset or run so listing never touches bulk data:
//   idx:ds:<name>            → DatasetMeta (JSON)
//   idx:run:<id>             → RunRecord (JSON)
//
// Datasets (imported quote streams):
//   ds:<name>:t:<tick>       → []market.Quote for one tick (gob)
//
// Run archives (written when a backtest closes):
//   run:<id>:t:<tradeID>     → ledger.Trade (JSON)
//   run:<id>:o:<orderID>     → orderbook.Order left live at close (JSON)
//
// Numeric components are zero-padded to 20 digits so keys sort numerically.

const (
	prefixDataset    = "ds:"
	prefixRun        = "run:"
	prefixDatasetIdx = "idx:ds:"
	prefixRunIdx     = "idx:run:"
)

// datasetIndexKey returns the key for a dataset header
// Format: "idx:ds:{name}"
func datasetIndexKey(name string) []byte { return []byte(prefixDatasetIdx + name) }

// runIndexKey returns the key for an archived run header
// Format: "idx:run:{id}"
func runIndexKey(id string) []byte { return []byte(prefixRunIdx + id) }

// datasetTickKey returns the key for one tick's quote batch
// Format: "ds:{name}:t:{tick}"
func datasetTickKey(name string, tick uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:t:%020d", prefixDataset, name, tick))
}

// datasetPrefix covers every tick of one dataset
func datasetPrefix(name string) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixDataset, name))
}

// runTradeKey returns the key for one archived trade
// Format: "run:{id}:t:{tradeID}"
func runTradeKey(id string, tradeID uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:t:%020d", prefixRun, id, tradeID))
}

func runTradePrefix(id string) []byte {
	return []byte(fmt.Sprintf("%s%s:t:", prefixRun, id))
}

// runOrderKey returns the key for one order still live at close
// Format: "run:{id}:o:{orderID}"
func runOrderKey(id string, orderID uint64) []byte {
	return []byte(fmt.Sprintf("%s%s:o:%020d", prefixRun, id, orderID))
}

func runOrderPrefix(id string) []byte {
	return []byte(fmt.Sprintf("%s%s:o:", prefixRun, id))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
