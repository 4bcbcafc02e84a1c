package market

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ReadCSV parses rows of tick,symbol,bid,ask. A leading header row is skipped.
// Quotes are validated individually; grouping and batch checks happen when the
// quotes are turned into a source.
func ReadCSV(r io.Reader) ([]Quote, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 4
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var quotes []Quote
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return quotes, nil
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(rec[0], "tick") {
			continue
		}

		tick, err := strconv.ParseUint(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: tick %q", ErrBadQuote, line, rec[0])
		}
		bid, err := decimal.NewFromString(rec[2])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: bid %q", ErrBadQuote, line, rec[2])
		}
		ask, err := decimal.NewFromString(rec[3])
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: ask %q", ErrBadQuote, line, rec[3])
		}
		q := Quote{Symbol: strings.TrimSpace(rec[1]), Bid: bid, Ask: ask, TickIndex: tick}
		if err := q.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		quotes = append(quotes, q)
	}
}
