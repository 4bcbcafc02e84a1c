package exchange

import (
	"encoding/binary"
	"io"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/tickex/pkg/app/core/ledger"
)

// stateHash is a keccak256 digest of the whole run: two runs over the same
// source with the same orders end with the same hash.
//
// Components, in order:
//  1. clock tick (8 bytes, big-endian)
//  2. per symbol, sorted: name, last quote, then live orders by insertion
//  3. ledger length and the running trade digest
func (e *Engine) stateHash() common.Hash {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte

	var tick uint64
	if e.clock != nil {
		tick = e.clock.Index()
	}
	binary.BigEndian.PutUint64(buf[:], tick)
	h.Write(buf[:])

	for _, sym := range e.symbols {
		book := e.books[sym]
		writeField(h, sym)

		if q, ok := book.LastQuote(); ok {
			binary.BigEndian.PutUint64(buf[:], q.TickIndex)
			h.Write(buf[:])
			writeField(h, q.Bid.String())
			writeField(h, q.Ask.String())
		}

		for _, o := range book.Resting() {
			binary.BigEndian.PutUint64(buf[:], o.ID)
			h.Write(buf[:])
			h.Write([]byte{byte(o.Type)})
			writeField(h, o.Shares.String())
			if o.Price != nil {
				writeField(h, o.Price.String())
			}
		}
	}

	binary.BigEndian.PutUint64(buf[:], e.ledger.Len())
	h.Write(buf[:])
	h.Write(e.tradeDigest.Bytes())

	return common.BytesToHash(h.Sum(nil))
}

// chainTrade folds one trade into the running ledger digest.
func chainTrade(prev common.Hash, tr ledger.Trade) common.Hash {
	h := sha3.NewLegacyKeccak256()
	var buf [8]byte

	h.Write(prev.Bytes())
	binary.BigEndian.PutUint64(buf[:], tr.TradeID)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], tr.OrderID)
	h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], tr.TickIndex)
	h.Write(buf[:])
	writeField(h, tr.Symbol)
	writeField(h, tr.Price.String())
	writeField(h, tr.Shares.String())

	return common.BytesToHash(h.Sum(nil))
}

// writeField writes s followed by a zero byte so adjacent fields cannot run together.
func writeField(h io.Writer, s string) {
	h.Write([]byte(s))
	h.Write([]byte{0})
}
