package feed

import (
	"bytes"
	"compress/flate"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sawpanic/tradequote/internal/book"
)

// channelArg identifies a channel/instrument pair in both directions of the
// wire protocol.
type channelArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// envelope is the tagged wire envelope. Control frames carry Event (and Msg
// on errors); data frames carry Arg plus a payload array.
type envelope struct {
	Event string         `json:"event,omitempty"`
	Msg   string         `json:"msg,omitempty"`
	Code  string         `json:"code,omitempty"`
	Arg   *channelArg    `json:"arg,omitempty"`
	Data  []bookDataItem `json:"data,omitempty"`
}

// bookDataItem is one depth payload: levels are string-encoded
// [price, qty, ...] rows, ts is server time in epoch milliseconds.
type bookDataItem struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	TS   string     `json:"ts"`
}

// opRequest is the outbound {op, args} envelope used for subscribe,
// unsubscribe, login and ping.
type opRequest struct {
	Op   string `json:"op"`
	Args []any  `json:"args,omitempty"`
}

// loginArg carries the signed authentication payload.
type loginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

// Update is a normalized depth delta delivered to the consumer. A quantity
// of zero removes the level; any other quantity sets it outright.
type Update struct {
	Symbol     string
	Asks       []book.Delta
	Bids       []book.Delta
	Timestamp  time.Time
	ReceivedAt time.Time
}

// decodeFrame inflates a raw-deflate compressed binary frame, or passes a
// text frame through untouched.
func decodeFrame(data []byte, binary bool) ([]byte, error) {
	if !binary {
		return data, nil
	}
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("deflate decompress: %w", err)
	}
	return out, nil
}

// parseEnvelope unmarshals one decoded frame.
func parseEnvelope(data []byte) (*envelope, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	return &env, nil
}

// normalizeUpdate converts one data payload into an Update, converting
// string-encoded numerics and stamping server time with a local-time
// fallback.
func normalizeUpdate(symbol string, item bookDataItem, receivedAt time.Time) (Update, error) {
	asks, err := parseLevels(item.Asks)
	if err != nil {
		return Update{}, fmt.Errorf("asks: %w", err)
	}
	bids, err := parseLevels(item.Bids)
	if err != nil {
		return Update{}, fmt.Errorf("bids: %w", err)
	}

	ts := receivedAt
	if ms, err := strconv.ParseInt(item.TS, 10, 64); err == nil {
		ts = time.UnixMilli(ms)
	}

	return Update{
		Symbol:     symbol,
		Asks:       asks,
		Bids:       bids,
		Timestamp:  ts,
		ReceivedAt: receivedAt,
	}, nil
}

func parseLevels(rows [][]string) ([]book.Delta, error) {
	out := make([]book.Delta, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			return nil, fmt.Errorf("level row has %d fields, want at least 2", len(row))
		}
		price, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("bad price %q: %w", row[0], err)
		}
		qty, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("bad quantity %q: %w", row[1], err)
		}
		out = append(out, book.Delta{Price: price, Qty: qty})
	}
	return out, nil
}

// isBookChannel reports whether a data event belongs to an order-book
// channel this client processes.
func isBookChannel(channel string) bool {
	switch channel {
	case "books", "books5", "books-l2-tbt":
		return true
	}
	return false
}
