package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BellaBe/crypto-trading-bot-sample/internal/domain"
)

// candleArchivePartSize is the multipart chunk size for candle uploads.
const candleArchivePartSize int64 = 8 * 1024 * 1024

// TradeArchiveStore is the read surface the archiver needs from the trade
// journal.
type TradeArchiveStore interface {
	ListClosedBefore(ctx context.Context, before time.Time) ([]domain.Trade, error)
}

// Archiver serializes closed trades and candle history to JSONL and uploads
// them to cold storage. Deleting archived rows from the primary store is a
// separate, explicit step taken after the archive has been verified.
type Archiver struct {
	writer domain.BlobWriter
	reader *Reader
	trades TradeArchiveStore
}

// NewArchiver creates an Archiver writing through the given blob client and
// checking existing objects through reader, which callers may share with
// other archive consumers.
func NewArchiver(c *Client, reader *Reader, trades TradeArchiveStore) *Archiver {
	return &Archiver{
		writer: NewWriter(c),
		reader: reader,
		trades: trades,
	}
}

// ArchiveTrades uploads all trades closed at or before the cutoff to
// archive/trades/YYYY-MM.jsonl and returns the archived count.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := fmt.Sprintf("archive/trades/%s.jsonl", before.UTC().Format("2006-01"))
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	return int64(len(trades)), nil
}

// ArchiveCandles uploads one day of candle history for a series to
// archive/candles/{exchange}/{symbol}/{timeframe}/YYYY-MM-DD.jsonl. An
// already-archived day is skipped, so the daily archive pass is idempotent.
func (a *Archiver) ArchiveCandles(ctx context.Context, exchange, symbol string, tf domain.Timeframe, day time.Time, candles []domain.Candle) (int64, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	path := fmt.Sprintf("archive/candles/%s/%s/%s/%s.jsonl",
		exchange, symbol, tf, day.UTC().Format("2006-01-02"))

	exists, err := a.reader.Exists(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive candles check: %w", err)
	}
	if exists {
		return 0, nil
	}

	buf, err := marshalJSONL(candles)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive candles marshal: %w", err)
	}

	if err := a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), candleArchivePartSize); err != nil {
		return 0, fmt.Errorf("s3blob: archive candles upload: %w", err)
	}
	return int64(len(candles)), nil
}

// ArchivedMonths lists the existing trade archive objects.
func (a *Archiver) ArchivedMonths(ctx context.Context) ([]domain.BlobInfo, error) {
	return a.reader.List(ctx, "archive/trades/")
}

// marshalJSONL serializes a slice of records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, record := range records {
		if err := enc.Encode(record); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
