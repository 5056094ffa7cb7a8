package ingestion

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"PayLedger/internal/event"

	"github.com/rs/zerolog"
)

// CSVSource streams events from a CSV file with the header
// type,client,tx,amount. Rows that fail to parse are logged and skipped.
type CSVSource struct {
	path   string
	logger zerolog.Logger
}

// NewCSVSource creates a source for the file at path.
func NewCSVSource(path string, logger zerolog.Logger) *CSVSource {
	return &CSVSource{
		path:   path,
		logger: logger.With().Str("source", path).Logger(),
	}
}

// Run sends one StreamMessage per parsed row followed by EndOfStream. If the
// file cannot be opened nothing is sent and the error is returned.
func (s *CSVSource) Run(ctx context.Context, out chan<- event.StreamMessage) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	return s.stream(ctx, f, out)
}

func (s *CSVSource) stream(ctx context.Context, r io.Reader, out chan<- event.StreamMessage) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // the amount column may be missing on dispute rows
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	columns, err := s.readHeader(cr)
	if err != nil {
		return err
	}

	var sent, skipped int
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				skipped++
				s.logger.Warn().Err(err).Msg("skipping unreadable row")
				continue
			}
			return fmt.Errorf("read %s: %w", s.path, err)
		}

		ev, err := ParseRecord(columns.project(row))
		if err != nil {
			skipped++
			line, _ := cr.FieldPos(0)
			s.logger.Warn().Err(err).Int("line", line).Msg("skipping malformed row")
			continue
		}

		if err := send(ctx, out, event.Value(ev)); err != nil {
			return err
		}
		sent++
	}

	s.logger.Info().Int("events", sent).Int("skipped", skipped).Msg("csv source exhausted")
	return send(ctx, out, event.EndOfStream())
}

// columnIndex maps the canonical column order onto the file's header.
type columnIndex [4]int

func (s *CSVSource) readHeader(cr *csv.Reader) (columnIndex, error) {
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return columnIndex{}, fmt.Errorf("read %s: empty file", s.path)
		}
		return columnIndex{}, fmt.Errorf("read header of %s: %w", s.path, err)
	}

	idx := columnIndex{-1, -1, -1, -1}
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "type":
			idx[0] = i
		case "client":
			idx[1] = i
		case "tx":
			idx[2] = i
		case "amount":
			idx[3] = i
		}
	}
	for i, name := range []string{"type", "client", "tx"} {
		if idx[i] < 0 {
			return columnIndex{}, fmt.Errorf("header of %s: missing column %q", s.path, name)
		}
	}
	return idx, nil
}

// project reorders row into type, client, tx, amount. Missing trailing
// columns become empty strings.
func (c columnIndex) project(row []string) []string {
	out := make([]string, len(c))
	for i, col := range c {
		if col >= 0 && col < len(row) {
			out[i] = row[col]
		}
	}
	return out
}

func send(ctx context.Context, out chan<- event.StreamMessage, msg event.StreamMessage) error {
	select {
	case out <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
