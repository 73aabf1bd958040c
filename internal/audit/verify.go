package audit

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/yanboyang713/Sandboxing-for-AI-Coding-Agents/internal/model"
)

// readBufferSize is the initial read buffer, records of any size are read.
const readBufferSize = 64 * 1024

// VerifyReport is the result of verifying an audit stream.
type VerifyReport struct {
	Events       int
	LastSeq      uint64
	Correlations int
}

// Verify checks the audit stream integrity: file sequence continuity, per
// correlation sequence continuity and the hash chain.
func Verify(r io.Reader, key []byte) (VerifyReport, error) {
	report := VerifyReport{}
	runSeqs := map[string]uint64{}
	prevHash := ""

	err := scan(r, func(e model.AuditEvent) error {
		if e.Seq != report.LastSeq+1 {
			return fmt.Errorf("seq %d: expected seq %d: %w", e.Seq, report.LastSeq+1, model.ErrNotValid)
		}
		if e.RunSeq != runSeqs[e.CorrelationID]+1 {
			return fmt.Errorf("seq %d: run %s expected run seq %d, got %d: %w", e.Seq, e.CorrelationID, runSeqs[e.CorrelationID]+1, e.RunSeq, model.ErrNotValid)
		}
		if e.PrevHash != prevHash {
			return fmt.Errorf("seq %d: chain broken, previous hash doesn't match: %w", e.Seq, model.ErrNotValid)
		}
		exp, err := computeHash(key, e)
		if err != nil {
			return err
		}
		if exp != e.Hash {
			return fmt.Errorf("seq %d: hash mismatch: %w", e.Seq, model.ErrNotValid)
		}

		report.Events++
		report.LastSeq = e.Seq
		runSeqs[e.CorrelationID] = e.RunSeq
		prevHash = e.Hash
		return nil
	})
	report.Correlations = len(runSeqs)

	return report, err
}

// ReadEvents reads the events of an audit stream, optionally only the ones of a correlation ID.
func ReadEvents(r io.Reader, correlationID string) ([]model.AuditEvent, error) {
	var events []model.AuditEvent
	err := scan(r, func(e model.AuditEvent) error {
		if correlationID == "" || e.CorrelationID == correlationID {
			events = append(events, e)
		}
		return nil
	})
	return events, err
}

func scan(r io.Reader, fn func(e model.AuditEvent) error) error {
	br := bufio.NewReaderSize(r, readBufferSize)
	for line := 1; ; line++ {
		data, err := br.ReadBytes('\n')
		if len(data) > 0 {
			var e model.AuditEvent
			if uerr := json.Unmarshal(data, &e); uerr != nil {
				return fmt.Errorf("line %d: %w: %w", line, model.ErrNotValid, uerr)
			}
			if ferr := fn(e); ferr != nil {
				return ferr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
