package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/charmbracelet/log"

	"proxypool/internal/checker"
	"proxypool/internal/domain"
	"proxypool/internal/support"
)

// ParseAddresses turns ip:port arguments into unvalidated records.
func ParseAddresses(args []string) ([]domain.ProxyRecord, error) {
	records := make([]domain.ProxyRecord, 0, len(args))
	for _, arg := range args {
		id, err := domain.ParseIdentity(arg)
		if err != nil {
			return nil, err
		}
		record, ok := support.NewCandidate(id.IP, id.Port, "cli")
		if !ok {
			return nil, fmt.Errorf("invalid proxy address %q", arg)
		}
		records = append(records, record)
	}
	return records, nil
}

// Check validates records once and prints one line per verdict. When add is
// set, valid records are inserted into the store.
func (e *Engine) Check(ctx context.Context, records []domain.ProxyRecord, add bool, out io.Writer) (checker.BatchStats, error) {
	verdicts := e.Validator.ValidateBatch(ctx, records)
	stats := checker.Summarize(verdicts)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PROXY\tSTATUS\tTIME\tANONYMITY\tDETAIL")
	for _, v := range verdicts {
		r := v.Record
		status := string(r.Status)
		if v.TimedOut {
			status = "timeout"
		}
		detail := r.CheckedURL
		if r.ErrorMsg != "" {
			detail = r.ErrorMsg
		}
		fmt.Fprintf(tw, "%s\t%s\t%.3fs\t%s\t%s\n", r.Address(), status, r.ResponseTime, r.Anonymity, detail)
	}
	if err := tw.Flush(); err != nil {
		return stats, err
	}
	fmt.Fprintf(out, "total=%d valid=%d invalid=%d timeout=%d error=%d\n",
		stats.Total, stats.Valid, stats.Invalid, stats.Timeout, stats.Error)

	if !add {
		return stats, nil
	}
	for _, v := range verdicts {
		if v.Status() != domain.StatusValid {
			continue
		}
		if _, err := e.Store.Add(ctx, v.Record); err != nil {
			return stats, fmt.Errorf("add %s: %w", v.Record.Address(), err)
		}
	}
	return stats, nil
}

// Dedup runs one duplicate removal pass over the store.
func (e *Engine) Dedup(ctx context.Context) (int, error) {
	removed, err := e.Store.RemoveDuplicates(ctx)
	if err != nil {
		return 0, fmt.Errorf("remove duplicates: %w", err)
	}
	count, err := e.Store.Count(ctx)
	if err != nil {
		return removed, err
	}
	log.Info("Deduplication finished", "removed", removed, "remaining", count)
	return removed, nil
}
