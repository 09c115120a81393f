package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	logx "eventharvest/pkg/logx"
)

// ExportSources serializes the whole catalog as a JSON array.
func (r *Registry) ExportSources() ([]byte, error) {
	return json.MarshalIndent(r.GetAllSources(), "", "  ")
}

// ImportSources loads a JSON array of source records. Records may be partial;
// defaults fill the rest. A payload that is not an array fails with
// ErrImportParse before the catalog is touched. Bad records are skipped and
// reported in the result.
func (r *Registry) ImportSources(payload []byte, opts ImportOptions) (ImportResult, error) {
	var records []json.RawMessage
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return ImportResult{}, ErrImportParse
	}
	if err := json.Unmarshal(trimmed, &records); err != nil {
		return ImportResult{}, fmt.Errorf("%w: %v", ErrImportParse, err)
	}

	var res ImportResult
	skip := func(i int, err error) {
		res.Skipped++
		res.Errors = append(res.Errors, fmt.Sprintf("record %d: %v", i, err))
	}

	now := r.clock.Now()
	r.mu.Lock()
	var dropped []string
	if opts.Replace {
		dropped = r.order
		r.sources = make(map[string]*Source, len(records))
		r.order = nil
	}
	for i, raw := range records {
		var in SourceInput
		if err := json.Unmarshal(raw, &in); err != nil {
			skip(i, err)
			continue
		}
		src, err := buildSource(in, now)
		if err != nil {
			skip(i, err)
			continue
		}
		if err := r.admitLocked(src.ID); err != nil {
			skip(i, err)
			continue
		}
		r.insertLocked(&src)
		res.Imported++
	}
	n, mean := len(r.sources), r.meanReliabilityLocked()
	r.mu.Unlock()

	for _, id := range dropped {
		if _, ok := r.GetSource(id); !ok {
			r.obs.SourceRemoved(id)
		}
	}
	r.obs.SourceCount(n)
	r.obs.MeanReliability(mean)
	r.log.Info("sources imported", logx.Int("imported", res.Imported), logx.Int("skipped", res.Skipped), logx.Bool("replace", opts.Replace), logx.Int("total", n))
	return res, nil
}
