package audit

import (
	"bufio"
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"io"
	"slices"

	"github.com/klauspost/compress/zstd"

	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/utils"
)

// VerifyResult summarises a chain recomputation for one retention policy.
type VerifyResult struct {
	PolicyID   string     `json:"policy_id"`
	Algorithm  string     `json:"algorithm"`
	Records    int        `json:"records"`
	Valid      bool       `json:"valid"`
	FirstIndex int        `json:"first_mismatch"`
	Mismatches []Mismatch `json:"mismatches"`
}

// Verify recomputes the chain of policyID from its stored records.
func (s *Sink) Verify(ctx context.Context, policyID string) (VerifyResult, error) {
	const op = "audit.Verify"
	if policyID == "" {
		return VerifyResult{}, utils.Validation(op, "retention policy id is required")
	}
	records, err := s.collect(ctx, op, models.AuditCriteria{RetentionPolicyID: policyID, Sort: models.SortTimestampAsc})
	if err != nil {
		return VerifyResult{}, err
	}
	sortBySequence(records)

	mismatches, err := VerifyChain(s.hasher, records)
	if err != nil {
		return VerifyResult{}, utils.NewKindError(op, utils.KindSerializationFailed, "recompute chain", err)
	}
	res := VerifyResult{
		PolicyID:   policyID,
		Algorithm:  s.hasher.Name(),
		Records:    len(records),
		Valid:      len(mismatches) == 0,
		FirstIndex: -1,
		Mismatches: mismatches,
	}
	if len(mismatches) > 0 {
		res.FirstIndex = mismatches[0].Index
		s.logger.Error("audit chain verification failed",
			"policy", policyID, "first_mismatch", res.FirstIndex, "mismatches", len(mismatches))
	}
	return res, nil
}

func sortBySequence(records []models.AuditRecord) {
	slices.SortStableFunc(records, func(a, b models.AuditRecord) int {
		return cmp.Compare(a.Sequence, b.Sequence)
	})
}

// ArchiveResult reports what an archive pass wrote.
type ArchiveResult struct {
	PolicyID      string `json:"policy_id"`
	Archived      int    `json:"archived"`
	PastRetention int    `json:"past_retention"`
	Compressed    bool   `json:"compressed"`
}

// Archive streams the records of policyID older than its archive-after period to w as JSON
// lines, zstd-compressed when the policy enables compression. Records are not removed.
func (s *Sink) Archive(ctx context.Context, policyID string, w io.Writer) (ArchiveResult, error) {
	const op = "audit.Archive"
	policy, err := s.RetentionPolicy(policyID)
	if err != nil {
		return ArchiveResult{}, err
	}
	now := s.now()
	records, err := s.collect(ctx, op, models.AuditCriteria{
		RetentionPolicyID: policyID,
		End:               now.Add(-policy.ArchiveAfter),
		Sort:              models.SortTimestampAsc,
	})
	if err != nil {
		return ArchiveResult{}, err
	}

	res := ArchiveResult{PolicyID: policyID, Archived: len(records), Compressed: policy.CompressionEnabled}
	retainFrom := now.Add(-policy.RetentionPeriod)
	for _, r := range records {
		if policy.RetentionPeriod > 0 && r.Timestamp.Before(retainFrom) {
			res.PastRetention++
		}
	}

	out := w
	var zw *zstd.Encoder
	if policy.CompressionEnabled {
		zw, err = zstd.NewWriter(w)
		if err != nil {
			return ArchiveResult{}, utils.NewKindError(op, utils.KindSerializationFailed, "open zstd encoder", err)
		}
		out = zw
	}
	bw := bufio.NewWriter(out)
	enc := json.NewEncoder(bw)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return ArchiveResult{}, utils.NewKindError(op, utils.KindSerializationFailed, "encode archive line", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return ArchiveResult{}, utils.NewKindError(op, utils.KindStoragePluginError, "write archive", err)
	}
	if zw != nil {
		if err := zw.Close(); err != nil {
			return ArchiveResult{}, utils.NewKindError(op, utils.KindStoragePluginError, "close zstd stream", err)
		}
	}
	s.logger.Info("audit archive written", "policy", policyID, "records", res.Archived, "compressed", res.Compressed)
	return res, nil
}

// ReadArchive decodes an archive produced by Archive.
func ReadArchive(r io.Reader, compressed bool) ([]models.AuditRecord, error) {
	in := r
	if compressed {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		in = zr
	}
	dec := json.NewDecoder(in)
	var out []models.AuditRecord
	for {
		var rec models.AuditRecord
		if err := dec.Decode(&rec); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return nil, err
		}
		out = append(out, rec)
	}
}
