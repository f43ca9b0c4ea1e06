package audit

import (
	"bytes"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"hash"
	"strings"

	"github.com/miradorstack/mirador-ir/internal/models"
	"github.com/miradorstack/mirador-ir/internal/storage"
)

// Hasher computes the chained integrity hash of a record.
type Hasher interface {
	Name() string
	// Chain returns hex(H(prevHash || canonical)).
	Chain(prevHash string, canonical []byte) string
}

type digestHasher struct {
	name string
	new  func() hash.Hash
}

func (h digestHasher) Name() string { return h.name }

func (h digestHasher) Chain(prevHash string, canonical []byte) string {
	d := h.new()
	d.Write([]byte(prevHash))
	d.Write(canonical)
	return hex.EncodeToString(d.Sum(nil))
}

// SHA256 is the default hasher.
var SHA256 Hasher = digestHasher{name: "sha256", new: sha256.New}

// SHA512 chains with SHA-512.
var SHA512 Hasher = digestHasher{name: "sha512", new: sha512.New}

// HasherByName resolves a configured algorithm name; empty selects SHA-256.
func HasherByName(name string) (Hasher, error) {
	switch strings.ToLower(strings.ReplaceAll(name, "-", "")) {
	case "", "sha256":
		return SHA256, nil
	case "sha512":
		return SHA512, nil
	default:
		return nil, fmt.Errorf("unsupported hash algorithm %q", name)
	}
}

// CanonicalBytes serializes record without its integrity hash and previous hash: object keys
// sorted, no HTML escaping, instants as Unix seconds, absent optional fields omitted.
func CanonicalBytes(record models.AuditRecord) ([]byte, error) {
	doc := map[string]any{
		"id":                  record.ID,
		"event_type":          record.EventType,
		"timestamp":           record.Timestamp.Unix(),
		"actor":               canonicalActor(record.Actor),
		"resource":            canonicalResource(record.Resource),
		"action":              canonicalAction(record.Action),
		"context":             canonicalContext(record.Context),
		"compliance_tags":     nonNil(record.ComplianceTags),
		"severity":            string(record.Severity),
		"retention_policy_id": record.RetentionPolicyID,
		"sequence":            record.Sequence,
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func canonicalActor(a models.AuditActor) map[string]any {
	out := map[string]any{"type": string(a.Type), "id": a.ID}
	putOptional(out, "session_id", a.SessionID)
	putOptional(out, "address", a.Address)
	putOptional(out, "client_agent", a.ClientAgent)
	return out
}

func canonicalResource(r models.AuditResource) map[string]any {
	out := map[string]any{"type": r.Type, "id": r.ID}
	putOptional(out, "name", r.Name)
	putOptional(out, "parent", r.Parent)
	return out
}

func canonicalAction(a models.AuditAction) map[string]any {
	out := map[string]any{"type": a.Type, "description": a.Description, "outcome": string(a.Outcome)}
	putOptional(out, "error_details", a.ErrorDetails)
	return out
}

func canonicalContext(c models.AuditContext) map[string]any {
	out := map[string]any{}
	putOptional(out, "request_id", c.RequestID)
	putOptional(out, "correlation_id", c.CorrelationID)
	putOptional(out, "source_system", c.SourceSystem)
	if len(c.AdditionalData) > 0 {
		out["additional_data"] = c.AdditionalData
	}
	if len(c.SensitiveData) > 0 {
		out["sensitive_data"] = c.SensitiveData
	}
	return out
}

func putOptional(m map[string]any, key, value string) {
	if value != "" {
		m[key] = value
	}
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

// Mismatch identifies a record whose stored hash disagrees with the recomputed one.
type Mismatch struct {
	Index    int    `json:"index"`
	Sequence int64  `json:"sequence"`
	RecordID string `json:"record_id"`
	Stored   string `json:"stored"`
	Computed string `json:"computed"`
}

// VerifyChain recomputes the chain over records (one policy, ascending sequence) and returns
// every mismatch. Each hash is chained from the recomputed predecessor, so a tampered record
// invalidates itself and every record after it.
func VerifyChain(h Hasher, records []models.AuditRecord) ([]Mismatch, error) {
	if len(records) == 0 {
		return nil, nil
	}
	running := storage.ZeroHash
	if records[0].Sequence > 1 {
		running = records[0].PreviousHash
	}

	var out []Mismatch
	for i, rec := range records {
		canonical, err := CanonicalBytes(rec)
		if err != nil {
			return nil, fmt.Errorf("canonicalize record %s: %w", rec.ID, err)
		}
		computed := h.Chain(running, canonical)
		if computed != rec.IntegrityHash {
			out = append(out, Mismatch{
				Index:    i,
				Sequence: rec.Sequence,
				RecordID: rec.ID,
				Stored:   rec.IntegrityHash,
				Computed: computed,
			})
		}
		running = computed
	}
	return out, nil
}
