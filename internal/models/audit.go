package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// AuditKind identifies the lifecycle event an audit entry records
type AuditKind string

// Audit kind constants
const (
	AuditKindCreated         AuditKind = "created"
	AuditKindSent            AuditKind = "sent"
	AuditKindViewed          AuditKind = "viewed"
	AuditKindSigned          AuditKind = "signed"
	AuditKindCancelled       AuditKind = "cancelled"
	AuditKindExpired         AuditKind = "expired"
	AuditKindPdfUploaded     AuditKind = "pdf_uploaded"
	AuditKindPdfRemoved      AuditKind = "pdf_removed"
	AuditKindLinkRegenerated AuditKind = "link_regenerated"
	AuditKindNoteAdded       AuditKind = "note_added"
	AuditKindDeleted         AuditKind = "deleted"
)

// Audit actors that are not operators
const (
	ActorSystem = "system"
	ActorSigner = "signer"
)

// OperatorActor formats an operator id as an audit actor.
func OperatorActor(userID uint) string {
	if userID == 0 {
		return ActorSystem
	}
	return fmt.Sprintf("operator:%d", userID)
}

// AuditEntry is an immutable record of one lifecycle event.
// Entries of one agreement form a hash chain ordered by Seq.
type AuditEntry struct {
	ID          string            `gorm:"primaryKey;size:36" json:"id"`
	AgreementID string            `gorm:"size:36;not null;uniqueIndex:idx_audit_agreement_seq,priority:1" json:"agreement_id"`
	Seq         int               `gorm:"not null;uniqueIndex:idx_audit_agreement_seq,priority:2" json:"seq"`
	Kind        AuditKind         `gorm:"size:32;not null;index" json:"kind"`
	Timestamp   time.Time         `gorm:"not null;index" json:"timestamp"`
	Actor       string            `gorm:"size:64;not null" json:"actor"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb" json:"metadata"`
	PrevHash    string            `gorm:"size:64" json:"prev_hash"`
	Hash        string            `gorm:"size:64;not null" json:"hash"`
}

// TableName specifies the table name for AuditEntry
func (AuditEntry) TableName() string {
	return "agreement_audit_entries"
}

// NewAuditEntry builds an unsealed entry. Seq and hashes are assigned by Seal
// inside the same atomic unit that writes the state change.
func NewAuditEntry(agreementID string, kind AuditKind, actor string, at time.Time, metadata map[string]any) *AuditEntry {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &AuditEntry{
		AgreementID: agreementID,
		Kind:        kind,
		Timestamp:   at.UTC().Truncate(time.Microsecond),
		Actor:       actor,
		Metadata:    datatypes.JSONMap(metadata),
	}
}

// auditDigest is the canonical form hashed into the chain
type auditDigest struct {
	AgreementID string         `json:"agreement_id"`
	Seq         int            `json:"seq"`
	Kind        AuditKind      `json:"kind"`
	Timestamp   string         `json:"timestamp"`
	Actor       string         `json:"actor"`
	Metadata    map[string]any `json:"metadata"`
}

// ComputeHash returns the chain hash of the entry given its predecessor hash.
func (e *AuditEntry) ComputeHash(prevHash string) (string, error) {
	b, err := json.Marshal(auditDigest{
		AgreementID: e.AgreementID,
		Seq:         e.Seq,
		Kind:        e.Kind,
		Timestamp:   e.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:       e.Actor,
		Metadata:    normalizeMetadata(e.Metadata),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode audit entry: %w", err)
	}
	sum := sha256.Sum256(append([]byte(prevHash+"\n"), b...))
	return hex.EncodeToString(sum[:]), nil
}

// Seal links the entry after prev (nil for the first entry of an agreement).
func (e *AuditEntry) Seal(prev *AuditEntry) error {
	e.Seq = 1
	e.PrevHash = ""
	if prev != nil {
		e.Seq = prev.Seq + 1
		e.PrevHash = prev.Hash
	}
	hash, err := e.ComputeHash(e.PrevHash)
	if err != nil {
		return err
	}
	e.Hash = hash
	return nil
}

// Clone returns a copy whose metadata map is not shared.
func (e *AuditEntry) Clone() *AuditEntry {
	c := *e
	if e.Metadata != nil {
		c.Metadata = make(datatypes.JSONMap, len(e.Metadata))
		for k, v := range e.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// normalizeMetadata round-trips metadata through JSON so values hash the same
// before they are stored and after they are read back (ints become float64).
func normalizeMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return map[string]any{}
	}
	b, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return m
	}
	return out
}

// ChainBreak describes the first entry whose hash does not verify
type ChainBreak struct {
	Seq    int    `json:"seq"`
	Reason string `json:"reason"`
}

// VerifyChain checks ordering and hashes of one agreement's entries.
func VerifyChain(entries []AuditEntry) *ChainBreak {
	prevHash := ""
	for i := range entries {
		e := &entries[i]
		if e.Seq != i+1 {
			return &ChainBreak{Seq: e.Seq, Reason: fmt.Sprintf("expected seq %d", i+1)}
		}
		if e.PrevHash != prevHash {
			return &ChainBreak{Seq: e.Seq, Reason: "prev_hash does not match predecessor"}
		}
		hash, err := e.ComputeHash(prevHash)
		if err != nil {
			return &ChainBreak{Seq: e.Seq, Reason: err.Error()}
		}
		if hash != e.Hash {
			return &ChainBreak{Seq: e.Seq, Reason: "hash mismatch"}
		}
		prevHash = e.Hash
	}
	return nil
}
