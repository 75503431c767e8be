package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	snapshotFormatVersionCurrent = 1
	snapshotFormatVersionLegacy  = 0

	maxFieldLength = 255
)

type snapshotRecord struct {
	Version  int    `json:"v"`
	Email    string `json:"email"`
	Role     string `json:"role"`
	TenantID string `json:"tenantId,omitempty"`
	BrandID  string `json:"brandId,omitempty"`
}

// Encode serializes a snapshot into the current record format.
func Encode(s Snapshot) ([]byte, error) {
	if err := validateSnapshot(s); err != nil {
		return nil, err
	}
	return json.Marshal(snapshotRecord{
		Version:  snapshotFormatVersionCurrent,
		Email:    s.Email,
		Role:     s.Role,
		TenantID: s.TenantID,
	})
}

// Decode parses a persisted record. Every failure is reported as
// ErrCorruptSnapshot so callers can self-heal with a single check.
func Decode(data []byte) (Snapshot, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return Snapshot{}, fmt.Errorf("%w: empty record", ErrCorruptSnapshot)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var rec snapshotRecord
	if err := dec.Decode(&rec); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	if dec.More() {
		return Snapshot{}, fmt.Errorf("%w: trailing data", ErrCorruptSnapshot)
	}

	var s Snapshot
	switch rec.Version {
	case snapshotFormatVersionCurrent:
		if rec.BrandID != "" {
			return Snapshot{}, fmt.Errorf("%w: brandId in v1 record", ErrCorruptSnapshot)
		}
		s = Snapshot{Email: rec.Email, Role: rec.Role, TenantID: rec.TenantID}
	case snapshotFormatVersionLegacy:
		tenant := rec.TenantID
		if tenant == "" {
			tenant = rec.BrandID
		}
		s = Snapshot{Email: rec.Email, Role: rec.Role, TenantID: tenant}
	default:
		return Snapshot{}, fmt.Errorf("%w: unsupported version %d", ErrCorruptSnapshot, rec.Version)
	}

	if err := validateSnapshot(s); err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrCorruptSnapshot, err)
	}
	return s, nil
}

func validateSnapshot(s Snapshot) error {
	if strings.TrimSpace(s.Email) == "" {
		return fmt.Errorf("snapshot email is empty")
	}
	if strings.TrimSpace(s.Role) == "" {
		return fmt.Errorf("snapshot role is empty")
	}
	if len(s.Email) > maxFieldLength || len(s.Role) > maxFieldLength || len(s.TenantID) > maxFieldLength {
		return fmt.Errorf("snapshot field too long")
	}
	return nil
}
