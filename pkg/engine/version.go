package engine

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// HashLength is the number of hex digits of the content hash kept in versions.
	HashLength = 10

	// DynamicSuffix marks a version computed by the engine instead of declared by the author.
	DynamicSuffix = "dynamic"
)

// VersionOptions controls how the declared version is checked.
type VersionOptions struct {
	// Strict rejects documents whose declared version does not match their content.
	Strict bool `yaml:"strict" json:"strict"`

	// RequireDeclared rejects documents without a declared version.
	RequireDeclared bool `yaml:"require_declared" json:"require_declared"`
}

// DefaultVersionOptions checks declared versions and tolerates missing ones.
func DefaultVersionOptions() VersionOptions {
	return VersionOptions{Strict: true}
}

// ContentHash returns the leading hex digits of the SHA-256 of the canonical
// form of a nodes section.
func ContentHash(nodes json.RawMessage) (string, error) {
	canonical, err := CanonicalJSON(nodes)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:HashLength], nil
}

// CanonicalJSON re-encodes a JSON value with sorted keys, no insignificant
// whitespace and NFC-normalized strings.
func CanonicalJSON(data json.RawMessage) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("failed to decode document for hashing: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(normalizeValue(v)); err != nil {
		return nil, fmt.Errorf("failed to encode canonical document: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[norm.NFC.String(k)] = normalizeValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeValue(val)
		}
		return out
	default:
		return v
	}
}

// ResolveVersion returns the effective version of a document. A declared
// version is "<hash>[.<suffix>]"; its hash part must match the content.
func ResolveVersion(doc *Document, opts VersionOptions) (string, error) {
	hash, err := ContentHash(doc.Raw)
	if err != nil {
		return "", NewGraphError("failed to hash rule document", err).WithCode(ErrCodeInvalidDocument)
	}
	dynamic := hash + "." + DynamicSuffix

	if doc.Version == "" {
		if opts.RequireDeclared {
			return "", NewInvalidVersionError("rule document has no version", nil).
				WithCode(ErrCodeVersionMissing).
				WithDetail("computed", hash)
		}
		return dynamic, nil
	}

	declared := doc.Version
	if i := strings.Index(declared, "."); i >= 0 {
		declared = declared[:i]
	}
	if declared == hash {
		return doc.Version, nil
	}
	if opts.Strict {
		return "", NewInvalidVersionError(
			fmt.Sprintf("declared version %s does not match content hash %s", doc.Version, hash), nil).
			WithDetail("declared", doc.Version).
			WithDetail("computed", hash)
	}
	return dynamic, nil
}
