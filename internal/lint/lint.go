// Package lint checks specification documents against a fixed, ordered set
// of structural rules. Run is pure: identical content yields identical output.
package lint

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"tapeoutops/internal/domain"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

const (
	TypeInvalidJSON     = "INVALID_JSON"
	TypeMissingField    = "MISSING_FIELD"
	TypeInvalidVersion  = "INVALID_VERSION"
	TypeInvalidMetadata = "INVALID_METADATA"
)

const summaryInvalidJSON = "Invalid JSON format"

// RequiredFields are checked in this order.
var RequiredFields = []string{"name", "version", "description"}

// metadataKeys are the accepted spellings of the metadata block.
var metadataKeys = []string{"spec_metadata", "metadata"}

type Result struct {
	Issues  []domain.LintIssue `json:"issues"`
	Summary string             `json:"summary"`
}

// Counts returns the number of issues per severity.
func (r Result) Counts() (errors, warnings, infos int) {
	for _, is := range r.Issues {
		switch is.Severity {
		case SeverityError:
			errors++
		case SeverityWarning:
			warnings++
		case SeverityInfo:
			infos++
		}
	}
	return errors, warnings, infos
}

type document map[string]json.RawMessage

type rule func(doc document) []domain.LintIssue

// rules run in order and never short-circuit each other.
var rules = []rule{requiredFields, versionFormat, metadataShape}

// Run lints content. Content that is not UTF-8 or not exactly one JSON
// object yields a single INVALID_JSON issue and no other rule runs.
func Run(content []byte) Result {
	doc, ok := parse(content)
	if !ok {
		return Result{
			Issues: []domain.LintIssue{{
				Severity:    SeverityError,
				Type:        TypeInvalidJSON,
				Message:     "Spec file is not valid JSON",
				Location:    "root",
				Remediation: "Make sure the file contains a single UTF-8 encoded JSON object.",
			}},
			Summary: summaryInvalidJSON,
		}
	}
	issues := []domain.LintIssue{}
	for _, r := range rules {
		issues = append(issues, r(doc)...)
	}
	res := Result{Issues: issues}
	res.Summary = Summarize(res)
	return res
}

// Summarize renders the severity counts of a result.
func Summarize(r Result) string {
	if len(r.Issues) == 0 {
		return "No issues found"
	}
	e, w, i := r.Counts()
	return fmt.Sprintf("Found %d errors, %d warnings, and %d info messages", e, w, i)
}

func parse(content []byte) (document, bool) {
	if !utf8.Valid(content) {
		return nil, false
	}
	trimmed := bytes.TrimSpace(content)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	var doc document
	if err := dec.Decode(&doc); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return doc, true
}

func requiredFields(doc document) []domain.LintIssue {
	var issues []domain.LintIssue
	for _, field := range RequiredFields {
		if _, ok := doc[field]; ok {
			continue
		}
		issues = append(issues, domain.LintIssue{
			Severity:    SeverityError,
			Type:        TypeMissingField,
			Message:     fmt.Sprintf("Required field '%s' is missing", field),
			Location:    "root." + field,
			Remediation: fmt.Sprintf("Add a top-level '%s' field.", field),
		})
	}
	return issues
}

func versionFormat(doc document) []domain.LintIssue {
	raw, ok := doc["version"]
	if !ok {
		return nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err == nil && strings.TrimSpace(v) != "" {
		return nil
	}
	return []domain.LintIssue{{
		Severity:    SeverityError,
		Type:        TypeInvalidVersion,
		Message:     "Version must be a non-empty string",
		Location:    "root.version",
		Remediation: `Set 'version' to a string such as "1.0.0".`,
	}}
}

func metadataShape(doc document) []domain.LintIssue {
	var issues []domain.LintIssue
	for _, key := range metadataKeys {
		raw, ok := doc[key]
		if !ok {
			continue
		}
		if t := bytes.TrimSpace(raw); len(t) > 0 && t[0] == '{' {
			continue
		}
		issues = append(issues, domain.LintIssue{
			Severity:    SeverityError,
			Type:        TypeInvalidMetadata,
			Message:     "Metadata must be an object",
			Location:    "root." + key,
			Remediation: fmt.Sprintf("Replace '%s' with a JSON object of key/value pairs.", key),
		})
	}
	return issues
}
