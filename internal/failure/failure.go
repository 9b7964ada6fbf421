// Package failure classifies engine errors by how the retry governor should
// treat them. The kind is attached where the failure happens and read back
// with KindOf.
package failure

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
	"unicode/utf8"

	goerrors "github.com/goliatone/go-errors"
)

type Kind string

const (
	KindTransient  Kind = "transient"
	KindPermanent  Kind = "permanent"
	KindNotFound   Kind = "not_found"
	KindValidation Kind = "validation"
)

const (
	CodeTransient  = "SEQ_TRANSIENT"
	CodePermanent  = "SEQ_PERMANENT"
	CodeNotFound   = "SEQ_NOT_FOUND"
	CodeValidation = "SEQ_VALIDATION"
)

const metadataKind = "kind"

func codeFor(kind Kind) string {
	switch kind {
	case KindPermanent:
		return CodePermanent
	case KindNotFound:
		return CodeNotFound
	case KindValidation:
		return CodeValidation
	default:
		return CodeTransient
	}
}

func categoryFor(kind Kind) goerrors.Category {
	switch kind {
	case KindNotFound:
		return goerrors.CategoryNotFound
	case KindValidation:
		return goerrors.CategoryValidation
	case KindPermanent:
		return goerrors.CategoryBadInput
	default:
		return goerrors.CategoryExternal
	}
}

// New creates a classified error with no underlying cause.
func New(kind Kind, message string) *goerrors.Error {
	return goerrors.New(message, categoryFor(kind)).
		WithTextCode(codeFor(kind)).
		WithMetadata(map[string]any{metadataKind: string(kind)})
}

// Wrap classifies source. An already classified source keeps its kind.
func Wrap(source error, kind Kind, message string) error {
	if source == nil {
		return nil
	}
	if _, ok := lookup(source); ok {
		return fmt.Errorf("%s: %w", message, source)
	}
	return goerrors.Wrap(source, categoryFor(kind), message).
		WithTextCode(codeFor(kind)).
		WithMetadata(map[string]any{metadataKind: string(kind)})
}

func Transient(source error, message string) error { return Wrap(source, KindTransient, message) }
func Permanent(source error, message string) error { return Wrap(source, KindPermanent, message) }

// Validation builds a validation error carrying per-field problems.
func Validation(message string, fields ...goerrors.FieldError) *goerrors.Error {
	return goerrors.NewValidation(message, fields...).
		WithTextCode(CodeValidation).
		WithMetadata(map[string]any{metadataKind: string(KindValidation)})
}

// KindOf returns the classification of err. Unclassified errors are
// transient: retrying is the safe default for the governor.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if kind, ok := lookup(err); ok {
		return kind
	}
	return KindTransient
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func lookup(err error) (Kind, bool) {
	var ge *goerrors.Error
	if !stderrors.As(err, &ge) || ge == nil {
		return "", false
	}
	switch ge.TextCode {
	case CodeTransient:
		return KindTransient, true
	case CodePermanent:
		return KindPermanent, true
	case CodeNotFound:
		return KindNotFound, true
	case CodeValidation:
		return KindValidation, true
	}
	if raw, ok := ge.Metadata[metadataKind].(string); ok && raw != "" {
		return Kind(raw), true
	}
	return "", false
}

// FromHTTPStatus classifies a non-2xx response from an external service.
// Timeouts, throttling and server errors are worth retrying; the remaining
// 4xx responses describe a request that will never succeed as sent.
func FromHTTPStatus(status int) Kind {
	switch {
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	case status >= 400:
		return KindPermanent
	default:
		return KindTransient
	}
}

const maxBodyBytes = 300

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// HTTPError records a failed call to an external service. Message always
// carries the status code so triage can read it off the execution row.
func HTTPError(service string, status int, body string) error {
	body = truncate(strings.TrimSpace(body), maxBodyBytes)
	msg := fmt.Sprintf("%s failed: HTTP %d", service, status)
	if body != "" {
		msg += ": " + body
	}
	kind := FromHTTPStatus(status)
	return New(kind, msg).WithCode(status).WithMetadata(map[string]any{
		"service":     service,
		"http_status": status,
	})
}

// Message renders err for persistence on the execution row. The result is
// valid UTF-8 without NUL bytes, which a text column rejects.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return storable(render(err))
}

func storable(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}

func render(err error) string {
	var ge *goerrors.Error
	if !stderrors.As(err, &ge) || ge == nil {
		return err.Error()
	}
	clean := ge.Message
	if ge.Source != nil {
		clean += ": " + ge.Source.Error()
	}
	if len(ge.ValidationErrors) > 0 {
		clean += ": " + ge.ValidationErrors.Error()
	}
	// fmt.Errorf wrappers embed the rich rendering verbatim.
	return strings.Replace(err.Error(), ge.Error(), clean, 1)
}
