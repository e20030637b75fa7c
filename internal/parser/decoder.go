// Package parser implements streaming pull parsers for the SIPSA SOAP
// responses. Each parser yields one typed record per <return> block and is
// tolerant of unknown or blank fields; only stream-level failures and SOAP
// faults terminate iteration.
package parser

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/dalejandrov/sipsa-ingest/internal/ingestion"
)

// Reader is the shared pull core over a SOAP response body. It scans for
// <return> blocks, dispatches child element text to a field callback, and
// surfaces SOAP faults found anywhere in the document.
//
// encoding/xml never resolves external entities or DTDs, which covers the
// XXE hardening requirement; the empty entity map additionally rejects
// undeclared internal entities.
type Reader struct {
	dec         *xml.Decoder
	maxChildren int
}

// NewReader wraps a response body. maxChildren caps the number of child
// elements per <return> block as an XML safety limit; zero disables the cap.
func NewReader(body io.Reader, maxChildren int) *Reader {
	dec := xml.NewDecoder(body)
	dec.Strict = true
	dec.Entity = map[string]string{}

	return &Reader{dec: dec, maxChildren: maxChildren}
}

// NextReturn advances to the next <return> element and invokes apply once
// per child element with the lowercased local name and trimmed text. Blank
// text skips the callback. Returns (false, nil) at document end.
//
// A <Fault> element terminates iteration with ingestion.ErrSoapFault; any
// stream failure wraps ingestion.ErrParse.
func (r *Reader) NextReturn(apply func(name, text string)) (bool, error) {
	for {
		token, err := r.dec.Token()
		if errors.Is(err, io.EOF) {
			return false, nil
		}

		if err != nil {
			return false, fmt.Errorf("%w: %w", ingestion.ErrParse, err)
		}

		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}

		switch strings.ToLower(start.Name.Local) {
		case "fault":
			return false, r.readFault()
		case "return":
			if err := r.readReturn(apply); err != nil {
				return false, err
			}

			return true, nil
		}
	}
}

// readReturn consumes one <return> subtree, dispatching each child element.
func (r *Reader) readReturn(apply func(name, text string)) error {
	children := 0

	for {
		token, err := r.dec.Token()
		if err != nil {
			// io.EOF inside a record is a truncated stream, not a clean end.
			return fmt.Errorf("%w: %w", ingestion.ErrParse, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			children++
			if r.maxChildren > 0 && children > r.maxChildren {
				return fmt.Errorf("%w: record exceeds %d child elements", ingestion.ErrParse, r.maxChildren)
			}

			text, textErr := r.elementText()
			if textErr != nil {
				return textErr
			}

			text = strings.TrimSpace(text)
			if text != "" {
				apply(strings.ToLower(t.Name.Local), text)
			}
		case xml.EndElement:
			if strings.ToLower(t.Name.Local) == "return" {
				return nil
			}
		}
	}
}

// elementText reads the text content of the current element through its
// matching end tag. Nested element text is ignored.
func (r *Reader) elementText() (string, error) {
	var text strings.Builder

	depth := 1

	for depth > 0 {
		token, err := r.dec.Token()
		if err != nil {
			return "", fmt.Errorf("%w: %w", ingestion.ErrParse, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 1 {
				text.Write(t)
			}
		}
	}

	return text.String(), nil
}

// readFault consumes a <Fault> subtree and returns the fault as an error.
// SOAP 1.2 carries the message in <Reason><Text> and the code in
// <Code><Value>; SOAP 1.1 uses <faultstring> and <faultcode>.
func (r *Reader) readFault() error {
	var message, code string

	depth := 1

	for depth > 0 {
		token, err := r.dec.Token()
		if err != nil {
			return fmt.Errorf("%w: %w", ingestion.ErrParse, err)
		}

		switch t := token.(type) {
		case xml.StartElement:
			switch strings.ToLower(t.Name.Local) {
			case "text", "faultstring":
				text, textErr := r.elementText()
				if textErr != nil {
					return textErr
				}

				message = strings.TrimSpace(text)
			case "value", "faultcode":
				text, textErr := r.elementText()
				if textErr != nil {
					return textErr
				}

				code = strings.TrimSpace(text)
			default:
				depth++
			}
		case xml.EndElement:
			depth--
		}
	}

	return &ingestion.ExternalError{
		Kind:      ingestion.ErrSoapFault,
		Message:   message,
		FaultCode: code,
	}
}

// Field value parsing is best-effort and null-tolerant: malformed values
// yield nil rather than an error.

// parseInt64 parses an integer field, nil on failure.
func parseInt64(text string) *int64 {
	value, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return nil
	}

	return &value
}

// parseFloat64 parses a decimal field, nil on failure.
func parseFloat64(text string) *float64 {
	value, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return nil
	}

	return &value
}

// parseBool parses a boolean field, nil on failure.
func parseBool(text string) *bool {
	value, err := strconv.ParseBool(strings.ToLower(text))
	if err != nil {
		return nil
	}

	return &value
}

// dateTimeLayouts are tried in order for ISO-8601 date-time fields.
var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// parseEpochMillis parses a date-time field to epoch milliseconds. ISO-8601
// forms are tried first, then a raw epoch-millis numeric string. Zoneless
// layouts are interpreted as UTC. Returns nil when nothing matches.
func parseEpochMillis(text string) *int64 {
	for _, layout := range dateTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, text, time.UTC); err == nil {
			millis := parsed.UnixMilli()

			return &millis
		}
	}

	return parseInt64(text)
}

// strPtr copies a text field into a fresh string pointer.
func strPtr(text string) *string {
	return &text
}
