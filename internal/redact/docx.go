package redact

import (
	"archive/zip"
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
)

const clearanceTagPrefix = "clearance:"

var (
	tagValRe = regexp.MustCompile(`<w:tag[^>]*\bw:val="([^"]*)"`)
	idValRe  = regexp.MustCompile(`<w:id[^>]*\bw:val="([^"]*)"`)
)

// RedactedSection identifies one withheld Content Control.
type RedactedSection struct {
	SectionID string         `json:"sectionId"`
	Clearance classify.Level `json:"clearance"`
}

// Result summarizes an in-place DOCX redaction.
type Result struct {
	Redacted []RedactedSection
	Visible  int
}

// RedactDOCX rewrites a DOCX so that every Content Control above
// userClearance keeps its frame but loses its body to a placeholder run. All
// word/*.xml parts are treated the same way, so tagged content in headers,
// footers, footnotes and comments is stripped too. Untouched parts are
// copied byte for byte.
func RedactDOCX(original []byte, userClearance classify.Level) ([]byte, *Result, error) {
	zr, err := zip.NewReader(bytes.NewReader(original), int64(len(original)))
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.InputInvalid, "not a valid DOCX file", err)
	}

	res := &Result{}
	var out bytes.Buffer
	zw := zip.NewWriter(&out)

	for _, f := range zr.File {
		if !isWordXMLPart(f.Name) {
			if err := zw.Copy(f); err != nil {
				return nil, nil, fmt.Errorf("copy %s: %w", f.Name, err)
			}
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", f.Name, err)
		}
		var part bytes.Buffer
		if _, err := part.ReadFrom(rc); err != nil {
			rc.Close()
			return nil, nil, fmt.Errorf("read %s: %w", f.Name, err)
		}
		rc.Close()

		redacted, err := redactXML(part.Bytes(), userClearance, res)
		if err != nil {
			return nil, nil, fmt.Errorf("redact %s: %w", f.Name, err)
		}

		w, err := zw.CreateHeader(&zip.FileHeader{Name: f.Name, Method: zip.Deflate})
		if err != nil {
			return nil, nil, fmt.Errorf("write %s: %w", f.Name, err)
		}
		if _, err := w.Write(redacted); err != nil {
			return nil, nil, fmt.Errorf("write %s: %w", f.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, nil, fmt.Errorf("finalize archive: %w", err)
	}
	return out.Bytes(), res, nil
}

// isWordXMLPart reports whether a ZIP entry may contain Content Controls.
// Relationship files end in .rels and fall through.
func isWordXMLPart(name string) bool {
	return strings.HasPrefix(name, "word/") && strings.HasSuffix(name, ".xml")
}

// redactXML walks one XML part, rewriting every clearance-tagged w:sdt whose
// level exceeds user. Bytes outside those regions pass through unchanged.
func redactXML(data []byte, user classify.Level, res *Result) ([]byte, error) {
	var out bytes.Buffer
	i := 0
	for {
		start := findElementStart(data, i, "w:sdt")
		if start < 0 {
			out.Write(data[i:])
			break
		}
		out.Write(data[i:start])

		end, err := findElementEnd(data, start, "w:sdt")
		if err != nil {
			return nil, err
		}
		processed, err := redactSdt(data[start:end], user, res)
		if err != nil {
			return nil, err
		}
		out.Write(processed)
		i = end
	}
	return out.Bytes(), nil
}

// redactSdt handles one complete <w:sdt>…</w:sdt> region.
func redactSdt(region []byte, user classify.Level, res *Result) ([]byte, error) {
	prStart := findElementStart(region, 0, "w:sdtPr")
	var pr []byte
	prEnd := 0
	if prStart >= 0 {
		var err error
		prEnd, err = findElementEnd(region, prStart, "w:sdtPr")
		if err != nil {
			return nil, err
		}
		pr = region[prStart:prEnd]
	}

	tag := submatch(tagValRe, pr)
	sdtID := submatch(idValRe, pr)

	var level classify.Level
	tagged := false
	if strings.HasPrefix(tag, clearanceTagPrefix) {
		label := strings.TrimPrefix(tag, clearanceTagPrefix)
		var err error
		level, err = classify.Parse(label)
		if err != nil {
			return nil, apperr.Newf(apperr.InputInvalid, "unknown clearance level %q in Content Control tag", label)
		}
		tagged = true
	}

	contentStart := findElementStart(region, prEnd, "w:sdtContent")
	if contentStart < 0 {
		return region, nil
	}
	openEnd := bytes.IndexByte(region[contentStart:], '>')
	if openEnd < 0 {
		return nil, apperr.New(apperr.InputInvalid, "unterminated w:sdtContent tag")
	}
	openEnd += contentStart + 1
	if region[openEnd-2] == '/' { // <w:sdtContent/>
		return region, nil
	}
	contentEnd, err := findElementEnd(region, contentStart, "w:sdtContent")
	if err != nil {
		return nil, err
	}
	innerEnd := contentEnd - len("</w:sdtContent>")
	inner := region[openEnd:innerEnd]

	var newInner []byte
	switch {
	case tagged && !user.Covers(level):
		newInner = placeholderRun(inner, level, user)
		res.Redacted = append(res.Redacted, RedactedSection{
			SectionID: sectionID(sdtID, tag),
			Clearance: level,
		})
	default:
		if tagged {
			res.Visible++
		}
		newInner, err = redactXML(inner, user, res)
		if err != nil {
			return nil, err
		}
	}

	var out bytes.Buffer
	out.Write(region[:openEnd])
	out.Write(newInner)
	out.Write(region[innerEnd:])
	return out.Bytes(), nil
}

// placeholderRun builds the replacement body. A paragraph-bearing control
// gets a paragraph back so the surrounding block structure stays valid; a
// run-level control gets a bare run.
func placeholderRun(inner []byte, level, user classify.Level) []byte {
	userLabel := user.String()
	if !user.Valid() {
		userLabel = classify.Internal.String()
	}
	if findElementStart(inner, 0, "w:p") >= 0 {
		return []byte(fmt.Sprintf(
			`<w:p><w:r><w:rPr><w:b/><w:color w:val="C00000"/></w:rPr><w:t xml:space="preserve">[REDACTED] This section requires %s clearance. Your clearance: %s.</w:t></w:r></w:p>`,
			level, userLabel))
	}
	return []byte(fmt.Sprintf(
		`<w:r><w:rPr><w:b/><w:color w:val="C00000"/></w:rPr><w:t xml:space="preserve">[REDACTED: %s]</w:t></w:r>`,
		level))
}

func sectionID(sdtID, tag string) string {
	if sdtID != "" {
		return sdtID + ":" + tag
	}
	return tag
}

func submatch(re *regexp.Regexp, data []byte) string {
	m := re.FindSubmatch(data)
	if m == nil {
		return ""
	}
	return string(m[1])
}

// findElementStart locates the next opening tag of element name at or after
// from, matching "<name>", "<name ", or "<name/" but not longer names that
// share the prefix.
func findElementStart(data []byte, from int, name string) int {
	needle := []byte("<" + name)
	for {
		idx := bytes.Index(data[from:], needle)
		if idx < 0 {
			return -1
		}
		pos := from + idx
		after := pos + len(needle)
		if after >= len(data) {
			return -1
		}
		switch data[after] {
		case '>', ' ', '\t', '\n', '\r', '/':
			return pos
		}
		from = pos + 1
	}
}

// findElementEnd returns the index just past the matching closing tag of the
// element opening at start, counting nested elements of the same name.
func findElementEnd(data []byte, start int, name string) (int, error) {
	closeTag := []byte("</" + name + ">")
	depth := 0
	i := start
	for i < len(data) {
		openIdx := findElementStart(data, i, name)
		closeIdx := bytes.Index(data[i:], closeTag)
		if closeIdx < 0 {
			return 0, apperr.Newf(apperr.InputInvalid, "unbalanced %s element", name)
		}
		closeIdx += i

		if openIdx >= 0 && openIdx < closeIdx {
			// Self-closing tags never nest.
			tagEnd := bytes.IndexByte(data[openIdx:], '>')
			if tagEnd < 0 {
				return 0, apperr.Newf(apperr.InputInvalid, "unterminated %s tag", name)
			}
			tagEnd += openIdx
			if data[tagEnd-1] != '/' {
				depth++
			}
			i = tagEnd + 1
			if depth == 0 { // the element at start was self-closing
				return i, nil
			}
			continue
		}

		depth--
		i = closeIdx + len(closeTag)
		if depth == 0 {
			return i, nil
		}
	}
	return 0, apperr.Newf(apperr.InputInvalid, "unbalanced %s element", name)
}
