package docparse

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
)

// clearanceTagPrefix marks a Content Control as a clearance section, e.g.
// <w:tag w:val="clearance:RESTRICTED"/>.
const clearanceTagPrefix = "clearance:"

// ParseDOCX extracts clearance-tagged sections from a DOCX file.
//
// Every Content Control (w:sdt) in word/document.xml whose tag is
// clearance:LEVEL contributes a section; its id is the control's sdtId/tag
// pair. Body text outside any tagged control is folded into INTERNAL
// sections, one per contiguous run, preserving document order.
func ParseDOCX(data []byte, filename string) (*Document, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperr.Wrap(apperr.InputInvalid, "not a valid DOCX file", err)
	}

	docXML, err := readZipFile(zr, "word/document.xml")
	if err != nil {
		return nil, apperr.Wrap(apperr.InputInvalid, "DOCX is missing word/document.xml", err)
	}

	doc := &Document{
		SourceFormat:     FormatDOCX,
		OriginalFilename: filename,
	}
	if core, err := readZipFile(zr, "docProps/core.xml"); err == nil {
		doc.Title = coreTitle(core)
	}
	if doc.Title == "" {
		doc.Title = titleFromFilename(filename)
	}

	sections, err := walkDocumentXML(docXML)
	if err != nil {
		return nil, err
	}
	if len(sections) == 0 || !hasTaggedSection(sections) {
		return nil, apperr.New(apperr.InputInvalid, "document has no clearance-tagged Content Controls")
	}

	doc.Sections = sections
	return doc, nil
}

func hasTaggedSection(sections []Section) bool {
	for _, s := range sections {
		if !strings.HasPrefix(s.ID, "untagged-") {
			return true
		}
	}
	return false
}

// sdtFrame tracks one open w:sdt element during the token walk.
type sdtFrame struct {
	tag        string
	sdtID      string
	level      classify.Level
	tagged     bool
	inPr       bool
	inContent  bool
	sectionIdx int // slot in the output reserved when content starts
	buf        strings.Builder
}

type docxWalker struct {
	sections    []Section
	stack       []*sdtFrame
	untagged    strings.Builder
	untaggedIdx int
}

// walkDocumentXML streams through document.xml collecting section text.
func walkDocumentXML(docXML []byte) ([]Section, error) {
	w := &docxWalker{}
	dec := xml.NewDecoder(bytes.NewReader(docXML))

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.InputInvalid, "malformed document.xml", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if err := w.start(t); err != nil {
				return nil, err
			}
		case xml.EndElement:
			w.end(t)
		case xml.CharData:
			w.text(string(t))
		}
	}

	w.flushUntagged()
	return w.sections, nil
}

func (w *docxWalker) start(t xml.StartElement) error {
	switch t.Name.Local {
	case "sdt":
		w.stack = append(w.stack, &sdtFrame{sectionIdx: -1})
	case "sdtPr":
		if f := w.top(); f != nil {
			f.inPr = true
		}
	case "sdtContent":
		f := w.top()
		if f == nil {
			return nil
		}
		f.inContent = true
		if f.tagged {
			// Reserve the section slot now so output order follows
			// the order controls open in the document.
			w.flushUntagged()
			f.sectionIdx = len(w.sections)
			w.sections = append(w.sections, Section{ID: f.sectionID(), Clearance: f.level})
		}
	case "tag":
		if f := w.top(); f != nil && f.inPr {
			f.tag = attrVal(t, "val")
			if strings.HasPrefix(f.tag, clearanceTagPrefix) {
				label := strings.TrimPrefix(f.tag, clearanceTagPrefix)
				level, err := classify.Parse(label)
				if err != nil {
					return apperr.Newf(apperr.InputInvalid, "unknown clearance level %q in Content Control tag", label)
				}
				f.level = level
				f.tagged = true
			}
		}
	case "id":
		if f := w.top(); f != nil && f.inPr && f.sdtID == "" {
			f.sdtID = attrVal(t, "val")
		}
	case "br", "cr":
		w.write("\n")
	case "tab":
		w.write("\t")
	}
	return nil
}

func (w *docxWalker) end(t xml.EndElement) {
	switch t.Name.Local {
	case "sdt":
		if f := w.top(); f != nil {
			if f.tagged && f.sectionIdx >= 0 {
				w.sections[f.sectionIdx].Content = canonicalContent(f.buf.String())
			}
			w.stack = w.stack[:len(w.stack)-1]
		}
	case "sdtPr":
		if f := w.top(); f != nil {
			f.inPr = false
		}
	case "sdtContent":
		if f := w.top(); f != nil {
			f.inContent = false
		}
	case "p":
		w.write("\n")
	}
}

// text routes character data to the innermost tagged control, or to the
// untagged buffer when no tagged control is open.
func (w *docxWalker) text(s string) {
	w.write(s)
}

// write drops anything inside sdtPr so placeholder text never leaks into a
// section.
func (w *docxWalker) write(s string) {
	for i := len(w.stack) - 1; i >= 0; i-- {
		f := w.stack[i]
		if f.inPr {
			return
		}
		if f.tagged && f.inContent {
			f.buf.WriteString(s)
			return
		}
	}
	w.untagged.WriteString(s)
}

// flushUntagged emits accumulated untagged body text as an INTERNAL section.
func (w *docxWalker) flushUntagged() {
	content := canonicalContent(w.untagged.String())
	w.untagged.Reset()
	if content == "" {
		return
	}
	w.untaggedIdx++
	w.sections = append(w.sections, Section{
		ID:        fmt.Sprintf("untagged-%d", w.untaggedIdx),
		Clearance: classify.Internal,
		Content:   content,
	})
}

func (w *docxWalker) top() *sdtFrame {
	if len(w.stack) == 0 {
		return nil
	}
	return w.stack[len(w.stack)-1]
}

func (f *sdtFrame) sectionID() string {
	if f.sdtID != "" {
		return f.sdtID + ":" + f.tag
	}
	return f.tag
}

func attrVal(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}

func readZipFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		}
	}
	return nil, fmt.Errorf("%s not present in archive", name)
}

// coreTitle pulls dc:title out of docProps/core.xml.
func coreTitle(core []byte) string {
	dec := xml.NewDecoder(bytes.NewReader(core))
	inTitle := false
	var title strings.Builder
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			inTitle = t.Name.Local == "title"
		case xml.EndElement:
			inTitle = false
		case xml.CharData:
			if inTitle {
				title.Write(t)
			}
		}
	}
	return strings.TrimSpace(title.String())
}
