// Package appmeta models the application metadata that accompanies a record
// and renders it as an ApplicationMetadata document.
//
// Every text value written to the document is normalized to Unicode NFC.
package appmeta

import (
	"fmt"
	"strconv"
	"time"

	"github.com/beevik/etree"
	"golang.org/x/text/unicode/norm"

	"github.com/georgepadayatti/gojal/status"
	"github.com/georgepadayatti/gojal/textenc"
	"github.com/georgepadayatti/gojal/xmldoc"
)

// Namespace of application metadata documents.
const Namespace = "http://www.dod.mil/logging/jalop-1.0/applicationMetadata"

// RootTag is the document element of application metadata.
const RootTag = "ApplicationMetadata"

// Priority is a syslog facility and severity.
type Priority struct {
	Facility int
	Severity int
}

// Syslog describes a syslog style entry.
type Syslog struct {
	Priority  *Priority
	Timestamp time.Time
	MessageID string
	Entry     string
	Data      *StructuredDataList
}

// LoggerSeverity is a logging framework level.
type LoggerSeverity struct {
	Level int
	Name  string
}

// StackFrame is one frame of a logger location.
type StackFrame struct {
	CallerName string
	FileName   string
	LineNumber uint64
	ClassName  string
	MethodName string
	Depth      *int
}

// Logger describes an entry from a logging framework.
type Logger struct {
	LoggerName string
	Severity   *LoggerSeverity
	Timestamp  time.Time
	ThreadID   string
	Message    string
	Location   []StackFrame
	NDC        string
	MDC        []Param
	Data       *StructuredDataList
}

// ContentType is the MIME type of a journal payload.
type ContentType struct {
	MediaType  string
	SubType    string
	Parameters []Param
}

// FileInfo describes a journal payload.
type FileInfo struct {
	FileName     string
	OriginalSize *uint64
	Size         *uint64
	ThreatLevel  string
	ContentType  *ContentType
}

// Metadata is the application metadata of one record. Exactly one of Syslog,
// Logger and Custom must be set. Custom holds raw XML content.
type Metadata struct {
	EventID string
	Syslog  *Syslog
	Logger  *Logger
	Custom  string

	FileInfo *FileInfo

	// Producer attributes; Hostname and ApplicationName are filled from the
	// producer context when empty.
	Hostname        string
	ApplicationName string
	ProcessID       *uint64
}

func nfc(s string) string {
	return norm.NFC.String(s)
}

func setText(el *etree.Element, s string) {
	el.SetText(nfc(s))
}

func addText(parent *etree.Element, tag, s string) {
	if s != "" {
		setText(parent.CreateElement(tag), s)
	}
}

func setAttr(el *etree.Element, key, value string) {
	if value != "" {
		el.CreateAttr(key, nfc(value))
	}
}

func formatUint(v *uint64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatUint(*v, 10)
}

// Document renders m as a new ApplicationMetadata document whose root
// carries id as its JID attribute.
func (m *Metadata) Document(id string) (*etree.Document, error) {
	doc := xmldoc.NewDocument()
	root, err := m.Element(id)
	if err != nil {
		return nil, err
	}
	doc.SetRoot(root)
	return doc, nil
}

// Element renders m as a detached ApplicationMetadata element.
func (m *Metadata) Element(id string) (*etree.Element, error) {
	const op = "appmeta.Element"
	if m == nil {
		return nil, status.New(status.InvalidArgument, op, "nil metadata")
	}
	if id == "" {
		return nil, status.New(status.InvalidArgument, op, "empty record id")
	}
	set := 0
	if m.Syslog != nil {
		set++
	}
	if m.Logger != nil {
		set++
	}
	if m.Custom != "" {
		set++
	}
	if set != 1 {
		return nil, status.New(status.InvalidArgument, op, "exactly one of syslog, logger or custom content is required, got %d", set)
	}

	root := etree.NewElement(RootTag)
	root.CreateAttr("xmlns", Namespace)
	root.CreateAttr("JID", id)
	addText(root, "EventID", m.EventID)

	switch {
	case m.Syslog != nil:
		if err := m.syslog(root.CreateElement("Syslog")); err != nil {
			return nil, status.Wrap(status.InvalidArgument, op, err)
		}
	case m.Logger != nil:
		if err := m.logger(root.CreateElement("Logger")); err != nil {
			return nil, status.Wrap(status.InvalidArgument, op, err)
		}
	default:
		custom := root.CreateElement("Custom")
		if err := appendRaw(custom, m.Custom); err != nil {
			return nil, status.Wrap(status.MalformedXML, op, err)
		}
	}

	if m.FileInfo != nil {
		jm := root.CreateElement("JournalMetadata")
		if err := m.FileInfo.element(jm.CreateElement("FileInfo")); err != nil {
			return nil, status.Wrap(status.InvalidArgument, op, err)
		}
	}
	return root, nil
}

func (m *Metadata) syslog(el *etree.Element) error {
	s := m.Syslog
	if p := s.Priority; p != nil {
		if p.Facility < 0 || p.Facility > 23 {
			return fmt.Errorf("syslog facility %d out of range", p.Facility)
		}
		if p.Severity < 0 || p.Severity > 7 {
			return fmt.Errorf("syslog severity %d out of range", p.Severity)
		}
		el.CreateAttr("Facility", strconv.Itoa(p.Facility))
		el.CreateAttr("Severity", strconv.Itoa(p.Severity))
	}
	if !s.Timestamp.IsZero() {
		el.CreateAttr("Timestamp", textenc.TimestampAt(s.Timestamp))
	}
	setAttr(el, "Hostname", m.Hostname)
	setAttr(el, "ApplicationName", m.ApplicationName)
	setAttr(el, "ProcessID", formatUint(m.ProcessID))
	setAttr(el, "MessageID", s.MessageID)

	addText(el, "Entry", s.Entry)
	return structuredData(el, s.Data)
}

func (m *Metadata) logger(el *etree.Element) error {
	l := m.Logger
	addText(el, "LoggerName", l.LoggerName)
	if l.Severity != nil {
		sev := el.CreateElement("Severity")
		sev.SetText(strconv.Itoa(l.Severity.Level))
		setAttr(sev, "Name", l.Severity.Name)
	}
	if !l.Timestamp.IsZero() {
		el.CreateElement("Timestamp").SetText(textenc.TimestampAt(l.Timestamp))
	}
	addText(el, "Hostname", m.Hostname)
	addText(el, "ApplicationName", m.ApplicationName)
	addText(el, "ProcessID", formatUint(m.ProcessID))
	addText(el, "ThreadID", l.ThreadID)
	addText(el, "Message", l.Message)
	if len(l.Location) > 0 {
		loc := el.CreateElement("Location")
		for _, f := range l.Location {
			frame := loc.CreateElement("StackFrame")
			if f.Depth != nil {
				if *f.Depth < 0 {
					return fmt.Errorf("negative stack frame depth %d", *f.Depth)
				}
				frame.CreateAttr("Depth", strconv.Itoa(*f.Depth))
			}
			addText(frame, "CallerName", f.CallerName)
			addText(frame, "FileName", f.FileName)
			if f.LineNumber > 0 {
				frame.CreateElement("LineNumber").SetText(strconv.FormatUint(f.LineNumber, 10))
			}
			addText(frame, "ClassName", f.ClassName)
			addText(frame, "MethodName", f.MethodName)
		}
	}
	addText(el, "NDC", l.NDC)
	for _, p := range l.MDC {
		if p.Name == "" {
			return fmt.Errorf("MDC entry without a key")
		}
		mdc := el.CreateElement("MDC")
		mdc.CreateAttr("Key", nfc(p.Name))
		setText(mdc, p.Value)
	}
	return structuredData(el, l.Data)
}

func structuredData(parent *etree.Element, list *StructuredDataList) error {
	for _, g := range list.Groups() {
		if len(g.Params) == 0 {
			return fmt.Errorf("structured data group %q has no parameters", g.SDID)
		}
		sd := parent.CreateElement("StructuredData")
		sd.CreateAttr("SD_ID", nfc(g.SDID))
		for _, p := range g.Params {
			f := sd.CreateElement("Field")
			f.CreateAttr("Key", nfc(p.Name))
			setText(f, p.Value)
		}
	}
	return nil
}

func (fi *FileInfo) element(el *etree.Element) error {
	if fi.FileName == "" {
		return fmt.Errorf("file info without a file name")
	}
	el.CreateAttr("FileName", nfc(fi.FileName))
	setAttr(el, "OriginalSize", formatUint(fi.OriginalSize))
	setAttr(el, "Size", formatUint(fi.Size))
	switch fi.ThreatLevel {
	case "", "unknown", "safe", "malicious":
		setAttr(el, "ThreatLevel", fi.ThreatLevel)
	default:
		return fmt.Errorf("unknown threat level %q", fi.ThreatLevel)
	}
	if ct := fi.ContentType; ct != nil {
		if ct.MediaType == "" || ct.SubType == "" {
			return fmt.Errorf("content type needs a media type and subtype")
		}
		c := el.CreateElement("ContentType")
		c.CreateAttr("MediaType", ct.MediaType)
		c.CreateAttr("SubType", nfc(ct.SubType))
		for _, p := range ct.Parameters {
			param := c.CreateElement("Parameter")
			param.CreateAttr("Key", nfc(p.Name))
			setText(param, p.Value)
		}
	}
	return nil
}

// appendRaw parses raw as XML content and appends it to el.
func appendRaw(el *etree.Element, raw string) error {
	tmp := etree.NewDocument()
	if err := tmp.ReadFromString("<raw>" + nfc(raw) + "</raw>"); err != nil {
		return fmt.Errorf("invalid custom content: %w", err)
	}
	wrapper := tmp.Root()
	if wrapper == nil {
		return fmt.Errorf("invalid custom content")
	}
	for _, tok := range append([]etree.Token(nil), wrapper.Child...) {
		el.AddChild(tok)
	}
	return nil
}
