// Package model holds the data types shared across the scan engine: the
// crawl graph (Page, Form, FormInput), the unit of dispatched work
// (ScanTask, WorkerResult), and the externally visible unit of detection
// (Finding). These types carry no behavior beyond small constructors and
// are passed by value or pointer between the Crawler, Worker Pool,
// Detectors, and Coordinator.
package model

import (
	"fmt"

	"github.com/google/uuid"
)

// ScanId is an opaque unique identifier for a scan, assigned by the caller
// and stable for the scan's lifetime.
type ScanId = string

// FormInput is a single named field inside a Form.
type FormInput struct {
	Name     string
	Type     string
	Required bool
	Value    string
}

// Form is an HTML form discovered on a Page.
type Form struct {
	Action string
	Method string
	Inputs []FormInput
}

// NonHiddenInputs returns the inputs whose type is not "hidden".
func (f Form) NonHiddenInputs() []FormInput {
	out := make([]FormInput, 0, len(f.Inputs))
	for _, in := range f.Inputs {
		if in.Type != "hidden" {
			out = append(out, in)
		}
	}
	return out
}

// HiddenInputNamed reports whether the form carries a hidden input whose
// name satisfies predicate. Names are passed as the parser recorded them,
// without case folding; a case-insensitive match is the predicate's job.
func (f Form) HiddenInputNamed(predicate func(name string) bool) bool {
	for _, in := range f.Inputs {
		if in.Type == "hidden" && predicate(in.Name) {
			return true
		}
	}
	return false
}

// Page is one crawled document: its URL, extracted title, outbound links,
// and forms, plus its BFS depth from the seed.
type Page struct {
	URL   string
	Title string
	Depth int
	Links []string
	Forms []Form
}

// TaskKind distinguishes the two kinds of ScanTask the Coordinator enqueues.
type TaskKind string

const (
	TaskKindInit TaskKind = "Init"
	TaskKindScan TaskKind = "Scan"
)

// ScanTask is one unit of work handed to the Worker Pool: scan a single
// Page that belongs to a given scan.
type ScanTask struct {
	TaskID   string
	ScanID   ScanId
	Kind     TaskKind
	Page     Page
	Priority int
}

// NewScanTask builds a ScanTask with the conventional task id
// "<scan_id>::page-<index>".
func NewScanTask(scanID ScanId, index int, page Page, priority int) ScanTask {
	return ScanTask{
		TaskID:   fmt.Sprintf("%s::page-%d", scanID, index),
		ScanID:   scanID,
		Kind:     TaskKindScan,
		Page:     page,
		Priority: priority,
	}
}

// WorkerOutcome is the settled result of a ScanTask: either Ok with the
// page's findings and counters, or Err with a failure reason.
type WorkerOutcome struct {
	OK              bool
	Findings        []Finding
	FormsFound      int
	EndpointsTested int
	PageURL         string
	Err             error
}

// WorkerResult is produced by a worker once, and consumed once by the
// Coordinator. It is never persisted.
type WorkerResult struct {
	TaskID   string
	WorkerID int
	Outcome  WorkerOutcome
}

// Severity is the four-level severity scale used on Finding. Values are
// PascalCase to match the external Scan record's JSON contract exactly.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
	SeverityLow      Severity = "Low"
)

// Category is the fixed set of vulnerability classes a Finding may belong
// to. Not every category is produced by this engine's detector catalogue
// (API Issues and Load Testing are reserved for other collaborators' scan
// types sharing this Finding schema) but all six appear in the external
// contract and are accepted as valid values.
type Category string

const (
	CategorySQLInjection          Category = "SQL Injection"
	CategoryXSS                   Category = "XSS"
	CategoryCSRF                  Category = "CSRF"
	CategoryAPIIssues             Category = "API Issues"
	CategoryLoadTesting           Category = "Load Testing"
	CategoryInformationDisclosure Category = "Information Disclosure"
)

// Finding is the externally visible unit of detection.
type Finding struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Category    Category `json:"category"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Location    string   `json:"location"`
	Impact      string   `json:"impact"`
}

// NewFinding assigns a fresh id to a Finding. Detectors build findings
// through this constructor so the id space is uniform regardless of
// which detector produced the finding.
func NewFinding(name string, category Category, severity Severity, description, location, impact string) Finding {
	return Finding{
		ID:          uuid.NewString(),
		Name:        name,
		Category:    category,
		Severity:    severity,
		Description: description,
		Location:    location,
		Impact:      impact,
	}
}
