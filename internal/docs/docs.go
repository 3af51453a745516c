// Package docs assembles an OpenAPI-style document from the route
// registry's per-operation metadata. It reads registry snapshots and
// never mutates them.
package docs

import (
	"encoding/json"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/routegate/routegate/internal/registry"
)

// defaultErrorDescription documents the 500 entry injected into every
// operation, since any dispatch path can fail internally.
const defaultErrorDescription = "Internal server error"

// Document is the assembled API description.
type Document struct {
	OpenAPI string              `json:"openapi" yaml:"openapi"`
	Info    Info                `json:"info" yaml:"info"`
	Tags    []Tag               `json:"tags,omitempty" yaml:"tags,omitempty"`
	Paths   map[string]PathItem `json:"paths" yaml:"paths"`
}

// Info describes the API.
type Info struct {
	Title       string `json:"title" yaml:"title"`
	Version     string `json:"version" yaml:"version"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Tag is one top-level tag entry.
type Tag struct {
	Name string `json:"name" yaml:"name"`
}

// PathItem maps lowercase HTTP methods to operations for one
// documentation path.
type PathItem map[string]OperationDoc

// OperationDoc is the assembled documentation of one operation.
type OperationDoc struct {
	Summary     string                 `json:"summary,omitempty" yaml:"summary,omitempty"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	OperationID string                 `json:"operationId,omitempty" yaml:"operationId,omitempty"`
	Tags        []string               `json:"tags,omitempty" yaml:"tags,omitempty"`
	Parameters  []ParameterDoc         `json:"parameters,omitempty" yaml:"parameters,omitempty"`
	Responses   map[string]ResponseDoc `json:"responses" yaml:"responses"`
}

// ParameterDoc documents one operation parameter.
type ParameterDoc struct {
	Name        string `json:"name" yaml:"name"`
	In          string `json:"in" yaml:"in"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty"`
	Type        string `json:"type,omitempty" yaml:"type,omitempty"`
}

// ResponseDoc documents one response.
type ResponseDoc struct {
	Description string `json:"description" yaml:"description"`
}

// Assembler builds documents from registry snapshots.
type Assembler struct {
	info Info
}

// NewAssembler creates an assembler with the given API info.
func NewAssembler(info Info) *Assembler {
	if info.Title == "" {
		info.Title = "API"
	}
	if info.Version == "" {
		info.Version = "0.0.0"
	}
	return &Assembler{info: info}
}

// Assemble walks the registry and merges per-operation metadata into
// one document. Named segments are rewritten from [x] to {x}; every
// operation gains a default 500 response when it declares none; tags
// are collected into a deduplicated, alphabetically sorted list.
func (a *Assembler) Assemble(reg *registry.Registry) *Document {
	doc := &Document{
		OpenAPI: "3.0.3",
		Info:    a.info,
		Paths:   make(map[string]PathItem),
	}

	tagSet := make(map[string]bool)

	for _, entry := range reg.Entries() {
		item := make(PathItem)
		for _, method := range entry.Methods() {
			op := entry.Operation(method)
			opDoc := assembleOperation(op)
			for _, tag := range opDoc.Tags {
				tagSet[tag] = true
			}
			item[strings.ToLower(method)] = opDoc
		}
		doc.Paths[DocPath(entry.Template())] = item
	}

	tags := make([]string, 0, len(tagSet))
	for tag := range tagSet {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		doc.Tags = append(doc.Tags, Tag{Name: tag})
	}

	return doc
}

// assembleOperation merges declared metadata with the injected
// defaults.
func assembleOperation(op *registry.Operation) OperationDoc {
	out := OperationDoc{
		Responses: map[string]ResponseDoc{
			"500": {Description: defaultErrorDescription},
		},
	}

	for _, p := range op.Params {
		out.Parameters = append(out.Parameters, ParameterDoc{
			Name:        p.Name,
			In:          p.In,
			Description: p.Description,
			Required:    p.Required,
			Type:        p.Type,
		})
	}

	if op.Doc == nil {
		return out
	}

	out.Summary = op.Doc.Summary
	out.Description = op.Doc.Description
	out.OperationID = op.Doc.OperationID
	out.Tags = append(out.Tags, op.Doc.Tags...)

	for status, resp := range op.Doc.Responses {
		out.Responses[status] = ResponseDoc{Description: resp.Description}
	}

	return out
}

// DocPath rewrites a route template to its documentation form: named
// segments change from [x] to {x}.
func DocPath(template string) string {
	replacer := strings.NewReplacer("[", "{", "]", "}")
	return replacer.Replace(template)
}

// JSON renders the document as indented JSON.
func (d *Document) JSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// YAML renders the document as YAML.
func (d *Document) YAML() ([]byte, error) {
	return yaml.Marshal(d)
}
