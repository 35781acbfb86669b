// Package sarif holds the subset of the SARIF 2.1.0 object model needed to
// report attack chains. Pointers mark optional fields.
package sarif

// Version and Schema identify the SARIF revision written.
const (
	Version = "2.1.0"
	Schema  = "https://json.schemastore.org/sarif-2.1.0.json"
)

type Log struct {
	Version string `json:"version"`
	Schema  string `json:"$schema"`
	Runs    []*Run `json:"runs"`
}

type Run struct {
	Tool       *Tool       `json:"tool"`
	Results    []*Result   `json:"results"`
	Artifacts  []*Artifact `json:"artifacts,omitempty"`
	Properties PropertyBag `json:"properties,omitempty"`
}

type Tool struct {
	Driver *ToolComponent `json:"driver"`
}

type ToolComponent struct {
	Name           string                 `json:"name"`
	Version        *string                `json:"version,omitempty"`
	InformationURI *string                `json:"informationUri,omitempty"`
	Rules          []*ReportingDescriptor `json:"rules"`
}

// ReportingDescriptor is a rule. One exists per chain type.
type ReportingDescriptor struct {
	ID                   string                    `json:"id"`
	Name                 *string                   `json:"name,omitempty"`
	ShortDescription     *MultiformatMessageString `json:"shortDescription,omitempty"`
	FullDescription      *MultiformatMessageString `json:"fullDescription,omitempty"`
	DefaultConfiguration *ReportingConfiguration   `json:"defaultConfiguration,omitempty"`
	Properties           PropertyBag               `json:"properties,omitempty"`
}

type ReportingConfiguration struct {
	Level Level `json:"level"`
}

type MultiformatMessageString struct {
	Text     *string `json:"text"`
	Markdown *string `json:"markdown,omitempty"`
}

type Artifact struct {
	Location *ArtifactLocation `json:"location"`
}

// Result is one completed attack chain.
type Result struct {
	RuleID     string      `json:"ruleId"`
	RuleIndex  int         `json:"ruleIndex"`
	Level      Level       `json:"level"`
	Message    *Message    `json:"message"`
	Locations  []*Location `json:"locations,omitempty"`
	CodeFlows  []*CodeFlow `json:"codeFlows,omitempty"`
	Properties PropertyBag `json:"properties,omitempty"`
}

// CodeFlow carries the ordered steps of a chain.
type CodeFlow struct {
	Message     *Message      `json:"message,omitempty"`
	ThreadFlows []*ThreadFlow `json:"threadFlows"`
}

type ThreadFlow struct {
	Locations []*ThreadFlowLocation `json:"locations"`
}

type ThreadFlowLocation struct {
	Location       *Location   `json:"location"`
	ExecutionOrder int         `json:"executionOrder"`
	Importance     Importance  `json:"importance,omitempty"`
	Properties     PropertyBag `json:"properties,omitempty"`
}

type Location struct {
	PhysicalLocation *PhysicalLocation `json:"physicalLocation,omitempty"`
	Message          *Message          `json:"message,omitempty"`
}

type PhysicalLocation struct {
	ArtifactLocation *ArtifactLocation `json:"artifactLocation,omitempty"`
	Region           *Region           `json:"region,omitempty"`
}

type ArtifactLocation struct {
	URI *string `json:"uri,omitempty"`
}

// Region points at a line of the analyzed script.
type Region struct {
	StartLine int `json:"startLine"`
}

type Message struct {
	Text *string `json:"text,omitempty"`
}

type PropertyBag map[string]interface{}

type Level string

const (
	LevelError   Level = "error"
	LevelWarning Level = "warning"
	LevelNote    Level = "note"
)

type Importance string

const (
	ImportanceEssential   Importance = "essential"
	ImportanceImportant   Importance = "important"
	ImportanceUnimportant Importance = "unimportant"
)
