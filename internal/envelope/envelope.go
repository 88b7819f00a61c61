// Package envelope defines the canonical result schema shared by the capsule
// executor, the ritual engine, and the operator query surface. Every capsule
// invocation and every terminal run is represented as exactly one Envelope.
package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// DiagnosticLevel orders the severity of a diagnostic entry.
type DiagnosticLevel string

const (
	LevelDebug   DiagnosticLevel = "debug"
	LevelInfo    DiagnosticLevel = "info"
	LevelWarning DiagnosticLevel = "warning"
	LevelError   DiagnosticLevel = "error"
)

// Diagnostic is one entry in the envelope's ordered diagnostic trail.
type Diagnostic struct {
	Level   DiagnosticLevel `json:"level"`
	Message string          `json:"message"`
	Source  string          `json:"source,omitempty"`
	Context json.RawMessage `json:"context,omitempty"`
}

func Debug(msg string) Diagnostic   { return Diagnostic{Level: LevelDebug, Message: msg} }
func Info(msg string) Diagnostic    { return Diagnostic{Level: LevelInfo, Message: msg} }
func Warning(msg string) Diagnostic { return Diagnostic{Level: LevelWarning, Message: msg} }
func Error(msg string) Diagnostic   { return Diagnostic{Level: LevelError, Message: msg} }

// WithSource returns a copy of the diagnostic tagged with its origin component.
func (d Diagnostic) WithSource(source string) Diagnostic {
	d.Source = source
	return d
}

// WithContext attaches arbitrary structured context to the diagnostic.
func (d Diagnostic) WithContext(v any) Diagnostic {
	raw, err := json.Marshal(v)
	if err != nil {
		return d
	}
	d.Context = raw
	return d
}

// Duration captures total and per-phase timing for a completed operation.
type Duration struct {
	TotalMs *float64           `json:"total_ms,omitempty"`
	Phases  map[string]float64 `json:"phases,omitempty"`
}

// Metrics is the optional numeric summary attached to a terminal envelope.
type Metrics struct {
	Duration  *Duration          `json:"duration,omitempty"`
	Counters  map[string]float64 `json:"counters,omitempty"`
	Resources map[string]float64 `json:"resources,omitempty"`
	Custom    json.RawMessage    `json:"custom,omitempty"`
}

// SourceInfo identifies the component instance that produced an envelope.
type SourceInfo struct {
	System   string `json:"system"`
	Version  string `json:"version,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// Provenance traces an envelope back to the component and span that built it.
type Provenance struct {
	Source    SourceInfo `json:"source"`
	Timestamp string     `json:"timestamp,omitempty"`
	TraceID   string     `json:"traceId,omitempty"`
	SpanID    string     `json:"spanId,omitempty"`
	Chain     []string   `json:"chain,omitempty"`
}

// Result is the tagged success|error variant. Exactly one of Data or
// (Message, Code) is populated; Success reports which.
type Result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Message string          `json:"message,omitempty"`
	Code    string          `json:"code,omitempty"`
}

// SuccessResult wraps opaque success data.
func SuccessResult(data any) (Result, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Result{}, fmt.Errorf("marshal success data: %w", err)
	}
	return Result{Success: true, Data: raw}, nil
}

// ErrorResult builds the error variant with a taxonomy code (see §7).
func ErrorResult(message, code string) Result {
	return Result{Success: false, Message: message, Code: code}
}

// Envelope is the lingua franca result object produced by capsules and
// surfaced by the ritual engine.
type Envelope struct {
	Result      Result       `json:"result"`
	Diagnostics []Diagnostic `json:"diagnostics"`
	Metrics     *Metrics     `json:"metrics,omitempty"`
	Provenance  *Provenance  `json:"provenance,omitempty"`
	Suggestions []string     `json:"suggestions,omitempty"`
}

var (
	ErrMissingResult  = errors.New("envelope: missing result")
	ErrAmbiguousState = errors.New("envelope: result must be exactly one of success or error")
)

// Validate checks the invariants from §3: exactly one of success/error, and
// a non-nil diagnostics slice (it may be empty, but never absent on the wire).
func (e Envelope) Validate() error {
	if e.Diagnostics == nil {
		return fmt.Errorf("envelope: diagnostics must not be nil")
	}
	if !e.Result.Success && e.Result.Message == "" && e.Result.Code == "" {
		return ErrMissingResult
	}
	if e.Result.Success && (e.Result.Message != "" || e.Result.Code != "") {
		return ErrAmbiguousState
	}
	return nil
}

// Builder accumulates an Envelope through the same plan-then-build shape the
// capsule executor and ritual engine both use to assemble results.
type Builder struct {
	env Envelope
}

// NewBuilder starts a builder with an empty, non-nil diagnostics slice.
func NewBuilder() *Builder {
	return &Builder{env: Envelope{Diagnostics: []Diagnostic{}}}
}

func (b *Builder) Success(data any) *Builder {
	result, err := SuccessResult(data)
	if err != nil {
		return b.ErrorWithCode(err.Error(), "ENVELOPE_ENCODE_ERROR")
	}
	b.env.Result = result
	return b
}

func (b *Builder) ErrorWithCode(message, code string) *Builder {
	b.env.Result = ErrorResult(message, code)
	return b
}

func (b *Builder) AddDiagnostic(d Diagnostic) *Builder {
	b.env.Diagnostics = append(b.env.Diagnostics, d)
	return b
}

func (b *Builder) WithMetrics(m *Metrics) *Builder {
	b.env.Metrics = m
	return b
}

func (b *Builder) WithSourceInfo(system, version, instance string) *Builder {
	b.env.Provenance = &Provenance{Source: SourceInfo{System: system, Version: version, Instance: instance}}
	return b
}

// WithTrace stamps the active span's trace/span IDs onto the envelope's
// provenance. A no-op if WithSourceInfo has not been called yet, or if both
// IDs are empty (tracing disabled).
func (b *Builder) WithTrace(traceID, spanID string) *Builder {
	if b.env.Provenance == nil || (traceID == "" && spanID == "") {
		return b
	}
	b.env.Provenance.TraceID = traceID
	b.env.Provenance.SpanID = spanID
	return b
}

func (b *Builder) WithSuggestions(s ...string) *Builder {
	b.env.Suggestions = append(b.env.Suggestions, s...)
	return b
}

// Build validates and returns the accumulated envelope.
func (b *Builder) Build() (Envelope, error) {
	if err := b.env.Validate(); err != nil {
		return Envelope{}, err
	}
	return b.env, nil
}
