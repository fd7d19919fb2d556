// Package sandbox implements C14, the Tool Sandbox & Storage: validates
// and runs model-authored tool functions inside a restricted JavaScript
// interpreter, persists them to a single JSON artifact, and gates
// registration on a passing test run.
package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/dop251/goja"

	"github.com/raglab/ragserver/internal/types"
)

const executionTimeout = 5 * time.Second

// denyPatterns scans raw source text for constructs that could break
// out of the sandbox, mirroring the teacher's deny-list family in
// internal/utils/security.go (there applied to MCP stdio arguments,
// here to interpreted function bodies).
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\beval\s*\(`),
	regexp.MustCompile(`\bFunction\s*\(`),
	regexp.MustCompile(`\brequire\s*\(`),
	regexp.MustCompile(`\bimport\s*\(`),
	regexp.MustCompile(`\bprocess\.`),
	regexp.MustCompile(`\bglobalThis\b`),
	regexp.MustCompile(`\b__proto__\b`),
	regexp.MustCompile(`\bconstructor\s*\.\s*constructor\b`),
	regexp.MustCompile(`\bwhile\s*\(\s*true\s*\)`),
	regexp.MustCompile(`\bfor\s*\(\s*;;\s*\)`),
	regexp.MustCompile(`\bexec\s*\(`),
	regexp.MustCompile(`\bopen\s*\(`),
	regexp.MustCompile(`\b(os|sys|subprocess|shutil)\b`),
	regexp.MustCompile(`__del__`),
	regexp.MustCompile(`\.\s*write\s*\(`),
	regexp.MustCompile(`\.\s*chmod\s*\(`),
}

// ValidationResult is C14's validate(source) return shape.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Validate runs a syntactic parse followed by the deny-list scan. The
// parse happens first since a source that doesn't even compile has no
// meaningful deny-list surface to report beyond the syntax error.
func Validate(source string) ValidationResult {
	if _, err := goja.Compile("tool", wrapModule(source), true); err != nil {
		return ValidationResult{Valid: false, Errors: []string{fmt.Sprintf("syntax error: %v", err)}}
	}

	var errs []string
	for _, p := range denyPatterns {
		if p.MatchString(source) {
			errs = append(errs, fmt.Sprintf("disallowed construct matched %q", p.String()))
		}
	}
	if len(errs) > 0 {
		return ValidationResult{Valid: false, Errors: errs}
	}
	return ValidationResult{Valid: true}
}

// ExecutionResult is C14's execute(...) return shape.
type ExecutionResult struct {
	Success  bool
	Result   interface{}
	Error    string
	Millis   int64
}

// Execute compiles source and calls fnName(args...) inside a restricted
// VM: no Go host functions are exposed beyond the whitelisted globals
// set up in newRestrictedVM, and the call is bounded by executionTimeout.
func Execute(ctx context.Context, source, fnName string, args []interface{}) ExecutionResult {
	v := Validate(source)
	if !v.Valid {
		return ExecutionResult{Success: false, Error: fmt.Sprintf("validation failed: %v", v.Errors)}
	}

	start := time.Now()
	vm := newRestrictedVM()
	if _, err := vm.RunString(wrapModule(source)); err != nil {
		return ExecutionResult{Success: false, Error: fmt.Sprintf("load error: %v", err), Millis: millisSince(start)}
	}

	fn, ok := goja.AssertFunction(vm.Get(fnName))
	if !ok {
		return ExecutionResult{Success: false, Error: fmt.Sprintf("function %q not found", fnName), Millis: millisSince(start)}
	}

	done := make(chan ExecutionResult, 1)
	go func() {
		callArgs := make([]goja.Value, len(args))
		for i, a := range args {
			callArgs[i] = vm.ToValue(a)
		}
		ret, err := fn(goja.Undefined(), callArgs...)
		if err != nil {
			done <- ExecutionResult{Success: false, Error: err.Error()}
			return
		}
		done <- ExecutionResult{Success: true, Result: ret.Export()}
	}()

	timeoutCtx, cancel := context.WithTimeout(ctx, executionTimeout)
	defer cancel()
	select {
	case res := <-done:
		res.Millis = millisSince(start)
		return res
	case <-timeoutCtx.Done():
		vm.Interrupt("execution timed out")
		return ExecutionResult{Success: false, Error: "execution timed out", Millis: millisSince(start)}
	}
}

// TestCase is one case in a test(...) call.
type TestCase struct {
	Args     []interface{}
	Expected interface{}
	HasExpected bool
}

// TestCaseResult reports one executed case.
type TestCaseResult struct {
	Passed bool
	Result interface{}
	Error  string
}

// TestReport is C14's test(...) return shape.
type TestReport struct {
	Passed   int
	Failed   int
	PerCase  []TestCaseResult
}

// Test runs each case through Execute and compares to Expected when the
// case supplies one; a case with no expectation passes whenever
// execution succeeds.
func Test(ctx context.Context, source, fnName string, cases []TestCase) TestReport {
	report := TestReport{PerCase: make([]TestCaseResult, 0, len(cases))}
	for _, c := range cases {
		exec := Execute(ctx, source, fnName, c.Args)
		cr := TestCaseResult{Result: exec.Result, Error: exec.Error}
		switch {
		case !exec.Success:
			cr.Passed = false
		case c.HasExpected:
			cr.Passed = deepEqual(exec.Result, c.Expected)
		default:
			cr.Passed = true
		}
		if cr.Passed {
			report.Passed++
		} else {
			report.Failed++
		}
		report.PerCase = append(report.PerCase, cr)
	}
	return report
}

func deepEqual(a, b interface{}) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// newRestrictedVM returns a goja runtime with goja's standard
// ECMAScript globals (JSON, Date, Math and the other built-ins) plus a
// single host function, now(), returning the current Unix time in
// milliseconds. No other host Go functions, no network, no filesystem.
func newRestrictedVM() *goja.Runtime {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	_ = vm.Set("now", func() int64 { return time.Now().UnixMilli() })
	return vm
}

// wrapModule wraps a tool's bare function declarations so each call
// site re-parses from a consistent top level; goja's RunString already
// supports top-level function declarations directly, so this is just
// pass-through today but keeps one seam if a prelude is ever needed.
func wrapModule(source string) string {
	return source
}

func millisSince(start time.Time) int64 {
	return time.Since(start).Milliseconds()
}

// StoredTool is one model-authored tool persisted to disk, with its
// test history and usage count. Registered is only ever set true by
// the registration gate (stored AND tested AND zero failed cases) —
// nothing else may flip it.
type StoredTool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  string      `json:"parameters"`
	ParamOrder  []string    `json:"param_order"`
	FnName      string      `json:"fn_name"`
	Source      string      `json:"source"`
	TestResults *TestReport `json:"test_results,omitempty"`
	Registered  bool        `json:"registered"`
	CreatedAt   time.Time   `json:"created_at"`
	UsageCount  int         `json:"usage_count"`
}

// Store persists StoredTool records to a single JSON artifact inside
// dir. All reads/writes pass through one mutex since the artifact is
// rewritten wholesale on every change.
type Store struct {
	mu   sync.Mutex
	dir  string
	file string
}

// NewStore opens (without requiring it to already exist) a tool store
// rooted at dir/fileName. fileName is resolved with filepath.Base so a
// caller cannot smuggle a path-traversal component ("..", an absolute
// path, or an embedded separator) into the storage location.
func NewStore(dir, fileName string) (*Store, error) {
	clean := filepath.Clean(dir)
	if err := os.MkdirAll(clean, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	safeName := filepath.Base(fileName)
	if safeName == "." || safeName == string(filepath.Separator) || safeName != fileName {
		safeName = "tools.json"
	}
	path := filepath.Join(clean, safeName)
	if filepath.Dir(path) != clean {
		return nil, fmt.Errorf("resolved storage path escapes %q", clean)
	}
	return &Store{dir: clean, file: path}, nil
}

func (s *Store) load() (map[string]StoredTool, error) {
	data, err := os.ReadFile(s.file)
	if os.IsNotExist(err) {
		return map[string]StoredTool{}, nil
	}
	if err != nil {
		return nil, err
	}
	out := map[string]StoredTool{}
	if len(data) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) save(all map[string]StoredTool) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.file, data, 0o644)
}

// Write stores or overwrites a tool's source and metadata, leaving any
// existing test results and registration state behind it — a fresh
// write always invalidates a prior registration since the tested code
// may no longer match.
func (s *Store) Write(name, description, parameters string, paramOrder []string, fnName, source string) (StoredTool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return StoredTool{}, err
	}
	rec := StoredTool{
		Name:        name,
		Description: description,
		Parameters:  parameters,
		ParamOrder:  paramOrder,
		FnName:      fnName,
		Source:      source,
		CreatedAt:   time.Now(),
	}
	if prev, ok := all[name]; ok {
		rec.CreatedAt = prev.CreatedAt
		rec.UsageCount = prev.UsageCount
	}
	all[name] = rec
	return rec, s.save(all)
}

// RecordTest attaches a test report to a stored tool and sets
// Registered true only when the report has zero failures and at least
// one case ran — an empty test suite proves nothing.
func (s *Store) RecordTest(name string, report TestReport) (StoredTool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.load()
	if err != nil {
		return StoredTool{}, err
	}
	rec, ok := all[name]
	if !ok {
		return StoredTool{}, fmt.Errorf("tool %q is not stored", name)
	}
	rec.TestResults = &report
	rec.Registered = report.Failed == 0 && report.Passed > 0
	all[name] = rec
	return rec, s.save(all)
}

// Get returns a stored tool and whether a tool of that name is stored;
// registration eligibility is the record's Registered field.
func (s *Store) Get(name string) (StoredTool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return StoredTool{}, false, err
	}
	rec, ok := all[name]
	return rec, ok, nil
}

// List returns every stored tool.
func (s *Store) List() ([]StoredTool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]StoredTool, 0, len(all))
	for _, rec := range all {
		out = append(out, rec)
	}
	return out, nil
}

// MarkUsed increments a registered tool's usage count.
func (s *Store) MarkUsed(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.load()
	if err != nil {
		return err
	}
	rec, ok := all[name]
	if !ok {
		return fmt.Errorf("tool %q is not stored", name)
	}
	rec.UsageCount++
	all[name] = rec
	return s.save(all)
}

var _ = types.ErrSandboxRefused
