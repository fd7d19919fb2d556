package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raglab/ragserver/internal/agent/sandbox"
	"github.com/raglab/ragserver/internal/utils"
)

// The six meta-tools below let the model author, test, and run its own
// JavaScript tool functions through the sandbox store, per spec.md
// §4.14. The gate is the store's Registered flag, which only a
// zero-failure test_tool run sets: execute_stored_tool and register_tool
// both refuse a tool without it.

// AttachRegisteredTools replays every already-registered stored tool onto
// registry, so a tool the model registered in a prior process lifetime
// is callable again after a restart without re-running register_tool.
func AttachRegisteredTools(store *sandbox.Store, registry *Registry) error {
	recs, err := store.List()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Registered {
			registry.Register(newDynamicTool(rec, store))
		}
	}
	return nil
}

type writeToolSchema struct {
	Name        string   `json:"name" jsonschema:"Short machine name for the tool, e.g. celsius_to_fahrenheit."`
	Description string   `json:"description" jsonschema:"One sentence describing what the tool does."`
	Parameters  string   `json:"parameters" jsonschema:"JSON-Schema describing the tool's call arguments, as a JSON string."`
	ParamOrder  []string `json:"param_order" jsonschema:"Parameter names in the exact order fn_name expects them positionally."`
	FnName      string   `json:"fn_name" jsonschema:"Name of the top-level JavaScript function to call."`
	Source      string   `json:"source" jsonschema:"JavaScript source defining fn_name and any helpers it needs."`
}

var writeToolParameters = utils.GenerateSchema[writeToolSchema]()

// WriteToolTool stores a candidate tool's source without making it
// callable; storage alone never confers registration.
type WriteToolTool struct {
	store *sandbox.Store
}

func NewWriteToolTool(store *sandbox.Store) *WriteToolTool { return &WriteToolTool{store: store} }

func (t *WriteToolTool) Name() string        { return "write_tool" }
func (t *WriteToolTool) Description() string {
	return "Store a new tool's JavaScript source and metadata. Does not register it for use; call test_tool and register_tool next."
}
func (t *WriteToolTool) Parameters() json.RawMessage { return writeToolParameters }

func (t *WriteToolTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in writeToolSchema
	if err := json.Unmarshal(args, &in); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	if in.Name == "" || in.FnName == "" || in.Source == "" {
		return &Result{Success: false, Error: "name, fn_name, and source are required"}, nil
	}
	validation := sandbox.Validate(in.Source)
	if !validation.Valid {
		return &Result{Success: false, Error: fmt.Sprintf("source rejected: %v", validation.Errors)}, nil
	}
	rec, err := t.store.Write(in.Name, in.Description, in.Parameters, in.ParamOrder, in.FnName, in.Source)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	return &Result{Success: true, Output: fmt.Sprintf("stored tool %q (not yet registered)", rec.Name)}, nil
}

type testToolSchema struct {
	Name  string `json:"name" jsonschema:"Name of a previously stored tool."`
	Cases []struct {
		Args     []interface{} `json:"args" jsonschema:"Positional arguments for this case."`
		Expected interface{}   `json:"expected,omitempty" jsonschema:"Expected return value, if known."`
	} `json:"cases" jsonschema:"One or more test cases to run."`
}

var testToolParameters = utils.GenerateSchema[testToolSchema]()

// TestToolTool runs a stored tool's test cases and records the report,
// which is the only way Registered can ever flip true.
type TestToolTool struct {
	store *sandbox.Store
}

func NewTestToolTool(store *sandbox.Store) *TestToolTool { return &TestToolTool{store: store} }

func (t *TestToolTool) Name() string        { return "test_tool" }
func (t *TestToolTool) Description() string { return "Run test cases against a stored tool and record pass/fail results." }
func (t *TestToolTool) Parameters() json.RawMessage { return testToolParameters }

func (t *TestToolTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in testToolSchema
	if err := json.Unmarshal(args, &in); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	rec, ok, err := t.store.Get(in.Name)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if !ok {
		return &Result{Success: false, Error: fmt.Sprintf("tool %q is not stored", in.Name)}, nil
	}
	if len(in.Cases) == 0 {
		return &Result{Success: false, Error: "at least one test case is required"}, nil
	}

	cases := make([]sandbox.TestCase, 0, len(in.Cases))
	for _, c := range in.Cases {
		cases = append(cases, sandbox.TestCase{Args: c.Args, Expected: c.Expected, HasExpected: c.Expected != nil})
	}
	report := sandbox.Test(ctx, rec.Source, rec.FnName, cases)
	if _, err := t.store.RecordTest(in.Name, report); err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}

	out, _ := json.Marshal(report)
	return &Result{
		Success: report.Failed == 0,
		Output:  string(out),
		Data:    map[string]interface{}{"passed": report.Passed, "failed": report.Failed},
	}, nil
}

type registerToolSchema struct {
	Name string `json:"name" jsonschema:"Name of a stored, tested tool to register for use."`
}

var registerToolParameters = utils.GenerateSchema[registerToolSchema]()

// RegisterToolTool registers a stored tool into the main Registry so it
// becomes attachable to future generation-loop turns, but only if the
// store already considers it registration-eligible (tested, zero
// failures) — this tool cannot flip that state itself.
type RegisterToolTool struct {
	store    *sandbox.Store
	registry *Registry
}

func NewRegisterToolTool(store *sandbox.Store, registry *Registry) *RegisterToolTool {
	return &RegisterToolTool{store: store, registry: registry}
}

func (t *RegisterToolTool) Name() string        { return "register_tool" }
func (t *RegisterToolTool) Description() string {
	return "Register a stored, tested tool for use. Fails unless it has a test run with zero failures."
}
func (t *RegisterToolTool) Parameters() json.RawMessage { return registerToolParameters }

func (t *RegisterToolTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in registerToolSchema
	if err := json.Unmarshal(args, &in); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	rec, ok, err := t.store.Get(in.Name)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if !ok {
		return &Result{Success: false, Error: fmt.Sprintf("tool %q is not stored", in.Name)}, nil
	}
	if !rec.Registered {
		return &Result{Success: false, Error: "tool has not passed a zero-failure test run"}, nil
	}

	t.registry.Register(newDynamicTool(rec, t.store))
	return &Result{Success: true, Output: fmt.Sprintf("registered tool %q", rec.Name)}, nil
}

type listStoredToolsSchema struct{}

var listStoredToolsParameters = utils.GenerateSchema[listStoredToolsSchema]()

// ListStoredToolsTool reports every stored tool and its status.
type ListStoredToolsTool struct {
	store *sandbox.Store
}

func NewListStoredToolsTool(store *sandbox.Store) *ListStoredToolsTool {
	return &ListStoredToolsTool{store: store}
}

func (t *ListStoredToolsTool) Name() string        { return "list_stored_tools" }
func (t *ListStoredToolsTool) Description() string  { return "List every stored tool, its registration status, and usage count." }
func (t *ListStoredToolsTool) Parameters() json.RawMessage { return listStoredToolsParameters }

func (t *ListStoredToolsTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	all, err := t.store.List()
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	out, _ := json.Marshal(all)
	return &Result{Success: true, Output: string(out), Data: map[string]interface{}{"count": len(all)}}, nil
}

type executeStoredToolSchema struct {
	Name string        `json:"name" jsonschema:"Name of a registered tool to run."`
	Args []interface{} `json:"args" jsonschema:"Positional arguments for the tool's function."`
}

var executeStoredToolParameters = utils.GenerateSchema[executeStoredToolSchema]()

// ExecuteStoredToolTool runs a registered tool by name, independent of
// whether it has also been attached as a first-class Registry tool.
type ExecuteStoredToolTool struct {
	store *sandbox.Store
}

func NewExecuteStoredToolTool(store *sandbox.Store) *ExecuteStoredToolTool {
	return &ExecuteStoredToolTool{store: store}
}

func (t *ExecuteStoredToolTool) Name() string        { return "execute_stored_tool" }
func (t *ExecuteStoredToolTool) Description() string  { return "Run a registered stored tool by name with the given arguments." }
func (t *ExecuteStoredToolTool) Parameters() json.RawMessage { return executeStoredToolParameters }

func (t *ExecuteStoredToolTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in executeStoredToolSchema
	if err := json.Unmarshal(args, &in); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	rec, ok, err := t.store.Get(in.Name)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if !ok || !rec.Registered {
		return &Result{Success: false, Error: fmt.Sprintf("tool %q is not registered", in.Name)}, nil
	}

	res := sandbox.Execute(ctx, rec.Source, rec.FnName, in.Args)
	_ = t.store.MarkUsed(in.Name)
	if !res.Success {
		return &Result{Success: false, Error: res.Error}, nil
	}
	out, _ := json.Marshal(res.Result)
	return &Result{Success: true, Output: string(out), Data: map[string]interface{}{"millis": res.Millis}}, nil
}

type getToolCodeSchema struct {
	Name string `json:"name" jsonschema:"Name of a stored tool whose source to retrieve."`
}

var getToolCodeParameters = utils.GenerateSchema[getToolCodeSchema]()

// GetToolCodeTool returns a stored tool's source, for review or reuse
// as a starting point for a revision.
type GetToolCodeTool struct {
	store *sandbox.Store
}

func NewGetToolCodeTool(store *sandbox.Store) *GetToolCodeTool { return &GetToolCodeTool{store: store} }

func (t *GetToolCodeTool) Name() string        { return "get_tool_code" }
func (t *GetToolCodeTool) Description() string  { return "Retrieve a stored tool's JavaScript source and parameter schema." }
func (t *GetToolCodeTool) Parameters() json.RawMessage { return getToolCodeParameters }

func (t *GetToolCodeTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var in getToolCodeSchema
	if err := json.Unmarshal(args, &in); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	rec, ok, err := t.store.Get(in.Name)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if !ok {
		return &Result{Success: false, Error: fmt.Sprintf("tool %q is not stored", in.Name)}, nil
	}
	out, _ := json.Marshal(rec)
	return &Result{Success: true, Output: string(out)}, nil
}

// orderArgsBySchema turns a named-argument map into a positional slice
// using rec.ParamOrder, the parameter name order write_tool recorded
// for this tool — a plain map range would give an arbitrary order, and
// the sandboxed function only accepts arguments positionally. Any name
// missing from ParamOrder (an older record, or a stray extra key) is
// appended afterward in map order so nothing is silently dropped.
func orderArgsBySchema(paramOrder []string, named map[string]interface{}) []interface{} {
	seen := make(map[string]bool, len(paramOrder))
	out := make([]interface{}, 0, len(named))
	for _, key := range paramOrder {
		if v, ok := named[key]; ok {
			out = append(out, v)
			seen[key] = true
		}
	}
	for key, v := range named {
		if !seen[key] {
			out = append(out, v)
		}
	}
	return out
}

// dynamicTool adapts a sandbox.StoredTool into a Tool so register_tool
// can attach it directly to the Registry as a first-class callable
// tool, not just something reachable through execute_stored_tool.
type dynamicTool struct {
	rec   func() (string, string, json.RawMessage)
	name  string
	store *sandbox.Store
}

func newDynamicTool(rec sandbox.StoredTool, store *sandbox.Store) *dynamicTool {
	name := rec.Name
	params := json.RawMessage(rec.Parameters)
	if len(params) == 0 || !json.Valid(params) {
		params = json.RawMessage(`{"type":"object"}`)
	}
	return &dynamicTool{
		name: name,
		rec: func() (string, string, json.RawMessage) {
			return rec.Description, rec.FnName, params
		},
		store: store,
	}
}

func (d *dynamicTool) Name() string { return d.name }

func (d *dynamicTool) Description() string {
	desc, _, _ := d.rec()
	return desc
}

func (d *dynamicTool) Parameters() json.RawMessage {
	_, _, params := d.rec()
	return params
}

func (d *dynamicTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	current, ok, err := d.store.Get(d.name)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}, nil
	}
	if !ok || !current.Registered {
		return &Result{Success: false, Error: fmt.Sprintf("tool %q is no longer registered", d.name)}, nil
	}

	var named map[string]interface{}
	_ = json.Unmarshal(args, &named)
	positional := orderArgsBySchema(current.ParamOrder, named)

	res := sandbox.Execute(ctx, current.Source, current.FnName, positional)
	_ = d.store.MarkUsed(d.name)
	if !res.Success {
		return &Result{Success: false, Error: res.Error}, nil
	}
	out, _ := json.Marshal(res.Result)
	return &Result{Success: true, Output: string(out)}, nil
}
