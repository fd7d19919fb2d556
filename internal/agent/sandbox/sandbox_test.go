package sandbox

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RejectsSyntaxError(t *testing.T) {
	v := Validate("function broken( {")
	assert.False(t, v.Valid)
	assert.NotEmpty(t, v.Errors)
}

func TestValidate_RejectsEvalCall(t *testing.T) {
	v := Validate(`function run(x) { return eval(x); }`)
	assert.False(t, v.Valid)
}

func TestValidate_AcceptsPlainFunction(t *testing.T) {
	v := Validate(`function add(a, b) { return a + b; }`)
	assert.True(t, v.Valid)
}

func TestValidate_RejectsExecCall(t *testing.T) {
	v := Validate(`function run(){ return exec("ls"); }`)
	assert.False(t, v.Valid)
}

func TestValidate_RejectsOpenCall(t *testing.T) {
	v := Validate(`function run(){ return open("/etc/passwd"); }`)
	assert.False(t, v.Valid)
}

func TestValidate_RejectsNamedImports(t *testing.T) {
	for _, src := range []string{
		`function run(){ return os.system("ls"); }`,
		`function run(){ return sys.exit(1); }`,
		`function run(){ return subprocess.call("ls"); }`,
		`function run(){ return shutil.rmtree("/"); }`,
	} {
		v := Validate(src)
		assert.False(t, v.Valid, "expected %q to be rejected", src)
	}
}

func TestValidate_RejectsNamedAttributes(t *testing.T) {
	for _, src := range []string{
		`function run(){ obj.__del__(); }`,
		`function run(){ f.write("x"); }`,
		`function run(){ f.chmod(0o777); }`,
	} {
		v := Validate(src)
		assert.False(t, v.Valid, "expected %q to be rejected", src)
	}
}

func TestExecute_RunsAndReturnsResult(t *testing.T) {
	res := Execute(context.Background(), `function add(a, b) { return a + b; }`, "add", []interface{}{2, 3})
	require.True(t, res.Success)
	assert.EqualValues(t, 5, res.Result)
}

func TestExecute_RefusesDeniedSource(t *testing.T) {
	res := Execute(context.Background(), `function run() { return eval("1"); }`, "run", nil)
	assert.False(t, res.Success)
}

func TestExecute_MissingFunctionFails(t *testing.T) {
	res := Execute(context.Background(), `function add(a, b) { return a + b; }`, "missing", nil)
	assert.False(t, res.Success)
}

func TestTest_ComparesExpectedValues(t *testing.T) {
	cases := []TestCase{
		{Args: []interface{}{2, 3}, Expected: float64(5), HasExpected: true},
		{Args: []interface{}{1, 1}, Expected: float64(9), HasExpected: true},
	}
	report := Test(context.Background(), `function add(a, b) { return a + b; }`, "add", cases)
	assert.Equal(t, 1, report.Passed)
	assert.Equal(t, 1, report.Failed)
}

func TestStore_WriteThenRecordTestRegisters(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "tools.json")
	require.NoError(t, err)

	_, err = store.Write("add_numbers", "adds two numbers", "{}", []string{"a", "b"}, "add", `function add(a, b) { return a + b; }`)
	require.NoError(t, err)

	rec, ok, err := store.Get("add_numbers")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, rec.Registered)

	report := TestReport{Passed: 2, Failed: 0}
	rec, err = store.RecordTest("add_numbers", report)
	require.NoError(t, err)
	assert.True(t, rec.Registered)
}

func TestStore_FailedTestDoesNotRegister(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "tools.json")
	require.NoError(t, err)

	_, err = store.Write("flaky", "flaky tool", "{}", nil, "run", `function run() { return 1; }`)
	require.NoError(t, err)

	rec, err := store.RecordTest("flaky", TestReport{Passed: 1, Failed: 1})
	require.NoError(t, err)
	assert.False(t, rec.Registered)
}

func TestStore_EmptyTestSuiteDoesNotRegister(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "tools.json")
	require.NoError(t, err)
	_, err = store.Write("untested", "no cases", "{}", nil, "run", `function run() { return 1; }`)
	require.NoError(t, err)

	rec, err := store.RecordTest("untested", TestReport{Passed: 0, Failed: 0})
	require.NoError(t, err)
	assert.False(t, rec.Registered)
}

func TestNewStore_FileNameEscapeFallsBackToDefault(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, "../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, dir, filepathDirOf(store.file))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func filepathDirOf(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == os.PathSeparator {
			return p[:i]
		}
	}
	return ""
}
