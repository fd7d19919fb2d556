package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	pg_query "github.com/pganalyze/pg_query_go/v6"
	"gorm.io/gorm"

	"github.com/raglab/ragserver/internal/utils"
)

// sqlQuerySchema is the model-facing parameter shape: user_id is
// ambient-injected, never asked of the model. sqlQueryParameters is
// generated from it, the same way the teacher derives every tool's
// parameter schema.
type sqlQuerySchema struct {
	SQL string `json:"sql" jsonschema:"A single read-only SELECT statement over state_entries or state_audit. Do not include a user_id condition; it is added automatically."`
}

var sqlQueryParameters = utils.GenerateSchema[sqlQuerySchema]()

// SQLQueryTool lets the model inspect its own ledger/audit rows via a
// SQL SELECT that is parsed, whitelisted, and user_id-scoped before
// execution — never handed to the database verbatim.
type SQLQueryTool struct {
	db *gorm.DB
}

func NewSQLQueryTool(db *gorm.DB) *SQLQueryTool {
	return &SQLQueryTool{db: db}
}

func (t *SQLQueryTool) Name() string        { return "query_ledger" }
func (t *SQLQueryTool) Description() string { return "Run a read-only SQL SELECT against the caller's own state_entries/state_audit rows." }
func (t *SQLQueryTool) Parameters() json.RawMessage { return sqlQueryParameters }

type sqlQueryInput struct {
	SQL    string `json:"sql"`
	UserID string `json:"user_id"`
}

func (t *SQLQueryTool) Execute(ctx context.Context, args json.RawMessage) (*Result, error) {
	var input sqlQueryInput
	if err := json.Unmarshal(args, &input); err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("invalid arguments: %v", err)}, nil
	}
	if input.SQL == "" {
		return &Result{Success: false, Error: "missing sql parameter"}, nil
	}
	if input.UserID == "" {
		return &Result{Success: false, Error: "missing user_id (ambient context was not injected)"}, nil
	}

	validator := newLedgerSQLValidator(input.UserID)
	secured, err := validator.validateAndSecure(input.SQL)
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("sql rejected: %v", err)}, nil
	}

	rows, err := t.db.WithContext(ctx).Raw(secured).Rows()
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("query failed: %v", err)}, nil
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("columns failed: %v", err)}, nil
	}

	var results []map[string]interface{}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return &Result{Success: false, Error: fmt.Sprintf("scan failed: %v", err)}, nil
		}
		row := map[string]interface{}{}
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}

	out, _ := json.Marshal(results)
	return &Result{
		Success: true,
		Output:  string(out),
		Data:    map[string]interface{}{"row_count": len(results), "query": secured},
	}, nil
}

// ledgerSQLValidator is the state-ledger adaptation of the teacher's
// SQL security validator: same PostgreSQL-AST approach, the injected
// scoping column is user_id against state_entries/state_audit rather
// than tenant_id against the knowledge-base schema.
type ledgerSQLValidator struct {
	allowedTables    map[string]bool
	allowedFunctions map[string]bool
	userID           string
}

func newLedgerSQLValidator(userID string) *ledgerSQLValidator {
	return &ledgerSQLValidator{
		allowedTables: map[string]bool{"state_entries": true, "state_audit": true},
		allowedFunctions: map[string]bool{
			"count": true, "sum": true, "avg": true, "min": true, "max": true,
			"coalesce": true, "round": true, "length": true, "lower": true, "upper": true,
			"now": true, "date_trunc": true, "extract": true,
		},
		userID: userID,
	}
}

func (v *ledgerSQLValidator) validateAndSecure(sqlQuery string) (string, error) {
	if strings.Contains(sqlQuery, "\x00") {
		return "", fmt.Errorf("invalid character in SQL query")
	}
	if len(sqlQuery) < 6 || len(sqlQuery) > 2048 {
		return "", fmt.Errorf("SQL query length out of bounds")
	}

	result, err := pg_query.Parse(sqlQuery)
	if err != nil {
		return "", fmt.Errorf("parse error: %w", err)
	}
	if len(result.Stmts) != 1 {
		return "", fmt.Errorf("exactly one statement is required")
	}

	selectStmt := result.Stmts[0].Stmt.GetSelectStmt()
	if selectStmt == nil {
		return "", fmt.Errorf("only SELECT queries are allowed")
	}
	if selectStmt.Op != pg_query.SetOperation_SETOP_NONE {
		return "", fmt.Errorf("compound queries are not allowed")
	}
	if selectStmt.WithClause != nil {
		return "", fmt.Errorf("WITH clauses are not allowed")
	}
	if len(selectStmt.LockingClause) > 0 {
		return "", fmt.Errorf("locking clauses are not allowed")
	}

	tables, err := v.validateFromClause(selectStmt.FromClause)
	if err != nil {
		return "", err
	}
	if len(tables) == 0 {
		return "", fmt.Errorf("no valid table referenced")
	}

	for _, target := range selectStmt.TargetList {
		if err := v.validateNode(target); err != nil {
			return "", err
		}
	}
	if selectStmt.WhereClause != nil {
		if err := v.validateNode(selectStmt.WhereClause); err != nil {
			return "", err
		}
	}

	normalized, err := pg_query.Deparse(result)
	if err != nil {
		return "", fmt.Errorf("normalize failed: %w", err)
	}
	return v.injectUserScope(normalized, tables), nil
}

func (v *ledgerSQLValidator) validateFromClause(items []*pg_query.Node) (map[string]string, error) {
	tables := map[string]string{}
	for _, item := range items {
		if err := v.validateFromItem(item, tables); err != nil {
			return nil, err
		}
	}
	return tables, nil
}

func (v *ledgerSQLValidator) validateFromItem(node *pg_query.Node, tables map[string]string) error {
	if node == nil {
		return nil
	}
	if rv := node.GetRangeVar(); rv != nil {
		name := strings.ToLower(rv.Relname)
		if rv.Schemaname != "" && strings.ToLower(rv.Schemaname) != "public" {
			return fmt.Errorf("schema %q not allowed", rv.Schemaname)
		}
		if !v.allowedTables[name] {
			return fmt.Errorf("table not allowed: %s", rv.Relname)
		}
		alias := name
		if rv.Alias != nil && rv.Alias.Aliasname != "" {
			alias = strings.ToLower(rv.Alias.Aliasname)
		}
		tables[name] = alias
		return nil
	}
	if je := node.GetJoinExpr(); je != nil {
		if err := v.validateFromItem(je.Larg, tables); err != nil {
			return err
		}
		if err := v.validateFromItem(je.Rarg, tables); err != nil {
			return err
		}
		if je.Quals != nil {
			return v.validateNode(je.Quals)
		}
		return nil
	}
	if node.GetRangeSubselect() != nil {
		return fmt.Errorf("subqueries in FROM are not allowed")
	}
	if node.GetRangeFunction() != nil {
		return fmt.Errorf("functions in FROM are not allowed")
	}
	return nil
}

func (v *ledgerSQLValidator) validateNode(node *pg_query.Node) error {
	if node == nil {
		return nil
	}
	if node.GetSubLink() != nil {
		return fmt.Errorf("subqueries are not allowed")
	}
	if fc := node.GetFuncCall(); fc != nil {
		name := ""
		for _, part := range fc.Funcname {
			if s := part.GetString_(); s != nil {
				name = strings.ToLower(s.Sval)
			}
		}
		if !v.allowedFunctions[name] {
			return fmt.Errorf("function not allowed: %s", name)
		}
		for _, arg := range fc.Args {
			if err := v.validateNode(arg); err != nil {
				return err
			}
		}
		return nil
	}
	if ae := node.GetAExpr(); ae != nil {
		if err := v.validateNode(ae.Lexpr); err != nil {
			return err
		}
		return v.validateNode(ae.Rexpr)
	}
	if be := node.GetBoolExpr(); be != nil {
		for _, arg := range be.Args {
			if err := v.validateNode(arg); err != nil {
				return err
			}
		}
	}
	if rt := node.GetResTarget(); rt != nil {
		return v.validateNode(rt.Val)
	}
	return nil
}

var whereRe = regexp.MustCompile(`(?i)\bWHERE\b`)
var tailClauseRe = regexp.MustCompile(`(?i)\b(GROUP BY|ORDER BY|LIMIT|OFFSET|HAVING)\b`)

func (v *ledgerSQLValidator) injectUserScope(sql string, tables map[string]string) string {
	var conditions []string
	for _, alias := range tables {
		conditions = append(conditions, fmt.Sprintf("%s.user_id = '%s'", alias, escapeLiteral(v.userID)))
	}
	if len(conditions) == 0 {
		return sql
	}
	scope := strings.Join(conditions, " AND ")
	if loc := whereRe.FindStringIndex(sql); loc != nil {
		cond := sql[loc[1]:]
		tail := ""
		if t := tailClauseRe.FindStringIndex(cond); t != nil {
			cond, tail = cond[:t[0]], " "+cond[t[0]:]
		}
		return sql[:loc[0]] + fmt.Sprintf("WHERE %s AND (%s)", scope, strings.TrimSpace(cond)) + tail
	}
	if loc := tailClauseRe.FindStringIndex(sql); loc != nil {
		return sql[:loc[0]] + fmt.Sprintf(" WHERE %s ", scope) + sql[loc[0]:]
	}
	return fmt.Sprintf("%s WHERE %s", sql, scope)
}

func escapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}
