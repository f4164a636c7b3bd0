// Package dsl 用 CEL (Common Expression Language) 表达式做列选择：
// 谓词在列的元信息上求值，编译一次后可在任意 schema 上反复使用，
// 线程安全。选择结果是子 schema，可直接交给输入路由或配置装配。
//
// 可用变量：
//   - name: 列名 (string)
//   - dtype: 元素类型 (string: float / int / string)
//   - tags: 标签列表 (list<string>)
//   - cardinality: 离散域大小 (int)
//   - is_list: 是否列表列 (bool)
//   - value_count: 行内长度范围 (map<string,int>，键为 min / max)
//
// 示例：
//   - `"categorical" in tags && cardinality > 0`
//   - `name.endsWith("_seq")`
//   - `dtype == "float" && !("target" in tags)`
package dsl

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/rushteam/recblocks/schema"
)

var (
	// celEnv 是全局的 CEL 环境，线程安全，可复用
	celEnv     *cel.Env
	celEnvOnce sync.Once
	celEnvErr  error
)

func initCELEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("name", cel.StringType),
		cel.Variable("dtype", cel.StringType),
		cel.Variable("tags", cel.ListType(cel.StringType)),
		cel.Variable("cardinality", cel.IntType),
		cel.Variable("is_list", cel.BoolType),
		cel.Variable("value_count", cel.MapType(cel.StringType, cel.IntType)),
	)
}

func getCELEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = initCELEnv()
	})
	return celEnv, celEnvErr
}

// Selection 是编译好的列选择谓词。编译只在 Compile 时发生一次，
// Match/Select 复用编译产物。
type Selection struct {
	expr string
	prg  cel.Program
}

// Compile 编译一个列谓词。表达式必须返回 bool。
func Compile(expr string) (*Selection, error) {
	if expr == "" {
		return nil, fmt.Errorf("dsl: expression is empty")
	}
	env, err := getCELEnv()
	if err != nil {
		return nil, fmt.Errorf("dsl: init env: %w", err)
	}

	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("dsl: compile %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("dsl: expression %q must return bool, got %s", expr, ast.OutputType())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("dsl: program %q: %w", expr, err)
	}
	return &Selection{expr: expr, prg: prg}, nil
}

// MustCompile 同 Compile，编译失败时 panic，用于字面量表达式。
func MustCompile(expr string) *Selection {
	s, err := Compile(expr)
	if err != nil {
		panic(err)
	}
	return s
}

// Expr 返回原始表达式。
func (s *Selection) Expr() string {
	return s.expr
}

// Match 对单列求值。
func (s *Selection) Match(col schema.Column) (bool, error) {
	out, _, err := s.prg.Eval(columnInput(col))
	if err != nil {
		return false, fmt.Errorf("dsl: eval %q on column %q: %w", s.expr, col.Name, err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("dsl: expression %q returned %T, want bool", s.expr, out.Value())
	}
	return b, nil
}

// Select 返回 schema 中命中谓词的列构成的子 schema。
func (s *Selection) Select(sch *schema.Schema) (*schema.Schema, error) {
	var evalErr error
	out := sch.Filter(func(col schema.Column) bool {
		if evalErr != nil {
			return false
		}
		ok, err := s.Match(col)
		if err != nil {
			evalErr = err
			return false
		}
		return ok
	})
	if evalErr != nil {
		return nil, evalErr
	}
	return out, nil
}

func columnInput(col schema.Column) map[string]interface{} {
	tags := make([]string, 0, len(col.Tags))
	for _, t := range col.Tags {
		tags = append(tags, string(t))
	}
	return map[string]interface{}{
		"name":        col.Name,
		"dtype":       string(col.DType),
		"tags":        tags,
		"cardinality": col.Cardinality,
		"is_list":     col.IsList(),
		"value_count": map[string]int{"min": col.ValueCount.Min, "max": col.ValueCount.Max},
	}
}
