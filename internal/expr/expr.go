package expr

import (
	"fmt"
	"sync"
)

// Expression is a compiled guard or condition.
type Expression struct {
	source string
	root   node
}

// Compile parses src. The grammar is closed: literals, dotted context lookups,
// comparisons and boolean combinators. Nothing else can be expressed.
func Compile(src string) (*Expression, error) {
	root, err := parse(src)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", src, err)
	}
	return &Expression{source: src, root: root}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(src string) *Expression {
	e, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return e
}

// String returns the source text.
func (e *Expression) String() string { return e.source }

// Eval evaluates the expression against env.
func (e *Expression) Eval(env map[string]interface{}) (interface{}, error) {
	v, err := e.root.eval(env)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", e.source, err)
	}
	return v, nil
}

// EvalBool evaluates the expression and applies Truthy to the result.
func (e *Expression) EvalBool(env map[string]interface{}) (bool, error) {
	v, err := e.Eval(env)
	if err != nil {
		return false, err
	}
	return Truthy(v), nil
}

// Cache memoizes compiled expressions by source text.
type Cache struct {
	mu    sync.RWMutex
	exprs map[string]*Expression
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{exprs: make(map[string]*Expression)}
}

// Get returns the compiled form of src, compiling it on first use.
func (c *Cache) Get(src string) (*Expression, error) {
	c.mu.RLock()
	e, ok := c.exprs[src]
	c.mu.RUnlock()
	if ok {
		return e, nil
	}

	e, err := Compile(src)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.exprs[src] = e
	c.mu.Unlock()
	return e, nil
}

// EvalBool compiles (or reuses) src and evaluates it as a boolean.
func (c *Cache) EvalBool(src string, env map[string]interface{}) (bool, error) {
	e, err := c.Get(src)
	if err != nil {
		return false, err
	}
	return e.EvalBool(env)
}
