package toolsync

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNoEvaluator indicates the requested engine is not compiled into the binary.
var ErrNoEvaluator = errors.New("toolsync: evaluator not configured")

// Engine names accepted by WithEngine.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

type expressionConfig struct {
	engine    string
	evaluator Evaluator
	cache     ProgramCache
	registry  *FunctionRegistry
	logger    EvaluatorLogger
	args      map[string]any
	metadata  map[string]any
	now       func() time.Time
}

// ExpressionOption configures an ExpressionResolver.
type ExpressionOption func(*expressionConfig)

// WithEngine selects the expression engine: expr (default), cel or js.
func WithEngine(engine string) ExpressionOption {
	return func(cfg *expressionConfig) {
		cfg.engine = strings.ToLower(strings.TrimSpace(engine))
	}
}

// WithEvaluator installs a custom Evaluator, overriding WithEngine.
func WithEvaluator(evaluator Evaluator) ExpressionOption {
	return func(cfg *expressionConfig) {
		cfg.evaluator = evaluator
	}
}

// WithProgramCache shares compiled programs across resolvers.
func WithProgramCache(cache ProgramCache) ExpressionOption {
	return func(cfg *expressionConfig) {
		cfg.cache = cache
	}
}

// WithFunctionRegistry replaces the default function registry.
func WithFunctionRegistry(registry *FunctionRegistry) ExpressionOption {
	return func(cfg *expressionConfig) {
		if registry == nil {
			return
		}
		cfg.registry = registry.Clone()
	}
}

// WithCustomFunction registers fn next to the default helpers.
func WithCustomFunction(name string, fn Function) ExpressionOption {
	return func(cfg *expressionConfig) {
		if cfg.registry == nil {
			cfg.registry = DefaultFunctionRegistry()
		}
		_ = cfg.registry.Register(name, fn)
	}
}

// WithEvaluatorLogger records every evaluation.
func WithEvaluatorLogger(logger EvaluatorLogger) ExpressionOption {
	return func(cfg *expressionConfig) {
		if logger == nil {
			cfg.logger = noopEvaluatorLogger{}
			return
		}
		cfg.logger = logger
	}
}

// WithArgs exposes values as the args variable.
func WithArgs(args map[string]any) ExpressionOption {
	return func(cfg *expressionConfig) {
		cfg.args = args
	}
}

// WithMetadata exposes values as the metadata variable.
func WithMetadata(metadata map[string]any) ExpressionOption {
	return func(cfg *expressionConfig) {
		cfg.metadata = metadata
	}
}

// WithClock overrides the time source bound to now. The clock is read once,
// when the resolver is built, so identities stay stable across digests.
func WithClock(now func() time.Time) ExpressionOption {
	return func(cfg *expressionConfig) {
		cfg.now = now
	}
}

// ExpressionResolver is an IdentityResolver driven by a user supplied
// expression. The expression sees enabled, title, X, Y and extra from the bag
// plus previous (the current identifier), slot, and now, which is fixed at
// construction. It must yield a string; nil means the tool is not nameable
// yet.
type ExpressionResolver struct {
	expression string
	engine     string
	rule       CompiledRule
	logger     EvaluatorLogger
	args       map[string]any
	metadata   map[string]any
	now        time.Time
}

// NewExpressionResolver compiles expression once for the selected engine.
func NewExpressionResolver(expression string, opts ...ExpressionOption) (*ExpressionResolver, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("toolsync: expression must not be empty")
	}
	cfg := expressionConfig{engine: EngineExpr}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if cfg.registry == nil {
		cfg.registry = DefaultFunctionRegistry()
	}
	if cfg.logger == nil {
		cfg.logger = noopEvaluatorLogger{}
	}
	if cfg.now == nil {
		cfg.now = time.Now
	}

	evaluator, engine, err := cfg.buildEvaluator()
	if err != nil {
		return nil, err
	}
	rule, err := evaluator.Compile(expression)
	if err != nil {
		return nil, err
	}
	return &ExpressionResolver{
		expression: expression,
		engine:     engine,
		rule:       rule,
		logger:     cfg.logger,
		args:       cfg.args,
		metadata:   cfg.metadata,
		now:        cfg.now(),
	}, nil
}

func (cfg expressionConfig) buildEvaluator() (Evaluator, string, error) {
	if cfg.evaluator != nil {
		return cfg.evaluator, "custom", nil
	}
	switch cfg.engine {
	case "", EngineExpr:
		return NewExprEvaluator(ExprWithProgramCache(cfg.cache), ExprWithFunctionRegistry(cfg.registry)), EngineExpr, nil
	case EngineCEL:
		return NewCELEvaluator(CELWithProgramCache(cfg.cache), CELWithFunctionRegistry(cfg.registry)), EngineCEL, nil
	case EngineJS:
		if !jsEvaluatorAvailable() {
			return nil, EngineJS, fmt.Errorf("%w: js engine requires the js_eval build tag", ErrNoEvaluator)
		}
		return NewJSEvaluator(JSWithProgramCache(cfg.cache), JSWithFunctionRegistry(cfg.registry)), EngineJS, nil
	default:
		return nil, cfg.engine, fmt.Errorf("toolsync: unknown expression engine %q", cfg.engine)
	}
}

// Engine reports the engine the expression was compiled for.
func (r *ExpressionResolver) Engine() string {
	return r.engine
}

// Expression returns the compiled source.
func (r *ExpressionResolver) Expression() string {
	return r.expression
}

// Resolve implements IdentityResolver.
func (r *ExpressionResolver) Resolve(props Properties, previousID string) (string, error) {
	return r.ResolveSlot(props, previousID, -1)
}

// ResolveSlot evaluates the expression with slot bound to index.
func (r *ExpressionResolver) ResolveSlot(props Properties, previousID string, index int) (string, error) {
	now := r.now
	ctx := RuleContext{
		Snapshot:   expressionSnapshot(props),
		PreviousID: previousID,
		Slot:       index,
		Now:        &now,
		Args:       r.args,
		Metadata:   r.metadata,
	}.withDefaults()

	start := time.Now()
	var id string
	value, err := r.rule.Evaluate(ctx)
	if err == nil {
		id, err = identifierFromValue(value)
		err = resultError(r.engine, r.expression, index, err)
	}
	r.logger.LogEvaluation(EvaluatorLogEvent{
		Engine:   r.engine,
		Expr:     r.expression,
		Slot:     index,
		Duration: time.Since(start),
		Err:      err,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func expressionSnapshot(props Properties) map[string]any {
	snapshot := props.ToMap()
	if _, ok := snapshot["extra"]; !ok {
		snapshot["extra"] = map[string]any{}
	}
	return snapshot
}

func identifierFromValue(value any) (string, error) {
	switch typed := value.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(typed), nil
	default:
		return "", fmt.Errorf("identifier must be a string, got %T", value)
	}
}
