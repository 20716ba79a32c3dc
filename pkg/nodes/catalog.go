package nodes

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/rulegraph/pkg/engine"
)

// Catalog maps node type names to factories and resolves connector
// handlers. It is built explicitly by the caller and handed to engine.Build;
// lookups are case-insensitive.
type Catalog struct {
	// mu protects the catalog state.
	mu sync.RWMutex

	// factories maps lower-cased type names to factories.
	factories map[string]engine.Factory

	// names keeps the registered spelling of each type name.
	names map[string]string

	// handlers maps connector keys (resource, source or type name) to handlers.
	handlers map[string]ConnectorHandler

	// validators run on every rule built from this catalog.
	validators []engine.Validator

	validate *validator.Validate
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		factories: make(map[string]engine.Factory),
		names:     make(map[string]string),
		handlers:  make(map[string]ConnectorHandler),
		validate:  validator.New(),
	}
}

// DefaultCatalog creates a catalog holding every built-in node type and the
// interval table validator.
func DefaultCatalog() *Catalog {
	c := NewCatalog()

	builtins := []struct {
		name    string
		factory engine.Factory
	}{
		{"Start", c.newStart},
		{"Input", c.newInput},
		{"Connector", c.newVirtualConnector},
		{"ConnectorV0", c.newVirtualConnector},
		{"Constant", c.newConstant},
		{"List", c.newList},
		{"Bool", c.newBool},
		{"IntervalCatV0", c.newIntervalCat},
		{"Output", c.newOutput},
		{"Check", c.newCheck},
		{"If", c.newIf},
		{"And", c.newAnd},
		{"Or", c.newOr},
		{"Not", c.newNot},
		{"Math", c.newMath},
		{"Round", c.newRound},
		{"AbsoluteValue", c.newAbsoluteValue},
		{"StartsWith", c.newStartsWith},
		{"EndsWith", c.newEndsWith},
		{"StartsWithAny", c.newStartsWithAny},
		{"EndsWithAny", c.newEndsWithAny},
		{"Contains", c.newContains},
		{"CurrentYear", c.newCurrentYear},
		{"LowerCase", c.newLowerCase},
		{"IsSubStringOf", c.newIsSubStringOf},
		{"GetChar", c.newGetChar},
		{"Concat", c.newConcat},
		{"CSVTableV0", c.newCSVTable},
		{"GLM", c.newGLM},
		{"FlowV0", c.newFlow},
		{"ConditionalConnector", c.newDynamicConnector},
		{"BureauConnector", c.newDynamicConnector},
		{"ModelConnector", c.newDynamicConnector},
		{"FeatureConnector", c.newDynamicConnector},
	}
	for _, b := range builtins {
		c.Replace(b.name, b.factory)
	}

	c.AddValidator(IntervalCatValidator{})
	return c
}

// Register adds a node type. It fails when the name is already taken.
func (c *Catalog) Register(name string, factory engine.Factory) error {
	if name == "" {
		return fmt.Errorf("node type name cannot be empty")
	}
	if factory == nil {
		return fmt.Errorf("factory for node type %s cannot be nil", name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(name)
	if _, exists := c.factories[key]; exists {
		return fmt.Errorf("node type %s already registered", name)
	}
	c.factories[key] = factory
	c.names[key] = name
	return nil
}

// Replace adds or overrides a node type.
func (c *Catalog) Replace(name string, factory engine.Factory) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := strings.ToLower(name)
	c.factories[key] = factory
	c.names[key] = name
}

// Lookup implements engine.Catalog.
func (c *Catalog) Lookup(name string) (engine.Factory, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	f, ok := c.factories[strings.ToLower(name)]
	return f, ok
}

// Names returns the registered type names in sorted order.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.names))
	for _, name := range c.names {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterHandler binds a connector handler to a key. Connector nodes look
// handlers up by their resource, source, service and then type name.
func (c *Catalog) RegisterHandler(key string, handler ConnectorHandler) error {
	if key == "" {
		return fmt.Errorf("connector handler key cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("connector handler for %s cannot be nil", key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	k := strings.ToLower(key)
	if _, exists := c.handlers[k]; exists {
		return fmt.Errorf("connector handler %s already registered", key)
	}
	c.handlers[k] = handler
	return nil
}

// Handler returns the handler of the first key that has one.
func (c *Catalog) Handler(keys ...string) (ConnectorHandler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, key := range keys {
		if key == "" {
			continue
		}
		if h, ok := c.handlers[strings.ToLower(key)]; ok {
			return h, true
		}
	}
	return nil, false
}

// AddValidator adds a validator run on every rule built from this catalog.
func (c *Catalog) AddValidator(v engine.Validator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.validators = append(c.validators, v)
}

// Validators implements engine.ValidatorProvider.
func (c *Catalog) Validators() []engine.Validator {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]engine.Validator(nil), c.validators...)
}
