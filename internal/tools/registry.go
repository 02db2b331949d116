package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// Registry manages tools by name
type Registry struct {
	mu    sync.RWMutex
	tools map[string]tool.InvokableTool
}

// NewRegistry creates a new registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]tool.InvokableTool)}
}

// Register adds a tool to registry
func (r *Registry) Register(t tool.InvokableTool) error {
	info, err := t.Info(context.Background())
	if err != nil {
		return err
	}
	if info == nil || info.Name == "" {
		return fmt.Errorf("tool info missing name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[info.Name]; exists {
		return fmt.Errorf("tool already registered: %s", info.Name)
	}
	r.tools[info.Name] = t
	return nil
}

// Get retrieves a tool by name
func (r *Registry) Get(name string) (tool.InvokableTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetToolInfos returns the schema of every tool, sorted by name.
func (r *Registry) GetToolInfos(ctx context.Context) ([]*schema.ToolInfo, error) {
	names := r.Names()
	infos := make([]*schema.ToolInfo, 0, len(names))
	for _, name := range names {
		t, ok := r.Get(name)
		if !ok {
			continue
		}
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("tool %s info: %w", name, err)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Execute runs a tool by name with JSON arguments.
func (r *Registry) Execute(ctx context.Context, name, argsJSON string) (string, error) {
	t, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("tool not found: %s", name)
	}
	return t.InvokableRun(ctx, argsJSON)
}
