package strategies

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Field 策略配置字段描述，供前端渲染配置表单
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // string | decimal | int | enum
	Required bool   `json:"required"`
	Default  string `json:"default,omitempty"`
}

// Descriptor 策略类型描述（策略类型列表接口返回该结构）
type Descriptor struct {
	Type        string  `json:"type"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Fields      []Field `json:"fields,omitempty"`
}

// Factory 策略实例工厂，raw 为前端传入的 JSON 配置
type Factory func(id string, raw json.RawMessage, deps Deps) (Strategy, error)

// Registry 策略类型注册表
type Registry struct {
	factories   map[string]Factory
	descriptors map[string]Descriptor
	mu          sync.RWMutex
}

// NewRegistry 创建策略类型注册表
func NewRegistry() *Registry {
	return &Registry{
		factories:   make(map[string]Factory),
		descriptors: make(map[string]Descriptor),
	}
}

// Register 注册策略类型
func (r *Registry) Register(desc Descriptor, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[desc.Type]; exists {
		return fmt.Errorf("策略类型 %s 已注册", desc.Type)
	}
	r.factories[desc.Type] = factory
	r.descriptors[desc.Type] = desc
	return nil
}

// Create 创建策略实例
func (r *Registry) Create(typ, id string, raw json.RawMessage, deps Deps) (Strategy, error) {
	r.mu.RLock()
	factory, exists := r.factories[typ]
	r.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("未知的策略类型: %s", typ)
	}
	return factory(id, raw, deps)
}

// Descriptors 列出全部已注册的策略类型（按类型名排序）
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// GlobalRegistry 全局策略类型注册表，各策略包在 init 中注册
var GlobalRegistry = NewRegistry()

// Register 注册到全局注册表
func Register(desc Descriptor, factory Factory) {
	if err := GlobalRegistry.Register(desc, factory); err != nil {
		panic(err)
	}
}
