package rdb

import "context"

// Hooks 记录生命周期回调，子模型未设置的回调继承父模型
type Hooks struct {
	Construct  func(e *Entry)
	PreLoad    func(e *Entry)
	PostLoad   func(e *Entry)
	PreSave    func(e *Entry)
	PostSave   func(e *Entry, records int64)
	PreRemove  func(e *Entry)
	PostRemove func(e *Entry, records int64)
	PreCommit  func(e *Entry, actions []Action)
	PostCommit func(e *Entry, actions []Action)
}

func (h Hooks) inherit(parent Hooks) Hooks {
	if h.Construct == nil {
		h.Construct = parent.Construct
	}
	if h.PreLoad == nil {
		h.PreLoad = parent.PreLoad
	}
	if h.PostLoad == nil {
		h.PostLoad = parent.PostLoad
	}
	if h.PreSave == nil {
		h.PreSave = parent.PreSave
	}
	if h.PostSave == nil {
		h.PostSave = parent.PostSave
	}
	if h.PreRemove == nil {
		h.PreRemove = parent.PreRemove
	}
	if h.PostRemove == nil {
		h.PostRemove = parent.PostRemove
	}
	if h.PreCommit == nil {
		h.PreCommit = parent.PreCommit
	}
	if h.PostCommit == nil {
		h.PostCommit = parent.PostCommit
	}
	return h
}

// Method 模型方法，通过 Entry.Call 调用
type Method func(ctx context.Context, e *Entry, args ...any) (any, error)

// Methods 方法名到方法的映射
type Methods map[string]Method
