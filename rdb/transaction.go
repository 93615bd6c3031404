package rdb

import (
	"context"
	"sync"
)

// ActionType 事务内记录的动作
type ActionType string

const (
	ActionSave   ActionType = "save"
	ActionRemove ActionType = "remove"
)

// Action 记录在事务中执行过的动作及影响行数
type Action struct {
	Action  ActionType
	Records int64
}

// TxDriver 后端的事务连接
type TxDriver interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// TxState 事务状态
type TxState int

const (
	TxActive TxState = iota
	TxCommitted
	TxRolledBack
)

// Transaction 事务，记录在其中加载或保存的 Entry 和它们的动作
//
// 后端在 BEGIN 成功后用 NewTransaction 创建，创建出来即为 TxActive。
type Transaction struct {
	driver TxDriver

	mu      sync.Mutex
	state   TxState
	entries []*Entry
	actions map[*Entry][]Action
}

func NewTransaction(driver TxDriver) *Transaction {
	return &Transaction{driver: driver, actions: map[*Entry][]Action{}}
}

// Driver 后端通过它取得自己的连接
func (tx *Transaction) Driver() TxDriver {
	return tx.driver
}

func (tx *Transaction) State() TxState {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return tx.state
}

// Entries 当前绑定在事务上的记录
func (tx *Transaction) Entries() []*Entry {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return append([]*Entry(nil), tx.entries...)
}

// Actions 记录在事务中累积的动作
func (tx *Transaction) Actions(e *Entry) []Action {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	return append([]Action(nil), tx.actions[e]...)
}

// Commit 提交事务，重复调用或者已回滚时什么都不做
func (tx *Transaction) Commit(ctx context.Context) error {
	if tx.State() != TxActive {
		return nil
	}

	entries := tx.Entries()
	for _, e := range entries {
		if hook := e.model.hooks.PreCommit; hook != nil {
			hook(e, tx.Actions(e))
		}
	}

	if err := tx.driver.Commit(ctx); err != nil {
		return err
	}

	tx.mu.Lock()
	tx.state = TxCommitted
	tx.mu.Unlock()

	for _, e := range entries {
		if hook := e.model.hooks.PostCommit; hook != nil {
			hook(e, tx.Actions(e))
		}
	}
	tx.detach()
	return nil
}

// Rollback 回滚事务，提交失败后也可以调用
func (tx *Transaction) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	if tx.state != TxActive {
		tx.mu.Unlock()
		return nil
	}
	tx.state = TxRolledBack
	tx.mu.Unlock()

	tx.detach()
	return tx.driver.Rollback(ctx)
}

func (tx *Transaction) attach(e *Entry) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if e.tx == tx {
		return
	}
	e.tx = tx
	tx.entries = append(tx.entries, e)
}

func (tx *Transaction) record(e *Entry, action Action) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.actions[e] = append(tx.actions[e], action)
}

func (tx *Transaction) detach() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for _, e := range tx.entries {
		if e.tx == tx {
			e.tx = nil
		}
	}
	tx.entries = nil
	tx.actions = map[*Entry][]Action{}
}
