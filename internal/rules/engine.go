// Package rules implements the path-based access-control engine: a
// declarative rule tree loaded from a persisted document, compiled into
// evaluable predicates and checked against every data operation.
package rules

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/appy-one/acebase-server-sub001/internal/storage"
)

// AdminUID is the reserved administrator identity; it bypasses all rules
// and its account can never be deleted.
const AdminUID = "admin"

// PrivatePrefix marks server-internal namespaces that non-admin
// identities can never read or write.
const PrivatePrefix = "__"

// Deny and allow codes carried by AccessResult.
const (
	CodeRule         = "rule"
	CodeNoRule       = "no_rule"
	CodePrivate      = "private"
	CodeException    = "exception"
	CodeAdmin        = "admin"
	CodeAuthDisabled = "auth_disabled"
)

// AccessResult is the outcome of an authorization check.
type AccessResult struct {
	Allow    bool
	Code     string
	Message  string
	RulePath string
}

// DefaultAccess policies used to synthesize a rule tree when no rules
// document exists.
const (
	DefaultAccessDeny  = "deny"
	DefaultAccessAllow = "allow"
	DefaultAccessAuth  = "auth"
)

const watchDebounce = 500 * time.Millisecond

// Engine evaluates read/write authorization against a compiled rule
// tree and keeps the tree in sync with its backing document.
type Engine struct {
	authEnabled   bool
	defaultAccess string
	file          string

	tree atomic.Pointer[RuleNode]

	watcher  *fsnotify.Watcher
	stopOnce sync.Once
	done     chan struct{}
}

// NewEngine loads the rules document at file (synthesizing and
// persisting a default tree when absent) and starts watching it for
// external edits. Call Stop at shutdown.
func NewEngine(file string, authEnabled bool, defaultAccess string) (*Engine, error) {
	e := &Engine{
		authEnabled:   authEnabled,
		defaultAccess: defaultAccess,
		file:          file,
		done:          make(chan struct{}),
	}

	if err := e.load(true); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating rules watcher: %w", err)
	}
	// Watch the directory: editors replace files instead of writing in
	// place, which drops a watch on the file itself.
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching rules directory: %w", err)
	}
	e.watcher = watcher
	go e.watch()

	return e, nil
}

// Tree returns the current compiled rule tree.
func (e *Engine) Tree() *RuleNode { return e.tree.Load() }

// SetTree atomically replaces the rule tree. Used by tests and by the
// reload path; readers see either the old or the new tree, never a
// partial one.
func (e *Engine) SetTree(tree *RuleNode) { e.tree.Store(tree) }

// Stop cancels the file watch. Idempotent.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		if e.watcher != nil {
			e.watcher.Close()
		}
	})
}

// UserHasAccess checks whether user (nil = anonymous) may read or write
// path. Denials are logged with the offending path and rule path.
func (e *Engine) UserHasAccess(user *AuthContext, path string, write bool) AccessResult {
	result := e.check(user, path, write)
	if !result.Allow {
		op := "read"
		if write {
			op = "write"
		}
		uid := "anonymous"
		if user != nil {
			uid = user.UID
		}
		slog.Warn("access denied", "uid", uid, "op", op, "path", path, "code", result.Code, "rule_path", result.RulePath)
	}
	return result
}

func (e *Engine) check(user *AuthContext, path string, write bool) AccessResult {
	if !e.authEnabled {
		return AccessResult{Allow: true, Code: CodeAuthDisabled}
	}
	if user != nil && user.UID == AdminUID {
		return AccessResult{Allow: true, Code: CodeAdmin}
	}
	if strings.HasPrefix(strings.TrimLeft(path, "/"), PrivatePrefix) {
		return AccessResult{Allow: false, Code: CodePrivate, Message: fmt.Sprintf("path %q is server internal", path)}
	}

	env := &Env{Auth: user, NowMillis: float64(time.Now().UnixMilli()), Vars: map[string]string{}}
	node := e.tree.Load()
	keys := storage.PathKeys(path)
	rulePath := ""

	for {
		if node == nil {
			return AccessResult{Allow: false, Code: CodeNoRule, Message: "no rule set for path", RulePath: rulePath}
		}
		rule := node.Read
		if write {
			rule = node.Write
		}
		if rule != nil {
			return e.apply(rule, env, write, rulePath)
		}
		if len(keys) == 0 {
			return AccessResult{Allow: false, Code: CodeNoRule, Message: "no rule set for path", RulePath: rulePath}
		}

		key := keys[0]
		keys = keys[1:]
		child := node.Children[key]
		if child == nil {
			varKey, varChild := variableChild(node)
			if varChild == nil {
				return AccessResult{Allow: false, Code: CodeNoRule, Message: "no rule set for path", RulePath: rulePath}
			}
			if strings.HasPrefix(varKey, "$") {
				env.Vars[varKey[1:]] = key
			}
			child = varChild
			key = varKey
		}
		rulePath = joinRulePath(rulePath, key)
		node = child
	}
}

func (e *Engine) apply(rule *Rule, env *Env, write bool, rulePath string) AccessResult {
	op := "read"
	if write {
		op = "write"
	}
	if rule.Bool != nil {
		return AccessResult{Allow: *rule.Bool, Code: CodeRule, Message: op + " permission by rule", RulePath: rulePath}
	}
	allow, err := rule.Expr.Eval(env)
	if err != nil {
		// A throwing predicate must never be mistaken for an allow.
		return AccessResult{Allow: false, Code: CodeException, Message: err.Error(), RulePath: rulePath}
	}
	return AccessResult{Allow: allow, Code: CodeRule, Message: op + " permission by rule", RulePath: rulePath}
}

// variableChild returns the wildcard or $variable child of a node,
// preferring $-named variables in lexical order over the bare "*".
func variableChild(node *RuleNode) (string, *RuleNode) {
	var names []string
	for key := range node.Children {
		if key == "*" || strings.HasPrefix(key, "$") {
			names = append(names, key)
		}
	}
	if len(names) == 0 {
		return "", nil
	}
	sort.Slice(names, func(i, j int) bool {
		if (names[i] == "*") != (names[j] == "*") {
			return names[j] == "*"
		}
		return names[i] < names[j]
	})
	return names[0], node.Children[names[0]]
}

// load reads and compiles the backing document. When persistDefault is
// set a missing document is synthesized from the default-access policy
// and written out; a malformed document falls back to the synthesized
// default in memory only.
func (e *Engine) load(persistDefault bool) error {
	data, err := os.ReadFile(e.file)
	if os.IsNotExist(err) {
		tree, doc := e.defaultTree()
		e.tree.Store(tree)
		if !persistDefault {
			return nil
		}
		raw, err := json.MarshalIndent(map[string]any{"rules": doc}, "", "    ")
		if err != nil {
			return fmt.Errorf("encoding default rules: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(e.file), 0o700); err != nil {
			return fmt.Errorf("creating rules directory: %w", err)
		}
		if err := os.WriteFile(e.file, raw, 0o600); err != nil {
			return fmt.Errorf("persisting default rules: %w", err)
		}
		slog.Info("rules document created", "file", e.file, "default_access", e.defaultAccess)
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading rules document: %w", err)
	}

	tree, err := ParseTreeJSON(data)
	if err != nil {
		slog.Error("rules document malformed, falling back to default access policy", "file", e.file, "error", err)
		tree, _ = e.defaultTree()
	}
	e.tree.Store(tree)
	return nil
}

func (e *Engine) defaultTree() (*RuleNode, map[string]any) {
	var doc map[string]any
	switch e.defaultAccess {
	case DefaultAccessAllow:
		doc = map[string]any{".read": true, ".write": true}
	case DefaultAccessAuth:
		doc = map[string]any{".read": "auth != null", ".write": "auth != null"}
	default:
		doc = map[string]any{".read": false, ".write": false}
	}
	tree, err := ParseTree(doc)
	if err != nil {
		// The synthesized documents above always compile.
		panic(err)
	}
	return tree, doc
}

// watch reloads the tree when the backing document changes on disk.
// Bursts of events (editor save patterns) are debounced.
func (e *Engine) watch() {
	var timer *time.Timer
	reload := make(chan struct{}, 1)

	for {
		select {
		case <-e.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-e.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(e.file) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(watchDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			if err := e.load(false); err != nil {
				slog.Error("rules reload failed", "file", e.file, "error", err)
				continue
			}
			slog.Info("rules reloaded", "file", e.file)
		case err, ok := <-e.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("rules watcher error", "error", err)
		}
	}
}
