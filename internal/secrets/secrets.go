// Package secrets resolves 1Password references (op://vault/item/field)
// through the op CLI.
package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// Prefix marks a value as a 1Password reference.
const Prefix = "op://"

const defaultTimeout = 10 * time.Second

// ErrCLIMissing means the op binary is not on PATH.
var ErrCLIMissing = errors.New("1Password CLI (op) is not installed or not in PATH")

// IsReference reports whether s should be resolved.
func IsReference(s string) bool { return strings.HasPrefix(s, Prefix) }

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// OPResolver reads secrets with `op read`. Each reference is resolved at
// most once per resolver.
type OPResolver struct {
	Binary  string
	Timeout time.Duration
	run     Runner

	mu    sync.Mutex
	cache map[string]string
}

// NewOPResolver returns a resolver using run, or the real op CLI when run is
// nil.
func NewOPResolver(run Runner) *OPResolver {
	if run == nil {
		run = execRunner
	}
	return &OPResolver{Binary: "op", Timeout: defaultTimeout, run: run, cache: make(map[string]string)}
}

// Resolve returns the secret behind ref. Non-references come back unchanged.
func (r *OPResolver) Resolve(ctx context.Context, ref string) (string, error) {
	if !IsReference(ref) {
		return ref, nil
	}
	r.mu.Lock()
	if v, ok := r.cache[ref]; ok {
		r.mu.Unlock()
		return v, nil
	}
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	out, err := r.run(ctx, r.Binary, "read", ref)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("timed out resolving %s; is 1Password unlocked?", ref)
		}
		return "", fmt.Errorf("resolving %s: %w", ref, err)
	}
	v := strings.TrimSpace(string(out))

	r.mu.Lock()
	r.cache[ref] = v
	r.mu.Unlock()
	return v, nil
}

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if errors.Is(err, exec.ErrNotFound) {
		return nil, ErrCLIMissing
	}
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}
