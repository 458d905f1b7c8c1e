// Package partition parses and rewrites hierarchical key=value object-key
// prefixes and derives partition metadata from object keys.
package partition

import (
	"fmt"
	"strings"

	"github.com/loghub/etl-core/pkg/timefmt"
)

// SpecType selects how a matched partition key's value is rewritten.
type SpecType string

const (
	// SpecRetain keeps the segment unchanged.
	SpecRetain SpecType = "retain"
	// SpecTime reparses the value with From and reformats it with To.
	SpecTime SpecType = "time"
	// SpecDefault replaces the value with the static Value.
	SpecDefault SpecType = "default"
)

// KeySpec is the rewrite policy for a single partition key. Key matching is
// case-insensitive; the original casing from the input prefix is preserved.
type KeySpec struct {
	Key   string
	Type  SpecType
	From  string
	To    string
	Value string
}

// PolicyMode distinguishes the three forms the keepPrefix option can take.
type PolicyMode int

const (
	// ModeKeepAll passes the prefix through unchanged.
	ModeKeepAll PolicyMode = iota
	// ModeFilenameOnly drops all partition directories.
	ModeFilenameOnly
	// ModeRewrite applies per-key specs.
	ModeRewrite
)

// Policy is a parsed keepPrefix option.
type Policy struct {
	Mode  PolicyMode
	Specs []KeySpec
}

// KeepAll returns the pass-through policy.
func KeepAll() Policy { return Policy{Mode: ModeKeepAll} }

// FilenameOnly returns the policy that strips every partition directory.
func FilenameOnly() Policy { return Policy{Mode: ModeFilenameOnly} }

// Rewrite returns a per-key rewrite policy.
func Rewrite(specs ...KeySpec) Policy {
	return Policy{Mode: ModeRewrite, Specs: specs}
}

func (p Policy) lookup(key string) (KeySpec, bool) {
	for _, spec := range p.Specs {
		if strings.EqualFold(spec.Key, key) {
			return spec, true
		}
	}
	return KeySpec{}, false
}

// PolicyFromValue parses the loose keepPrefix option: a boolean, or a map of
// key -> {type, from, to, value}.
func PolicyFromValue(v any) (Policy, error) {
	switch t := v.(type) {
	case nil:
		return KeepAll(), nil
	case bool:
		if t {
			return KeepAll(), nil
		}
		return FilenameOnly(), nil
	case map[string]any:
		specs := make([]KeySpec, 0, len(t))
		for key, raw := range t {
			m, ok := raw.(map[string]any)
			if !ok {
				return Policy{}, fmt.Errorf("keepPrefix.%s: expected an object", key)
			}
			spec := KeySpec{
				Key:   key,
				Type:  SpecType(stringField(m, "type")),
				From:  stringField(m, "from"),
				To:    stringField(m, "to"),
				Value: stringField(m, "value"),
			}
			switch spec.Type {
			case SpecRetain, SpecDefault:
			case SpecTime:
				if spec.From == "" || spec.To == "" {
					return Policy{}, fmt.Errorf("keepPrefix.%s: time spec requires from and to", key)
				}
			default:
				return Policy{}, fmt.Errorf("keepPrefix.%s: unknown spec type %q", key, spec.Type)
			}
			specs = append(specs, spec)
		}
		return Rewrite(specs...), nil
	default:
		return Policy{}, fmt.Errorf("keepPrefix: unsupported type %T", v)
	}
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// RewritePrefix applies the policy to a partition-encoded prefix. Segment
// order is preserved; segments with no matching spec pass through unchanged.
func RewritePrefix(prefix string, policy Policy) (string, error) {
	switch policy.Mode {
	case ModeKeepAll:
		return prefix, nil
	case ModeFilenameOnly:
		if idx := strings.LastIndex(prefix, "/"); idx >= 0 {
			return prefix[idx+1:], nil
		}
		return prefix, nil
	}

	segments := strings.Split(prefix, "/")
	out := make([]string, 0, len(segments))
	for _, segment := range segments {
		key, value, found := strings.Cut(segment, "=")
		if !found {
			out = append(out, segment)
			continue
		}
		spec, ok := policy.lookup(key)
		if !ok {
			out = append(out, segment)
			continue
		}
		switch spec.Type {
		case SpecRetain:
			out = append(out, segment)
		case SpecDefault:
			out = append(out, key+"="+spec.Value)
		case SpecTime:
			t, err := timefmt.Parse(spec.From, value)
			if err != nil {
				return "", err
			}
			out = append(out, key+"="+timefmt.Format(spec.To, t))
		}
	}
	return strings.Join(out, "/"), nil
}

// NotificationPrefix returns the longest leading literal part of a prefix,
// cut before the first templating marker (% or $) or the first key= segment,
// trimmed of surrounding slashes.
func NotificationPrefix(prefix string) string {
	cut := len(prefix)
	if idx := strings.IndexAny(prefix, "%$"); idx >= 0 {
		cut = idx
	}
	// A key= segment also ends the literal part, at the segment boundary.
	offset := 0
	for _, segment := range strings.Split(prefix, "/") {
		if eq := strings.Index(segment, "="); eq > 0 && offset+eq < cut {
			cut = offset
			break
		}
		offset += len(segment) + 1
	}
	return strings.Trim(prefix[:cut], "/")
}

// PartitionPath returns the key=value/... portion of an object key with
// values still URL-encoded. Decoding and SQL quoting happen at DDL
// generation time, not here.
func PartitionPath(key string) string {
	var parts []string
	for _, segment := range strings.Split(key, "/") {
		if k, _, found := strings.Cut(segment, "="); found && k != "" {
			parts = append(parts, segment)
		}
	}
	return strings.Join(parts, "/")
}
