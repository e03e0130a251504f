package cursor

import (
	"errors"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidChannel is returned for channel names outside the allowed
// charset or length.
var ErrInvalidChannel = errors.New("invalid channel name")

// Ref names one requested channel, optionally with a channel-qualified
// backtrack ("name.bN") overriding the request-wide backtrack.
type Ref struct {
	Name         string
	Backtrack    uint32
	HasBacktrack bool
}

var channelNameRE = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

var backtrackRE = regexp.MustCompile(`\.b([0-9]+)$`)

// ParseRefs splits a subscribe target into channel refs. Channels are
// separated by "/" or ","; duplicates are collapsed keeping the first
// occurrence, preserving request order for the merge tie-break.
func ParseRefs(raw string) ([]Ref, error) {
	raw = strings.Trim(raw, "/")
	if raw == "" {
		return nil, ErrInvalidChannel
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool { return r == '/' || r == ',' })
	refs := make([]Ref, 0, len(parts))
	seen := make(map[string]struct{}, len(parts))
	for _, part := range parts {
		ref, err := parseRef(part)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ref.Name]; dup {
			continue
		}
		seen[ref.Name] = struct{}{}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return nil, ErrInvalidChannel
	}
	return refs, nil
}

func parseRef(part string) (Ref, error) {
	var ref Ref
	if m := backtrackRE.FindStringSubmatch(part); m != nil {
		n, err := strconv.ParseUint(m[1], 10, 32)
		if err == nil {
			ref.Backtrack = uint32(n)
			ref.HasBacktrack = true
			part = strings.TrimSuffix(part, m[0])
		}
	}
	if !channelNameRE.MatchString(part) {
		return Ref{}, ErrInvalidChannel
	}
	ref.Name = part
	return ref, nil
}

// Names extracts the channel names from refs in order.
func Names(refs []Ref) []string {
	names := make([]string, len(refs))
	for i, ref := range refs {
		names[i] = ref.Name
	}
	return names
}
