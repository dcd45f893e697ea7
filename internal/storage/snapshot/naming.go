package snapshot

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/yndnr/meshkv/internal/core/domain"
)

const (
	// TimestampPlaceholder is replaced with the save time in file names.
	TimestampPlaceholder = "{timestamp}"

	// TimestampLayout formats the placeholder in UTC. It sorts
	// lexicographically in time order.
	TimestampLayout = "2006-01-02T15:04:05"

	SingleExt     = ".rdb"
	ShardExt      = ".dfs"
	SummarySuffix = "-summary" + ShardExt

	// StagingSuffix ends the names of shard files that are not yet part
	// of a snapshot. No Matcher ever matches them.
	StagingSuffix = ".tmp"
)

// Format selects the on-disk layout of a snapshot.
type Format string

const (
	FormatSingle  Format = "rdb"
	FormatSharded Format = "df"
)

// ParseFormat accepts "rdb" or "df" in any case.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case FormatSingle:
		return FormatSingle, nil
	case FormatSharded:
		return FormatSharded, nil
	default:
		return "", domain.ErrConfiguration.Detailf("unknown snapshot format %q (want rdb or df)", s)
	}
}

// ExpandName substitutes the timestamp placeholder.
func ExpandName(pattern string, t time.Time) string {
	return strings.ReplaceAll(pattern, TimestampPlaceholder, t.UTC().Format(TimestampLayout))
}

// SingleFileName appends ".rdb" unless name already has it.
func SingleFileName(name string) string {
	if strings.HasSuffix(name, SingleExt) {
		return name
	}
	return name + SingleExt
}

// ShardBase strips a trailing ".dfs" or ".rdb" from name.
func ShardBase(name string) string {
	for _, ext := range []string{ShardExt, SingleExt} {
		if b, ok := strings.CutSuffix(name, ext); ok {
			return b
		}
	}
	return name
}

// ShardFileName returns "<base>-NNNN.dfs".
func ShardFileName(base string, index int) string {
	return fmt.Sprintf("%s-%04d%s", base, index, ShardExt)
}

// SummaryFileName returns "<base>-summary.dfs".
func SummaryFileName(base string) string {
	return base + SummarySuffix
}

// StagingName returns the hidden name a shard file is written under before
// it is renamed into place: ".<file>.<id>.tmp" in the same directory.
func StagingName(file, id string) string {
	dir, base := path.Split(file)
	return dir + "." + base + "." + strings.ToLower(id) + StagingSuffix
}

// IsSummary reports whether name is a sharded snapshot's manifest.
func IsSummary(name string) bool {
	return strings.HasSuffix(name, SummarySuffix)
}

// Candidate is a loadable snapshot found by a Matcher.
type Candidate struct {
	// Name is the authoritative file: .rdb or -summary.dfs.
	Name   string `json:"name" yaml:"name"`
	Format Format `json:"format" yaml:"format"`
	// Token is the resolved timestamp, empty for literal patterns.
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
}

// Matcher finds snapshots produced by a name pattern.
type Matcher struct {
	pattern string
	prefix  string
	re      *regexp.Regexp
}

var tokenExpr = `(\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2})`

// NewMatcher compiles pattern. Extensions are stripped so "x", "x.rdb" and
// "x.dfs" all match both x.rdb and x-summary.dfs.
func NewMatcher(pattern string) (*Matcher, error) {
	if pattern == "" {
		return nil, domain.ErrConfiguration.WithDetails("empty snapshot name pattern")
	}
	base := ShardBase(pattern)
	parts := strings.Split(base, TimestampPlaceholder)
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = regexp.QuoteMeta(p)
	}
	expr := "^" + strings.Join(quoted, tokenExpr) + `(` + regexp.QuoteMeta(SingleExt) + `|` + regexp.QuoteMeta(SummarySuffix) + `)$`
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, domain.ErrConfiguration.Detailf("snapshot name pattern %q", pattern).WithCause(err)
	}
	return &Matcher{pattern: pattern, prefix: parts[0], re: re}, nil
}

// ListPrefix is the longest literal prefix shared by every match, suitable
// for Backend.List.
func (m *Matcher) ListPrefix() string {
	return m.prefix
}

// Dir is the directory part of the pattern, "" for the root.
func (m *Matcher) Dir() string {
	d := path.Dir(m.pattern)
	if d == "." {
		return ""
	}
	return d
}

// Match reports whether name is a snapshot produced by the pattern.
func (m *Matcher) Match(name string) (Candidate, bool) {
	sub := m.re.FindStringSubmatch(name)
	if sub == nil {
		return Candidate{}, false
	}
	c := Candidate{Name: name, Format: FormatSingle}
	if sub[len(sub)-1] == SummarySuffix {
		c.Format = FormatSharded
	}
	// Every placeholder resolves to the same save time.
	if len(sub) > 2 {
		c.Token = sub[1]
		for _, tok := range sub[2 : len(sub)-1] {
			if tok != c.Token {
				return Candidate{}, false
			}
		}
	}
	return c, true
}

// Newest picks the most recent candidate: the greatest timestamp token,
// then the preferred format, then the greatest name.
func Newest(cands []Candidate, preferred Format) (Candidate, bool) {
	if len(cands) == 0 {
		return Candidate{}, false
	}
	best := cands[0]
	for _, c := range cands[1:] {
		if newer(c, best, preferred) {
			best = c
		}
	}
	return best, true
}

func newer(a, b Candidate, preferred Format) bool {
	if a.Token != b.Token {
		return a.Token > b.Token
	}
	if (a.Format == preferred) != (b.Format == preferred) {
		return a.Format == preferred
	}
	return a.Name > b.Name
}
