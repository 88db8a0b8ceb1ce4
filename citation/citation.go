// Package citation binds bracketed source markers in generated answers to
// the retrieval context they must be grounded in.
//
// The generation prompt numbers every context item and instructs the model
// to cite with bracketed 1-based ordinals ("[1]", "[2,3]"). The binder
// parses those markers, validates each ordinal against the context, drops
// whatever does not resolve, and emits structured citations.
package citation

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/sophia/types"
)

// markerPattern matches one bracketed marker: [3] or [1, 4].
var markerPattern = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// Result is the outcome of binding one answer.
type Result struct {
	// Answer is the cleaned text: invalid ordinals removed, surviving
	// markers normalized to canonical "[n,m]" form.
	Answer string
	// Citations holds one entry per distinct valid ordinal, ordered by
	// first appearance.
	Citations []types.Citation
	// Dropped counts ordinals that referenced nothing in the context.
	Dropped int
	// Ungrounded is true when not a single marker survived validation.
	Ungrounded bool
}

// Binder validates and binds citation markers.
type Binder struct {
	logger *zap.Logger
}

// NewBinder creates a Binder.
func NewBinder(logger *zap.Logger) *Binder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Binder{logger: logger.With(zap.String("component", "citation_binder"))}
}

// Bind parses the answer's markers against the context. It never fails the
// request: an answer whose citations all fall apart comes back cleaned and
// flagged as ungrounded.
func (b *Binder) Bind(answer string, retrieved *types.Context) Result {
	if retrieved == nil || retrieved.Empty() {
		cleaned := markerPattern.ReplaceAllString(answer, "")
		return Result{
			Answer:     collapseSpaces(cleaned),
			Dropped:    len(markerPattern.FindAllString(answer, -1)),
			Ungrounded: true,
		}
	}

	items := retrieved.Items
	var (
		buf       []byte
		citations []types.Citation
		byOrdinal = make(map[int]struct{})
		dropped   int
		last      int
	)

	for _, loc := range markerPattern.FindAllStringSubmatchIndex(answer, -1) {
		start, end := loc[0], loc[1]
		buf = append(buf, answer[last:start]...)
		last = end

		valid := make([]int, 0, 2)
		for _, part := range strings.Split(answer[loc[2]:loc[3]], ",") {
			ordinal, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || ordinal < 1 || ordinal > len(items) {
				dropped++
				b.logger.Debug("citation ordinal dropped",
					zap.String("marker", answer[start:end]),
					zap.Int("context_items", len(items)))
				continue
			}
			valid = append(valid, ordinal)
		}
		if len(valid) == 0 {
			// The whole marker dissolves; swallow the space before it so
			// spans of earlier citations stay valid.
			if n := len(buf); n > 0 && buf[n-1] == ' ' &&
				(last >= len(answer) || isBoundary(answer[last])) {
				buf = buf[:n-1]
			}
			continue
		}

		marker := renderMarker(valid)
		span := types.Span{Start: len(buf), End: len(buf) + len(marker)}
		buf = append(buf, marker...)

		for _, ordinal := range valid {
			// A repeated ordinal keeps the citation from its first appearance.
			if _, seen := byOrdinal[ordinal]; seen {
				continue
			}
			item := items[ordinal-1]
			byOrdinal[ordinal] = struct{}{}
			citations = append(citations, types.Citation{
				ID:         uuid.NewString(),
				SourceID:   item.SourceID,
				Ordinal:    ordinal,
				Reference:  referenceFor(item),
				Span:       span,
				Confidence: item.Score,
			})
		}
	}
	buf = append(buf, answer[last:]...)

	result := Result{
		Answer:     strings.TrimRight(string(buf), " \t\n"),
		Citations:  citations,
		Dropped:    dropped,
		Ungrounded: len(citations) == 0,
	}
	if result.Ungrounded {
		b.logger.Warn("answer is ungrounded", zap.Int("dropped", dropped))
	}
	return result
}

// renderMarker writes the canonical form of a surviving marker.
func renderMarker(ordinals []int) string {
	parts := make([]string, 0, len(ordinals))
	for _, o := range ordinals {
		parts = append(parts, strconv.Itoa(o))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// referenceFor renders the human-readable source for one context item.
func referenceFor(item types.RetrievedItem) string {
	if item.Chunk != nil {
		return item.Chunk.Reference()
	}
	if len(item.Path) > 0 {
		first := item.Path[0]
		lastTriple := item.Path[len(item.Path)-1]
		return fmt.Sprintf("Knowledge graph: %s → %s", first.Subject.Name, lastTriple.Object.Name)
	}
	return item.SourceID
}

// isBoundary reports whether the byte after a dissolved marker makes the
// preceding space redundant.
func isBoundary(c byte) bool {
	return c == ' ' || c == '.' || c == ',' || c == ';' || c == ':' || c == '\n'
}

// collapseSpaces tidies the holes left by removed markers.
func collapseSpaces(s string) string {
	s = strings.ReplaceAll(s, "  ", " ")
	s = strings.ReplaceAll(s, " .", ".")
	s = strings.ReplaceAll(s, " ,", ",")
	return strings.TrimSpace(s)
}
