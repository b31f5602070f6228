// Package completion suggests SQL keywords, functions, relations and columns
// for a statement being typed, from the relations a metadata tree has
// loaded.
package completion

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/sahilm/fuzzy"

	"github.com/sadopc/dbridge/internal/permission"
	"github.com/sadopc/dbridge/internal/profile"
	"github.com/sadopc/dbridge/internal/schema"
	"github.com/sadopc/dbridge/internal/tree"
)

// MaxItems caps a suggestion list.
const MaxItems = 50

// Kind categorizes suggestions.
type Kind int

const (
	KindRelation Kind = iota
	KindColumn
	KindKeyword
	KindFunction
)

// Item is one suggestion.
type Item struct {
	Label  string
	Kind   Kind
	Detail string
}

type relation struct {
	name    string
	view    bool
	columns []schema.Column // nil until the tree node is expanded
}

// Completer holds the vocabulary for one engine and one tree snapshot.
// It is immutable once built.
type Completer struct {
	keywords  []string
	functions []string
	relations map[string]relation // lowercase name -> relation
}

// New builds a completer from the relations of the selected database in
// snap. Relations the user may not select are left out.
func New(engine profile.Engine, snap tree.Snapshot) *Completer {
	c := &Completer{
		keywords:  KeywordsFor(engine),
		functions: FunctionsFor(engine),
		relations: make(map[string]relation),
	}
	snap.Walk(func(n tree.Node) {
		if n.Kind != permission.KindTable && n.Kind != permission.KindView {
			return
		}
		if !n.Capabilities.Has(schema.OpSelect) {
			return
		}
		rel := relation{name: n.Name, view: n.Kind == permission.KindView}
		if n.Loaded {
			rel.columns = []schema.Column{}
			for _, id := range n.Children {
				if child, ok := snap.Node(id); ok && child.Column != nil {
					rel.columns = append(rel.columns, *child.Column)
				}
			}
		}
		c.relations[strings.ToLower(n.Name)] = rel
	})
	return c
}

// Complete returns suggestions for the word ending at cursor (a byte
// offset into text).
func (c *Completer) Complete(text string, cursor int) []Item {
	cursor = max(0, min(cursor, len(text)))
	before := text[:cursor]
	if insideStringLiteral(before) {
		return nil
	}

	prefix, qualifier := currentWord(before)
	if qualifier != "" {
		return rank(prefix, c.columnsOf(c.resolve(text, qualifier)))
	}

	var items []Item
	switch clauseAt(before, prefix) {
	case clauseRelation:
		items = c.relationItems()
	case clauseColumn:
		for _, name := range ReferencedRelations(text) {
			items = append(items, c.columnsOf(name)...)
		}
		items = append(items, c.relationItems()...)
		items = append(items, wordItems(c.functions, KindFunction, "function")...)
	default:
		items = append(items, wordItems(c.keywords, KindKeyword, "keyword")...)
		items = append(items, c.relationItems()...)
		items = append(items, wordItems(c.functions, KindFunction, "function")...)
	}
	return rank(prefix, items)
}

// Unloaded reports which relations referenced by text have no columns
// loaded yet, so that a caller can expand them before completing.
func (c *Completer) Unloaded(text string) []string {
	var out []string
	for _, name := range ReferencedRelations(text) {
		if rel, ok := c.relations[strings.ToLower(name)]; ok && rel.columns == nil {
			out = append(out, rel.name)
		}
	}
	return out
}

type clause int

const (
	clauseGeneral clause = iota
	clauseRelation
	clauseColumn
)

var relationKeywords = map[string]bool{
	"FROM": true, "JOIN": true, "INTO": true, "UPDATE": true, "TABLE": true,
}

var columnKeywords = map[string]bool{
	"SELECT": true, "WHERE": true, "SET": true, "ON": true,
	"AND": true, "OR": true, "HAVING": true, "BY": true,
}

// clauseAt classifies the position of the word being typed from the
// keyword before it. A trailing comma continues the enclosing list.
func clauseAt(before, prefix string) clause {
	tokens := strings.Fields(before[:len(before)-len(prefix)])
	if len(tokens) == 0 {
		return clauseGeneral
	}
	last := strings.ToUpper(tokens[len(tokens)-1])
	if !strings.HasSuffix(last, ",") {
		tokens = tokens[len(tokens)-1:]
	}
	for i := len(tokens) - 1; i >= 0; i-- {
		tok := strings.TrimRight(strings.ToUpper(tokens[i]), ",")
		switch {
		case relationKeywords[tok]:
			return clauseRelation
		case columnKeywords[tok]:
			return clauseColumn
		}
	}
	return clauseGeneral
}

// currentWord splits the word before the cursor: "o.to" yields prefix "to"
// and qualifier "o".
func currentWord(before string) (prefix, qualifier string) {
	i := len(before)
	for i > 0 && !isWordBreak(rune(before[i-1])) {
		i--
	}
	word := before[i:]
	if dot := strings.LastIndex(word, "."); dot >= 0 {
		return word[dot+1:], word[:dot]
	}
	return word, ""
}

func isWordBreak(r rune) bool {
	return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.')
}

func insideStringLiteral(before string) bool {
	return strings.Count(before, "'")%2 != 0
}

var (
	fromRe  = regexp.MustCompile(`(?i)\bFROM\s+([\w."` + "`" + `]+(?:\s+(?:AS\s+)?\w+)?(?:\s*,\s*[\w."` + "`" + `]+(?:\s+(?:AS\s+)?\w+)?)*)`)
	joinRe  = regexp.MustCompile(`(?i)\b(?:JOIN|UPDATE|INTO)\s+([\w."` + "`" + `]+)(?:\s+(?:AS\s+)?(\w+))?`)
	aliasRe = regexp.MustCompile(`(?i)^([\w."` + "`" + `]+)(?:\s+(?:AS\s+)?(\w+))?$`)
)

var notAlias = map[string]bool{
	"WHERE": true, "ON": true, "JOIN": true, "LEFT": true, "RIGHT": true, "INNER": true,
	"OUTER": true, "FULL": true, "CROSS": true, "GROUP": true, "ORDER": true, "LIMIT": true,
	"SET": true, "VALUES": true, "HAVING": true, "UNION": true,
}

// references returns relation names and their aliases in text.
func references(text string) (names []string, aliases map[string]string) {
	aliases = make(map[string]string)
	seen := make(map[string]bool)
	add := func(name, alias string) {
		name = strings.Trim(name, "\"`")
		if !seen[strings.ToLower(name)] {
			seen[strings.ToLower(name)] = true
			names = append(names, name)
		}
		if alias != "" && !notAlias[strings.ToUpper(alias)] {
			aliases[strings.ToLower(alias)] = name
		}
	}
	for _, m := range fromRe.FindAllStringSubmatch(text, -1) {
		for _, part := range strings.Split(m[1], ",") {
			if am := aliasRe.FindStringSubmatch(strings.TrimSpace(part)); am != nil {
				add(am[1], am[2])
			}
		}
	}
	for _, m := range joinRe.FindAllStringSubmatch(text, -1) {
		add(m[1], m[2])
	}
	return names, aliases
}

// ReferencedRelations returns the relations named in FROM, JOIN, UPDATE and
// INTO clauses of text, in order of appearance.
func ReferencedRelations(text string) []string {
	names, _ := references(text)
	return names
}

// resolve maps a qualifier that may be an alias to a relation name.
func (c *Completer) resolve(text, qualifier string) string {
	if _, ok := c.relations[strings.ToLower(qualifier)]; ok {
		return qualifier
	}
	_, aliases := references(text)
	if name, ok := aliases[strings.ToLower(qualifier)]; ok {
		return name
	}
	return qualifier
}

func (c *Completer) columnsOf(name string) []Item {
	rel, ok := c.relations[strings.ToLower(name)]
	if !ok {
		return nil
	}
	items := make([]Item, 0, len(rel.columns))
	for _, col := range rel.columns {
		detail := col.Type
		if col.IsPK {
			detail += " PK"
		}
		if !col.Nullable {
			detail += " NOT NULL"
		}
		items = append(items, Item{Label: col.Name, Kind: KindColumn, Detail: rel.name + " - " + detail})
	}
	return items
}

func (c *Completer) relationItems() []Item {
	items := make([]Item, 0, len(c.relations))
	for _, rel := range c.relations {
		detail := "table"
		if rel.view {
			detail = "view"
		}
		items = append(items, Item{Label: rel.name, Kind: KindRelation, Detail: detail})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	return items
}

func wordItems(words []string, kind Kind, detail string) []Item {
	items := make([]Item, len(words))
	for i, w := range words {
		items[i] = Item{Label: w, Kind: kind, Detail: detail}
	}
	return items
}

type labels []Item

func (l labels) String(i int) string { return strings.ToLower(l[i].Label) }
func (l labels) Len() int            { return len(l) }

// rank filters items by fuzzy match against prefix, best first. An empty
// prefix keeps everything in order.
func rank(prefix string, items []Item) []Item {
	if prefix == "" {
		if len(items) > MaxItems {
			items = items[:MaxItems]
		}
		return items
	}
	matches := fuzzy.FindFrom(strings.ToLower(prefix), labels(items))
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })

	out := make([]Item, 0, min(len(matches), MaxItems))
	for _, m := range matches {
		if len(out) == MaxItems {
			break
		}
		out = append(out, items[m.Index])
	}
	return out
}
