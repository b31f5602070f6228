package transfer

import (
	"strings"

	"github.com/sadopc/dbridge/internal/profile"
)

// Statement is one statement of an SQL script and where it starts.
type Statement struct {
	Text   string
	Index  int   // 1-based position in the script
	Line   int   // 1-based line of the first character
	Offset int64 // byte offset of the first character
}

// SplitStatements cuts a script into statements on top-level semicolons.
// Quotes, comments, PostgreSQL dollar quoting and SQLite trigger bodies are
// honoured; MySQL strings additionally treat backslash as an escape.
func SplitStatements(src string, engine profile.Engine) []Statement {
	s := &scanner{src: src, line: 1, engine: engine}
	return s.split()
}

type scanner struct {
	src    string
	pos    int
	line   int
	engine profile.Engine
	out    []Statement
}

func (s *scanner) peek(off int) byte {
	if s.pos+off < len(s.src) {
		return s.src[s.pos+off]
	}
	return 0
}

// advance moves to pos, counting newlines on the way.
func (s *scanner) advance(to int) {
	if to > len(s.src) {
		to = len(s.src)
	}
	s.line += strings.Count(s.src[s.pos:to], "\n")
	s.pos = to
}

func (s *scanner) split() []Statement {
	start, startLine := -1, 0
	for s.pos < len(s.src) {
		c := s.src[s.pos]
		if start < 0 {
			switch {
			case c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == ';':
				s.advance(s.pos + 1)
				continue
			case s.comment():
				continue
			}
			start, startLine = s.pos, s.line
		}

		switch {
		case s.comment():
		case c == '\'' || c == '"' || c == '`':
			s.quoted(c)
		case c == '$' && s.engine == profile.EnginePostgres && s.dollarQuoted():
		case c == ';':
			text := strings.TrimRight(s.src[start:s.pos], " \t\r\n")
			if s.engine == profile.EngineSQLite && openTrigger(text) {
				s.advance(s.pos + 1)
				continue
			}
			s.emit(text, startLine, start)
			start = -1
			s.advance(s.pos + 1)
		default:
			s.advance(s.pos + 1)
		}
	}
	if start >= 0 {
		if text := strings.TrimRight(s.src[start:], " \t\r\n"); text != "" {
			s.emit(text, startLine, start)
		}
	}
	return s.out
}

func (s *scanner) emit(text string, line, offset int) {
	s.out = append(s.out, Statement{
		Text:   text,
		Index:  len(s.out) + 1,
		Line:   line,
		Offset: int64(offset),
	})
}

// comment skips a comment at the cursor and reports whether there was one.
func (s *scanner) comment() bool {
	c, next := s.peek(0), s.peek(1)
	switch {
	case c == '-' && next == '-', c == '#' && s.engine == profile.EngineMySQL:
		end := strings.IndexByte(s.src[s.pos:], '\n')
		if end < 0 {
			s.advance(len(s.src))
		} else {
			s.advance(s.pos + end)
		}
		return true
	case c == '/' && next == '*':
		end := strings.Index(s.src[s.pos+2:], "*/")
		if end < 0 {
			s.advance(len(s.src))
		} else {
			s.advance(s.pos + 2 + end + 2)
		}
		return true
	}
	return false
}

// quoted skips a quoted string or identifier. Doubled quotes escape.
func (s *scanner) quoted(q byte) {
	backslash := s.engine == profile.EngineMySQL && q != '`'
	i := s.pos + 1
	for i < len(s.src) {
		switch c := s.src[i]; {
		case backslash && c == '\\':
			i += 2
		case c == q && i+1 < len(s.src) && s.src[i+1] == q:
			i += 2
		case c == q:
			s.advance(i + 1)
			return
		default:
			i++
		}
	}
	s.advance(len(s.src))
}

// dollarQuoted skips a $tag$ ... $tag$ body when the cursor opens one.
func (s *scanner) dollarQuoted() bool {
	if s.pos > 0 && isIdentByte(s.src[s.pos-1]) {
		return false
	}
	end := s.pos + 1
	for end < len(s.src) && isIdentByte(s.src[end]) && s.src[end] != '$' {
		end++
	}
	if end >= len(s.src) || s.src[end] != '$' {
		return false
	}
	tag := s.src[s.pos : end+1]
	if len(tag) > 2 && tag[1] >= '0' && tag[1] <= '9' {
		// $1 style parameters are not quotes.
		return false
	}
	closing := strings.Index(s.src[end+1:], tag)
	if closing < 0 {
		s.advance(len(s.src))
		return true
	}
	s.advance(end + 1 + closing + len(tag))
	return true
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= 0x80
}

// openTrigger reports whether text is a CREATE TRIGGER whose body has not
// reached its closing END yet.
func openTrigger(text string) bool {
	fields := strings.Fields(strings.ToUpper(text))
	if len(fields) < 3 || fields[0] != "CREATE" {
		return false
	}
	i := 1
	if fields[i] == "TEMP" || fields[i] == "TEMPORARY" {
		i++
	}
	if i >= len(fields) || fields[i] != "TRIGGER" {
		return false
	}
	return fields[len(fields)-1] != "END"
}
