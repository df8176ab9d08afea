package script

import (
	"strings"
	"unicode/utf8"

	"github.com/iago/manga-creator-back/internal/domain"
)

const (
	tagScene     = "SCENE:"
	tagCharacter = "CHARACTER:"
	tagAction    = "ACTION:"
	tagDialogue  = "DIALOGUE:"

	locationTimeSeparator = " - "
)

const (
	ReasonUntaggedText      = "untagged text"
	ReasonUnterminatedTag   = "unterminated tag"
	ReasonUnrecognizedTag   = "unrecognized tag"
	ReasonMissingQuote      = "dialogue without quoted text"
	ReasonEmptyTag          = "empty tag content"
	ReasonNoSceneForContent = "content before first scene"
)

// SkippedSpan describes input the parser ignored. Callers may discard it.
type SkippedSpan struct {
	Offset int    `json:"offset"`
	Line   int    `json:"line"`
	Text   string `json:"text"`
	Reason string `json:"reason"`
}

type Result struct {
	Document domain.ScriptDocument
	Skipped  []SkippedSpan
}

// Parse scans tagged script text. It never fails: anything that does not
// match one of the four tag shapes is recorded in Result.Skipped and ignored.
//
// Recognized tags, matched by literal prefix after the opening bracket:
//
//	[SCENE: Location - Time]
//	[CHARACTER: Name, Other - short description]
//	[ACTION: free text]
//	[DIALOGUE: Speaker] "spoken text"
//
// A tag closes at the first ']' on the same line; a tag without one is
// skipped up to the end of its line.
func Parse(raw string) Result {
	return ParseScript("", domain.DefaultStyle, raw)
}

// ParseScript is Parse with the document metadata filled in.
func ParseScript(title string, style domain.Style, raw string) Result {
	p := newParser(raw)
	p.run()

	p.doc.Title = title
	p.doc.Style = style
	p.doc.RawContent = raw
	return Result{Document: p.doc, Skipped: p.skipped}
}

type parser struct {
	input string
	pos   int

	doc       domain.ScriptDocument
	current   int
	docSeen   map[string]struct{}
	sceneSeen map[string]struct{}
	skipped   []SkippedSpan

	lineOffset int
	lineNumber int
}

func newParser(input string) *parser {
	return &parser{
		input: input,
		doc: domain.ScriptDocument{
			Scenes:        []domain.Scene{},
			CharacterList: []string{},
		},
		current:    -1,
		docSeen:    make(map[string]struct{}),
		sceneSeen:  make(map[string]struct{}),
		lineNumber: 1,
	}
}

func (p *parser) run() {
	for p.pos < len(p.input) {
		open := strings.IndexByte(p.input[p.pos:], '[')
		if open < 0 {
			p.skipText(p.pos, len(p.input))
			p.pos = len(p.input)
			return
		}
		open += p.pos
		p.skipText(p.pos, open)

		lineEnd := strings.IndexByte(p.input[open:], '\n')
		if lineEnd < 0 {
			lineEnd = len(p.input)
		} else {
			lineEnd += open
		}

		closing := strings.IndexByte(p.input[open:lineEnd], ']')
		if closing < 0 {
			p.skip(open, lineEnd, ReasonUnterminatedTag)
			p.pos = lineEnd
			continue
		}
		closing += open

		p.pos = closing + 1
		p.handleTag(open, p.input[open+1:closing])
	}
}

func (p *parser) handleTag(offset int, body string) {
	trimmed := strings.TrimLeft(body, " \t")

	switch {
	case strings.HasPrefix(trimmed, tagScene):
		p.openScene(strings.TrimSpace(trimmed[len(tagScene):]))
	case strings.HasPrefix(trimmed, tagCharacter):
		p.addCharacters(offset, strings.TrimSpace(trimmed[len(tagCharacter):]))
	case strings.HasPrefix(trimmed, tagAction):
		p.addAction(offset, strings.TrimSpace(trimmed[len(tagAction):]))
	case strings.HasPrefix(trimmed, tagDialogue):
		p.addDialogue(offset, strings.TrimSpace(trimmed[len(tagDialogue):]))
	default:
		p.skip(offset, p.pos, ReasonUnrecognizedTag)
	}
}

func (p *parser) openScene(header string) {
	location, timeOfDay, _ := strings.Cut(header, locationTimeSeparator)

	p.doc.Scenes = append(p.doc.Scenes, domain.Scene{
		Index:             len(p.doc.Scenes),
		Location:          strings.TrimSpace(location),
		Time:              strings.TrimSpace(timeOfDay),
		CharactersPresent: []string{},
		Actions:           []string{},
		DialogueLines:     []domain.DialogueLine{},
	})
	p.current = len(p.doc.Scenes) - 1
	p.sceneSeen = make(map[string]struct{})
}

func (p *parser) addCharacters(offset int, content string) {
	added := 0
	for _, entry := range strings.Split(content, ",") {
		name, description, _ := strings.Cut(entry, locationTimeSeparator)
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		p.referenceCharacter(name, strings.TrimSpace(description))
		added++
	}
	if added == 0 {
		p.skip(offset, p.pos, ReasonEmptyTag)
	}
}

func (p *parser) addAction(offset int, action string) {
	if action == "" {
		p.skip(offset, p.pos, ReasonEmptyTag)
		return
	}
	if p.current < 0 {
		p.skip(offset, p.pos, ReasonNoSceneForContent)
		return
	}
	scene := &p.doc.Scenes[p.current]
	scene.Actions = append(scene.Actions, action)
}

func (p *parser) addDialogue(offset int, speaker string) {
	text, ok := p.quotedText()
	if !ok {
		p.skip(offset, p.pos, ReasonMissingQuote)
		return
	}
	if speaker == "" {
		p.skip(offset, p.pos, ReasonEmptyTag)
		return
	}
	if p.current < 0 {
		p.skip(offset, p.pos, ReasonNoSceneForContent)
		return
	}

	p.referenceCharacter(speaker, "")
	scene := &p.doc.Scenes[p.current]
	scene.DialogueLines = append(scene.DialogueLines, domain.DialogueLine{
		Speaker:    speaker,
		Text:       text,
		SceneIndex: scene.Index,
	})
}

// quotedText consumes the first quoted string after a DIALOGUE tag. Only
// whitespace may sit between the closing bracket and the opening quote, and
// the closing quote must come before the next tag or blank line.
func (p *parser) quotedText() (string, bool) {
	cursor := p.pos
	for cursor < len(p.input) {
		r, size := utf8.DecodeRuneInString(p.input[cursor:])
		if r != ' ' && r != '\t' && r != '\r' && r != '\n' {
			break
		}
		cursor += size
	}
	if cursor >= len(p.input) {
		return "", false
	}

	opening, size := utf8.DecodeRuneInString(p.input[cursor:])
	var closers string
	switch opening {
	case '"':
		closers = `"`
	case '“':
		closers = `”"`
	default:
		return "", false
	}

	start := cursor + size
	limit := p.quoteLimit(start)
	end := strings.IndexAny(p.input[start:limit], closers)
	if end < 0 {
		return "", false
	}
	end += start
	_, closerSize := utf8.DecodeRuneInString(p.input[end:])

	text := strings.TrimSpace(p.input[start:end])
	if text == "" {
		return "", false
	}
	p.pos = end + closerSize
	return text, true
}

// quoteLimit is the offset of the next '[' or blank line at or after start.
func (p *parser) quoteLimit(start int) int {
	limit := len(p.input)
	if next := strings.IndexByte(p.input[start:], '['); next >= 0 {
		limit = start + next
	}
	lineStart := start
	for lineStart < limit {
		newline := strings.IndexByte(p.input[lineStart:limit], '\n')
		if newline < 0 {
			break
		}
		lineStart += newline + 1
		lineEnd := strings.IndexByte(p.input[lineStart:limit], '\n')
		if lineEnd < 0 {
			break
		}
		if strings.TrimSpace(p.input[lineStart:lineStart+lineEnd]) == "" {
			return lineStart
		}
	}
	return limit
}

func (p *parser) referenceCharacter(name, description string) {
	if _, seen := p.docSeen[name]; !seen {
		p.docSeen[name] = struct{}{}
		p.doc.CharacterList = append(p.doc.CharacterList, name)
	}
	if description != "" {
		if p.doc.CharacterDescriptions == nil {
			p.doc.CharacterDescriptions = make(map[string]string)
		}
		if _, exists := p.doc.CharacterDescriptions[name]; !exists {
			p.doc.CharacterDescriptions[name] = description
		}
	}

	if p.current < 0 {
		return
	}
	if _, seen := p.sceneSeen[name]; seen {
		return
	}
	p.sceneSeen[name] = struct{}{}
	scene := &p.doc.Scenes[p.current]
	scene.CharactersPresent = append(scene.CharactersPresent, name)
}

func (p *parser) skipText(start, end int) {
	if strings.TrimSpace(p.input[start:end]) == "" {
		return
	}
	p.skip(start, end, ReasonUntaggedText)
}

func (p *parser) skip(start, end int, reason string) {
	p.skipped = append(p.skipped, SkippedSpan{
		Offset: start,
		Line:   p.lineAt(start),
		Text:   strings.TrimSpace(p.input[start:end]),
		Reason: reason,
	})
}

// lineAt relies on skip offsets growing monotonically.
func (p *parser) lineAt(offset int) int {
	if offset < p.lineOffset {
		p.lineOffset = 0
		p.lineNumber = 1
	}
	p.lineNumber += strings.Count(p.input[p.lineOffset:offset], "\n")
	p.lineOffset = offset
	return p.lineNumber
}
