package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"unicode"

	"github.com/siherrmann/knowledge/model"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"
)

// CurrentFormatVersion is the lessons file format this parser expects.
const CurrentFormatVersion = "1.0"

// MinBulletLength drops bullets too short to carry knowledge.
const MinBulletLength = 10

// ParseFunc turns an import source into bulk import entries.
type ParseFunc func(source *model.ImportSource) (*ParseResult, error)

// ParseResult holds the parsed entries and everything that was skipped.
type ParseResult struct {
	Entries       []model.ImportEntry `json:"entries"`
	Warnings      []string            `json:"warnings"`
	FormatVersion string              `json:"format_version,omitempty"`
}

var (
	formatVersionPattern = regexp.MustCompile(`(?i)<!--\s*format:\s*v?([\d.]+)\s*-->`)
	storyPattern         = regexp.MustCompile(`(?i)^(KNOW-\d+|STORY-\d+|WISH-\d+)`)
	slugPattern          = regexp.MustCompile(`[^a-z0-9-]`)
)

// The parser is configured once and safe to share, Parse keeps its state per call.
var (
	markdownParserInstance goldmark.Markdown
	markdownParserOnce     sync.Once
)

func getMarkdownParser() goldmark.Markdown {
	markdownParserOnce.Do(func() {
		markdownParserInstance = goldmark.New(goldmark.WithExtensions(extension.GFM))
	})
	return markdownParserInstance
}

type inferenceRule struct {
	pattern *regexp.Regexp
	value   string
}

// First match wins.
var roleRules = []inferenceRule{
	{regexp.MustCompile(`(?i)backend|api|server|database|lambda|serverless`), string(model.RoleDev)},
	{regexp.MustCompile(`(?i)frontend|ui|component|react|tailwind`), string(model.RoleDev)},
	{regexp.MustCompile(`(?i)test|testing|qa|quality|coverage|vitest|playwright`), string(model.RoleQA)},
	{regexp.MustCompile(`(?i)pm|product|story|requirement|acceptance`), string(model.RolePM)},
	{regexp.MustCompile(`(?i)pattern|architecture|design|decision`), string(model.RoleDev)},
	{regexp.MustCompile(`(?i)risk|mitigation|security`), string(model.RoleAll)},
	{regexp.MustCompile(`(?i)documentation|docs|readme`), string(model.RoleAll)},
	{regexp.MustCompile(`(?i)performance|optimization|token`), string(model.RoleDev)},
}

// All matches apply.
var tagRules = []inferenceRule{
	{regexp.MustCompile(`(?i)token|cost|optimization`), "tokens"},
	{regexp.MustCompile(`(?i)test|testing|vitest|playwright`), "testing"},
	{regexp.MustCompile(`(?i)pattern|architecture`), "pattern"},
	{regexp.MustCompile(`(?i)backend|api|lambda`), "backend"},
	{regexp.MustCompile(`(?i)frontend|react|ui`), "frontend"},
	{regexp.MustCompile(`(?i)database|drizzle|postgres`), "database"},
	{regexp.MustCompile(`(?i)security|auth|validation`), "security"},
	{regexp.MustCompile(`(?i)performance|latency|speed`), "performance"},
	{regexp.MustCompile(`(?i)documentation|readme|docs`), "documentation"},
	{regexp.MustCompile(`(?i)risk|mitigation`), "risk"},
}

type lessonItem struct {
	subsection string
	text       string
}

type lessonSection struct {
	header string
	items  []lessonItem
	// context collects the section text used for role inference.
	context []string
}

// LessonsLearnedParser parses lessons-learned markdown. Every bullet below a
// "## <story> - <title>" section becomes a lesson entry, "###" subsections
// and the bullet text decide its tags and the section decides its role.
func LessonsLearnedParser() ParseFunc {
	return func(source *model.ImportSource) (*ParseResult, error) {
		if len(source.Content) > model.MaxImportFileSize {
			return nil, fmt.Errorf("%s exceeds %d bytes", source.Path, model.MaxImportFileSize)
		}

		result := &ParseResult{Entries: []model.ImportEntry{}, Warnings: []string{}}
		if strings.TrimSpace(source.Content) == "" {
			return result, nil
		}

		if match := formatVersionPattern.FindStringSubmatch(source.Content); match != nil {
			result.FormatVersion = match[1]
			if match[1] != CurrentFormatVersion {
				result.Warnings = append(result.Warnings, fmt.Sprintf("Format version mismatch: expected %s, found %s", CurrentFormatVersion, match[1]))
			}
		} else {
			result.Warnings = append(result.Warnings, fmt.Sprintf("No format version marker found. Expected: <!-- format: v%s -->", CurrentFormatVersion))
		}

		sourceFile := source.Path
		if sourceFile == "" {
			sourceFile = "LESSONS-LEARNED.md"
		}

		for _, section := range lessonSections([]byte(source.Content)) {
			role := infer(roleRules, strings.Join(section.context, " "), string(model.RoleAll))
			story := storyPattern.FindString(section.header)

			for _, item := range section.items {
				content := sanitize(item.text)
				if len([]rune(content)) < MinBulletLength {
					continue
				}
				if err := model.ValidateContent(content); err != nil {
					result.Warnings = append(result.Warnings, fmt.Sprintf("Skipping invalid entry in %q: %v", item.subsection, err))
					continue
				}
				result.Entries = append(result.Entries, model.ImportEntry{
					Content:    content,
					Role:       role,
					EntryType:  string(model.EntryTypeLesson),
					Tags:       lessonTags(section.header, item.subsection, content, story),
					SourceFile: sourceFile,
				})
			}
		}

		return result, nil
	}
}

// ParagraphParser creates a parser that turns every paragraph into an entry
// with the given role and entry type.
func ParagraphParser(role model.Role, entryType model.EntryType) ParseFunc {
	return func(source *model.ImportSource) (*ParseResult, error) {
		if len(source.Content) > model.MaxImportFileSize {
			return nil, fmt.Errorf("%s exceeds %d bytes", source.Path, model.MaxImportFileSize)
		}

		result := &ParseResult{Entries: []model.ImportEntry{}, Warnings: []string{}}
		var tags []string
		if tag := slug(source.Title); tag != "" {
			tags = []string{"source:" + tag}
		}

		for i, para := range strings.Split(source.Content, "\n\n") {
			para = sanitize(para)
			if para == "" {
				continue
			}
			if err := model.ValidateContent(para); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("Skipping paragraph %d: %v", i, err))
				continue
			}
			result.Entries = append(result.Entries, model.ImportEntry{
				Content:    para,
				Role:       string(role),
				EntryType:  string(entryType),
				Tags:       tags,
				SourceFile: source.Path,
			})
		}

		return result, nil
	}
}

// lessonSections walks the top level of the document. Level 2 headings open
// a section, level 3 headings a subsection and every item of a list below a
// section becomes a lesson. Lists before the first section are ignored.
func lessonSections(source []byte) []*lessonSection {
	document := getMarkdownParser().Parser().Parse(text.NewReader(source))

	var sections []*lessonSection
	var current *lessonSection
	subsection := "General"

	for node := document.FirstChild(); node != nil; node = node.NextSibling() {
		switch n := node.(type) {
		case *ast.Heading:
			title := strings.TrimSpace(linesText(n.Lines(), source))
			switch n.Level {
			case 2:
				current = &lessonSection{header: title, context: []string{title}}
				sections = append(sections, current)
				subsection = "General"
			case 3:
				if current != nil {
					subsection = title
					current.context = append(current.context, title)
				}
			}
		case *ast.List:
			if current == nil {
				continue
			}
			for item := n.FirstChild(); item != nil; item = item.NextSibling() {
				itemText := blockText(item, source)
				current.items = append(current.items, lessonItem{subsection: subsection, text: itemText})
				current.context = append(current.context, itemText)
			}
		}
	}
	return sections
}

// blockText renders the children of a list item back to plain text. Fenced
// code blocks keep their fences and nested lists their bullets.
func blockText(node ast.Node, source []byte) string {
	var parts []string
	for child := node.FirstChild(); child != nil; child = child.NextSibling() {
		switch c := child.(type) {
		case *ast.FencedCodeBlock:
			parts = append(parts, "```"+string(c.Language(source))+"\n"+linesText(c.Lines(), source)+"```")
		case *ast.List:
			for item := c.FirstChild(); item != nil; item = item.NextSibling() {
				parts = append(parts, "- "+blockText(item, source))
			}
		default:
			lines := strings.Split(linesText(child.Lines(), source), "\n")
			for i := range lines {
				lines[i] = strings.TrimSpace(lines[i])
			}
			if joined := strings.TrimSpace(strings.Join(lines, "\n")); joined != "" {
				parts = append(parts, joined)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func linesText(lines *text.Segments, source []byte) string {
	var b strings.Builder
	for i := 0; i < lines.Len(); i++ {
		segment := lines.At(i)
		b.Write(segment.Value(source))
	}
	return b.String()
}

func lessonTags(sectionHeader string, subsectionHeader string, content string, story string) []string {
	tags := []string{"source:lessons-learned"}
	if story != "" {
		tags = append(tags, "story:"+strings.ToLower(story))
	}
	if tag := slug(subsectionHeader); tag != "" {
		tags = append(tags, tag)
	}

	combined := sectionHeader + " " + subsectionHeader + " " + content
	for _, rule := range tagRules {
		if rule.pattern.MatchString(combined) {
			tags = append(tags, rule.value)
		}
	}

	valid := tags[:0]
	for _, tag := range model.NormalizeTags(tags) {
		if len([]rune(tag)) <= model.MaxTagLength {
			valid = append(valid, tag)
		}
	}
	return valid
}

func infer(rules []inferenceRule, text string, fallback string) string {
	for _, rule := range rules {
		if rule.pattern.MatchString(text) {
			return rule.value
		}
	}
	return fallback
}

func slug(value string) string {
	value = strings.Join(strings.Fields(strings.ToLower(value)), "-")
	return slugPattern.ReplaceAllString(value, "")
}

// sanitize trims the text and drops control characters except newlines and tabs.
func sanitize(text string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r != '\n' && r != '\t' && unicode.IsControl(r) {
			return -1
		}
		return r
	}, text))
}
