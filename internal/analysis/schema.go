package analysis

import "github.com/timmy/flashtag/internal/prompts"

// FieldKind tells the fallback builder which zero value a tag takes.
type FieldKind int

const (
	KindList FieldKind = iota
	KindScalar
)

// Field is one entry of the tag object the model is asked to return.
type Field struct {
	Key     string
	Kind    FieldKind
	Default string // fallback value for scalars
}

// EmbedField selects a tag for the embedding text and the label it is printed under.
type EmbedField struct {
	Label string
	Key   string
}

// Schema couples a prompt with the shape of the answer it requests.
type Schema struct {
	Name   string
	Prompt string
	Fields []Field
	Embed  []EmbedField
}

// FallbackTags returns a tag map with every field at its zero value.
func (s *Schema) FallbackTags() map[string]any {
	tags := make(map[string]any, len(s.Fields))
	for _, f := range s.Fields {
		if f.Kind == KindList {
			tags[f.Key] = []any{}
		} else {
			tags[f.Key] = f.Default
		}
	}
	return tags
}

func list(key string) Field { return Field{Key: key, Kind: KindList} }

func scalar(key, def string) Field { return Field{Key: key, Kind: KindScalar, Default: def} }

// FlashcardSchema describes an educational flashcard quadrant.
func FlashcardSchema() *Schema {
	return &Schema{
		Name:   "flashcard",
		Prompt: prompts.FlashcardAnalysisPrompt,
		Fields: []Field{
			list("colors"),
			list("shapes"),
			list("letters"),
			list("numbers"),
			list("words"),
			list("objects"),
			list("people"),
			list("animals"),
			list("shapeColors"),
			list("shapeContents"),
			list("nestedElements"),
			scalar("textColor", "unknown"),
			scalar("textVsSemanticMismatch", "none detected"),
			scalar("textLocation", "unknown"),
			list("objectColors"),
			list("objectPositions"),
			list("itemsInsideShapes"),
			list("overlappingItems"),
			list("relativePositions"),
			list("colorWordMismatches"),
			list("highlightedElements"),
			scalar("backgroundColor", "unknown"),
			scalar("hasColoredBackground", "false"),
			scalar("totalItems", "0"),
			scalar("letterCount", "0"),
			scalar("numberCount", "0"),
			scalar("objectCount", "0"),
			scalar("shapeCount", "0"),
			scalar("category", "unknown"),
			list("questionTypes"),
		},
		Embed: []EmbedField{
			{Label: "Objects", Key: "objects"},
			{Label: "Colors", Key: "colors"},
			{Label: "Shapes", Key: "shapes"},
			{Label: "Letters", Key: "letters"},
			{Label: "Numbers", Key: "numbers"},
			{Label: "Words", Key: "words"},
			{Label: "People", Key: "people"},
			{Label: "Animals", Key: "animals"},
			{Label: "Category", Key: "category"},
			{Label: "Relationships", Key: "relativePositions"},
			{Label: "Background", Key: "backgroundColor"},
		},
	}
}
