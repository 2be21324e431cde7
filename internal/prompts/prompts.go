package prompts

// ============================================================================
// Flashcard Analysis
// ============================================================================

// FlashcardConfidenceGuide is embedded in the schema so the model self-reports
// a realistic score; the analyzer retries on the fallback tier below threshold.
const FlashcardConfidenceGuide = "Rate your confidence in this analysis from 0.0 to 1.0. " +
	"Consider image quality, clarity of objects, and analysis completeness. " +
	"Be realistic, 0.9+ only when you're exceptionally confident"

// FlashcardAnalysisPrompt asks for a flat tag schema describing one flashcard quadrant.
const FlashcardAnalysisPrompt = `Analyze this educational flashcard quadrant image with precision for automatic question generation. Return a JSON object:

{
  "description": "Brief description of what's in the image",
  "confidence": "` + FlashcardConfidenceGuide + `",
  "tags": {
    "colors": ["red", "blue", "green", "yellow", "orange", "purple", "pink", "black", "white", "brown", "gray"],
    "shapes": ["circle", "triangle", "square", "rectangle", "star", "heart", "diamond", "oval", "pentagon", "hexagon"],
    "letters": ["A", "B", "C"],
    "numbers": ["0", "1", "2", "3"],
    "words": ["red", "blue", "green"],
    "objects": ["umbrella", "bicycle", "tree", "violin", "igloo", "key", "house", "nest"],
    "people": ["boy", "girl", "man", "woman", "child"],
    "animals": ["cat", "dog", "bird", "fish", "horse"],
    "shapeColors": ["red circle", "blue triangle", "yellow square"],
    "shapeContents": ["letter F inside red square", "number 5 inside yellow star"],
    "nestedElements": ["black circle inside orange star", "white text inside blue shape"],
    "textColor": "actual display color of text",
    "textVsSemanticMismatch": "word 'red' displayed in blue color",
    "textLocation": "inside shape, on background, overlay",
    "objectColors": ["red umbrella", "blue bicycle"],
    "objectPositions": ["top", "bottom", "left", "right", "center", "overlapping"],
    "itemsInsideShapes": ["letter F inside red square", "number 17 inside yellow circle"],
    "overlappingItems": ["umbrella overlapping with tree"],
    "relativePositions": ["bicycle left of tree", "key above house"],
    "colorWordMismatches": ["word 'green' written in red", "word 'blue' written in yellow"],
    "highlightedElements": ["yellow square overlay", "colored border around item"],
    "backgroundColor": "specific background color",
    "hasColoredBackground": "true or false",
    "totalItems": "exact count of all distinct visual elements",
    "letterCount": "number of letters present",
    "numberCount": "number of numerical digits",
    "objectCount": "number of real-world objects",
    "shapeCount": "number of geometric shapes",
    "category": "letters|numbers|shapes|colors|objects|mixed|color-word-mismatch",
    "questionTypes": ["identification", "counting", "color", "position", "relationship", "true-false"]
  }
}

CRITICAL ANALYSIS REQUIREMENTS:
1. TEXT vs VISUAL DISCREPANCY: Detect when color words don't match their display color (e.g., "red" written in blue)
2. NESTED CONTENT: Identify what's inside geometric shapes (letters, numbers, objects)
3. SPATIAL RELATIONSHIPS: Map relative positions and overlapping elements
4. BACKGROUND CONTEXT: Distinguish between background colors and shape colors
5. HIGHLIGHTED ELEMENTS: Detect yellow overlays, borders, or emphasis markers
6. COUNTING PRECISION: Count all distinct visual elements accurately
7. COLOR SPECIFICITY: Name exact colors, not generic terms
8. OBJECT CLASSIFICATION: Identify specific real-world items (violin, not just "instrument")
9. TEXT EXTRACTION: OCR all visible letters, numbers, and words
10. RELATIONSHIP MAPPING: What contains what, what's next to what

Enable questions like:
- "What color is the square in this quadrant?"
- "What letter is inside the red shape?"
- "Name the color, not the word, in this image"
- "What number is on the yellow square?"
- "How many items are in this quadrant - two or three?"
- "True or false? There is an umbrella in this image"
- "Which items are highlighted with yellow?"

IMPORTANT: Return ONLY the JSON object, no markdown formatting, no code blocks. Start with { and end with }.`
