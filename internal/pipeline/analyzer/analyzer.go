// Package analyzer implements C5, the Query Analyzer: a fast rule
// layer for obvious cases, a model-call layer for everything else, and
// a memoization layer bypassed whenever prior-turn context is present.
package analyzer

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"

	"github.com/raglab/ragserver/internal/cache"
	"github.com/raglab/ragserver/internal/models/chat"
)

type Intent string

const (
	IntentQuestion Intent = "question"
	IntentCommand  Intent = "command"
	IntentCasual   Intent = "casual"
	IntentAction   Intent = "action"
	IntentUpload   Intent = "upload"
	IntentIgnore   Intent = "ignore"
)

type Routing string

const (
	RoutingRAG    Routing = "rag"
	RoutingChat   Routing = "chat"
	RoutingTools  Routing = "tools"
	RoutingMemory Routing = "memory"
	RoutingAction Routing = "action"
	RoutingUpload Routing = "upload"
)

type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

type QuestionType string

const (
	QuestionFactual      QuestionType = "factual"
	QuestionAnalytical   QuestionType = "analytical"
	QuestionComparative  QuestionType = "comparative"
	QuestionProcedural   QuestionType = "procedural"
	QuestionQuantitative QuestionType = "quantitative"
	QuestionGeneral      QuestionType = "general"
)

// Context carries the prior-turn signals that influence routing.
type Context struct {
	HasAttachments   bool
	IsMentioned      bool
	RecentMessages   []string
	PreviousQuestion string
	PreviousAnswer   string
}

// HasPriorTurn reports whether this context carries any prior-turn
// signal, which forces the analyzer to bypass its memoization cache.
func (c Context) HasPriorTurn() bool {
	return c.PreviousQuestion != "" || c.PreviousAnswer != "" || len(c.RecentMessages) > 0
}

// Analysis is C5's output shape.
type Analysis struct {
	Intent             Intent       `json:"intent"`
	ShouldRespond      bool         `json:"should_respond"`
	Confidence         float64      `json:"confidence"`
	Routing            Routing      `json:"routing"`
	NeedsRAG           bool         `json:"needs_rag"`
	NeedsTools         bool         `json:"needs_tools"`
	NeedsMemory        bool         `json:"needs_memory"`
	NeedsRelations     bool         `json:"needs_relations"`
	IsCasual           bool         `json:"is_casual"`
	Complexity         Complexity   `json:"complexity"`
	QuestionType       QuestionType `json:"question_type"`
	DocumentReferences []string     `json:"document_references"`
	KeyConcepts        []string     `json:"key_concepts"`
}

var (
	urlPattern     = regexp.MustCompile(`https?://\S+`)
	imageVerbs     = regexp.MustCompile(`(?i)\b(draw|generate an image|paint|sketch|render a picture)\b`)
	greetings      = regexp.MustCompile(`(?i)^\s*(hi|hello|hey|yo|sup|good morning|good evening)[\s!.,]*$`)
	uploadVerbs    = regexp.MustCompile(`(?i)\b(uploaded|attached|here'?s the file|see attachment)\b`)
	docRefPattern  = regexp.MustCompile(`(?i)\b([\w-]+\.(pdf|docx?|txt|md|csv|xlsx?))\b`)
	quantitativeRe = regexp.MustCompile(`(?i)\b(how many|how much|count|total|sum|average)\b`)
	comparativeRe  = regexp.MustCompile(`(?i)\b(versus|vs\.?|compare|difference between|better than)\b`)
	proceduralRe   = regexp.MustCompile(`(?i)\b(how do i|how to|steps to|walk me through)\b`)
	analyticalRe   = regexp.MustCompile(`(?i)\b(why|analyze|explain|what causes|implications)\b`)
)

// Analyzer is C5's entry point.
type Analyzer struct {
	chat   chat.Client
	caches *cache.Caches
}

func New(chatClient chat.Client, caches *cache.Caches) *Analyzer {
	return &Analyzer{chat: chatClient, caches: caches}
}

// Analyze classifies utterance given ctx. The rule layer short-circuits
// obvious cases; otherwise a model call fills the shape, falling back
// to rule-based defaults on parse failure.
func (a *Analyzer) Analyze(ctx context.Context, utterance string, qctx Context) (*Analysis, error) {
	clean := cache.NormalizeWhitespace(utterance)

	if fast := ruleLayer(clean, qctx); fast != nil {
		return fast, nil
	}

	if a.caches != nil && !qctx.HasPriorTurn() {
		key := cache.SanitizedQueryKey("analysis:" + clean)
		if cached, ok := a.caches.Analysis.Get(key); ok {
			if analysis, ok := cached.(*Analysis); ok {
				return analysis, nil
			}
		}
		analysis := a.modelLayer(ctx, clean, qctx)
		a.caches.Analysis.Set(key, analysis)
		return analysis, nil
	}

	return a.modelLayer(ctx, clean, qctx), nil
}

// ruleLayer catches URLs, image-generation verbs, greetings, and
// obvious uploads, returning immediately without a model call.
func ruleLayer(utterance string, qctx Context) *Analysis {
	switch {
	case qctx.HasAttachments || uploadVerbs.MatchString(utterance):
		return &Analysis{
			Intent: IntentUpload, ShouldRespond: true, Confidence: 0.95,
			Routing: RoutingUpload, Complexity: ComplexitySimple, QuestionType: QuestionGeneral,
		}
	case greetings.MatchString(utterance):
		return &Analysis{
			Intent: IntentCasual, ShouldRespond: true, Confidence: 0.95,
			Routing: RoutingChat, IsCasual: true, Complexity: ComplexitySimple, QuestionType: QuestionGeneral,
		}
	case imageVerbs.MatchString(utterance):
		return &Analysis{
			Intent: IntentCommand, ShouldRespond: true, Confidence: 0.85,
			Routing: RoutingTools, NeedsTools: true, Complexity: ComplexitySimple, QuestionType: QuestionGeneral,
		}
	case urlPattern.MatchString(utterance):
		return &Analysis{
			Intent: IntentQuestion, ShouldRespond: true, Confidence: 0.6,
			Routing: RoutingRAG, NeedsRAG: true, NeedsTools: true, Complexity: ComplexityModerate, QuestionType: QuestionGeneral,
			DocumentReferences: extractDocRefs(utterance),
		}
	default:
		return nil
	}
}

const analyzerSystemPrompt = `Classify the user's message. Respond with JSON only, matching:
{"intent":"question|command|casual|action|upload|ignore","should_respond":bool,"confidence":0..1,
"routing":"rag|chat|tools|memory|action|upload","needs_rag":bool,"needs_tools":bool,"needs_memory":bool,
"needs_relations":bool,"is_casual":bool,"complexity":"simple|moderate|complex",
"question_type":"factual|analytical|comparative|procedural|quantitative|general",
"document_references":[string],"key_concepts":[string]}`

func (a *Analyzer) modelLayer(ctx context.Context, utterance string, qctx Context) *Analysis {
	if a.chat == nil {
		return ruleFallback(utterance)
	}
	messages := []chat.Message{
		{Role: "system", Content: analyzerSystemPrompt},
		{Role: "user", Content: contextualize(utterance, qctx)},
	}
	resp, err := a.chat.Chat(ctx, messages, &chat.ChatOptions{Temperature: 0.1, MaxTokens: 300})
	if err != nil {
		return ruleFallback(utterance)
	}
	analysis, ok := parseAnalysis(resp.Content)
	if !ok {
		return ruleFallback(utterance)
	}
	return analysis
}

func contextualize(utterance string, qctx Context) string {
	if !qctx.HasPriorTurn() {
		return utterance
	}
	var b strings.Builder
	if qctx.PreviousQuestion != "" {
		b.WriteString("Previous question: " + qctx.PreviousQuestion + "\n")
	}
	if qctx.PreviousAnswer != "" {
		b.WriteString("Previous answer: " + qctx.PreviousAnswer + "\n")
	}
	b.WriteString("Current message: " + utterance)
	return b.String()
}

var fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// parseAnalysis accepts fenced or bare JSON.
func parseAnalysis(raw string) (*Analysis, bool) {
	candidate := strings.TrimSpace(raw)
	if m := fencedJSON.FindStringSubmatch(raw); len(m) == 2 {
		candidate = m[1]
	} else if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			candidate = raw[start : end+1]
		}
	}

	var a Analysis
	if err := json.Unmarshal([]byte(candidate), &a); err != nil {
		return nil, false
	}
	if a.Intent == "" || a.Routing == "" {
		return nil, false
	}
	return &a, true
}

// ruleFallback fills the shape when the model call or its parse fails.
func ruleFallback(utterance string) *Analysis {
	a := &Analysis{
		Intent: IntentQuestion, ShouldRespond: true, Confidence: 0.4,
		Routing: RoutingRAG, NeedsRAG: true, Complexity: classifyComplexity(utterance),
		QuestionType:       classifyQuestionType(utterance),
		DocumentReferences: extractDocRefs(utterance),
	}
	return a
}

func classifyComplexity(utterance string) Complexity {
	words := strings.Fields(utterance)
	switch {
	case len(words) >= 25:
		return ComplexityComplex
	case len(words) >= 8:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

func classifyQuestionType(utterance string) QuestionType {
	switch {
	case quantitativeRe.MatchString(utterance):
		return QuestionQuantitative
	case comparativeRe.MatchString(utterance):
		return QuestionComparative
	case proceduralRe.MatchString(utterance):
		return QuestionProcedural
	case analyticalRe.MatchString(utterance):
		return QuestionAnalytical
	default:
		return QuestionFactual
	}
}

func extractDocRefs(utterance string) []string {
	matches := docRefPattern.FindAllString(utterance, -1)
	if matches == nil {
		return nil
	}
	return matches
}
