// Package conditions holds the experimental condition vocabulary: the stable
// internal identifiers, the treatment prompts, and the parsing of external URL
// parameters. Condition string literals must not appear outside this package.
package conditions

type Condition string

const (
	General                        Condition = "general"
	PersonalizedWithExplanation    Condition = "personalized_with_explanation"
	PersonalizedWithoutExplanation Condition = "personalized_without_explanation"
)

// PersonalizedVariants is the fixed declaration order used by the balancer to
// break count ties. Order matters: earliest variant wins a tie.
var PersonalizedVariants = []Condition{
	PersonalizedWithExplanation,
	PersonalizedWithoutExplanation,
}

// DefaultPersonalized is the degradation target when the counter store is
// unreachable at assignment time.
const DefaultPersonalized = PersonalizedWithExplanation

var treatmentPrompts = map[Condition]string{
	General: "You are an AI creative assistant specialized in logo design. Start with a brief welcome message. " +
		"Use phrases like 'I'm your assistant' and focus on understanding the user's logo needs.",

	PersonalizedWithExplanation: "You are an AI creative assistant specialized in logo design collaborating with experienced designers. " +
		"Begin with a warm greeting, then highlight key elements of the user's distinctive style from their reference images. " +
		"Be supportive and insightful about what makes their work special. Use phrases like 'I'm your personalized assistant' " +
		"and explain how you're incorporating their specific style elements into the designs you suggest.",

	PersonalizedWithoutExplanation: "You are an AI creative assistant with expertise in logo design, collaborating with professional designers. " +
		"I've studied your portfolio samples and have insights into your unique design approach. Be direct and focused - " +
		"avoid explaining design theory or justifying style choices. Help create a logo that builds upon the user's distinctive style preferences.",
}

// SystemPrompt returns the treatment prompt for c, falling back to the general
// prompt for unrecognized identifiers.
func SystemPrompt(c Condition) string {
	if p, ok := treatmentPrompts[c]; ok {
		return p
	}
	return treatmentPrompts[General]
}

func IsValid(c Condition) bool {
	_, ok := treatmentPrompts[c]
	return ok
}

func IsPersonalized(c Condition) bool {
	for _, v := range PersonalizedVariants {
		if v == c {
			return true
		}
	}
	return false
}

// URLParam classifies the condition parameter carried by inbound requests.
type URLParam int

const (
	ParamUnknown URLParam = iota
	ParamGeneralAlias
	ParamPersonalizedAlias
	ParamExplicit
)

// ParseURLParam maps the raw request parameter to an alias class. For
// ParamExplicit the returned Condition is the named internal condition;
// otherwise it is empty.
func ParseURLParam(raw string) (URLParam, Condition) {
	switch raw {
	case "general":
		return ParamGeneralAlias, ""
	case "personalized":
		return ParamPersonalizedAlias, ""
	}
	if IsValid(Condition(raw)) {
		return ParamExplicit, Condition(raw)
	}
	return ParamUnknown, ""
}
